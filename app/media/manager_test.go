package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	e "nuclight.org/tg-archive-bot/pkg/entities"
)

// memStore is an in-memory media index keyed by file hash.
type memStore struct {
	mu        sync.Mutex
	byHash    map[string]e.Media
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{byHash: make(map[string]e.Media)}
}

func (s *memStore) InsertMedia(_ context.Context, media e.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if _, exists := s.byHash[media.FileHash]; exists {
		return errors.New("unique constraint violated")
	}
	s.byHash[media.FileHash] = media
	return nil
}

func (s *memStore) FindMediaByHash(_ context.Context, fileHash string) (*e.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if media, ok := s.byHash[fileHash]; ok {
		return &media, nil
	}
	return nil, nil
}

func (s *memStore) DeleteMedia(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, media := range s.byHash {
		if media.ID == id {
			delete(s.byHash, h)
		}
	}
	return nil
}

func TestFindOrStoreWritesOnce(t *testing.T) {
	mgr := &Manager{Dir: t.TempDir(), Store: newMemStore()}
	ctx := context.Background()

	payload := []byte("picture bytes")

	first, existed, err := mgr.FindOrStore(ctx, payload, "image/jpeg")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, ".jpg", filepath.Ext(first.FilePath))
	assert.EqualValues(t, len(payload), first.FileSize)

	content, err := os.ReadFile(mgr.Resolve(first))
	require.NoError(t, err)
	assert.Equal(t, payload, content)

	second, existed, err := mgr.FindOrStore(ctx, payload, "image/jpeg")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.ID, second.ID)

	entries, err := os.ReadDir(filepath.Join(mgr.Dir, subdir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFindOrStoreConcurrentSamePayload(t *testing.T) {
	mgr := &Manager{Dir: t.TempDir(), Store: newMemStore()}
	ctx := context.Background()

	payload := []byte("shared payload")

	const workers = 20
	type result struct {
		id  string
		err error
	}
	results := make(chan result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			media, _, err := mgr.FindOrStore(ctx, payload, "image/png")
			results <- result{id: media.ID, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var first string
	for r := range results {
		require.NoError(t, r.err)
		if first == "" {
			first = r.id
		}
		assert.Equal(t, first, r.id)
	}

	entries, err := os.ReadDir(filepath.Join(mgr.Dir, subdir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFailedInsertRollsBackFile(t *testing.T) {
	store := newMemStore()
	store.insertErr = errors.New("disk full")
	mgr := &Manager{Dir: t.TempDir(), Store: store}

	_, _, err := mgr.FindOrStore(context.Background(), []byte("data"), "application/pdf")
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(mgr.Dir, subdir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveToleratesMissingFile(t *testing.T) {
	mgr := &Manager{Dir: t.TempDir(), Store: newMemStore()}

	err := mgr.Remove(e.Media{FilePath: filepath.Join(subdir, "gone.bin")})
	assert.NoError(t, err)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg"))
	assert.Equal(t, ".mp4", ExtensionFor("video/mp4"))
	assert.Equal(t, ".pdf", ExtensionFor("application/pdf"))
	assert.Equal(t, ".bin", ExtensionFor("application/x-unknown"))
	assert.Equal(t, ".bin", ExtensionFor(""))
}
