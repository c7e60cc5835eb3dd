package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	e "nuclight.org/tg-archive-bot/pkg/entities"
	"nuclight.org/tg-archive-bot/pkg/hash"
)

func TestResolveLiveTextOnly(t *testing.T) {
	res := resolveLive("s1", "hello", nil)

	want := hash.Text("s1", "hello")
	assert.Equal(t, want, res.contentHash)
	assert.Equal(t, want, res.dedupHash)
	assert.Nil(t, res.mediaID)
	assert.False(t, res.forceDuplicate)
}

func TestResolveLiveMediaWinsOverText(t *testing.T) {
	stored := e.Media{ID: "m1", FileHash: hash.Media([]byte("bytes"))}

	res := resolveLive("s1", "caption", &mediaResult{media: stored, existed: true})

	assert.Equal(t, stored.FileHash, res.contentHash)
	assert.Equal(t, stored.FileHash, res.dedupHash)
	assert.Equal(t, "m1", *res.mediaID)
	assert.False(t, res.forceDuplicate, "a known blob alone does not make a live message a duplicate")
}

func TestResolveLiveFailedMediaDegradesToText(t *testing.T) {
	res := resolveLive("s1", "caption", &mediaResult{failed: true})

	assert.Equal(t, hash.Text("s1", "caption"), res.contentHash)
	assert.Nil(t, res.mediaID)
}

func TestResolveImportUsesTwoKeys(t *testing.T) {
	res := resolveImport("s1", "body", "src-9", nil)

	assert.Equal(t, hash.Text("s1", "bodysrc-9"), res.contentHash)
	assert.Equal(t, hash.Text("s1", "body"), res.dedupHash)
	assert.NotEqual(t, res.contentHash, res.dedupHash)
}

func TestResolveImportKnownMediaForcesDuplicate(t *testing.T) {
	stored := e.Media{ID: "m1", FileHash: hash.Media([]byte("bytes"))}

	res := resolveImport("s1", "", "src-9", &mediaResult{media: stored, existed: true})

	assert.True(t, res.forceDuplicate)
	assert.Equal(t, stored.FileHash, res.contentHash)
}

func TestResolveImportFreshMediaIsNotForced(t *testing.T) {
	stored := e.Media{ID: "m1", FileHash: hash.Media([]byte("bytes"))}

	res := resolveImport("s1", "", "src-9", &mediaResult{media: stored})

	assert.False(t, res.forceDuplicate)
	// The content-duplicate check still runs against the text key.
	assert.Equal(t, hash.Text("s1", ""), res.dedupHash)
}
