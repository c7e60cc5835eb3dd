// Package media implements content-addressed storage for message
// attachments. Every distinct binary payload is written to disk exactly
// once; the hash is an index key in the store, never a file name.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	e "nuclight.org/tg-archive-bot/pkg/entities"
	"nuclight.org/tg-archive-bot/pkg/hash"
	"nuclight.org/tg-archive-bot/pkg/mutex"
)

// Store is the slice of the content store the manager needs.
type Store interface {
	InsertMedia(ctx context.Context, media e.Media) error
	FindMediaByHash(ctx context.Context, fileHash string) (*e.Media, error)
	DeleteMedia(ctx context.Context, id string) error
}

// Manager writes blobs under <Dir>/media and registers them in the store.
type Manager struct {
	// Dir is the data directory root. Media file paths stored in the
	// database are relative to it.
	Dir string

	// Store registers and resolves media rows.
	Store Store

	hashMu mutex.KeyedMutex
}

const subdir = "media"

// FindOrStore returns the media row for the payload, writing the blob and
// registering it first if it has never been seen. Calls for the same
// content hash are serialized, so a payload is never written twice.
func (m *Manager) FindOrStore(ctx context.Context, data []byte, mimeType string) (e.Media, bool, error) {
	fileHash := hash.Media(data)

	m.hashMu.Lock(fileHash)
	defer m.hashMu.Unlock(fileHash)

	existing, err := m.Store.FindMediaByHash(ctx, fileHash)
	if err != nil {
		return e.Media{}, false, fmt.Errorf("finding media by hash: %w", err)
	}
	if existing != nil {
		return *existing, true, nil
	}

	stored, err := m.store(ctx, data, fileHash, mimeType)
	if err != nil {
		return e.Media{}, false, err
	}

	return stored, false, nil
}

func (m *Manager) store(ctx context.Context, data []byte, fileHash, mimeType string) (e.Media, error) {
	if err := os.MkdirAll(filepath.Join(m.Dir, subdir), 0o755); err != nil {
		return e.Media{}, fmt.Errorf("creating media directory: %w", err)
	}

	media := e.Media{
		ID:       uuid.NewString(),
		FileHash: fileHash,
		MimeType: mimeType,
		FileSize: int64(len(data)),
	}
	media.FilePath = filepath.Join(subdir, media.ID+ExtensionFor(mimeType))

	fullPath := filepath.Join(m.Dir, media.FilePath)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return e.Media{}, fmt.Errorf("writing media file: %w", err)
	}

	// The row must never exist without its file, and a failed insert must
	// not leave the file behind either.
	if err := m.Store.InsertMedia(ctx, media); err != nil {
		_ = os.Remove(fullPath)
		return e.Media{}, fmt.Errorf("registering media: %w", err)
	}

	return media, nil
}

// Resolve returns the absolute path of a stored blob.
func (m *Manager) Resolve(media e.Media) string {
	return filepath.Join(m.Dir, media.FilePath)
}

// Remove deletes the blob from disk. A file that is already gone is not an
// error: the row can still be reclaimed.
func (m *Manager) Remove(media e.Media) error {
	if media.FilePath == "" {
		return nil
	}

	err := os.Remove(filepath.Join(m.Dir, media.FilePath))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing media file: %w", err)
	}

	return nil
}

// ExtensionFor maps a MIME type to the file extension used on disk.
// Unknown types fall back to a generic binary extension.
func ExtensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/3gpp":
		return ".3gp"
	case "video/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
