package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	e "nuclight.org/tg-archive-bot/pkg/entities"
)

// SQLite is the archive's content store. It keeps chats, messages and media
// rows, and owns the one invariant everything else leans on: at most one
// non-duplicate message exists per content fingerprint. WAL mode keeps
// dashboard reads from blocking on ingestion writes.
type SQLite struct {
	db *sqlx.DB

	// writeMu serializes the classify-and-insert sequence in SaveMessage.
	// Without it, two identical messages arriving at the same time could
	// both miss the fingerprint lookup and both land as originals.
	writeMu sync.Mutex
}

func NewSQLite(ctx context.Context, filePath string) (*SQLite, error) {
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", filePath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 database: %w", err)
	}

	client := &SQLite{
		db: db,
	}

	err = client.init(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing sqlite3 database: %w", err)
	}

	return client, nil
}

func (c *SQLite) Close() error {
	return c.db.Close()
}

func (c *SQLite) UpsertChat(ctx context.Context, chat e.Chat) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO chats (id, name, is_group, is_community, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				is_group = excluded.is_group,
				is_community = excluded.is_community,
				updated_at = CURRENT_TIMESTAMP`,
		chat.ID, chat.Name, chat.IsGroup, chat.IsCommunity,
	)
	if err != nil {
		return fmt.Errorf("upserting chat: %w", err)
	}

	return nil
}

// SaveMessage resolves the duplicate status of msg against dedupHash and
// inserts the row, atomically with respect to other SaveMessage calls.
// When forceDuplicate is set (bulk import re-sent media) the row is flagged
// duplicate even without a matching original; the back-reference is still
// filled in when an original exists. The stored message is returned.
func (c *SQLite) SaveMessage(ctx context.Context, msg e.Message, dedupHash string, forceDuplicate bool) (e.Message, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	original, err := c.findOriginal(ctx, dedupHash)
	if err != nil {
		return e.Message{}, fmt.Errorf("looking up original message: %w", err)
	}

	msg.IsDuplicate = forceDuplicate
	msg.OriginalMessageID = nil
	if original != nil {
		msg.IsDuplicate = true
		id := original.ID
		msg.OriginalMessageID = &id
	}

	_, err = c.db.ExecContext(
		ctx,
		`INSERT INTO messages (
			id, chat_id, sender_id, sender_name, body, timestamp, has_media, media_id,
			content_hash, is_duplicate, original_message_id, has_links, has_prices, source_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.SenderName, msg.Body, msg.Timestamp.UTC(),
		msg.HasMedia, msg.MediaID, msg.ContentHash, msg.IsDuplicate, msg.OriginalMessageID,
		msg.HasLinks, msg.HasPrices, msg.SourceID,
	)
	if err != nil {
		return e.Message{}, fmt.Errorf("inserting message: %w", err)
	}

	return msg, nil
}

// FindOriginalByHash returns the earliest non-duplicate message carrying the
// given fingerprint, or nil when none exists.
func (c *SQLite) FindOriginalByHash(ctx context.Context, contentHash string) (*e.Message, error) {
	return c.findOriginal(ctx, contentHash)
}

func (c *SQLite) findOriginal(ctx context.Context, contentHash string) (*e.Message, error) {
	var msg e.Message
	err := c.db.GetContext(
		ctx,
		&msg,
		`SELECT id, chat_id, sender_id, sender_name, body, timestamp, has_media, media_id,
			content_hash, is_duplicate, original_message_id, has_links, has_prices, source_id, created_at
			FROM messages
			WHERE content_hash = ? AND is_duplicate = 0
			ORDER BY created_at ASC, rowid ASC
			LIMIT 1`,
		contentHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &msg, nil
}

// HasSourceMessage reports whether a bulk-imported row with the given
// upstream message identifier already exists.
func (c *SQLite) HasSourceMessage(ctx context.Context, sourceID string) (bool, error) {
	var exists bool
	err := c.db.GetContext(
		ctx,
		&exists,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE source_id = ?)`,
		sourceID,
	)
	if err != nil {
		return false, fmt.Errorf("checking source message: %w", err)
	}

	return exists, nil
}

func (c *SQLite) InsertMedia(ctx context.Context, media e.Media) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO media (id, file_hash, file_path, mime_type, file_size)
			VALUES (?, ?, ?, ?, ?)`,
		media.ID, media.FileHash, media.FilePath, media.MimeType, media.FileSize,
	)
	if err != nil {
		return fmt.Errorf("inserting media: %w", err)
	}

	return nil
}

func (c *SQLite) FindMediaByHash(ctx context.Context, fileHash string) (*e.Media, error) {
	return c.findMedia(ctx, "file_hash", fileHash)
}

func (c *SQLite) FindMediaByID(ctx context.Context, id string) (*e.Media, error) {
	return c.findMedia(ctx, "id", id)
}

func (c *SQLite) findMedia(ctx context.Context, column, value string) (*e.Media, error) {
	var media e.Media
	err := c.db.GetContext(
		ctx,
		&media,
		`SELECT id, file_hash, file_path, mime_type, file_size, created_at
			FROM media WHERE `+column+` = ?`,
		value,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting media: %w", err)
	}

	return &media, nil
}

// OrphanedMedia lists media rows no remaining message references.
func (c *SQLite) OrphanedMedia(ctx context.Context) ([]e.Media, error) {
	var rows []e.Media
	err := c.db.SelectContext(
		ctx,
		&rows,
		`SELECT id, file_hash, file_path, mime_type, file_size, created_at
			FROM media
			WHERE id NOT IN (SELECT DISTINCT media_id FROM messages WHERE media_id IS NOT NULL)`,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting orphaned media: %w", err)
	}

	return rows, nil
}

func (c *SQLite) DeleteMedia(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting media: %w", err)
	}

	return nil
}

// DeleteOldGroupMessages removes messages from group and community chats
// whose origin timestamp is before cutoff. Direct chats are never touched.
func (c *SQLite) DeleteOldGroupMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := c.db.ExecContext(
		ctx,
		`DELETE FROM messages
			WHERE chat_id IN (SELECT id FROM chats WHERE is_group = 1 OR is_community = 1)
			AND timestamp < ?`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old group messages: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting affected rows: %w", err)
	}

	return deleted, nil
}

func (c *SQLite) Stats(ctx context.Context) (e.Stats, error) {
	var stats e.Stats
	err := c.db.GetContext(
		ctx,
		&stats,
		`SELECT
			(SELECT COUNT(*) FROM messages WHERE is_duplicate = 0) AS unique_messages,
			(SELECT COUNT(*) FROM messages WHERE is_duplicate = 1) AS duplicate_messages,
			(SELECT COUNT(*) FROM chats) AS total_chats,
			(SELECT COUNT(*) FROM media) AS total_media`,
	)
	if err != nil {
		return e.Stats{}, fmt.Errorf("selecting stats: %w", err)
	}

	return stats, nil
}

func (c *SQLite) ListChats(ctx context.Context) ([]e.Chat, error) {
	var chats []e.Chat
	err := c.db.SelectContext(
		ctx,
		&chats,
		`SELECT id, name, is_group, is_community, created_at, updated_at
			FROM chats ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting chats: %w", err)
	}

	return chats, nil
}

// MessageFilter narrows ListMessages. Zero values mean "no restriction",
// except Limit which defaults to 50 and is capped at 100.
type MessageFilter struct {
	ChatID    string
	HasLinks  bool
	HasPrices bool
	HasMedia  bool
	Search    string
	From      *time.Time
	To        *time.Time
	Page      int
	Limit     int
}

func (f *MessageFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
}

// ListMessages returns one page of non-duplicate messages matching the
// filter, newest first, along with the total match count.
func (c *SQLite) ListMessages(ctx context.Context, filter MessageFilter) ([]e.MessageView, int, error) {
	filter.normalize()

	conditions := []string{"m.is_duplicate = 0"}
	var args []any

	if filter.ChatID != "" {
		conditions = append(conditions, "m.chat_id = ?")
		args = append(args, filter.ChatID)
	}
	if filter.HasLinks {
		conditions = append(conditions, "m.has_links = 1")
	}
	if filter.HasPrices {
		conditions = append(conditions, "m.has_prices = 1")
	}
	if filter.HasMedia {
		conditions = append(conditions, "m.has_media = 1")
	}
	if filter.Search != "" {
		conditions = append(conditions, "m.body LIKE ?")
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.From != nil {
		conditions = append(conditions, "m.timestamp >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		conditions = append(conditions, "m.timestamp <= ?")
		args = append(args, filter.To.UTC())
	}

	where := strings.Join(conditions, " AND ")

	var total int
	err := c.db.GetContext(
		ctx,
		&total,
		`SELECT COUNT(*) FROM messages m WHERE `+where,
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("counting messages: %w", err)
	}

	query := `SELECT m.id, m.chat_id, m.sender_id, m.sender_name, m.body, m.timestamp,
			m.has_media, m.media_id, m.content_hash, m.is_duplicate, m.original_message_id,
			m.has_links, m.has_prices, m.source_id, m.created_at,
			COALESCE(c.name, '') AS chat_name,
			COALESCE(c.is_group, 0) AS chat_is_group,
			COALESCE(c.is_community, 0) AS chat_is_community,
			med.file_path AS media_path,
			med.mime_type AS media_mime
		FROM messages m
		LEFT JOIN chats c ON m.chat_id = c.id
		LEFT JOIN media med ON m.media_id = med.id
		WHERE ` + where + `
		ORDER BY m.timestamp DESC
		LIMIT ? OFFSET ?`

	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)

	var views []e.MessageView
	err = c.db.SelectContext(ctx, &views, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("selecting messages: %w", err)
	}

	return views, total, nil
}

//go:embed init.sql
var initQuery string

func (c *SQLite) init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, initQuery)
	return err
}
