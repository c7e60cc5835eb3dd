// Package ingest classifies incoming chat messages as unique or duplicate
// and persists them. It supports two modes with different collision
// semantics: live single-message arrival and bulk historical import.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	e "nuclight.org/tg-archive-bot/pkg/entities"
	"nuclight.org/tg-archive-bot/pkg/logger"
	"nuclight.org/tg-archive-bot/pkg/metrics"
	"nuclight.org/tg-archive-bot/pkg/tags"
)

// IncomingMessage is the transport-independent shape of a raw message.
// FetchMedia is nil when HasMedia is false; it returns payload bytes and
// the MIME type.
type IncomingMessage struct {
	Chat       e.Chat
	SourceID   string
	SenderID   string
	SenderName string
	Body       string
	Timestamp  time.Time
	HasMedia   bool
	FetchMedia func(ctx context.Context) ([]byte, string, error)
}

// ContentStore is the slice of the content store the classifier needs.
type ContentStore interface {
	UpsertChat(ctx context.Context, chat e.Chat) error
	SaveMessage(ctx context.Context, msg e.Message, dedupHash string, forceDuplicate bool) (e.Message, error)
	HasSourceMessage(ctx context.Context, sourceID string) (bool, error)
}

// MediaStore deduplicates and persists binary attachments.
type MediaStore interface {
	FindOrStore(ctx context.Context, data []byte, mimeType string) (e.Media, bool, error)
	Resolve(media e.Media) string
}

// Notification describes a newly archived non-duplicate message.
type Notification struct {
	ChatID     string
	ChatName   string
	SenderID   string
	SenderName string
	Body       string
	Timestamp  time.Time
	MediaPath  string
}

// Sink receives one notification per newly stored original message.
// Duplicates never reach the sink.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// HistorySource supplies historical messages for bulk import.
type HistorySource interface {
	ChatByID(ctx context.Context, chatID string) (e.Chat, error)
	FetchMessages(ctx context.Context, chatID string, limit int) ([]IncomingMessage, error)
}

// Service is the ingestion classifier. Sink may be left nil.
type Service struct {
	// Log is a logger
	Log logger.Logger

	// Store persists chats and messages
	Store ContentStore

	// Media stores binary attachments content-addressed
	Media MediaStore

	// Sink is notified about every stored original message
	Sink Sink
}

// HandleMessage archives one live message. The message is appended even
// when it is a duplicate of an earlier one; only the duplicate flag and
// the back-reference differ. The stored row is returned.
func (s *Service) HandleMessage(ctx context.Context, in IncomingMessage) (e.Message, error) {
	err := s.Store.UpsertChat(ctx, in.Chat)
	if err != nil {
		metrics.IncIngested("live", "error")
		return e.Message{}, fmt.Errorf("upserting chat: %w", err)
	}

	media, mediaPath, err := s.obtainMedia(ctx, in)
	if err != nil {
		// Transient collaborator failure: archive the message anyway,
		// hashed by its text, with the media flag kept.
		s.Log.Warn("fetching media failed, falling back to text hash",
			"chat_id", in.Chat.ID, "error", err)
		media = &mediaResult{failed: true}
		mediaPath = ""
	}
	res := resolveLive(in.SenderID, in.Body, media)

	msg := s.buildMessage(in, res)
	saved, err := s.Store.SaveMessage(ctx, msg, res.dedupHash, res.forceDuplicate)
	if err != nil {
		metrics.IncIngested("live", "error")
		sentry.CaptureException(err)
		return e.Message{}, fmt.Errorf("saving message: %w", err)
	}

	if saved.IsDuplicate {
		metrics.IncIngested("live", "duplicate")
		s.Log.Debug("duplicate message archived",
			"message_id", saved.ID, "original_id", deref(saved.OriginalMessageID))
		return saved, nil
	}

	metrics.IncIngested("live", "unique")
	s.notify(ctx, in, mediaPath)

	return saved, nil
}

// ImportHistory backfills up to limit historical messages of one chat.
// A single row's failure never aborts the batch; the caller always
// receives counts for the whole run.
func (s *Service) ImportHistory(ctx context.Context, src HistorySource, chatID string, limit int) (e.ImportResult, error) {
	chat, err := src.ChatByID(ctx, chatID)
	if err != nil {
		return e.ImportResult{}, fmt.Errorf("looking up chat: %w", err)
	}

	// The chat row must exist before any message row references it.
	err = s.Store.UpsertChat(ctx, chat)
	if err != nil {
		return e.ImportResult{}, fmt.Errorf("upserting chat: %w", err)
	}

	candidates, err := src.FetchMessages(ctx, chatID, limit)
	if err != nil {
		return e.ImportResult{}, fmt.Errorf("fetching messages: %w", err)
	}

	result := e.ImportResult{Total: len(candidates)}

	for _, in := range candidates {
		in.Chat = chat

		seen, err := s.Store.HasSourceMessage(ctx, in.SourceID)
		if err != nil {
			result.Errors++
			metrics.IncIngested("import", "error")
			s.Log.Error("checking imported source id", "source_id", in.SourceID, "error", err)
			continue
		}
		if seen {
			result.Duplicates++
			metrics.IncIngested("import", "duplicate")
			continue
		}

		saved, err := s.importOne(ctx, in)
		if err != nil {
			result.Errors++
			metrics.IncIngested("import", "error")
			s.Log.Error("importing message", "source_id", in.SourceID, "error", err)
			continue
		}

		if saved.IsDuplicate {
			result.Duplicates++
			metrics.IncIngested("import", "duplicate")
		} else {
			result.Imported++
			metrics.IncIngested("import", "unique")
		}
	}

	// Chat metadata is refreshed again once the batch is done.
	err = s.Store.UpsertChat(ctx, chat)
	if err != nil {
		s.Log.Error("upserting imported chat", "chat_id", chatID, "error", err)
	}

	s.Log.Info("import complete",
		"chat_id", chatID,
		"imported", result.Imported,
		"duplicates", result.Duplicates,
		"errors", result.Errors,
		"total", result.Total,
	)

	return result, nil
}

func (s *Service) importOne(ctx context.Context, in IncomingMessage) (e.Message, error) {
	// Unlike live mode, unavailable media fails the row: backfill reports
	// it in the error counter instead of degrading silently.
	media, _, err := s.obtainMedia(ctx, in)
	if err != nil {
		return e.Message{}, fmt.Errorf("obtaining media: %w", err)
	}
	res := resolveImport(in.SenderID, in.Body, in.SourceID, media)

	msg := s.buildMessage(in, res)
	if in.SourceID != "" {
		sourceID := in.SourceID
		msg.SourceID = &sourceID
	}

	saved, err := s.Store.SaveMessage(ctx, msg, res.dedupHash, res.forceDuplicate)
	if err != nil {
		return e.Message{}, fmt.Errorf("saving message: %w", err)
	}

	return saved, nil
}

// obtainMedia downloads and stores the attachment, if any. How a failure
// is treated is up to the caller: live mode degrades to text hashing,
// import mode fails the row.
func (s *Service) obtainMedia(ctx context.Context, in IncomingMessage) (*mediaResult, string, error) {
	if !in.HasMedia || in.FetchMedia == nil {
		return nil, "", nil
	}

	data, mimeType, err := in.FetchMedia(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("fetching media: %w", err)
	}

	stored, existed, err := s.Media.FindOrStore(ctx, data, mimeType)
	if err != nil {
		return nil, "", fmt.Errorf("storing media: %w", err)
	}

	if !existed {
		metrics.IncMediaStored()
	}

	return &mediaResult{media: stored, existed: existed}, s.Media.Resolve(stored), nil
}

func (s *Service) buildMessage(in IncomingMessage, res resolution) e.Message {
	return e.Message{
		ID:          uuid.NewString(),
		ChatID:      in.Chat.ID,
		SenderID:    in.SenderID,
		SenderName:  in.SenderName,
		Body:        in.Body,
		Timestamp:   in.Timestamp,
		HasMedia:    in.HasMedia,
		MediaID:     res.mediaID,
		ContentHash: res.contentHash,
		HasLinks:    tags.HasLinks(in.Body),
		HasPrices:   tags.HasPrices(in.Body),
	}
}

func (s *Service) notify(ctx context.Context, in IncomingMessage, mediaPath string) {
	if s.Sink == nil {
		return
	}

	s.Sink.Notify(ctx, Notification{
		ChatID:     in.Chat.ID,
		ChatName:   in.Chat.Name,
		SenderID:   in.SenderID,
		SenderName: in.SenderName,
		Body:       in.Body,
		Timestamp:  in.Timestamp,
		MediaPath:  mediaPath,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
