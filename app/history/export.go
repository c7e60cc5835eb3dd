// Package history supplies historical messages for bulk import from
// Telegram desktop chat exports (the result.json produced by the official
// client). Each export lives in its own directory named after the chat id,
// with media files referenced relative to that directory.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nuclight.org/tg-archive-bot/app/ingest"
	e "nuclight.org/tg-archive-bot/pkg/entities"
)

// ExportSource reads chat exports from <Dir>/<chatID>/result.json.
type ExportSource struct {
	Dir string
}

type exportFile struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Messages []exportMessage `json:"messages"`
}

type exportMessage struct {
	ID       int64      `json:"id"`
	Type     string     `json:"type"`
	Date     string     `json:"date"`
	From     string     `json:"from"`
	FromID   string     `json:"from_id"`
	Text     exportText `json:"text"`
	Photo    string     `json:"photo"`
	File     string     `json:"file"`
	MimeType string     `json:"mime_type"`
}

// exportText flattens the export's text field, which is either a plain
// string or an array of strings and entity objects.
type exportText struct {
	value string
}

func (t *exportText) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		t.value = plain
		return nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("unexpected text shape: %w", err)
	}

	var sb strings.Builder
	for _, part := range parts {
		var s string
		if err := json.Unmarshal(part, &s); err == nil {
			sb.WriteString(s)
			continue
		}

		var entity struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(part, &entity); err != nil {
			return fmt.Errorf("unexpected text entity: %w", err)
		}
		sb.WriteString(entity.Text)
	}

	t.value = sb.String()
	return nil
}

func (s *ExportSource) load(chatID string) (*exportFile, error) {
	path := filepath.Join(s.Dir, chatID, "result.json")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading export file: %w", err)
	}

	var export exportFile
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parsing export file: %w", err)
	}

	return &export, nil
}

// ChatByID resolves chat metadata from the export header.
func (s *ExportSource) ChatByID(_ context.Context, chatID string) (e.Chat, error) {
	export, err := s.load(chatID)
	if err != nil {
		return e.Chat{}, err
	}

	return e.Chat{
		ID:          chatID,
		Name:        export.Name,
		IsGroup:     strings.Contains(export.Type, "group"),
		IsCommunity: strings.Contains(export.Type, "channel"),
	}, nil
}

// FetchMessages returns the last limit messages of the export, oldest
// first, skipping service entries.
func (s *ExportSource) FetchMessages(_ context.Context, chatID string, limit int) ([]ingest.IncomingMessage, error) {
	export, err := s.load(chatID)
	if err != nil {
		return nil, err
	}

	var out []ingest.IncomingMessage
	for _, raw := range export.Messages {
		if raw.Type != "message" {
			continue
		}

		msg, err := s.convert(chatID, raw)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", raw.ID, err)
		}
		out = append(out, msg)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}

	return out, nil
}

func (s *ExportSource) convert(chatID string, raw exportMessage) (ingest.IncomingMessage, error) {
	ts, err := time.ParseInLocation("2006-01-02T15:04:05", raw.Date, time.Local)
	if err != nil {
		return ingest.IncomingMessage{}, fmt.Errorf("parsing date %q: %w", raw.Date, err)
	}

	msg := ingest.IncomingMessage{
		SourceID:   fmt.Sprintf("%s:%d", chatID, raw.ID),
		SenderID:   raw.FromID,
		SenderName: raw.From,
		Body:       raw.Text.value,
		Timestamp:  ts,
	}

	mediaPath, mimeType := raw.mediaRef()
	if mediaPath != "" {
		fullPath := filepath.Join(s.Dir, chatID, mediaPath)
		msg.HasMedia = true
		msg.FetchMedia = func(context.Context) ([]byte, string, error) {
			data, err := os.ReadFile(fullPath)
			if err != nil {
				return nil, "", fmt.Errorf("reading exported media: %w", err)
			}
			return data, mimeType, nil
		}
	}

	return msg, nil
}

// mediaRef picks the attachment reference of an exported message. Photos
// carry no MIME type in the export, they are always JPEG.
func (m *exportMessage) mediaRef() (path, mimeType string) {
	if m.Photo != "" {
		return m.Photo, "image/jpeg"
	}
	if m.File == "" {
		return "", ""
	}
	if m.MimeType != "" {
		return m.File, m.MimeType
	}
	return m.File, "application/octet-stream"
}
