package entities

import "time"

// Chat is a conversation the archive has seen at least one message from.
// Chats are upserted on every message and never deleted.
type Chat struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	IsGroup     bool      `db:"is_group"`
	IsCommunity bool      `db:"is_community"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Message is a single archived message. Rows are immutable after insert,
// only the retention sweeper removes them.
type Message struct {
	ID                string    `db:"id"`
	ChatID            string    `db:"chat_id"`
	SenderID          string    `db:"sender_id"`
	SenderName        string    `db:"sender_name"`
	Body              string    `db:"body"`
	Timestamp         time.Time `db:"timestamp"`
	HasMedia          bool      `db:"has_media"`
	MediaID           *string   `db:"media_id"`
	ContentHash       string    `db:"content_hash"`
	IsDuplicate       bool      `db:"is_duplicate"`
	OriginalMessageID *string   `db:"original_message_id"`
	HasLinks          bool      `db:"has_links"`
	HasPrices         bool      `db:"has_prices"`
	SourceID          *string   `db:"source_id"`
	CreatedAt         time.Time `db:"created_at"`
}

// Media is a content-addressed binary attachment. At most one row exists
// per distinct payload, keyed by FileHash. FilePath is relative to the
// data directory.
type Media struct {
	ID        string    `db:"id"`
	FileHash  string    `db:"file_hash"`
	FilePath  string    `db:"file_path"`
	MimeType  string    `db:"mime_type"`
	FileSize  int64     `db:"file_size"`
	CreatedAt time.Time `db:"created_at"`
}

// MessageView is a message joined with its chat and media for read paths.
type MessageView struct {
	Message
	ChatName      string  `db:"chat_name"`
	ChatIsGroup   bool    `db:"chat_is_group"`
	ChatCommunity bool    `db:"chat_is_community"`
	MediaPath     *string `db:"media_path"`
	MediaMime     *string `db:"media_mime"`
}

// Stats is the archive-wide aggregate.
type Stats struct {
	UniqueMessages    int64 `db:"unique_messages"`
	DuplicateMessages int64 `db:"duplicate_messages"`
	TotalChats        int64 `db:"total_chats"`
	TotalMedia        int64 `db:"total_media"`
}

// ImportResult summarizes one bulk history import.
type ImportResult struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
	Total      int `json:"total"`
}

func (m *Message) HasText() bool {
	return m.Body != ""
}
