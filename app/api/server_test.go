package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"nuclight.org/tg-archive-bot/app/storage"
	e "nuclight.org/tg-archive-bot/pkg/entities"
	"nuclight.org/tg-archive-bot/pkg/hash"
	"nuclight.org/tg-archive-bot/pkg/logger"
)

func newTestServer(t *testing.T) (*Server, *storage.SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewSQLite(context.Background(), filepath.Join(dir, "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	server := &Server{
		Log:     logger.NewLogger(false),
		Store:   store,
		DataDir: dir,
	}

	return server, store, dir
}

func seedMessage(t *testing.T, store *storage.SQLite, chatID, senderID, body string) e.Message {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, store.UpsertChat(ctx, e.Chat{ID: chatID, Name: "chat " + chatID, IsGroup: true}))

	contentHash := hash.Text(senderID, body)
	msg := e.Message{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		SenderID:    senderID,
		SenderName:  "Sender " + senderID,
		Body:        body,
		Timestamp:   time.Now().UTC(),
		ContentHash: contentHash,
	}

	saved, err := store.SaveMessage(ctx, msg, contentHash, false)
	require.NoError(t, err)
	return saved
}

func doRequest(t *testing.T, server *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "idle", body["sweeper"])
	require.Equal(t, false, body["import_enabled"])
}

func TestStatsEndpoint(t *testing.T) {
	server, store, _ := newTestServer(t)

	seedMessage(t, store, "c1", "s1", "hello")
	seedMessage(t, store, "c1", "s1", "hello") // duplicate
	seedMessage(t, store, "c2", "s2", "other")

	rec := doRequest(t, server, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		UniqueMessages    int64 `json:"unique_messages"`
		DuplicateMessages int64 `json:"duplicate_messages"`
		TotalChats        int64 `json:"total_chats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(2), body.UniqueMessages)
	require.Equal(t, int64(1), body.DuplicateMessages)
	require.Equal(t, int64(2), body.TotalChats)
}

func TestChatsEndpoint(t *testing.T) {
	server, store, _ := newTestServer(t)

	seedMessage(t, store, "c1", "s1", "hello")
	seedMessage(t, store, "c2", "s1", "world")

	rec := doRequest(t, server, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Chats []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			IsGroup bool   `json:"is_group"`
		} `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Chats, 2)
	require.True(t, body.Chats[0].IsGroup)
}

func TestMessagesEndpointFiltersAndPagination(t *testing.T) {
	server, store, _ := newTestServer(t)

	seedMessage(t, store, "c1", "s1", "check http://example.com")
	seedMessage(t, store, "c1", "s1", "plain text")
	seedMessage(t, store, "c2", "s2", "elsewhere")
	seedMessage(t, store, "c1", "s1", "plain text") // duplicate, excluded from listings

	type messagesBody struct {
		Messages []struct {
			ID       string `json:"id"`
			ChatID   string `json:"chat_id"`
			ChatName string `json:"chat_name"`
			Body     string `json:"body"`
			HasLinks bool   `json:"has_links"`
		} `json:"messages"`
		Pagination struct {
			Page       int `json:"page"`
			Limit      int `json:"limit"`
			Total      int `json:"total"`
			TotalPages int `json:"total_pages"`
		} `json:"pagination"`
	}

	rec := doRequest(t, server, http.MethodGet, "/api/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body messagesBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Pagination.Total)
	require.Equal(t, 1, body.Pagination.Page)
	require.Len(t, body.Messages, 3)
	require.NotEmpty(t, body.Messages[0].ChatName)

	rec = doRequest(t, server, http.MethodGet, "/api/messages?chat_id=c2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = messagesBody{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Pagination.Total)
	require.Equal(t, "c2", body.Messages[0].ChatID)

	rec = doRequest(t, server, http.MethodGet, "/api/messages?page=1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = messagesBody{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
	require.Equal(t, 2, body.Pagination.TotalPages)
}

func TestMessagesEndpointRejectsBadDates(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/messages?date_from=not-a-date", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMediaEndpointServesFiles(t *testing.T) {
	server, _, dir := newTestServer(t)

	mediaDir := filepath.Join(dir, "media")
	require.NoError(t, os.MkdirAll(mediaDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "blob.jpg"), []byte("jpeg-bytes"), 0o644))

	rec := doRequest(t, server, http.MethodGet, "/api/media/blob.jpg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "jpeg-bytes", rec.Body.String())
}

func TestMediaEndpointBlocksTraversal(t *testing.T) {
	server, _, dir := newTestServer(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("secret"), 0o644))

	rec := doRequest(t, server, http.MethodGet, "/api/media/..%2Fsecret.txt", nil)
	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestImportEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	var gotChatID string
	var gotLimit int
	server.Import = func(ctx context.Context, chatID string, limit int) (e.ImportResult, error) {
		gotChatID = chatID
		gotLimit = limit
		return e.ImportResult{Imported: 3, Duplicates: 1, Total: 4}, nil
	}

	rec := doRequest(t, server, http.MethodPost, "/api/import", []byte(`{"chat_id":"c1","limit":10}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "c1", gotChatID)
	require.Equal(t, 10, gotLimit)

	var result e.ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 3, result.Imported)
	require.Equal(t, 4, result.Total)
}

func TestImportEndpointWithoutSource(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/import", []byte(`{"chat_id":"c1"}`))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestImportEndpointRequiresChatID(t *testing.T) {
	server, _, _ := newTestServer(t)
	server.Import = func(ctx context.Context, chatID string, limit int) (e.ImportResult, error) {
		return e.ImportResult{}, nil
	}

	rec := doRequest(t, server, http.MethodPost, "/api/import", []byte(`{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
