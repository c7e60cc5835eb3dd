// Package api exposes the read-only dashboard endpoints, the bulk-import
// trigger and Prometheus metrics over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nuclight.org/tg-archive-bot/app/retention"
	"nuclight.org/tg-archive-bot/app/storage"
	e "nuclight.org/tg-archive-bot/pkg/entities"
	"nuclight.org/tg-archive-bot/pkg/logger"
	"nuclight.org/tg-archive-bot/pkg/metrics"
)

// ReadStore is the read-only slice of the content store the API serves.
type ReadStore interface {
	Stats(ctx context.Context) (e.Stats, error)
	ListChats(ctx context.Context) ([]e.Chat, error)
	ListMessages(ctx context.Context, filter storage.MessageFilter) ([]e.MessageView, int, error)
}

// ImportFunc triggers a bulk history import for one chat.
type ImportFunc func(ctx context.Context, chatID string, limit int) (e.ImportResult, error)

// Server wires the HTTP layer. Import may be nil when no history source
// is configured; Sweeper may be nil in tests.
type Server struct {
	// Log is a logger
	Log logger.Logger

	// Store serves the read endpoints
	Store ReadStore

	// DataDir is the directory media files are served from
	DataDir string

	// Import runs a bulk import when POST /api/import is called
	Import ImportFunc

	// Sweeper reports its state on the status endpoint
	Sweeper *retention.Sweeper
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.HTTPMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/status", s.getStatus)
	api.GET("/stats", s.getStats)
	api.GET("/chats", s.getChats)
	api.GET("/messages", s.getMessages)
	api.GET("/media/:filename", s.getMedia)
	api.POST("/import", s.postImport)

	return r
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errC := make(chan error, 1)
	go func() {
		errC <- srv.ListenAndServe()
	}()

	s.Log.Info("api listening", "addr", addr)

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) getStatus(c *gin.Context) {
	state := retention.StateIdle
	if s.Sweeper != nil {
		state = s.Sweeper.State()
	}

	c.JSON(http.StatusOK, gin.H{
		"sweeper":        string(state),
		"import_enabled": s.Import != nil,
	})
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.Store.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, "loading stats", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"unique_messages":    stats.UniqueMessages,
		"duplicate_messages": stats.DuplicateMessages,
		"total_chats":        stats.TotalChats,
		"total_media":        stats.TotalMedia,
	})
}

func (s *Server) getChats(c *gin.Context) {
	chats, err := s.Store.ListChats(c.Request.Context())
	if err != nil {
		s.fail(c, "loading chats", err)
		return
	}

	type chatResponse struct {
		ID          string    `json:"id"`
		Name        string    `json:"name"`
		IsGroup     bool      `json:"is_group"`
		IsCommunity bool      `json:"is_community"`
		UpdatedAt   time.Time `json:"updated_at"`
	}

	out := make([]chatResponse, 0, len(chats))
	for _, chat := range chats {
		out = append(out, chatResponse{
			ID:          chat.ID,
			Name:        chat.Name,
			IsGroup:     chat.IsGroup,
			IsCommunity: chat.IsCommunity,
			UpdatedAt:   chat.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"chats": out})
}

type messagesQuery struct {
	Page      int    `form:"page"`
	Limit     int    `form:"limit"`
	ChatID    string `form:"chat_id"`
	HasLinks  string `form:"has_links"`
	HasPrices string `form:"has_prices"`
	HasMedia  string `form:"has_media"`
	Search    string `form:"search"`
	DateFrom  string `form:"date_from"`
	DateTo    string `form:"date_to"`
}

func (s *Server) getMessages(c *gin.Context) {
	var q messagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}

	filter := storage.MessageFilter{
		ChatID:    q.ChatID,
		HasLinks:  q.HasLinks == "1",
		HasPrices: q.HasPrices == "1",
		HasMedia:  q.HasMedia == "1",
		Search:    q.Search,
		Page:      q.Page,
		Limit:     q.Limit,
	}

	var err error
	if filter.From, err = parseTimeParam(q.DateFrom); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date_from"})
		return
	}
	if filter.To, err = parseTimeParam(q.DateTo); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date_to"})
		return
	}

	views, total, err := s.Store.ListMessages(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, "loading messages", err)
		return
	}

	type messageResponse struct {
		ID         string    `json:"id"`
		ChatID     string    `json:"chat_id"`
		ChatName   string    `json:"chat_name"`
		SenderID   string    `json:"sender_id"`
		SenderName string    `json:"sender_name"`
		Body       string    `json:"body"`
		Timestamp  time.Time `json:"timestamp"`
		HasMedia   bool      `json:"has_media"`
		MediaPath  *string   `json:"media_path,omitempty"`
		MediaMime  *string   `json:"media_mime,omitempty"`
		HasLinks   bool      `json:"has_links"`
		HasPrices  bool      `json:"has_prices"`
	}

	out := make([]messageResponse, 0, len(views))
	for _, v := range views {
		out = append(out, messageResponse{
			ID:         v.ID,
			ChatID:     v.ChatID,
			ChatName:   v.ChatName,
			SenderID:   v.SenderID,
			SenderName: v.SenderName,
			Body:       v.Body,
			Timestamp:  v.Timestamp,
			HasMedia:   v.HasMedia,
			MediaPath:  v.MediaPath,
			MediaMime:  v.MediaMime,
			HasLinks:   v.HasLinks,
			HasPrices:  v.HasPrices,
		})
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": out,
		"pagination": gin.H{
			"page":        page,
			"limit":       limit,
			"total":       total,
			"total_pages": (total + limit - 1) / limit,
		},
	})
}

func (s *Server) getMedia(c *gin.Context) {
	// Base strips any path traversal attempt from the parameter.
	filename := filepath.Base(c.Param("filename"))
	c.File(filepath.Join(s.DataDir, "media", filename))
}

type importRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
	Limit  int    `json:"limit"`
}

func (s *Server) postImport(c *gin.Context) {
	if s.Import == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no history source configured"})
		return
	}

	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id is required"})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	result, err := s.Import(c.Request.Context(), req.ChatID, req.Limit)
	if err != nil {
		s.fail(c, "importing history", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) fail(c *gin.Context, what string, err error) {
	s.Log.Error(what, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": what + " failed"})
}

func parseTimeParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return &ts, nil
		}
	}

	return nil, errors.New("unsupported time format")
}
