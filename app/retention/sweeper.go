// Package retention deletes expired group messages and reclaims media
// blobs no message references anymore.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	e "nuclight.org/tg-archive-bot/pkg/entities"
	"nuclight.org/tg-archive-bot/pkg/logger"
	"nuclight.org/tg-archive-bot/pkg/metrics"
)

// Store is the slice of the content store the sweeper needs.
type Store interface {
	DeleteOldGroupMessages(ctx context.Context, cutoff time.Time) (int64, error)
	OrphanedMedia(ctx context.Context) ([]e.Media, error)
	DeleteMedia(ctx context.Context, id string) error
}

// BlobStore removes media files from disk.
type BlobStore interface {
	Remove(media e.Media) error
}

// State is the sweeper's scheduling state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Result summarizes one sweep.
type Result struct {
	DeletedMessages int64
	DeletedMedia    int64
}

// Sweeper runs the retention policy: group and community messages older
// than the retention window are deleted, then orphaned media rows and
// their files are reclaimed. Direct chats are exempt.
type Sweeper struct {
	// Log is a logger
	Log logger.Logger

	// Store deletes expired messages and orphaned media rows
	Store Store

	// Media removes blob files from disk
	Media BlobStore

	// RetentionDays is the message retention window, 30 when unset
	RetentionDays int

	mu    sync.Mutex
	state State
}

const defaultRetentionDays = 30

// State reports whether a sweep is in progress.
func (s *Sweeper) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return StateIdle
	}
	return s.state
}

// Run blocks until ctx is done, sweeping once immediately, then at the
// next local midnight, then every 24 hours. A failed sweep never disturbs
// the cadence.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweepAndLog(ctx)

	wait := time.Until(nextMidnight(time.Now()))
	s.Log.Info("retention sweep scheduled", "next_in", wait.Round(time.Second).String())

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.sweepAndLog(ctx)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	result, err := s.Sweep(ctx)
	if err != nil {
		s.Log.Error("retention sweep failed", "error", err)
		sentry.CaptureException(err)
		return
	}

	s.Log.Info("retention sweep complete",
		"deleted_messages", result.DeletedMessages,
		"deleted_media", result.DeletedMedia,
	)
}

// Sweep performs one retention pass. It is not cancellable mid-run; ctx
// only bounds the individual store operations.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("sweep already running")
	}
	s.state = StateRunning
	s.mu.Unlock()

	start := time.Now()
	result, err := s.sweep(ctx)
	metrics.ObserveSweep(time.Since(start), result.DeletedMessages, result.DeletedMedia, err)

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	return result, err
}

func (s *Sweeper) sweep(ctx context.Context) (Result, error) {
	days := s.RetentionDays
	if days <= 0 {
		days = defaultRetentionDays
	}

	var result Result

	cutoff := time.Now().AddDate(0, 0, -days)
	deleted, err := s.Store.DeleteOldGroupMessages(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("deleting expired messages: %w", err)
	}
	result.DeletedMessages = deleted

	orphans, err := s.Store.OrphanedMedia(ctx)
	if err != nil {
		return result, fmt.Errorf("listing orphaned media: %w", err)
	}

	for _, orphan := range orphans {
		// A file that is already gone is fine, the row goes regardless.
		if err := s.Media.Remove(orphan); err != nil {
			s.Log.Error("removing media file", "media_id", orphan.ID, "path", orphan.FilePath, "error", err)
		}

		if err := s.Store.DeleteMedia(ctx, orphan.ID); err != nil {
			return result, fmt.Errorf("deleting media row: %w", err)
		}
		result.DeletedMedia++
	}

	return result, nil
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
