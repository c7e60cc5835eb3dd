// Package notify forwards newly archived original messages to outbound
// sinks. Messages from the same sender in the same chat are merged within
// a short window before forwarding, so bursts arrive as one notification.
package notify

import (
	"context"
	"time"

	"nuclight.org/tg-archive-bot/app/ingest"
	"nuclight.org/tg-archive-bot/pkg/logger"
)

// Batch is a group of messages from one sender in one chat, collected
// within the merge window.
type Batch struct {
	ChatID     string
	ChatName   string
	SenderID   string
	SenderName string
	Bodies     []string
	MediaPaths []string
	Last       time.Time
}

// Forwarder delivers a merged batch downstream.
type Forwarder interface {
	Forward(ctx context.Context, batch Batch)
}

const (
	defaultWindow = 30 * time.Second
	queueSize     = 256
)

// Merger implements ingest.Sink. All pending batches are owned by the
// single coordinator goroutine started by Run; Notify only passes
// messages to it, so there is no shared mutable state.
type Merger struct {
	log       logger.Logger
	window    time.Duration
	forwarder Forwarder

	in    chan ingest.Notification
	fired chan fire
}

func NewMerger(log logger.Logger, window time.Duration, forwarder Forwarder) *Merger {
	if window <= 0 {
		window = defaultWindow
	}

	return &Merger{
		log:       log,
		window:    window,
		forwarder: forwarder,
		in:        make(chan ingest.Notification, queueSize),
		fired:     make(chan fire, queueSize),
	}
}

// Notify enqueues a notification for merging. It never blocks ingestion:
// when the coordinator is saturated the notification is dropped.
func (m *Merger) Notify(_ context.Context, n ingest.Notification) {
	select {
	case m.in <- n:
	default:
		m.log.Warn("notification queue full, dropping", "chat_id", n.ChatID, "sender_id", n.SenderID)
	}
}

type pending struct {
	batch Batch
	timer *time.Timer

	// gen counts the messages merged into the batch. A window timer that
	// fires after a newer message restarted it carries a stale gen and is
	// ignored, Stop alone cannot prevent an already-fired timer.
	gen int
}

// fire is one window expiry, stamped with the batch generation it saw.
type fire struct {
	key string
	gen int
}

// Run blocks until ctx is done, merging and forwarding notifications.
// Remaining batches are flushed on shutdown.
func (m *Merger) Run(ctx context.Context) {
	batches := make(map[string]*pending)

	for {
		select {
		case <-ctx.Done():
			for key, p := range batches {
				p.timer.Stop()
				m.forwarder.Forward(context.Background(), p.batch)
				delete(batches, key)
			}
			return

		case n := <-m.in:
			key := n.SenderID + "_" + n.ChatID

			p, ok := batches[key]
			if !ok {
				p = &pending{batch: Batch{
					ChatID:     n.ChatID,
					ChatName:   n.ChatName,
					SenderID:   n.SenderID,
					SenderName: n.SenderName,
				}}
				batches[key] = p
			} else {
				p.timer.Stop()
			}

			if n.Body != "" {
				p.batch.Bodies = append(p.batch.Bodies, n.Body)
			}
			if n.MediaPath != "" {
				p.batch.MediaPaths = append(p.batch.MediaPaths, n.MediaPath)
			}
			p.batch.Last = n.Timestamp

			// Window restarts on every new message from the sender.
			p.gen++
			gen := p.gen
			p.timer = time.AfterFunc(m.window, func() {
				select {
				case m.fired <- fire{key: key, gen: gen}:
				default:
				}
			})

		case f := <-m.fired:
			p, ok := batches[f.key]
			if !ok || p.gen != f.gen {
				continue
			}
			delete(batches, f.key)
			m.forwarder.Forward(ctx, p.batch)
		}
	}
}
