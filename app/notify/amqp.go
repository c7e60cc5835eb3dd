package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"nuclight.org/tg-archive-bot/app/ingest"
	"nuclight.org/tg-archive-bot/pkg/logger"
	"nuclight.org/tg-archive-bot/pkg/metrics"
)

// archivedEvent is the wire shape published for every stored original.
type archivedEvent struct {
	ChatID     string    `json:"chat_id"`
	ChatName   string    `json:"chat_name"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
	MediaPath  string    `json:"media_path,omitempty"`
}

const routingKey = "message.archived"

// AMQP implements ingest.Sink by publishing one event per original
// message to a topic exchange. Unlike the Telegram path, events are not
// merged: consumers get the full stream.
type AMQP struct {
	log      logger.Logger
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQP(log logger.Logger, url, exchange string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	err = ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}

	log.Info("amqp sink connected", "exchange", exchange)

	return &AMQP{
		log:      log,
		conn:     conn,
		ch:       ch,
		exchange: exchange,
	}, nil
}

func (a *AMQP) Notify(ctx context.Context, n ingest.Notification) {
	body, err := json.Marshal(archivedEvent{
		ChatID:     n.ChatID,
		ChatName:   n.ChatName,
		SenderID:   n.SenderID,
		SenderName: n.SenderName,
		Body:       n.Body,
		Timestamp:  n.Timestamp,
		MediaPath:  n.MediaPath,
	})
	if err != nil {
		a.log.Error("marshaling event", "error", err)
		return
	}

	err = a.ch.PublishWithContext(ctx, a.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		a.log.Error("publishing event", "chat_id", n.ChatID, "error", err)
		return
	}

	metrics.IncNotificationSent("amqp")
}

func (a *AMQP) Close() error {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

// Multi fans a notification out to several sinks.
type Multi []ingest.Sink

func (m Multi) Notify(ctx context.Context, n ingest.Notification) {
	for _, sink := range m {
		sink.Notify(ctx, n)
	}
}
