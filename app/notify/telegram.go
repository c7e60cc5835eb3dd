package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nuclight.org/tg-archive-bot/pkg/logger"
	"nuclight.org/tg-archive-bot/pkg/metrics"
)

// Telegram forwards merged batches to a single Telegram chat.
type Telegram struct {
	log    logger.Logger
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(log logger.Logger, apiToken string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(apiToken)
	if err != nil {
		return nil, fmt.Errorf("creating bot api: %w", err)
	}

	log.Info("notification bot api created", "username", bot.Self.UserName)

	return &Telegram{
		log:    log,
		bot:    bot,
		chatID: chatID,
	}, nil
}

func (t *Telegram) Forward(_ context.Context, batch Batch) {
	text := strings.Join(batch.Bodies, "\n\n")
	if text == "" {
		text = "[media only]"
	}

	header := fmt.Sprintf("*%s*\n%s\n", escapeMarkdown(batch.ChatName), escapeMarkdown(batch.SenderName))

	msg := tgbotapi.NewMessage(t.chatID, header+text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		t.log.Error("forwarding batch", "chat_id", batch.ChatID, "error", err)
		return
	}

	for _, path := range batch.MediaPaths {
		if err := t.sendMedia(path); err != nil {
			t.log.Error("forwarding media", "path", path, "error", err)
		}
	}

	metrics.IncNotificationSent("telegram")
	t.log.Debug("batch forwarded",
		"chat_id", batch.ChatID,
		"sender_id", batch.SenderID,
		"messages", len(batch.Bodies),
		"media", len(batch.MediaPaths),
	)
}

func (t *Telegram) sendMedia(path string) error {
	file := tgbotapi.FilePath(path)

	var err error
	switch filepath.Ext(path) {
	case ".jpg", ".png", ".gif", ".webp":
		_, err = t.bot.Send(tgbotapi.NewPhoto(t.chatID, file))
	default:
		_, err = t.bot.Send(tgbotapi.NewDocument(t.chatID, file))
	}

	return err
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"[", `\[`,
	"`", "\\`",
)

func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}
