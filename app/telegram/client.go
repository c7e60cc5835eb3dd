package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nuclight.org/tg-archive-bot/app/ingest"
	e "nuclight.org/tg-archive-bot/pkg/entities"
	"nuclight.org/tg-archive-bot/pkg/logger"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg ingest.IncomingMessage) (e.Message, error)
}

// Client consumes bot updates and feeds every message into the archive.
type Client struct {
	Log        logger.Logger
	APIToken   string
	WorkersNum int
	Handler    MessageHandler

	bot *tgbotapi.BotAPI
	wg  sync.WaitGroup
}

func (c *Client) Start(ctx context.Context) (err error) {
	if c.WorkersNum == 0 {
		return fmt.Errorf("workers number must be greater than 0")
	}

	log := c.Log

	c.bot, err = tgbotapi.NewBotAPI(c.APIToken)
	if err != nil {
		return fmt.Errorf("creating bot api: %w", err)
	}

	log.Info("bot api created", "username", c.bot.Self.UserName)

	updatesConf := tgbotapi.NewUpdate(0)
	updatesConf.Timeout = 60

	updatesChan := c.bot.GetUpdatesChan(updatesConf)

	for i := 0; i < c.WorkersNum; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleUpdatesFromChan(ctx, updatesChan)
		}()
	}

	return nil
}

func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) handleUpdatesFromChan(ctx context.Context, updatesChan tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updatesChan:
			err := c.handleUpdate(ctx, update)
			if err != nil {
				c.Log.Error("handling update", "tg_update_id", update.UpdateID, "error", err)
			}
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	log := c.Log.With("tg_update_id", update.UpdateID)

	defer func() {
		if err := recover(); err != nil {
			log.Error("panic", "error", err)
		}
	}()

	message := update.Message
	if message == nil {
		message = update.ChannelPost
	}

	if message == nil {
		log.Warn("update carries no message")
		return nil
	}

	if message.Chat == nil {
		log.Warn("message chat is nil")
		return nil
	}

	log.Info(
		"new message",
		"tg_message_id", message.MessageID,
		"tg_chat_id", message.Chat.ID,
		"tg_chat_title", message.Chat.Title,
	)

	incoming := c.buildIncoming(message)

	saved, err := c.Handler.HandleMessage(ctx, incoming)
	if err != nil {
		return fmt.Errorf("handling message: %w", err)
	}

	log.Info("message archived", "message_id", saved.ID, "duplicate", saved.IsDuplicate)

	return nil
}

func (c *Client) buildIncoming(message *tgbotapi.Message) ingest.IncomingMessage {
	senderID, senderName := takeSender(message)

	incoming := ingest.IncomingMessage{
		Chat: e.Chat{
			ID:          takeChatID(message.Chat),
			Name:        takeChatName(message.Chat),
			IsGroup:     message.Chat.IsGroup() || message.Chat.IsSuperGroup(),
			IsCommunity: message.Chat.IsChannel(),
		},
		SourceID:   takeChatID(message.Chat) + ":" + strconv.Itoa(message.MessageID),
		SenderID:   senderID,
		SenderName: senderName,
		Body:       takeText(message),
		Timestamp:  time.Unix(int64(message.Date), 0).UTC(),
	}

	if fileID, mimeType, ok := takeMediaRef(message); ok {
		incoming.HasMedia = true
		incoming.FetchMedia = func(ctx context.Context) ([]byte, string, error) {
			data, err := c.downloadFile(ctx, fileID)
			if err != nil {
				return nil, "", err
			}
			return data, mimeType, nil
		}
	}

	return incoming
}

func (c *Client) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}

	fileURL := file.Link(c.bot.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	return content, nil
}

// takeMediaRef picks the download reference for whatever attachment the
// message carries. Photos come in multiple sizes, the last one is the
// largest.
func takeMediaRef(message *tgbotapi.Message) (fileID, mimeType string, ok bool) {
	switch {
	case len(message.Photo) > 0:
		return message.Photo[len(message.Photo)-1].FileID, "image/jpeg", true
	case message.Document != nil:
		mimeType = message.Document.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		return message.Document.FileID, mimeType, true
	case message.Video != nil:
		return message.Video.FileID, "video/mp4", true
	case message.Voice != nil:
		return message.Voice.FileID, "audio/ogg", true
	case message.Audio != nil:
		mimeType = message.Audio.MimeType
		if mimeType == "" {
			mimeType = "audio/mpeg"
		}
		return message.Audio.FileID, mimeType, true
	case message.Sticker != nil:
		return message.Sticker.FileID, "image/webp", true
	default:
		return "", "", false
	}
}

func takeText(message *tgbotapi.Message) string {
	if message.Text != "" {
		return message.Text
	}
	return message.Caption
}

func takeSender(message *tgbotapi.Message) (id, name string) {
	if message.From != nil {
		return takeUserID(message.From), takeUserName(message.From)
	}
	// Channel posts have no sender user, attribute them to the chat.
	return takeChatID(message.Chat), takeChatName(message.Chat)
}

func takeChatID(chat *tgbotapi.Chat) string {
	return strconv.FormatInt(chat.ID, 10)
}

func takeChatName(chat *tgbotapi.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}

	var sb strings.Builder
	if chat.FirstName != "" {
		sb.WriteString(chat.FirstName)
	}
	if chat.LastName != "" {
		if sb.Len() > 0 {
			sb.WriteRune(' ')
		}
		sb.WriteString(chat.LastName)
	}
	if sb.Len() == 0 {
		return takeChatID(chat)
	}
	return sb.String()
}

func takeUserID(user *tgbotapi.User) string {
	return strconv.FormatInt(user.ID, 10)
}

func takeUserName(user *tgbotapi.User) string {
	var sb strings.Builder

	if user.FirstName != "" {
		sb.WriteString(user.FirstName)
	}

	if user.LastName != "" {
		if sb.Len() > 0 {
			sb.WriteRune(' ')
		}
		sb.WriteString(user.LastName)
	}

	if user.UserName != "" {
		if sb.Len() > 0 {
			sb.WriteRune(' ')
			sb.WriteRune('(')
			sb.WriteRune('@')
			sb.WriteString(user.UserName)
			sb.WriteRune(')')
		} else {
			sb.WriteRune('@')
			sb.WriteString(user.UserName)
		}
	}

	if sb.Len() == 0 {
		return takeUserID(user)
	}

	return sb.String()
}
