package telegram

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/salomai/salombot/internal/config"
	"github.com/salomai/salombot/internal/logger"
	"github.com/salomai/salombot/internal/metrics"
)

// MessageHandler handles plain text messages
type MessageHandler interface {
	HandleMessage(update tgbotapi.Update) error
}

// CommandHandler handles bot commands
type CommandHandler interface {
	HandleCommand(update tgbotapi.Update) error
}

// MediaHandler handles media messages
type MediaHandler interface {
	HandleMedia(update tgbotapi.Update) error
}

// CallbackHandler handles inline keyboard callback queries
type CallbackHandler interface {
	HandleCallback(update tgbotapi.Update) error
}

// Bot wraps the Telegram Bot API with long-polling and handler dispatch
type Bot struct {
	api    *tgbotapi.BotAPI
	config *config.TelegramConfig
	logger zerolog.Logger

	messageHandler  MessageHandler
	commandHandler  CommandHandler
	mediaHandler    MediaHandler
	callbackHandler CallbackHandler

	updates tgbotapi.UpdatesChannel
	running bool
	mu      sync.RWMutex
}

// New creates a new Telegram bot
func New(cfg *config.TelegramConfig, log *logger.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := ValidateToken(cfg.Token); err != nil {
		return nil, err
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := NewWithAPI(api, cfg, log)
	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// NewWithAPI wraps an already constructed API client. Callers that need a
// custom endpoint or HTTP client build the client themselves and pass it in.
func NewWithAPI(api *tgbotapi.BotAPI, cfg *config.TelegramConfig, log *logger.Logger) *Bot {
	return &Bot{
		api:    api,
		config: cfg,
		logger: log.GetZerolog().With().Str("component", "telegram").Logger(),
	}
}

// Start begins long-polling for updates
func (b *Bot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bot is already running")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.config.PollTimeout
	if u.Timeout <= 0 {
		u.Timeout = 60
	}

	b.updates = b.api.GetUpdatesChan(u)
	b.running = true

	go b.processUpdates()

	b.logger.Info().Int("poll_timeout", u.Timeout).Msg("Telegram bot started")
	return nil
}

// Stop stops the bot
func (b *Bot) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return fmt.Errorf("bot is not running")
	}

	b.api.StopReceivingUpdates()
	b.running = false

	b.logger.Info().Msg("Telegram bot stopped")
	return nil
}

// IsRunning returns whether the bot is polling
func (b *Bot) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// WaitForReady blocks until the bot is polling or the timeout expires
func (b *Bot) WaitForReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if b.IsRunning() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("bot not ready after %v", timeout)
}

// processUpdates processes incoming updates
func (b *Bot) processUpdates() {
	for update := range b.updates {
		b.handleUpdate(update)
	}
}

// handleUpdate routes an update to the matching handler
func (b *Bot) handleUpdate(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		metrics.RecordTelegramUpdate("callback")
		if b.callbackHandler != nil {
			if err := b.callbackHandler.HandleCallback(update); err != nil {
				b.logger.Error().Err(err).Msg("Callback handler error")
				metrics.RecordTelegramError()
			}
		}
		return
	}

	if update.Message == nil {
		return
	}
	msg := update.Message

	switch {
	case msg.IsCommand():
		metrics.RecordTelegramUpdate("command")
		if b.commandHandler != nil {
			if err := b.commandHandler.HandleCommand(update); err != nil {
				b.logger.Error().Err(err).Str("command", msg.Command()).Msg("Command handler error")
				metrics.RecordTelegramError()
			}
		}
	case b.hasMedia(msg):
		kind, _ := DetectMedia(msg)
		metrics.RecordTelegramUpdate(kind)
		if b.mediaHandler != nil {
			if err := b.mediaHandler.HandleMedia(update); err != nil {
				b.logger.Error().Err(err).Msg("Media handler error")
				metrics.RecordTelegramError()
			}
		}
	default:
		metrics.RecordTelegramUpdate("message")
		if b.messageHandler != nil {
			if err := b.messageHandler.HandleMessage(update); err != nil {
				b.logger.Error().Err(err).Msg("Message handler error")
				metrics.RecordTelegramError()
			}
		}
	}
}

// hasMedia checks whether a message carries media
func (b *Bot) hasMedia(msg *tgbotapi.Message) bool {
	return len(msg.Photo) > 0 ||
		msg.Video != nil ||
		msg.Audio != nil ||
		msg.Document != nil ||
		msg.Voice != nil
}

// SetMessageHandler sets the plain message handler
func (b *Bot) SetMessageHandler(handler MessageHandler) {
	b.messageHandler = handler
}

// SetCommandHandler sets the command handler
func (b *Bot) SetCommandHandler(handler CommandHandler) {
	b.commandHandler = handler
}

// SetMediaHandler sets the media handler
func (b *Bot) SetMediaHandler(handler MediaHandler) {
	b.mediaHandler = handler
}

// SetCallbackHandler sets the callback query handler
func (b *Bot) SetCallbackHandler(handler CallbackHandler) {
	b.callbackHandler = handler
}

// SendMessage sends a plain text message
func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendMessageWithReply sends a message replying to another message
func (b *Bot) SendMessageWithReply(chatID int64, text string, replyToID int) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToID
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendWithKeyboard sends a message with an inline or reply keyboard attached
func (b *Bot) SendWithKeyboard(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendMarkdown sends a Markdown-formatted message, falling back to plain
// text when Telegram rejects the entities.
func (b *Bot) SendMarkdown(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		if strings.Contains(err.Error(), "can't parse entities") {
			return b.SendMessage(chatID, text)
		}
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// EditMessage edits a previously sent message. No-op edits rejected by
// Telegram with "message is not modified" are not errors.
func (b *Bot) EditMessage(chatID int64, messageID int, text, parseMode string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = parseMode
	if _, err := b.api.Send(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// SendChatAction sends a chat action such as "typing"
func (b *Bot) SendChatAction(chatID int64, action string) error {
	cfg := tgbotapi.NewChatAction(chatID, action)
	if _, err := b.api.Request(cfg); err != nil {
		return fmt.Errorf("failed to send chat action: %w", err)
	}
	return nil
}

// SendTyping shows the typing indicator
func (b *Bot) SendTyping(chatID int64) error {
	return b.SendChatAction(chatID, tgbotapi.ChatTyping)
}

// AnswerCallback acknowledges a callback query
func (b *Bot) AnswerCallback(callbackID, text string) error {
	cfg := tgbotapi.NewCallback(callbackID, text)
	if _, err := b.api.Request(cfg); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

// SendAudio sends an in-memory audio payload with a caption
func (b *Bot) SendAudio(chatID int64, name string, data []byte, caption string, replyToID int) error {
	audio := tgbotapi.NewAudio(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	audio.Caption = caption
	audio.ReplyToMessageID = replyToID
	if _, err := b.api.Send(audio); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// SendPhotoURL sends a photo by URL with a caption
func (b *Bot) SendPhotoURL(chatID int64, url, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	photo.Caption = caption
	if _, err := b.api.Send(photo); err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	return nil
}

// GetBotInfo returns bot information
func (b *Bot) GetBotInfo() map[string]interface{} {
	return map[string]interface{}{
		"id":       b.api.Self.ID,
		"username": b.api.Self.UserName,
		"name":     b.api.Self.FirstName,
		"running":  b.IsRunning(),
	}
}

// ValidateToken checks a bot token for the numeric-id:secret shape
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("bot token is empty")
	}
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid bot token format")
	}
	for _, r := range parts[0] {
		if r < '0' || r > '9' {
			return fmt.Errorf("invalid bot token format")
		}
	}
	return nil
}
