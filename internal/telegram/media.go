package telegram

import (
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// MaxMediaSize is the largest file the bot will fetch. Telegram's getFile
// endpoint refuses anything over 20MB anyway.
const MaxMediaSize = 20 * 1024 * 1024

// Media handles inbound media messages and file downloads
type Media struct {
	bot    *Bot
	logger zerolog.Logger

	// Callback for processing media
	onMedia func(MediaContext) error
}

// MediaContext contains media message metadata
type MediaContext struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	FirstName string
	Caption   string
	Kind      string // photo, video, audio, document, voice
	FileID    string
	FileName  string
	MimeType  string
	Duration  int // seconds, voice and audio only
}

// MediaFile describes a downloaded file
type MediaFile struct {
	FileID string
	Size   int
}

// NewMedia creates a new media handler
func NewMedia(bot *Bot) *Media {
	return &Media{
		bot:    bot,
		logger: bot.logger.With().Str("module", "media").Logger(),
	}
}

// HandleMedia processes media messages
func (m *Media) HandleMedia(update tgbotapi.Update) error {
	if update.Message == nil {
		return nil
	}

	msg := update.Message
	kind, fileID := DetectMedia(msg)
	if kind == "" {
		return nil
	}

	ctx := MediaContext{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		Caption:   ParseCaption(msg),
		Kind:      kind,
		FileID:    fileID,
	}

	switch kind {
	case "voice":
		ctx.Duration = msg.Voice.Duration
		ctx.MimeType = msg.Voice.MimeType
	case "audio":
		ctx.Duration = msg.Audio.Duration
		ctx.MimeType = msg.Audio.MimeType
		ctx.FileName = msg.Audio.FileName
	case "document":
		ctx.FileName = msg.Document.FileName
		ctx.MimeType = msg.Document.MimeType
	case "video":
		ctx.Duration = msg.Video.Duration
		ctx.MimeType = msg.Video.MimeType
	}

	m.logger.Debug().
		Str("file_id", ctx.FileID).
		Str("kind", ctx.Kind).
		Int64("chat_id", ctx.ChatID).
		Msg("Media received")

	if m.onMedia != nil {
		return m.onMedia(ctx)
	}

	return nil
}

// SetOnMedia sets the media callback
func (m *Media) SetOnMedia(callback func(MediaContext) error) {
	m.onMedia = callback
}

// DetectMedia returns the media kind and file id of a message, picking the
// largest rendition for photos. Empty kind means no media.
func DetectMedia(msg *tgbotapi.Message) (string, string) {
	switch {
	case len(msg.Photo) > 0:
		return "photo", msg.Photo[len(msg.Photo)-1].FileID
	case msg.Voice != nil:
		return "voice", msg.Voice.FileID
	case msg.Document != nil:
		return "document", msg.Document.FileID
	case msg.Video != nil:
		return "video", msg.Video.FileID
	case msg.Audio != nil:
		return "audio", msg.Audio.FileID
	}
	return "", ""
}

// Download fetches a file from Telegram into memory
func (m *Media) Download(fileID string) (*MediaFile, []byte, error) {
	file, err := m.bot.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get file info: %w", err)
	}

	if file.FileSize > MaxMediaSize {
		return nil, nil, fmt.Errorf("file size %d exceeds maximum %d", file.FileSize, MaxMediaSize)
	}

	url := file.Link(m.bot.api.Token)

	resp, err := http.Get(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	// The size reported by getFile is advisory; cap the read as well.
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > MaxMediaSize {
		return nil, nil, fmt.Errorf("file exceeds maximum size %d", MaxMediaSize)
	}

	m.logger.Debug().
		Str("file_id", fileID).
		Int("size", len(data)).
		Msg("File downloaded")

	return &MediaFile{FileID: fileID, Size: len(data)}, data, nil
}
