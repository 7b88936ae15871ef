package telegram

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/salomai/salombot/internal/metrics"
)

const (
	// DefaultPlaceholder is shown while the backend is producing a reply
	DefaultPlaceholder = "⏳ Salom AI o'ylayapti..."

	// replyMissingText replaces an empty final reply
	replyMissingText = "Javob olinmadi."

	// streamCursor is appended to intermediate edits
	streamCursor = " ▌"

	defaultStreamMinChars    = 20
	defaultStreamMinInterval = 1500 * time.Millisecond
)

// Streaming renders backend replies progressively by editing one Telegram
// message per reply. Edits are throttled: a flush happens when the pending
// delta exceeds the configured rune count or the configured interval has
// passed since the last edit.
type Streaming struct {
	bot    *Bot
	logger zerolog.Logger

	minChars    int
	minInterval time.Duration

	streams map[string]*Stream
	mu      sync.RWMutex

	// Send/edit seams, replaceable in tests
	send func(chatID int64, text string) (int, error)
	edit func(chatID int64, messageID int, text, parseMode string) error
}

// Stream is one in-flight streamed reply
type Stream struct {
	ChatID    int64
	MessageID int

	s        *Streaming
	mu       sync.Mutex
	content  strings.Builder
	pending  int // runes accumulated since the last edit
	lastEdit time.Time
	done     bool
}

// NewStreaming creates the stream manager using the bot's throttle settings
func NewStreaming(bot *Bot) *Streaming {
	minChars := defaultStreamMinChars
	minInterval := defaultStreamMinInterval
	if bot.config != nil {
		if bot.config.StreamMinChars > 0 {
			minChars = bot.config.StreamMinChars
		}
		if bot.config.StreamMinInterval > 0 {
			minInterval = time.Duration(bot.config.StreamMinInterval) * time.Millisecond
		}
	}

	s := &Streaming{
		bot:         bot,
		logger:      bot.logger.With().Str("module", "streaming").Logger(),
		minChars:    minChars,
		minInterval: minInterval,
		streams:     make(map[string]*Stream),
	}
	s.send = func(chatID int64, text string) (int, error) {
		sent, err := bot.api.Send(tgbotapi.NewMessage(chatID, text))
		if err != nil {
			return 0, err
		}
		return sent.MessageID, nil
	}
	s.edit = bot.EditMessage
	return s
}

// Start sends the placeholder message and registers a stream for it
func (s *Streaming) Start(chatID int64, placeholder string) (*Stream, error) {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}

	messageID, err := s.send(chatID, placeholder)
	if err != nil {
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}

	stream := &Stream{
		ChatID:    chatID,
		MessageID: messageID,
		s:         s,
		lastEdit:  time.Now(),
	}

	s.mu.Lock()
	s.streams[streamKey(chatID, messageID)] = stream
	s.mu.Unlock()

	s.logger.Debug().
		Int64("chat_id", chatID).
		Int("message_id", messageID).
		Msg("Stream started")

	return stream, nil
}

// Append adds a delta to the stream, editing the message when due
func (st *Stream) Append(delta string) {
	if delta == "" {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return
	}

	st.content.WriteString(delta)
	st.pending += utf8.RuneCountInString(delta)

	if st.shouldFlush() {
		st.flush()
	}
}

// shouldFlush reports whether an intermediate edit is due. Callers hold st.mu.
func (st *Stream) shouldFlush() bool {
	if st.pending == 0 {
		return false
	}
	return st.pending > st.s.minChars || time.Since(st.lastEdit) > st.s.minInterval
}

// flush edits the message to the accumulated text plus a cursor. Edit
// failures are logged and swallowed; the next flush carries the text anyway.
// Callers hold st.mu.
func (st *Stream) flush() {
	text := st.content.String() + streamCursor
	if err := st.s.edit(st.ChatID, st.MessageID, text, ""); err != nil {
		st.s.logger.Debug().Err(err).
			Int64("chat_id", st.ChatID).
			Msg("Stream edit failed")
	}
	st.pending = 0
	st.lastEdit = time.Now()
	metrics.RecordStreamEdit()
}

// Finish performs the final edit and deregisters the stream. The final text
// is rendered as Markdown, falling back to plain text when Telegram rejects
// the entities. An empty finalText falls back to the accumulated content.
func (st *Stream) Finish(finalText string) error {
	st.mu.Lock()
	if st.done {
		st.mu.Unlock()
		return nil
	}
	st.done = true
	if finalText == "" {
		finalText = st.content.String()
	}
	if finalText == "" {
		finalText = replyMissingText
	}
	st.mu.Unlock()

	defer st.s.remove(st)

	metrics.RecordStreamEdit()
	err := st.s.edit(st.ChatID, st.MessageID, finalText, tgbotapi.ModeMarkdown)
	if err != nil && strings.Contains(err.Error(), "can't parse entities") {
		err = st.s.edit(st.ChatID, st.MessageID, finalText, "")
	}
	if err != nil {
		return fmt.Errorf("failed to finish stream: %w", err)
	}
	return nil
}

// Text returns the accumulated content
func (st *Stream) Text() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.content.String()
}

func (s *Streaming) remove(st *Stream) {
	s.mu.Lock()
	delete(s.streams, streamKey(st.ChatID, st.MessageID))
	s.mu.Unlock()
}

// ActiveStreams returns the number of in-flight streams
func (s *Streaming) ActiveStreams() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

// CleanupStale drops streams that have not been edited within maxAge.
// A stream can go stale when the backend connection dies mid-reply.
func (s *Streaming) CleanupStale(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, st := range s.streams {
		st.mu.Lock()
		stale := time.Since(st.lastEdit) > maxAge
		if stale {
			st.done = true
		}
		st.mu.Unlock()

		if stale {
			delete(s.streams, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Warn().Int("count", removed).Msg("Stale streams cleaned up")
	}
	return removed
}

func streamKey(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}
