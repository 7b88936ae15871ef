package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/salomai/salombot/internal/config"
	"github.com/salomai/salombot/internal/logger"
	"github.com/salomai/salombot/internal/telegram"
	"github.com/salomai/salombot/internal/tracing"
	"github.com/salomai/salombot/pkg/backend"
	"github.com/salomai/salombot/pkg/history"
	"github.com/salomai/salombot/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig builds a config that keeps every path inside a temp dir
func testConfig(t *testing.T) *config.Config {
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Backend.URL = "http://127.0.0.1:1"
	cfg.Telegram.Token = "123456789:TEST-TOKEN"
	cfg.Session.StateFile = filepath.Join(tmpDir, "state.json")
	cfg.History.Path = filepath.Join(tmpDir, "history.db")
	return cfg
}

// stubTelegram swaps the bot constructor for one that never dials Telegram
func stubTelegram(t *testing.T) {
	orig := newTelegramBot
	newTelegramBot = func(cfg *config.TelegramConfig, log *logger.Logger) (*telegram.Bot, error) {
		api := &tgbotapi.BotAPI{
			Self:   tgbotapi.User{ID: 42, IsBot: true, UserName: "salombot_test_bot"},
			Buffer: 100,
		}
		return telegram.NewWithAPI(api, cfg, log), nil
	}
	t.Cleanup(func() { newTelegramBot = orig })
}

// createTestDaemon creates a daemon for testing with a stubbed Telegram bot
func createTestDaemon(t *testing.T) (*Daemon, *logger.Logger) {
	stubTelegram(t)

	logCfg := logger.Config{
		Level:   "info",
		Console: false,
	}
	log, err := logger.New(logCfg)
	require.NoError(t, err)

	daemon, err := New(testConfig(t), log)
	require.NoError(t, err)

	return daemon, log
}

func TestNew(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	assert.NotNil(t, daemon.store)
	assert.NotNil(t, daemon.sweeper)
	assert.NotNil(t, daemon.backend)
	assert.NotNil(t, daemon.history)
	assert.NotNil(t, daemon.queue)
	assert.NotNil(t, daemon.deduper)
	assert.NotNil(t, daemon.bot)
	assert.NotNil(t, daemon.handler)
	assert.NotNil(t, daemon.commands)
	assert.NotNil(t, daemon.media)
	assert.NotNil(t, daemon.streaming)
	assert.Nil(t, daemon.metricsServer) // disabled by default
}

func TestDaemonStatus(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	status := daemon.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)
	assert.Equal(t, 0, status.Sessions)
	assert.Equal(t, 0, status.Queued)
}

func TestStopWithoutStart(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	err := daemon.Stop()
	assert.ErrorContains(t, err, "not running")
}

func TestDaemonGetters(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	assert.NotNil(t, daemon.GetConfig())
	assert.NotNil(t, daemon.GetLogger())
	assert.NotNil(t, daemon.GetStore())
	assert.NotNil(t, daemon.GetBackend())
}

func TestPendingAttachments(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	daemon.addPending(7, "https://files/a.jpg")
	daemon.addPending(7, "https://files/b.pdf")
	daemon.addPending(8, "https://files/other.png")

	urls := daemon.takePending(7)
	assert.Equal(t, []string{"https://files/a.jpg", "https://files/b.pdf"}, urls)

	// Taking consumes
	assert.Empty(t, daemon.takePending(7))
	assert.Equal(t, []string{"https://files/other.png"}, daemon.takePending(8))
}

func TestInputModes(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	_, ok := daemon.takeInputMode(7)
	assert.False(t, ok)

	daemon.setInputMode(7, modeFeedback)
	mode, ok := daemon.takeInputMode(7)
	require.True(t, ok)
	assert.Equal(t, modeFeedback, mode)

	// Taking consumes
	_, ok = daemon.takeInputMode(7)
	assert.False(t, ok)
}

func TestClearEphemeral(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	daemon.addPending(7, "https://files/a.jpg")
	daemon.setInputMode(7, modeImage)

	daemon.clearEphemeral(7)

	assert.Empty(t, daemon.takePending(7))
	_, ok := daemon.takeInputMode(7)
	assert.False(t, ok)
}

func TestSeen(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	assert.False(t, daemon.seen(100, 1))
	assert.True(t, daemon.seen(100, 1))
	assert.False(t, daemon.seen(100, 2))
	assert.False(t, daemon.seen(101, 1))
}

func TestUpdateSessionCreatesRecord(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	err := daemon.updateSession(7, session.Fields{Model: session.String("gpt-4o")})
	require.NoError(t, err)

	rec, ok := daemon.store.Get(7)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", rec.Model)
	assert.Equal(t, 1, daemon.store.Len())
}

func TestEnqueueRunsTaskWithUpdateContext(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	done := make(chan int64, 1)
	daemon.enqueue(turn{UserID: 7, ChatID: 700}, func(ctx context.Context) error {
		assert.Equal(t, int64(700), tracing.GetChatID(ctx))
		assert.NotEmpty(t, tracing.GetTraceID(ctx))
		done <- tracing.GetUserID(ctx)
		return nil
	})

	select {
	case uid := <-done:
		assert.Equal(t, int64(7), uid)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueued task did not run")
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	stubTelegram(t)
	cfg := testConfig(t)
	cfg.History.Enabled = false

	log, err := logger.New(logger.Config{Level: "info", Console: false})
	require.NoError(t, err)
	defer log.Close()

	first, err := New(cfg, log)
	require.NoError(t, err)

	require.NoError(t, first.updateSession(42, session.Fields{
		Model:           session.String("gpt-4o"),
		ConversationRef: session.String("314"),
	}))
	require.NoError(t, first.store.Flush())
	require.NoError(t, first.store.Close())

	// The state file carries preferences but never credentials
	raw, err := os.ReadFile(cfg.Session.StateFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "gpt-4o")
	assert.NotContains(t, strings.ToLower(string(raw)), "token")

	second, err := New(cfg, log)
	require.NoError(t, err)

	rec, ok := second.store.Get(42)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", rec.Model)
	assert.Equal(t, "314", rec.ConversationRef)

	// Credentials do not survive a restart; the first turn re-authenticates
	assert.False(t, second.backend.Authenticated(42))
}

func TestBotCommands(t *testing.T) {
	cmds := botCommands()
	assert.Len(t, cmds, 9)

	seen := make(map[string]bool)
	for _, c := range cmds {
		assert.False(t, seen[c.Command], "duplicate command %s", c.Command)
		assert.NotEmpty(t, c.Description)
		seen[c.Command] = true
	}
	assert.True(t, seen["start"])
	assert.True(t, seen["new"])
	assert.True(t, seen["image"])
}

func TestConversationOptions(t *testing.T) {
	options := conversationOptions([]backend.Conversation{
		{ID: 12, Title: "Ish rejasi"},
		{ID: 34, Preview: "Salom, menga yordam..."},
	})

	require.Len(t, options, 2)
	assert.Equal(t, "12", options[0].Ref)
	assert.Equal(t, "Ish rejasi", options[0].Title)
	assert.Equal(t, "34", options[1].Ref)
	assert.Equal(t, "Salom, menga yordam...", options[1].Title)
}

func TestDescribeError(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "empty message",
			err:  backend.ErrEmptyMessage,
			want: "✍️ Xabar matni bo'sh. Savolingizni yozing.",
		},
		{
			name: "timeout",
			err:  &backend.TimeoutError{URL: "http://x/api/chat"},
			want: "⏱️ So'rov vaqti tugadi. Qayta urinib ko'ring.",
		},
		{
			name: "unreachable",
			err:  &backend.UnreachableError{URL: "http://x", Err: errors.New("refused")},
			want: "⚠️ Server bilan bog'lanib bo'lmadi. Birozdan so'ng urinib ko'ring.",
		},
		{
			name: "stream error",
			err:  &backend.StreamError{Message: "model ishlamayapti"},
			want: "⚠️ Xatolik: model ishlamayapti",
		},
		{
			name: "stream limit",
			err:  &backend.StreamError{Message: "Kunlik limit tugadi", LimitExceeded: true},
			want: "⚠️ Kunlik limit tugadi\n\nObunangizni yangilang.",
		},
		{
			name: "backend detail",
			err:  &backend.BackendError{Status: http.StatusInternalServerError, Body: `{"detail": "ichki xatolik"}`},
			want: "⚠️ Xatolik: ichki xatolik",
		},
		{
			name: "backend limit",
			err: &backend.BackendError{
				Status: http.StatusTooManyRequests,
				Body:   `{"detail": {"code": "LIMIT_EXCEEDED", "message": "Kunlik limit tugadi"}}`,
			},
			want: "⚠️ Kunlik limit tugadi\n\nObunangizni yangilang.",
		},
		{
			name: "stale credentials",
			err:  &backend.BackendError{Status: http.StatusUnauthorized, Body: `{"detail": "unauthorized"}`},
			want: msgAuthStale,
		},
		{
			name: "unknown",
			err:  errors.New("weird failure"),
			want: msgGenericError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, daemon.describeError(ctx, 7, tt.err))
		})
	}
}

func TestStatusOf(t *testing.T) {
	limited := &backend.BackendError{
		Status: http.StatusTooManyRequests,
		Body:   `{"detail": {"code": "LIMIT_EXCEEDED", "message": "limit"}}`,
	}

	assert.Equal(t, history.StatusLimited, statusOf(limited))
	assert.Equal(t, history.StatusLimited, statusOf(&backend.StreamError{LimitExceeded: true}))
	assert.Equal(t, history.StatusError, statusOf(&backend.TimeoutError{URL: "http://x"}))
	assert.Equal(t, history.StatusError, statusOf(&backend.BackendError{Status: 500, Body: "boom"}))
	assert.Equal(t, history.StatusError, statusOf(errors.New("weird")))
}
