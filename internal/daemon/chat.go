package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/salomai/salombot/internal/metrics"
	"github.com/salomai/salombot/internal/observability"
	"github.com/salomai/salombot/internal/telegram"
	"github.com/salomai/salombot/pkg/backend"
	"github.com/salomai/salombot/pkg/history"
	"github.com/salomai/salombot/pkg/session"
)

// User-facing fallback texts shared across flows.
const (
	msgAuthFailed   = "⚠️ Autentifikatsiya xatosi. Iltimos /start ni bosing."
	msgAuthStale    = "Autentifikatsiya eskirgan. Iltimos /start ni bosing."
	msgGenericError = "⚠️ Kechirasiz, xatolik yuz berdi. Qayta urinib ko'ring."
	msgVoiceFailed  = "⚠️ Ovozli xabarni qayta ishlashda xatolik."
)

// upload carries one inbound file through the upload flow.
type upload struct {
	Kind    string
	FileID  string
	Caption string
	Name    string
	Mime    string
}

// ensureAuth authenticates the user against the backend unless a token pair
// is already cached. Credentials never touch the session file; after a
// restart this re-runs on the user's first turn.
func (d *Daemon) ensureAuth(ctx context.Context, t turn) error {
	if d.backend.Authenticated(t.UserID) {
		return nil
	}

	_, err := d.backend.AuthTelegram(ctx, backend.TelegramUser{
		ID:        t.UserID,
		FirstName: t.FirstName,
		Username:  t.Username,
	})
	if err != nil {
		observability.RecordAuthAudit(ctx, t.UserID, "error", map[string]interface{}{"username": t.Username})
		return fmt.Errorf("telegram auth failed: %w", err)
	}

	observability.RecordAuthAudit(ctx, t.UserID, "ok", map[string]interface{}{"username": t.Username})
	return nil
}

// runStart authenticates, resets the conversation and greets with the menu.
func (d *Daemon) runStart(ctx context.Context, t turn) error {
	if err := d.ensureAuth(ctx, t); err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgAuthFailed)
		return err
	}

	sess, err := d.store.GetOrCreate(t.UserID)
	if err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgGenericError)
		return err
	}
	metrics.SetSessionRecords(d.store.Len())

	if sess.ConversationRef != "" {
		if _, err := d.store.Update(t.UserID, session.Fields{ConversationRef: session.String("")}); err != nil {
			d.logger.Error().Err(err).Int64("user_id", t.UserID).Msg("Failed to reset conversation")
		}
	}
	d.clearEphemeral(t.UserID)

	if model, changed, err := d.backend.EnsureDefaultModel(ctx, t.UserID, sess.Model); err != nil {
		d.logger.Warn().Err(err).Int64("user_id", t.UserID).Msg("Model availability check failed")
	} else if changed {
		if _, err := d.store.Update(t.UserID, session.Fields{Model: session.String(model)}); err != nil {
			d.logger.Error().Err(err).Int64("user_id", t.UserID).Msg("Failed to persist model fallback")
		}
	}

	name := t.FirstName
	if name == "" {
		name = "do'st"
	}
	greeting := fmt.Sprintf(
		"Assalomu alaykum, %s! 👋\n\nMen Salom AI telegram yordamchisiman.\nMatn, ovoz va rasm yaratish uchun quyidagi menyudan foydalaning.",
		name)
	return d.bot.SendWithKeyboard(t.ChatID, greeting, telegram.MainMenu())
}

// runNew clears the active conversation so the next turn starts fresh.
func (d *Daemon) runNew(ctx context.Context, t turn) error {
	if err := d.updateSession(t.UserID, session.Fields{ConversationRef: session.String("")}); err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgGenericError)
		return err
	}
	d.clearEphemeral(t.UserID)
	return d.bot.SendWithKeyboard(t.ChatID,
		"🆕 Yangi suhbat boshlandi. Savolingizni yozing yoki ovozli xabar yuboring.", telegram.MainMenu())
}

// runModels shows the model picker.
func (d *Daemon) runModels(ctx context.Context, t turn) error {
	if err := d.ensureAuth(ctx, t); err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgAuthFailed)
		return err
	}

	sess, err := d.store.GetOrCreate(t.UserID)
	if err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgGenericError)
		return err
	}

	models, err := d.backend.Models(ctx, t.UserID)
	if err != nil || len(models) == 0 {
		if err != nil {
			d.logger.Warn().Err(err).Int64("user_id", t.UserID).Msg("Model list failed")
		}
		return d.bot.SendWithKeyboard(t.ChatID, "⚠️ Model ro'yxatini olishda xatolik.", telegram.MainMenu())
	}

	options := make([]telegram.ModelOption, 0, len(models))
	for _, m := range models {
		options = append(options, telegram.ModelOption{ID: m.ID, Name: m.Name, Vision: m.Vision})
	}
	return d.bot.SendWithKeyboard(t.ChatID, "🤖 Modelni tanlang:", telegram.ModelKeyboard(options, sess.Model))
}

// runConversations shows the saved conversation picker.
func (d *Daemon) runConversations(ctx context.Context, t turn) error {
	if err := d.ensureAuth(ctx, t); err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgAuthFailed)
		return err
	}

	conversations, err := d.backend.Conversations(ctx, t.UserID, 10)
	if err != nil {
		d.logger.Warn().Err(err).Int64("user_id", t.UserID).Msg("Failed to load conversations")
	}
	if len(conversations) == 0 {
		return d.bot.SendWithKeyboard(t.ChatID, "📭 Hali saqlangan suhbatlar yo'q.", telegram.MainMenu())
	}

	return d.bot.SendWithKeyboard(t.ChatID, "Davom ettirish uchun suhbatni tanlang:",
		telegram.ConversationKeyboard(conversationOptions(conversations)))
}

// runChat handles one plain text turn.
func (d *Daemon) runChat(ctx context.Context, t turn, text string) error {
	_, err := d.chatTurn(ctx, t, text, history.KindChat)
	return err
}

// chatTurn streams one chat exchange into an edited Telegram message and
// returns the final reply text. The renewed conversation ref is persisted
// only after the backend call succeeded.
func (d *Daemon) chatTurn(ctx context.Context, t turn, text, kind string) (string, error) {
	start := time.Now()

	if err := d.ensureAuth(ctx, t); err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgAuthFailed)
		return "", err
	}

	_ = d.bot.SendTyping(t.ChatID)

	sess, err := d.store.GetOrCreate(t.UserID)
	if err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgGenericError)
		return "", err
	}
	metrics.SetSessionRecords(d.store.Len())

	if model, changed, err := d.backend.EnsureDefaultModel(ctx, t.UserID, sess.Model); err != nil {
		d.logger.Warn().Err(err).Int64("user_id", t.UserID).Msg("Model availability check failed")
	} else if changed {
		sess.Model = model
		if _, err := d.store.Update(t.UserID, session.Fields{Model: session.String(model)}); err != nil {
			d.logger.Error().Err(err).Int64("user_id", t.UserID).Msg("Failed to persist model fallback")
		}
	}

	attachments := d.takePending(t.UserID)

	stream, err := d.streaming.Start(t.ChatID, "")
	if err != nil {
		d.logger.Error().Err(err).Int64("chat_id", t.ChatID).Msg("Failed to send reply placeholder")
		return "", err
	}

	reply, err := d.backend.StreamChat(ctx, sess, text, attachments, stream.Append)
	if err != nil {
		if finErr := stream.Finish(d.describeError(ctx, t.UserID, err)); finErr != nil {
			d.logger.Warn().Err(finErr).Int64("chat_id", t.ChatID).Msg("Failed to render error reply")
		}
		d.record(history.Entry{
			UserID:          t.UserID,
			Kind:            kind,
			Model:           sess.Model,
			ConversationRef: sess.ConversationRef,
			Status:          statusOf(err),
			DurationMS:      time.Since(start).Milliseconds(),
			CharsIn:         int64(utf8.RuneCountInString(text)),
		})
		return "", err
	}

	if reply.ConversationRef != "" && reply.ConversationRef != sess.ConversationRef {
		if _, err := d.store.Update(t.UserID, session.Fields{ConversationRef: session.String(reply.ConversationRef)}); err != nil {
			d.logger.Error().Err(err).Int64("user_id", t.UserID).Msg("Failed to persist conversation ref")
		}
	}

	if err := stream.Finish(reply.Text); err != nil {
		d.logger.Warn().Err(err).Int64("chat_id", t.ChatID).Msg("Failed to finalize streamed reply")
	}

	d.record(history.Entry{
		UserID:          t.UserID,
		Kind:            kind,
		Model:           sess.Model,
		ConversationRef: reply.ConversationRef,
		Status:          history.StatusOK,
		DurationMS:      time.Since(start).Milliseconds(),
		CharsIn:         int64(utf8.RuneCountInString(text)),
		CharsOut:        int64(utf8.RuneCountInString(reply.Text)),
	})
	return reply.Text, nil
}

// runVoice transcribes a voice note, runs the chat flow on the transcript
// and answers with text plus synthesized audio when synthesis succeeds.
func (d *Daemon) runVoice(ctx context.Context, t turn, fileID string) error {
	start := time.Now()

	if err := d.ensureAuth(ctx, t); err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgAuthFailed)
		return err
	}

	_ = d.bot.SendChatAction(t.ChatID, "record_voice")

	_, data, err := d.media.Download(fileID)
	if err != nil {
		d.logger.Warn().Err(err).Int64("user_id", t.UserID).Msg("Voice download failed")
		_ = d.bot.SendMessage(t.ChatID, msgVoiceFailed)
		return err
	}

	transcript, err := d.backend.Transcribe(ctx, t.UserID, "voice.ogg", data)
	if err != nil || strings.TrimSpace(transcript) == "" {
		if err != nil {
			d.logger.Warn().Err(err).Int64("user_id", t.UserID).Msg("Transcription failed")
		}
		d.record(history.Entry{
			UserID:     t.UserID,
			Kind:       history.KindVoice,
			Status:     statusOf(err),
			DurationMS: time.Since(start).Milliseconds(),
		})
		_ = d.bot.SendMessage(t.ChatID, msgVoiceFailed)
		return err
	}

	if err := d.bot.SendMessageWithReply(t.ChatID, "🎤 "+transcript, t.MessageID); err != nil {
		d.logger.Warn().Err(err).Int64("chat_id", t.ChatID).Msg("Failed to echo transcript")
	}

	replyText, err := d.chatTurn(ctx, t, transcript, history.KindVoice)
	if err != nil || replyText == "" {
		return err
	}

	// Voice answer is best effort; the text reply already went out.
	audio, err := d.backend.Synthesize(ctx, t.UserID, replyText)
	if err != nil {
		d.logger.Warn().Err(err).Int64("user_id", t.UserID).Msg("Voice synthesis failed")
		return nil
	}
	if err := d.bot.SendAudio(t.ChatID, "salom-ai-reply.mp3", audio, "🔊 Javob (audio)", t.MessageID); err != nil {
		d.logger.Warn().Err(err).Int64("chat_id", t.ChatID).Msg("Failed to send voice reply")
	}
	return nil
}

// runImage generates an image from a prompt and sends it back.
func (d *Daemon) runImage(ctx context.Context, t turn, prompt string) error {
	start := time.Now()

	if err := d.ensureAuth(ctx, t); err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgAuthFailed)
		return err
	}

	_ = d.bot.SendChatAction(t.ChatID, "upload_photo")

	url, err := d.backend.GenerateImage(ctx, t.UserID, prompt)
	if err != nil {
		d.record(history.Entry{
			UserID:     t.UserID,
			Kind:       history.KindImage,
			Status:     statusOf(err),
			DurationMS: time.Since(start).Milliseconds(),
			CharsIn:    int64(utf8.RuneCountInString(prompt)),
		})
		var backendErr *backend.BackendError
		if errors.As(err, &backendErr) && backendErr.LimitExceeded() {
			_ = d.bot.SendMessage(t.ChatID, fmt.Sprintf("⚠️ %s\n\nObunangizni yangilang.", backendErr.Detail()))
		} else {
			_ = d.bot.SendMessage(t.ChatID, "⚠️ Rasm yaratishda xatolik.")
		}
		return err
	}
	if url == "" {
		return d.bot.SendMessage(t.ChatID, "⚠️ Rasm URL olinmadi.")
	}

	d.record(history.Entry{
		UserID:     t.UserID,
		Kind:       history.KindImage,
		Status:     history.StatusOK,
		DurationMS: time.Since(start).Milliseconds(),
		CharsIn:    int64(utf8.RuneCountInString(prompt)),
	})
	return d.bot.SendPhotoURL(t.ChatID, url, "🖼️ "+prompt)
}

// runUpload forwards an inbound file to the backend. With a caption the chat
// flow runs immediately; without one the file waits for the next text turn.
func (d *Daemon) runUpload(ctx context.Context, t turn, up upload) error {
	start := time.Now()

	failText := "⚠️ Fayl yuklanmadi."
	attachedText := "📎 Fayl biriktirildi. Matn yuboring."
	kind := history.KindDocument
	if up.Kind == "photo" {
		failText = "⚠️ Rasm yuklanmadi."
		attachedText = "📎 Rasm biriktirildi. Matn yuboring."
		kind = history.KindPhoto
	}

	if err := d.ensureAuth(ctx, t); err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgAuthFailed)
		return err
	}

	_, data, err := d.media.Download(up.FileID)
	if err != nil {
		d.logger.Warn().Err(err).Int64("user_id", t.UserID).Str("kind", up.Kind).Msg("Media download failed")
		_ = d.bot.SendMessage(t.ChatID, failText)
		return err
	}

	url, err := d.backend.UploadFile(ctx, t.UserID, up.Name, up.Mime, data)
	if err != nil {
		d.record(history.Entry{
			UserID:     t.UserID,
			Kind:       kind,
			Status:     statusOf(err),
			DurationMS: time.Since(start).Milliseconds(),
		})
		_ = d.bot.SendMessage(t.ChatID, failText)
		return err
	}

	d.record(history.Entry{
		UserID:     t.UserID,
		Kind:       kind,
		Status:     history.StatusOK,
		DurationMS: time.Since(start).Milliseconds(),
	})

	d.addPending(t.UserID, url)
	if up.Caption != "" {
		_, err := d.chatTurn(ctx, t, up.Caption, history.KindChat)
		return err
	}
	return d.bot.SendWithKeyboard(t.ChatID, attachedText, telegram.MainMenu())
}

// runSettings updates the backend system prompt.
func (d *Daemon) runSettings(ctx context.Context, t turn, prompt string) error {
	if err := d.ensureAuth(ctx, t); err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgAuthFailed)
		return err
	}

	if err := d.backend.UpdateSettings(ctx, t.UserID, backend.Settings{SystemPrompt: prompt}); err != nil {
		observability.RecordSettingsAudit(ctx, t.UserID, "system_prompt", "error", nil)
		_ = d.bot.SendMessage(t.ChatID, "⚠️ Sozlamani saqlashda xatolik.")
		return err
	}

	observability.RecordSettingsAudit(ctx, t.UserID, "system_prompt", "ok", nil)
	return d.bot.SendWithKeyboard(t.ChatID, "✅ Tizim ko'rsatmasi yangilandi.", telegram.MainMenu())
}

// runFeedback forwards user feedback to the backend.
func (d *Daemon) runFeedback(ctx context.Context, t turn, content string) error {
	if err := d.ensureAuth(ctx, t); err != nil {
		_ = d.bot.SendMessage(t.ChatID, msgAuthFailed)
		return err
	}

	if err := d.backend.SendFeedback(ctx, t.UserID, content); err != nil {
		d.logger.Warn().Err(err).Int64("user_id", t.UserID).Msg("Feedback submission failed")
		_ = d.bot.SendMessage(t.ChatID, "⚠️ Xatolik yuz berdi.")
		return err
	}

	d.record(history.Entry{
		UserID:  t.UserID,
		Kind:    history.KindFeedback,
		Status:  history.StatusOK,
		CharsIn: int64(utf8.RuneCountInString(content)),
	})
	return d.bot.SendWithKeyboard(t.ChatID, "✅ Fikr-mulohazangiz qabul qilindi. Rahmat!", telegram.MainMenu())
}

// record appends one interaction to the history log, best effort.
func (d *Daemon) record(e history.Entry) {
	if d.history == nil {
		return
	}
	if err := d.history.Record(e); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to record interaction")
	}
}

// describeError maps a backend failure onto the user-facing reply. A 401
// after the client's internal refresh means the cached tokens are stale;
// they are dropped so the next turn re-authenticates.
func (d *Daemon) describeError(ctx context.Context, userID int64, err error) string {
	var streamErr *backend.StreamError
	var backendErr *backend.BackendError
	var timeoutErr *backend.TimeoutError
	var unreachableErr *backend.UnreachableError

	switch {
	case errors.Is(err, backend.ErrEmptyMessage):
		return "✍️ Xabar matni bo'sh. Savolingizni yozing."
	case errors.As(err, &timeoutErr):
		return "⏱️ So'rov vaqti tugadi. Qayta urinib ko'ring."
	case errors.As(err, &unreachableErr):
		return "⚠️ Server bilan bog'lanib bo'lmadi. Birozdan so'ng urinib ko'ring."
	case errors.As(err, &streamErr):
		if streamErr.LimitExceeded {
			return fmt.Sprintf("⚠️ %s\n\nObunangizni yangilang.", streamErr.Message)
		}
		return fmt.Sprintf("⚠️ Xatolik: %s", streamErr.Message)
	case errors.As(err, &backendErr):
		if backendErr.Status == http.StatusUnauthorized {
			d.backend.ClearCredentials(userID)
			observability.RecordAuthAudit(ctx, userID, "stale", nil)
			return msgAuthStale
		}
		if backendErr.LimitExceeded() {
			return fmt.Sprintf("⚠️ %s\n\nObunangizni yangilang.", backendErr.Detail())
		}
		return fmt.Sprintf("⚠️ Xatolik: %s", backendErr.Detail())
	}
	return msgGenericError
}

// statusOf labels an error for the history log.
func statusOf(err error) string {
	var streamErr *backend.StreamError
	if errors.As(err, &streamErr) && streamErr.LimitExceeded {
		return history.StatusLimited
	}
	var backendErr *backend.BackendError
	if errors.As(err, &backendErr) && backendErr.LimitExceeded() {
		return history.StatusLimited
	}
	return history.StatusError
}
