package daemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/salomai/salombot/internal/metrics"
	"github.com/salomai/salombot/internal/observability"
	"github.com/salomai/salombot/internal/telegram"
	"github.com/salomai/salombot/internal/tracing"
	"github.com/salomai/salombot/pkg/backend"
	"github.com/salomai/salombot/pkg/session"
	"github.com/salomai/salombot/pkg/updatequeue"
)

// Input modes routing the next plain message into a non-chat flow.
const (
	modeImage     = "image"
	modeSetPrompt = "set_prompt"
	modeFeedback  = "feedback"
)

const msgTooManyRequests = "⚠️ Juda ko'p so'rov yuborildi. Avvalgi javoblarni kuting."

// turn identifies one inbound interaction.
type turn struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	FirstName string
}

func turnFromCommand(cmd telegram.CommandContext) turn {
	return turn{
		ChatID:    cmd.ChatID,
		MessageID: cmd.MessageID,
		UserID:    cmd.UserID,
		Username:  cmd.Username,
		FirstName: cmd.FirstName,
	}
}

func turnFromMessage(msg telegram.MessageContext) turn {
	return turn{
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		FirstName: msg.FirstName,
	}
}

func turnFromMedia(m telegram.MediaContext) turn {
	return turn{
		ChatID:    m.ChatID,
		MessageID: m.MessageID,
		UserID:    m.UserID,
		Username:  m.Username,
		FirstName: m.FirstName,
	}
}

// enqueue puts a task on the user's lane so one user's turns run in
// acceptance order. A full lane bounces with a polite message instead of
// queueing unboundedly.
func (d *Daemon) enqueue(t turn, task func(ctx context.Context) error) {
	err := d.queue.Enqueue(t.UserID, func(ctx context.Context) error {
		return task(tracing.NewUpdateContext(ctx, t.UserID, t.ChatID))
	})
	switch {
	case err == nil:
	case errors.Is(err, updatequeue.ErrLaneFull):
		if sendErr := d.bot.SendMessage(t.ChatID, msgTooManyRequests); sendErr != nil {
			d.logger.Warn().Err(sendErr).Int64("chat_id", t.ChatID).Msg("Failed to send lane-full notice")
		}
	case errors.Is(err, updatequeue.ErrClosed):
		// Shutting down; the update is dropped.
	default:
		d.logger.Error().Err(err).Int64("user_id", t.UserID).Msg("Failed to enqueue update")
	}
}

// seen reports whether this chat/message pair was already processed.
// Telegram redelivers updates that were not confirmed in time.
func (d *Daemon) seen(chatID int64, messageID int) bool {
	if d.deduper.Seen(fmt.Sprintf("%d:%d", chatID, messageID)) {
		metrics.RecordDuplicateDropped()
		return true
	}
	return false
}

// Ephemeral state helpers.

func (d *Daemon) addPending(userID int64, url string) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.pending[userID] = append(d.pending[userID], url)
}

func (d *Daemon) takePending(userID int64) []string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	urls := d.pending[userID]
	delete(d.pending, userID)
	return urls
}

func (d *Daemon) setInputMode(userID int64, mode string) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.inputModes[userID] = mode
}

func (d *Daemon) takeInputMode(userID int64) (string, bool) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	mode, ok := d.inputModes[userID]
	delete(d.inputModes, userID)
	return mode, ok
}

func (d *Daemon) clearEphemeral(userID int64) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	delete(d.pending, userID)
	delete(d.inputModes, userID)
}

// registerCommands wires the slash command set.
func (d *Daemon) registerCommands() {
	d.commands.Register("start", d.cmdStart)
	d.commands.Register("help", d.cmdHelp)
	d.commands.Register("new", d.cmdNew)
	d.commands.Register("models", d.cmdModels)
	d.commands.Register("conversations", d.cmdConversations)
	d.commands.Register("language", d.cmdLanguage)
	d.commands.Register("image", d.cmdImage)
	d.commands.Register("settings", d.cmdSettings)
	d.commands.Register("feedback", d.cmdFeedback)
}

// botCommands is the command list published to the Telegram UI.
func botCommands() []tgbotapi.BotCommand {
	return []tgbotapi.BotCommand{
		{Command: "start", Description: "Botni ishga tushirish"},
		{Command: "new", Description: "Yangi suhbat"},
		{Command: "models", Description: "Modelni tanlash"},
		{Command: "conversations", Description: "Suhbatlar tarixi"},
		{Command: "language", Description: "Tilni o'zgartirish"},
		{Command: "image", Description: "Rasm yaratish"},
		{Command: "settings", Description: "Tizim ko'rsatmasi"},
		{Command: "feedback", Description: "Fikr-mulohaza"},
		{Command: "help", Description: "Yordam"},
	}
}

func (d *Daemon) cmdStart(cmd telegram.CommandContext) error {
	t := turnFromCommand(cmd)
	d.enqueue(t, func(ctx context.Context) error { return d.runStart(ctx, t) })
	return nil
}

func (d *Daemon) cmdHelp(cmd telegram.CommandContext) error {
	return d.sendHelp(turnFromCommand(cmd))
}

func (d *Daemon) cmdNew(cmd telegram.CommandContext) error {
	t := turnFromCommand(cmd)
	d.enqueue(t, func(ctx context.Context) error { return d.runNew(ctx, t) })
	return nil
}

func (d *Daemon) cmdModels(cmd telegram.CommandContext) error {
	t := turnFromCommand(cmd)
	d.enqueue(t, func(ctx context.Context) error { return d.runModels(ctx, t) })
	return nil
}

func (d *Daemon) cmdConversations(cmd telegram.CommandContext) error {
	t := turnFromCommand(cmd)
	d.enqueue(t, func(ctx context.Context) error { return d.runConversations(ctx, t) })
	return nil
}

func (d *Daemon) cmdLanguage(cmd telegram.CommandContext) error {
	return d.sendLanguagePicker(turnFromCommand(cmd))
}

func (d *Daemon) cmdImage(cmd telegram.CommandContext) error {
	t := turnFromCommand(cmd)
	if cmd.RawArgs != "" {
		prompt := cmd.RawArgs
		d.enqueue(t, func(ctx context.Context) error { return d.runImage(ctx, t, prompt) })
		return nil
	}
	return d.promptImage(t)
}

func (d *Daemon) cmdSettings(cmd telegram.CommandContext) error {
	t := turnFromCommand(cmd)
	if cmd.RawArgs != "" {
		prompt := cmd.RawArgs
		d.enqueue(t, func(ctx context.Context) error { return d.runSettings(ctx, t, prompt) })
		return nil
	}
	return d.promptSettings(t)
}

func (d *Daemon) cmdFeedback(cmd telegram.CommandContext) error {
	t := turnFromCommand(cmd)
	if cmd.RawArgs != "" {
		content := cmd.RawArgs
		d.enqueue(t, func(ctx context.Context) error { return d.runFeedback(ctx, t, content) })
		return nil
	}
	return d.promptFeedback(t)
}

// Prompts for the two-step flows and static replies.

func (d *Daemon) sendHelp(t turn) error {
	help := "📖 Buyruqlar:\n" +
		"/new - yangi suhbat boshlash\n" +
		"/models - modelni tanlash\n" +
		"/conversations - suhbatlar tarixi\n" +
		"/language - tilni o'zgartirish\n" +
		"/image - rasm yaratish\n" +
		"/settings - tizim ko'rsatmasini o'zgartirish\n" +
		"/feedback - fikr-mulohaza yuborish\n\n" +
		"Oddiy xabar yozing yoki ovozli xabar yuboring, men javob beraman."
	return d.bot.SendWithKeyboard(t.ChatID, help, telegram.MainMenu())
}

func (d *Daemon) sendLanguagePicker(t turn) error {
	sess, err := d.store.GetOrCreate(t.UserID)
	if err != nil {
		d.logger.Warn().Err(err).Int64("user_id", t.UserID).Msg("Failed to load session for language picker")
	}
	return d.bot.SendWithKeyboard(t.ChatID, "🌐 Tilni tanlang:", telegram.LanguageKeyboard(sess.Language))
}

func (d *Daemon) promptImage(t turn) error {
	d.setInputMode(t.UserID, modeImage)
	return d.bot.SendMessage(t.ChatID, "🖼️ Rasm tavsifini yuboring (masalan: 'Tog'dagi quyosh botishi').")
}

func (d *Daemon) promptSettings(t turn) error {
	d.setInputMode(t.UserID, modeSetPrompt)
	return d.bot.SendMessage(t.ChatID, "⚙️ Yangi tizim ko'rsatmasini (system prompt) yuboring.")
}

func (d *Daemon) promptFeedback(t turn) error {
	d.setInputMode(t.UserID, modeFeedback)
	return d.bot.SendMessage(t.ChatID, "📩 Fikr va takliflaringizni yozib qoldiring.")
}

// onMessage routes a plain text message: main menu buttons first, then a
// pending input mode, otherwise the chat flow.
func (d *Daemon) onMessage(msg telegram.MessageContext) error {
	if msg.IsGroup && !msg.IsMention {
		return nil
	}
	if d.seen(msg.ChatID, msg.MessageID) {
		return nil
	}

	t := turnFromMessage(msg)
	if cmd, ok := telegram.MenuCommand(msg.Text); ok {
		return d.dispatchMenu(cmd, t)
	}

	text := msg.Text
	if mode, ok := d.takeInputMode(msg.UserID); ok {
		switch mode {
		case modeImage:
			d.enqueue(t, func(ctx context.Context) error { return d.runImage(ctx, t, text) })
		case modeSetPrompt:
			d.enqueue(t, func(ctx context.Context) error { return d.runSettings(ctx, t, text) })
		case modeFeedback:
			d.enqueue(t, func(ctx context.Context) error { return d.runFeedback(ctx, t, text) })
		}
		return nil
	}

	if text == "" {
		return nil
	}
	d.enqueue(t, func(ctx context.Context) error { return d.runChat(ctx, t, text) })
	return nil
}

// dispatchMenu handles a main menu button press.
func (d *Daemon) dispatchMenu(cmd string, t turn) error {
	switch cmd {
	case "new":
		d.enqueue(t, func(ctx context.Context) error { return d.runNew(ctx, t) })
	case "conversations":
		d.enqueue(t, func(ctx context.Context) error { return d.runConversations(ctx, t) })
	case "models":
		d.enqueue(t, func(ctx context.Context) error { return d.runModels(ctx, t) })
	case "image":
		return d.promptImage(t)
	case "language":
		return d.sendLanguagePicker(t)
	case "settings":
		return d.promptSettings(t)
	case "feedback":
		return d.promptFeedback(t)
	case "help":
		return d.sendHelp(t)
	}
	return nil
}

// onMedia routes voice notes to transcription and files to upload.
func (d *Daemon) onMedia(m telegram.MediaContext) error {
	if d.seen(m.ChatID, m.MessageID) {
		return nil
	}

	t := turnFromMedia(m)
	switch m.Kind {
	case "voice":
		fileID := m.FileID
		d.enqueue(t, func(ctx context.Context) error { return d.runVoice(ctx, t, fileID) })
	case "photo":
		up := upload{Kind: "photo", FileID: m.FileID, Caption: m.Caption, Name: "photo.jpg", Mime: "image/jpeg"}
		d.enqueue(t, func(ctx context.Context) error { return d.runUpload(ctx, t, up) })
	case "document", "audio", "video":
		up := upload{Kind: "document", FileID: m.FileID, Caption: m.Caption, Name: m.FileName, Mime: m.MimeType}
		if up.Name == "" {
			up.Name = "file.dat"
		}
		if up.Mime == "" {
			up.Mime = "application/octet-stream"
		}
		d.enqueue(t, func(ctx context.Context) error { return d.runUpload(ctx, t, up) })
	default:
		d.logger.Debug().Str("kind", m.Kind).Msg("Unhandled media kind")
	}
	return nil
}

// HandleCallback answers inline keyboard presses: model, conversation and
// language selection.
func (d *Daemon) HandleCallback(update tgbotapi.Update) error {
	cb := update.CallbackQuery
	if cb == nil || cb.Data == "" {
		return nil
	}

	if err := d.bot.AnswerCallback(cb.ID, ""); err != nil {
		d.logger.Debug().Err(err).Msg("Failed to answer callback query")
	}
	if cb.Message == nil {
		return nil
	}

	t := turn{
		ChatID:    cb.Message.Chat.ID,
		MessageID: cb.Message.MessageID,
		UserID:    cb.From.ID,
		Username:  cb.From.UserName,
		FirstName: cb.From.FirstName,
	}

	action, value := telegram.CallbackAction(cb.Data)
	switch action {
	case "model":
		d.enqueue(t, func(ctx context.Context) error { return d.selectModel(ctx, t, value) })
	case "conv":
		d.enqueue(t, func(ctx context.Context) error { return d.selectConversation(ctx, t, value) })
	case "lang":
		d.enqueue(t, func(ctx context.Context) error { return d.selectLanguage(ctx, t, value) })
	default:
		return d.bot.SendMessage(t.ChatID, "⚠️ Buyruq tanilmadi.")
	}
	return nil
}

// selectModel persists a model picked from the inline keyboard.
func (d *Daemon) selectModel(ctx context.Context, t turn, modelID string) error {
	if err := d.updateSession(t.UserID, session.Fields{Model: session.String(modelID)}); err != nil {
		observability.RecordSettingsAudit(ctx, t.UserID, "model", "error", map[string]interface{}{"model": modelID})
		return d.bot.SendMessage(t.ChatID, "⚠️ Sozlamani saqlashda xatolik.")
	}
	observability.RecordSettingsAudit(ctx, t.UserID, "model", "ok", map[string]interface{}{"model": modelID})
	return d.bot.SendWithKeyboard(t.ChatID, fmt.Sprintf("✅ Model tanlandi: %s", modelID), telegram.MainMenu())
}

// selectConversation switches the active conversation.
func (d *Daemon) selectConversation(ctx context.Context, t turn, ref string) error {
	if err := d.updateSession(t.UserID, session.Fields{ConversationRef: session.String(ref)}); err != nil {
		return d.bot.SendMessage(t.ChatID, "⚠️ Sozlamani saqlashda xatolik.")
	}
	return d.bot.SendWithKeyboard(t.ChatID,
		fmt.Sprintf("✅ Suhbat #%s tanlandi. Davom etishingiz mumkin.", ref), telegram.MainMenu())
}

// selectLanguage persists a language picked from the inline keyboard.
func (d *Daemon) selectLanguage(ctx context.Context, t turn, code string) error {
	if err := d.updateSession(t.UserID, session.Fields{Language: session.String(code)}); err != nil {
		observability.RecordSettingsAudit(ctx, t.UserID, "language", "error", map[string]interface{}{"language": code})
		return d.bot.SendMessage(t.ChatID, "⚠️ Sozlamani saqlashda xatolik.")
	}
	observability.RecordSettingsAudit(ctx, t.UserID, "language", "ok", map[string]interface{}{"language": code})

	name := code
	for _, lang := range telegram.SupportedLanguages {
		if lang.Code == code {
			name = lang.Name
			break
		}
	}
	return d.bot.SendWithKeyboard(t.ChatID, fmt.Sprintf("✅ Til o'zgartirildi: %s", name), telegram.MainMenu())
}

// updateSession applies a partial session update, creating the record first
// so selections work even before the user ever ran /start.
func (d *Daemon) updateSession(userID int64, fields session.Fields) error {
	if _, err := d.store.GetOrCreate(userID); err != nil {
		return err
	}
	if _, err := d.store.Update(userID, fields); err != nil {
		return err
	}
	metrics.SetSessionRecords(d.store.Len())
	return nil
}

// conversationOptions converts backend conversations for the picker.
func conversationOptions(conversations []backend.Conversation) []telegram.ConversationOption {
	options := make([]telegram.ConversationOption, 0, len(conversations))
	for _, c := range conversations {
		title := c.Title
		if title == "" {
			title = c.Preview
		}
		options = append(options, telegram.ConversationOption{
			Ref:   strconv.FormatInt(c.ID, 10),
			Title: title,
		})
	}
	return options
}
