package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data prefixes for the inline pickers
const (
	CallbackModel        = "model:"
	CallbackConversation = "conv:"
	CallbackLanguage     = "lang:"
)

// Main menu button labels
const (
	BtnNewChat       = "💬 Yangi chat"
	BtnImage         = "🖼️ Rasm yaratish"
	BtnConversations = "📚 Tarix"
	BtnModels        = "🤖 Modelni o'zgartirish"
	BtnLanguage      = "🌐 Til"
	BtnSettings      = "⚙️ Sozlamalar"
	BtnFeedback      = "📩 Fikr-mulohaza"
	BtnHelp          = "❓ Yordam"
)

// menuCommands maps main menu labels to the command each stands for
var menuCommands = map[string]string{
	BtnNewChat:       "new",
	BtnImage:         "image",
	BtnConversations: "conversations",
	BtnModels:        "models",
	BtnLanguage:      "language",
	BtnSettings:      "settings",
	BtnFeedback:      "feedback",
	BtnHelp:          "help",
}

// ModelOption is one entry of the model picker
type ModelOption struct {
	ID     string
	Name   string
	Vision bool
}

// ConversationOption is one entry of the conversation picker
type ConversationOption struct {
	Ref   string
	Title string
}

// LanguageOption is one entry of the language picker
type LanguageOption struct {
	Code string
	Name string
}

// SupportedLanguages lists the locales offered by the language picker
var SupportedLanguages = []LanguageOption{
	{Code: "uz", Name: "O'zbekcha"},
	{Code: "ru", Name: "Русский"},
	{Code: "en", Name: "English"},
}

// MainMenu builds the persistent reply keyboard
func MainMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnNewChat),
			tgbotapi.NewKeyboardButton(BtnImage),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnConversations),
			tgbotapi.NewKeyboardButton(BtnModels),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnLanguage),
			tgbotapi.NewKeyboardButton(BtnSettings),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnFeedback),
			tgbotapi.NewKeyboardButton(BtnHelp),
		),
	)
}

// MenuCommand maps a main menu button label to its command name
func MenuCommand(text string) (string, bool) {
	cmd, ok := menuCommands[strings.TrimSpace(text)]
	return cmd, ok
}

// ModelKeyboard builds the model picker, marking vision models and the
// currently selected one
func ModelKeyboard(models []ModelOption, current string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(models))
	for _, m := range models {
		label := m.Name
		if label == "" {
			label = m.ID
		}
		if m.Vision {
			label += " 👁"
		}
		if m.ID == current {
			label += " ✅"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, CallbackModel+m.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ConversationKeyboard builds the conversation picker
func ConversationKeyboard(conversations []ConversationOption) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(conversations))
	for _, c := range conversations {
		title := c.Title
		if title == "" {
			title = "Suhbat " + c.Ref
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(truncateLabel(title, 40), CallbackConversation+c.Ref),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// LanguageKeyboard builds the language picker, marking the current locale
func LanguageKeyboard(current string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(SupportedLanguages))
	for _, l := range SupportedLanguages {
		label := l.Name
		if l.Code == current {
			label += " ✅"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, CallbackLanguage+l.Code),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// CallbackAction splits callback data into its action and value. Unknown
// prefixes return an empty action.
func CallbackAction(data string) (string, string) {
	switch {
	case strings.HasPrefix(data, CallbackModel):
		return "model", strings.TrimPrefix(data, CallbackModel)
	case strings.HasPrefix(data, CallbackConversation):
		return "conv", strings.TrimPrefix(data, CallbackConversation)
	case strings.HasPrefix(data, CallbackLanguage):
		return "lang", strings.TrimPrefix(data, CallbackLanguage)
	}
	return "", ""
}

// truncateLabel caps a button label at limit runes
func truncateLabel(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
