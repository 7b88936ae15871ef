package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMainMenu(t *testing.T) {
	menu := MainMenu()

	require.Len(t, menu.Keyboard, 4)
	for _, row := range menu.Keyboard {
		assert.Len(t, row, 2)
	}
	assert.Equal(t, BtnNewChat, menu.Keyboard[0][0].Text)
	assert.True(t, menu.ResizeKeyboard)
}

func TestMenuCommand(t *testing.T) {
	tests := []struct {
		label   string
		command string
	}{
		{BtnNewChat, "new"},
		{BtnImage, "image"},
		{BtnConversations, "conversations"},
		{BtnModels, "models"},
		{BtnLanguage, "language"},
		{BtnSettings, "settings"},
		{BtnFeedback, "feedback"},
		{BtnHelp, "help"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			cmd, ok := MenuCommand(tt.label)
			assert.True(t, ok)
			assert.Equal(t, tt.command, cmd)
		})
	}

	t.Run("unknown label", func(t *testing.T) {
		_, ok := MenuCommand("random text")
		assert.False(t, ok)
	})

	t.Run("surrounding whitespace", func(t *testing.T) {
		cmd, ok := MenuCommand("  " + BtnHelp + " ")
		assert.True(t, ok)
		assert.Equal(t, "help", cmd)
	})
}

func TestModelKeyboard(t *testing.T) {
	models := []ModelOption{
		{ID: "gpt-4o-mini", Name: "GPT-4o mini"},
		{ID: "gpt-4o", Name: "GPT-4o", Vision: true},
		{ID: "no-name"},
	}

	kb := ModelKeyboard(models, "gpt-4o-mini")
	require.Len(t, kb.InlineKeyboard, 3)

	first := kb.InlineKeyboard[0][0]
	assert.Equal(t, "GPT-4o mini ✅", first.Text)
	require.NotNil(t, first.CallbackData)
	assert.Equal(t, "model:gpt-4o-mini", *first.CallbackData)

	second := kb.InlineKeyboard[1][0]
	assert.Equal(t, "GPT-4o 👁", second.Text)
	assert.Equal(t, "model:gpt-4o", *second.CallbackData)

	// Name falls back to the id
	third := kb.InlineKeyboard[2][0]
	assert.Equal(t, "no-name", third.Text)
}

func TestConversationKeyboard(t *testing.T) {
	conversations := []ConversationOption{
		{Ref: "42", Title: "Trip planning"},
		{Ref: "43"},
		{Ref: "44", Title: strings.Repeat("a", 60)},
	}

	kb := ConversationKeyboard(conversations)
	require.Len(t, kb.InlineKeyboard, 3)

	assert.Equal(t, "Trip planning", kb.InlineKeyboard[0][0].Text)
	assert.Equal(t, "conv:42", *kb.InlineKeyboard[0][0].CallbackData)

	// Missing title gets a fallback label
	assert.Equal(t, "Suhbat 43", kb.InlineKeyboard[1][0].Text)

	// Long titles are truncated to 40 runes
	long := kb.InlineKeyboard[2][0].Text
	assert.Len(t, []rune(long), 40)
	assert.True(t, strings.HasSuffix(long, "…"))
}

func TestLanguageKeyboard(t *testing.T) {
	kb := LanguageKeyboard("uz")
	require.Len(t, kb.InlineKeyboard, len(SupportedLanguages))

	assert.Equal(t, "O'zbekcha ✅", kb.InlineKeyboard[0][0].Text)
	assert.Equal(t, "lang:uz", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "Русский", kb.InlineKeyboard[1][0].Text)
	assert.Equal(t, "lang:ru", *kb.InlineKeyboard[1][0].CallbackData)
	assert.Equal(t, "English", kb.InlineKeyboard[2][0].Text)
}

func TestCallbackAction(t *testing.T) {
	tests := []struct {
		data   string
		action string
		value  string
	}{
		{"model:gpt-4o-mini", "model", "gpt-4o-mini"},
		{"conv:42", "conv", "42"},
		{"lang:uz", "lang", "uz"},
		{"plan:premium", "", ""},
		{"", "", ""},
		{"modelgpt", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			action, value := CallbackAction(tt.data)
			assert.Equal(t, tt.action, action)
			assert.Equal(t, tt.value, value)
		})
	}
}
