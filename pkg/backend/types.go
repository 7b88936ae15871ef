package backend

// TelegramUser identifies the Telegram account being authenticated.
type TelegramUser struct {
	ID        int64  `json:"telegram_id"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Credentials is the token pair issued by the backend.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Model describes one chat model offered by the backend.
type Model struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Vision bool   `json:"vision"`
}

// Conversation is one saved conversation as listed by the backend.
type Conversation struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Preview string `json:"preview"`
}

// Reply is the outcome of one chat turn.
type Reply struct {
	// Text is the full assistant answer.
	Text string

	// ConversationRef identifies the conversation the turn belongs to,
	// possibly renewed by the backend. Callers persist it only after the
	// turn succeeded.
	ConversationRef string
}

// Settings is the per-user backend configuration surface.
type Settings struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
	Model        string `json:"model,omitempty"`
}
