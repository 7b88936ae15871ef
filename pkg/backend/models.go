package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Models lists the chat models available to the user.
func (c *Client) Models(ctx context.Context, userID int64) ([]Model, error) {
	var models []Model
	if err := c.doJSON(ctx, userID, http.MethodGet, "/chat/models", nil, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// Conversations lists the user's most recent conversations, newest first.
func (c *Client) Conversations(ctx context.Context, userID int64, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 10
	}

	var conversations []Conversation
	path := fmt.Sprintf("/conversations?limit=%d", limit)
	if err := c.doJSON(ctx, userID, http.MethodGet, path, nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// EnsureDefaultModel validates current against the backend's model list and
// returns the model to use plus whether it changed. Unknown models fall
// back to the first id containing "mini", else the first listed. An empty
// model list leaves current untouched.
func (c *Client) EnsureDefaultModel(ctx context.Context, userID int64, current string) (string, bool, error) {
	models, err := c.Models(ctx, userID)
	if err != nil {
		return current, false, err
	}
	if len(models) == 0 {
		return current, false, nil
	}

	for _, m := range models {
		if m.ID == current {
			return current, false, nil
		}
	}
	for _, m := range models {
		if strings.Contains(m.ID, "mini") {
			return m.ID, true, nil
		}
	}
	return models[0].ID, true, nil
}
