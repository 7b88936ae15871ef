package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/salomai/salombot/internal/metrics"
	"github.com/salomai/salombot/pkg/session"
)

// streamEvent is one SSE payload from /chat/stream.
type streamEvent struct {
	Type           string      `json:"type"`
	Content        string      `json:"content"`
	ConversationID json.Number `json:"conversation_id"`
	Message        string      `json:"message"`
	LimitExceeded  bool        `json:"limit_exceeded"`
}

// Send runs one chat turn and blocks until the full reply is assembled.
// The request carries the model, conversation and language of the session
// record; the store itself is never touched here, callers persist the
// renewed ConversationRef only after success.
func (c *Client) Send(ctx context.Context, sess session.Record, message string) (*Reply, error) {
	return c.StreamChat(ctx, sess, message, nil, nil)
}

// StreamChat runs one chat turn over Server-Sent Events. Each text delta is
// handed to onDelta as it arrives (nil is allowed); the aggregate reply is
// returned once the stream ends. attachments carries file references from
// earlier uploads into this turn.
func (c *Client) StreamChat(ctx context.Context, sess session.Record, message string, attachments []string, onDelta func(delta string)) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	endpoint := "/chat/stream"
	start := time.Now()
	reply, err := c.streamChat(ctx, sess, message, attachments, onDelta)
	recordRequest(endpoint, start, err)
	return reply, err
}

func (c *Client) streamChat(ctx context.Context, sess session.Record, message string, attachments []string, onDelta func(string)) (*Reply, error) {
	url := c.buildURL("/chat/stream")

	payload := map[string]interface{}{
		"text":     message,
		"model":    sess.Model,
		"language": sess.Language,
	}
	if sess.ConversationRef != "" {
		payload["conversation_id"] = conversationID(sess.ConversationRef)
	}
	if len(attachments) > 0 {
		payload["attachments"] = attachments
	}

	body, err := jsonBody(payload)
	if err != nil {
		return nil, err
	}

	attempt := func(token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return c.streamClient.Do(req)
	}

	resp, err := attempt(c.accessToken(sess.UserID))
	if err != nil {
		return nil, classify(url, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		staleBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if rerr := c.Refresh(ctx, sess.UserID); rerr != nil {
			return nil, &BackendError{Status: http.StatusUnauthorized, Body: string(staleBody)}
		}

		resp, err = attempt(c.accessToken(sess.UserID))
		if err != nil {
			return nil, classify(url, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &BackendError{Status: resp.StatusCode, Body: string(data)}
	}

	return consumeStream(url, resp.Body, sess.ConversationRef, onDelta)
}

// consumeStream reads SSE lines until EOF and folds them into a Reply. An
// error event wins over any partial text.
func consumeStream(url string, body io.Reader, currentRef string, onDelta func(string)) (*Reply, error) {
	var text strings.Builder
	convRef := currentRef
	var streamErr *StreamError

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var evt streamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			log.Debug().Str("event", data).Msg("Skipping malformed stream event")
			continue
		}

		switch evt.Type {
		case "chunk":
			if evt.Content == "" {
				continue
			}
			text.WriteString(evt.Content)
			metrics.RecordStreamChunk()
			if onDelta != nil {
				onDelta(evt.Content)
			}
		case "done":
			if ref := evt.ConversationID.String(); ref != "" {
				convRef = ref
			}
		case "error":
			streamErr = &StreamError{Message: evt.Message, LimitExceeded: evt.LimitExceeded}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, classify(url, err)
	}
	if streamErr != nil {
		return nil, streamErr
	}

	return &Reply{Text: text.String(), ConversationRef: convRef}, nil
}

// conversationID renders a stored ref in the backend's native type:
// numeric refs go back as numbers.
func conversationID(ref string) interface{} {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id
	}
	return ref
}
