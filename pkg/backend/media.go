package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// GenerateImage asks the backend to render prompt and returns the image URL.
func (c *Client) GenerateImage(ctx context.Context, userID int64, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyMessage
	}

	var out struct {
		URL string `json:"url"`
	}
	err := c.doJSON(ctx, userID, http.MethodPost, "/images/generate", map[string]interface{}{
		"prompt": prompt,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("image response carried no url")
	}
	return out.URL, nil
}

// UpdateSettings pushes per-user settings to the backend.
func (c *Client) UpdateSettings(ctx context.Context, userID int64, settings Settings) error {
	return c.doJSON(ctx, userID, http.MethodPut, "/settings", settings, nil)
}

// SendFeedback forwards user feedback.
func (c *Client) SendFeedback(ctx context.Context, userID int64, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	return c.doJSON(ctx, userID, http.MethodPost, "/feedback", map[string]interface{}{
		"content":  content,
		"platform": "telegram",
	}, nil)
}

// UploadFile stores a file with the backend and returns the reference URL
// to attach to a later chat turn.
func (c *Client) UploadFile(ctx context.Context, userID int64, name, mime string, data []byte) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.doMultipart(ctx, userID, "/files/upload", name, mime, data, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload response carried no url")
	}
	return out.URL, nil
}

// Transcribe converts a voice note to text.
func (c *Client) Transcribe(ctx context.Context, userID int64, name string, data []byte) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := c.doMultipart(ctx, userID, "/stt", name, "audio/ogg", data, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// Synthesize renders text to speech and returns the raw audio bytes.
func (c *Client) Synthesize(ctx context.Context, userID int64, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	endpoint := "/tts"
	start := time.Now()
	data, err := c.runSynthesize(ctx, userID, text)
	recordRequest(endpoint, start, err)
	return data, err
}

func (c *Client) runSynthesize(ctx context.Context, userID int64, text string) ([]byte, error) {
	payload, err := jsonBody(map[string]interface{}{"text": text})
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, userID, http.MethodPost, "/tts", payload, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return nil, &BackendError{Status: resp.StatusCode, Body: string(data)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(c.buildURL("/tts"), err)
	}
	return data, nil
}

// doMultipart posts data as a single multipart "file" part and decodes the
// JSON response into out.
func (c *Client) doMultipart(ctx context.Context, userID int64, path, name, mime string, data []byte, out interface{}) error {
	endpoint := metricEndpoint(path)
	start := time.Now()
	err := c.runMultipart(ctx, userID, path, name, mime, data, out)
	recordRequest(endpoint, start, err)
	return err
}

func (c *Client) runMultipart(ctx context.Context, userID int64, path, name, mime string, data []byte, out interface{}) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	header.Set("Content-Type", mime)

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	resp, err := c.doRequest(ctx, userID, http.MethodPost, path, buf.Bytes(), writer.FormDataContentType())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
