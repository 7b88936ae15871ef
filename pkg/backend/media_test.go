package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GenerateImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/images/generate", r.URL.Path)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "a house in the mountains", payload["prompt"])
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.salom.ai/img/1.png"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	url, err := c.GenerateImage(context.Background(), 42, "a house in the mountains")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.salom.ai/img/1.png", url)
}

func TestClient_GenerateImageMissingURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GenerateImage(context.Background(), 42, "anything")
	assert.Error(t, err)
}

func TestClient_GenerateImageEmptyPrompt(t *testing.T) {
	c := newTestClient("http://localhost:8000")
	_, err := c.GenerateImage(context.Background(), 42, " ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestClient_GenerateImageLimitExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":{"code":"LIMIT_EXCEEDED","message":"limitga yetdingiz"}}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GenerateImage(context.Background(), 42, "anything")

	var berr *BackendError
	require.True(t, errors.As(err, &berr))
	assert.True(t, berr.LimitExceeded())
	assert.Equal(t, "limitga yetdingiz", berr.Detail())
}

func TestClient_UpdateSettings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/settings", r.URL.Path)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "answer briefly", payload["system_prompt"])
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	err := c.UpdateSettings(context.Background(), 42, Settings{SystemPrompt: "answer briefly"})
	require.NoError(t, err)
}

func TestClient_SendFeedback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/feedback", r.URL.Path)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "great bot", payload["content"])
		assert.Equal(t, "telegram", payload["platform"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	require.NoError(t, c.SendFeedback(context.Background(), 42, "great bot"))

	err := c.SendFeedback(context.Background(), 42, "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestClient_UploadFile(t *testing.T) {
	content := []byte("fake jpeg bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "photo.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		got, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, content, got)

		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.salom.ai/files/9"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	c.setCredentials(42, Credentials{AccessToken: "tok"})

	url, err := c.UploadFile(context.Background(), 42, "photo.jpg", "image/jpeg", content)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.salom.ai/files/9", url)
}

func TestClient_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stt", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "voice.ogg", header.Filename)
		assert.Equal(t, "audio/ogg", header.Header.Get("Content-Type"))

		json.NewEncoder(w).Encode(map[string]string{"text": "salom dunyo"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	text, err := c.Transcribe(context.Background(), 42, "voice.ogg", []byte("ogg data"))
	require.NoError(t, err)
	assert.Equal(t, "salom dunyo", text)
}

func TestClient_Synthesize(t *testing.T) {
	audio := []byte{0x4f, 0x67, 0x67, 0x53}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tts", r.URL.Path)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "salom", payload["text"])
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(audio)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	got, err := c.Synthesize(context.Background(), 42, "salom")
	require.NoError(t, err)
	assert.Equal(t, audio, got)

	_, err = c.Synthesize(context.Background(), 42, "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestClient_SynthesizeBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("tts pool exhausted"))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.Synthesize(context.Background(), 42, "salom")

	var berr *BackendError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, http.StatusServiceUnavailable, berr.Status)
	assert.Equal(t, "tts pool exhausted", berr.Body)
}
