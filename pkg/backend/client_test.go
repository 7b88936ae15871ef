package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return New(Options{
		BaseURL:       url,
		Timeout:       2 * time.Second,
		StreamTimeout: 2 * time.Second,
	})
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New(Options{BaseURL: "http://localhost:8000/"})
	assert.Equal(t, "http://localhost:8000", c.BaseURL())
	assert.Equal(t, "http://localhost:8000/chat/stream", c.buildURL("/chat/stream"))
	assert.Equal(t, "http://localhost:8000/chat/stream", c.buildURL("chat/stream"))
}

func TestClient_AuthTelegram(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/telegram", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	creds, err := c.AuthTelegram(context.Background(), TelegramUser{ID: 42, FirstName: "Ali", Username: "ali42"})
	require.NoError(t, err)

	assert.Equal(t, "access-1", creds.AccessToken)
	assert.Equal(t, "refresh-1", creds.RefreshToken)
	assert.Equal(t, float64(42), captured["telegram_id"])
	assert.Equal(t, "Ali", captured["first_name"])
	assert.Equal(t, "ali42", captured["username"])

	assert.True(t, c.Authenticated(42))
	cached, ok := c.credentials(42)
	require.True(t, ok)
	assert.Equal(t, creds, cached)
}

func TestClient_AuthTelegramFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.AuthTelegram(context.Background(), TelegramUser{ID: 42})

	var berr *BackendError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, http.StatusBadGateway, berr.Status)
	assert.False(t, c.Authenticated(42))
}

func TestClient_RefreshOn401(t *testing.T) {
	var mu sync.Mutex
	modelCalls := 0
	refreshCalls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/chat/models", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		modelCalls++
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"token expired"}`))
			return
		}
		json.NewEncoder(w).Encode([]Model{{ID: "gpt-4o-mini", Name: "GPT-4o mini"}})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		refreshCalls++
		mu.Unlock()
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-1", body["refresh_token"])
		json.NewEncoder(w).Encode(Credentials{AccessToken: "fresh-token", RefreshToken: "refresh-2"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(server.URL)
	c.setCredentials(42, Credentials{AccessToken: "stale-token", RefreshToken: "refresh-1"})

	models, err := c.Models(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "gpt-4o-mini", models[0].ID)

	// Exactly one refresh and one replay.
	assert.Equal(t, 2, modelCalls)
	assert.Equal(t, 1, refreshCalls)

	cached, _ := c.credentials(42)
	assert.Equal(t, "fresh-token", cached.AccessToken)
	assert.Equal(t, "refresh-2", cached.RefreshToken)
}

func TestClient_RefreshFailureSurfaces401(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/models", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"token expired"}`))
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(server.URL)
	c.setCredentials(42, Credentials{AccessToken: "stale-token", RefreshToken: "refresh-1"})

	_, err := c.Models(context.Background(), 42)

	var berr *BackendError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, http.StatusUnauthorized, berr.Status)

	// The stale access token was dropped so the next call re-authenticates.
	cached, _ := c.credentials(42)
	assert.Empty(t, cached.AccessToken)
	assert.Equal(t, "refresh-1", cached.RefreshToken)
}

func TestClient_RefreshWithoutToken(t *testing.T) {
	c := newTestClient("http://localhost:8000")
	err := c.Refresh(context.Background(), 42)
	assert.Error(t, err)
}

func TestClient_ClearCredentials(t *testing.T) {
	c := newTestClient("http://localhost:8000")
	c.setCredentials(42, Credentials{AccessToken: "a", RefreshToken: "r"})
	require.True(t, c.Authenticated(42))

	c.ClearCredentials(42)
	assert.False(t, c.Authenticated(42))
}

func TestClient_Conversations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversations", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]Conversation{
			{ID: 11, Title: "Trip planning"},
			{ID: 9, Preview: "salom..."},
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	c.setCredentials(42, Credentials{AccessToken: "tok"})

	conversations, err := c.Conversations(context.Background(), 42, 7)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, int64(11), conversations[0].ID)
	assert.Equal(t, "Trip planning", conversations[0].Title)
}

func TestClient_ConversationsDefaultLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode([]Conversation{})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.Conversations(context.Background(), 42, 0)
	require.NoError(t, err)
}

func TestClient_EnsureDefaultModel(t *testing.T) {
	models := []Model{
		{ID: "gpt-4o", Name: "GPT-4o"},
		{ID: "o3-mini", Name: "o3 mini"},
		{ID: "claude-sonnet", Name: "Sonnet"},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models)
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	tests := []struct {
		name        string
		current     string
		want        string
		wantChanged bool
	}{
		{"current allowed", "gpt-4o", "gpt-4o", false},
		{"unknown prefers mini", "retired-model", "o3-mini", true},
		{"empty prefers mini", "", "o3-mini", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := c.EnsureDefaultModel(context.Background(), 42, tt.current)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}

func TestClient_EnsureDefaultModelNoMini(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Model{{ID: "gpt-4o"}, {ID: "claude-sonnet"}})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	got, changed, err := c.EnsureDefaultModel(context.Background(), 42, "retired-model")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got)
	assert.True(t, changed)
}

func TestClient_EnsureDefaultModelEmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Model{})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	got, changed, err := c.EnsureDefaultModel(context.Background(), 42, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", got)
	assert.False(t, changed)
}

func TestClient_EnsureDefaultModelError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	got, changed, err := c.EnsureDefaultModel(context.Background(), 42, "gpt-4o-mini")
	assert.Error(t, err)
	assert.Equal(t, "gpt-4o-mini", got)
	assert.False(t, changed)
}

func TestBackendError_Detail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string detail", `{"detail":"quota exhausted"}`, "quota exhausted"},
		{"structured detail", `{"detail":{"code":"LIMIT_EXCEEDED","message":"limitga yetdingiz"}}`, "limitga yetdingiz"},
		{"plain body", "internal error", "internal error"},
		{"empty detail", `{"detail":{}}`, `{"detail":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &BackendError{Status: 400, Body: tt.body}
			assert.Equal(t, tt.want, err.Detail())
		})
	}
}

func TestBackendError_LimitExceeded(t *testing.T) {
	limited := &BackendError{Status: 403, Body: `{"detail":{"code":"LIMIT_EXCEEDED","message":"limitga yetdingiz"}}`}
	assert.True(t, limited.LimitExceeded())

	plain := &BackendError{Status: 500, Body: "boom"}
	assert.False(t, plain.LimitExceeded())

	other := &BackendError{Status: 403, Body: `{"detail":{"code":"FORBIDDEN"}}`}
	assert.False(t, other.LimitExceeded())
}
