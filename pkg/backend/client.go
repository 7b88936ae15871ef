package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/salomai/salombot/internal/metrics"
)

const (
	// DefaultTimeout bounds every plain request.
	DefaultTimeout = 30 * time.Second

	// DefaultStreamTimeout bounds a whole chat stream, which legitimately
	// outlives a plain request.
	DefaultStreamTimeout = 60 * time.Second
)

// Options configures a Client.
type Options struct {
	// BaseURL is the backend root; a trailing slash is stripped.
	BaseURL string

	// Timeout bounds plain requests. Zero means DefaultTimeout.
	Timeout time.Duration

	// StreamTimeout bounds chat streams. Zero means DefaultStreamTimeout.
	StreamTimeout time.Duration
}

// Client talks to the Salom backend. It is safe for concurrent use and
// holds no per-conversation state; the only mutable state is the in-memory
// credential cache.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client

	mu    sync.Mutex
	creds map[int64]Credentials
}

// New creates a Client.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	streamTimeout := opts.StreamTimeout
	if streamTimeout <= 0 {
		streamTimeout = DefaultStreamTimeout
	}

	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{Timeout: streamTimeout},
		creds:        make(map[int64]Credentials),
	}
}

// BaseURL returns the normalized backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// buildURL joins a path onto the backend root.
func (c *Client) buildURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Authenticated reports whether the cache holds a token pair for userID.
func (c *Client) Authenticated(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.creds[userID]
	return ok
}

// ClearCredentials drops the cached token pair for userID.
func (c *Client) ClearCredentials(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.creds, userID)
}

func (c *Client) credentials(userID int64) (Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	creds, ok := c.creds[userID]
	return creds, ok
}

func (c *Client) setCredentials(userID int64, creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds[userID] = creds
}

func (c *Client) accessToken(userID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds[userID].AccessToken
}

// doRequest performs one request with the cached token for userID, applying
// the 401 refresh-and-replay step. payload may be nil for bodyless methods.
// The caller owns the returned response body.
func (c *Client) doRequest(ctx context.Context, userID int64, method, path string, payload []byte, contentType string) (*http.Response, error) {
	url := c.buildURL(path)

	attempt := func(token string) (*http.Response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", contentType)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return c.httpClient.Do(req)
	}

	resp, err := attempt(c.accessToken(userID))
	if err != nil {
		return nil, classify(url, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		staleBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if err := c.Refresh(ctx, userID); err != nil {
			return nil, &BackendError{Status: http.StatusUnauthorized, Body: string(staleBody)}
		}

		resp, err = attempt(c.accessToken(userID))
		if err != nil {
			return nil, classify(url, err)
		}
	}

	return resp, nil
}

// doJSON runs a JSON request against path and decodes the response into out
// when out is non-nil. It records the request metrics for the endpoint.
func (c *Client) doJSON(ctx context.Context, userID int64, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		data, err := jsonBody(body)
		if err != nil {
			return err
		}
		payload = data
	}

	endpoint := metricEndpoint(path)
	start := time.Now()
	err := c.runJSON(ctx, userID, method, path, payload, out)
	recordRequest(endpoint, start, err)
	return err
}

func (c *Client) runJSON(ctx context.Context, userID int64, method, path string, payload []byte, out interface{}) error {
	resp, err := c.doRequest(ctx, userID, method, path, payload, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// postPlain issues one POST without auth header and without the 401 replay.
func (c *Client) postPlain(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	url := c.buildURL(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(url, err)
	}
	return resp, nil
}

func jsonBody(body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return data, nil
}

// decodeResponse enforces a 2xx status and decodes the JSON body into out
// when out is non-nil.
func decodeResponse(resp *http.Response, out interface{}) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return &BackendError{Status: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// metricEndpoint strips the query string so the metric label set stays
// bounded.
func metricEndpoint(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// recordRequest feeds the per-endpoint request metrics.
func recordRequest(endpoint string, start time.Time, err error) {
	metrics.RecordBackendRequest(endpoint, outcomeOf(err), time.Since(start))
}
