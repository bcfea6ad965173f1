package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "http://127.0.0.1:8080/api"
	DefaultTimeout = 60 * time.Second

	// RequestIDHeader carries a per-request id for log correlation.
	RequestIDHeader = "X-Request-Id"

	successCode = 200
)

// ErrUnauthorized matches any 401 response on an authenticated request.
var ErrUnauthorized = errors.New("session expired, please log in again")

// TokenStore is the persistent client storage holding the bearer token.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	ClearToken(ctx context.Context) error
}

// Client talks to the kanban REST API. It unwraps {code,message,data}
// envelopes and invalidates the session on 401.
type Client struct {
	BaseURL    string
	Tokens     TokenStore
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *log.Logger

	// OnUnauthorized runs after the token was cleared because of a 401.
	OnUnauthorized func()

	once sync.Once
	hc   *http.Client
}

// New creates a client with the default timeout.
func New(baseURL string, tokens TokenStore) *Client {
	return &Client{
		BaseURL: baseURL,
		Tokens:  tokens,
		Timeout: DefaultTimeout,
	}
}

// APIError wraps non-2xx responses and envelopes with a non-success code.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("api error: status=%d %s", e.StatusCode, msg)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// StatusCode extracts the HTTP status from an APIError, or 0.
func StatusCode(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

type envelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// MemoryTokens is an in-process TokenStore.
type MemoryTokens struct {
	mu    sync.Mutex
	token string
}

func NewMemoryTokens(token string) *MemoryTokens { return &MemoryTokens{token: token} }

func (m *MemoryTokens) Token(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryTokens) SetToken(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

func (m *MemoryTokens) ClearToken(context.Context) error {
	m.SetToken("")
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	return c.send(ctx, method, endpoint, body, out, false)
}

// send performs one request. Public requests skip session invalidation so a
// failed login reports its own message.
func (c *Client) send(ctx context.Context, method, endpoint string, body any, out any, public bool) error {
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, reqID)
	if c.Tokens != nil {
		token, err := c.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		c.logger().WithFields(log.Fields{"method": method, "path": endpoint, "request_id": reqID}).WithError(err).Debug("request failed")
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger().WithFields(log.Fields{
		"method":      method,
		"path":        endpoint,
		"status":      resp.StatusCode,
		"request_id":  reqID,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("api request")

	if resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, data)
		if resp.StatusCode == http.StatusUnauthorized && !public {
			c.invalidate(ctx)
		}
		return apiErr
	}
	return decode(resp.StatusCode, data, out)
}

func (c *Client) invalidate(ctx context.Context) {
	if c.Tokens != nil {
		if err := c.Tokens.ClearToken(context.WithoutCancel(ctx)); err != nil {
			c.logger().WithError(err).Warn("clear token after 401")
		}
	}
	c.logger().Info("session invalidated by server")
	if c.OnUnauthorized != nil {
		c.OnUnauthorized()
	}
}

func newAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(data)}
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil {
		apiErr.Message = env.Message
		if env.Code != nil {
			apiErr.Code = *env.Code
		}
	}
	return apiErr
}

// decode unwraps a success envelope into out. Bodies that carry no envelope
// are decoded as they are.
func decode(status int, data []byte, out any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Code != nil {
		if *env.Code != successCode {
			return &APIError{StatusCode: status, Code: *env.Code, Message: env.Message, Body: string(data)}
		}
		if out == nil {
			return nil
		}
		if len(env.Data) > 0 && string(env.Data) != "null" {
			return json.Unmarshal(env.Data, out)
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) httpClient() *http.Client {
	c.once.Do(func() {
		if c.HTTPClient != nil {
			c.hc = c.HTTPClient
			return
		}
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.hc = &http.Client{Timeout: timeout}
	})
	return c.hc
}

func (c *Client) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.StandardLogger()
}

func (c *Client) base() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}
