package paas

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
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Client ships sync audit entries to the PaaS log API. It logs in with the
// API key on first use and again when the session token runs out.
type Client struct {
	BaseURL string
	APIKey  string
	Agent   string
	HTTP    *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Entry is one audit line. Entries about the same synced entity share a
// session so the PaaS console groups them.
type Entry struct {
	Action     string
	Level      string
	EntityType string
	EntityID   string
	Details    map[string]any
}

func (e Entry) sessionKey() string {
	if e.EntityType == "" || e.EntityID == "" {
		return ""
	}
	return e.EntityType + ":" + e.EntityID
}

type logRequest struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Level      string         `json:"level"`
	Details    map[string]any `json:"details"`
	SessionKey string         `json:"session_key,omitempty"`
	Metadata   map[string]any `json:"metadata"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// HTTPError is a non-2xx answer from the PaaS API.
type HTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("paas %s: http %d: %s", e.Op, e.Status, e.Body)
}

func (c *Client) Log(ctx context.Context, e Entry) error {
	if c == nil {
		return nil
	}
	level := e.Level
	if level == "" {
		level = LevelInfo
	}
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	meta := map[string]any{}
	if e.EntityType != "" {
		meta["entity_type"] = e.EntityType
	}
	req := logRequest{
		Agent:      c.agent(),
		Action:     e.Action,
		Level:      level,
		Details:    details,
		SessionKey: e.sessionKey(),
		Metadata:   meta,
	}
	err := c.postLog(ctx, req)
	var herr *HTTPError
	if errors.As(err, &herr) && herr.Status == http.StatusUnauthorized {
		c.dropToken()
		err = c.postLog(ctx, req)
	}
	return err
}

// LogBestEffort writes an entry under its own short timeout so a slow PaaS
// never holds up the caller.
func (c *Client) LogBestEffort(e Entry) error {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Log(ctx, e)
}

func (c *Client) postLog(ctx context.Context, req logRequest) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	_, err := c.post(ctx, "create log", "/api/v1/logs", req, c.currentToken())
	return err
}

// Login exchanges the API key for a session token.
func (c *Client) Login(ctx context.Context) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("paas api key is empty")
	}
	b, err := c.post(ctx, "login", "/api/v1/auth/login", map[string]string{"api_key": strings.TrimSpace(c.APIKey)}, "")
	if err != nil {
		return err
	}
	var lr loginResponse
	if err := json.Unmarshal(b, &lr); err != nil {
		return err
	}
	exp, _ := time.Parse(time.RFC3339, strings.TrimSpace(lr.ExpiresAt))

	c.mu.Lock()
	c.token = strings.TrimSpace(lr.Token)
	c.expiresAt = exp
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.RLock()
	tok, exp := c.token, c.expiresAt
	c.mu.RUnlock()
	if tok == "" || (!exp.IsZero() && time.Until(exp) < 2*time.Minute) {
		return c.Login(ctx)
	}
	return nil
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) post(ctx context.Context, op, path string, body any, token string) ([]byte, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return nil, errors.New("paas base url is empty")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return b, nil
}

func (c *Client) agent() string {
	if a := strings.TrimSpace(c.Agent); a != "" {
		return a
	}
	return "crmsync"
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}
