package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

const EventSyncError = "sync_error.created"

// Message tells the owner of a synced entity that something needs attention.
type Message struct {
	Event   string         `json:"event"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	At      time.Time      `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

type Nop struct{}

func (Nop) Notify(ctx context.Context, msg Message) error { return nil }

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type WebhookNotifier struct {
	URL  string
	HTTP *http.Client
}

func (s WebhookNotifier) Notify(ctx context.Context, msg Message) error {
	url := strings.TrimSpace(s.URL)
	if url == "" {
		return nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpError{StatusCode: resp.StatusCode}
	}
	return nil
}

type httpError struct {
	StatusCode int
}

func (e *httpError) Error() string {
	return "notify webhook http status " + http.StatusText(e.StatusCode)
}
