package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crmsync/internal/models"
)

var (
	ErrRejected       = errors.New("webhook signature rejected")
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

const (
	SignatureHeader = "X-Signature"
	DeliveryHeader  = "X-Delivery-Id"
)

// Event is the body the CRM posts for every subscribed change.
type Event struct {
	Name   string          `json:"event"`
	Entity json.RawMessage `json:"entity"`
	Time   *time.Time      `json:"event_time"`
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Secrets lists the secrets a delivery may be signed with at now: the current
// one, plus the previous one until its grace period ends.
func Secrets(sub *models.WebhookSubscription, now time.Time) []string {
	if sub == nil {
		return nil
	}
	out := []string{sub.SigningSecret}
	if sub.PreviousSecret != nil && *sub.PreviousSecret != "" &&
		sub.PreviousSecretExpiresAt != nil && now.Before(*sub.PreviousSecretExpiresAt) {
		out = append(out, *sub.PreviousSecret)
	}
	return out
}

// Verify checks the signature header against every candidate secret in
// constant time and then decodes the event.
func Verify(secrets []string, body []byte, header string) (Event, error) {
	got, err := decodeSignature(header)
	if err != nil {
		return Event{}, ErrRejected
	}
	matched := false
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		if hmac.Equal(mac.Sum(nil), got) {
			matched = true
		}
	}
	if !matched {
		return Event{}, ErrRejected
	}
	return Parse(body)
}

func decodeSignature(header string) ([]byte, error) {
	sig := strings.TrimSpace(header)
	if i := strings.Index(sig, "="); i >= 0 {
		if !strings.EqualFold(sig[:i], "sha256") {
			return nil, fmt.Errorf("unsupported signature scheme %q", sig[:i])
		}
		sig = sig[i+1:]
	}
	if sig == "" {
		return nil, errors.New("empty signature")
	}
	return hex.DecodeString(strings.ToLower(sig))
}

func Parse(body []byte) (Event, error) {
	var ev Event
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ev.Name = strings.TrimSpace(ev.Name)
	if ev.Name == "" {
		return Event{}, fmt.Errorf("%w: event is required", ErrInvalidPayload)
	}
	if ev.Time == nil {
		return Event{}, fmt.Errorf("%w: event_time is required", ErrInvalidPayload)
	}
	return ev, nil
}

// DedupeKey prefers the delivery id header; redeliveries without one are
// matched on the event content.
func DedupeKey(deliveryID string, ev Event) string {
	if id := strings.TrimSpace(deliveryID); id != "" {
		if len(id) > 128 {
			sum := sha256.Sum256([]byte(id))
			return "d:" + hex.EncodeToString(sum[:])
		}
		return id
	}
	ts := ""
	if ev.Time != nil {
		ts = ev.Time.UTC().Format(time.RFC3339Nano)
	}
	sum := sha256.Sum256([]byte(ev.Name + "|" + ts + "|" + string(compact(ev.Entity))))
	return "h:" + hex.EncodeToString(sum[:])
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
