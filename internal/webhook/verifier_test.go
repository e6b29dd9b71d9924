package webhook

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crmsync/internal/models"
)

const body = `{"event":"account.updated","entity":{"id":"a1"},"event_time":"2026-03-01T10:00:00Z"}`

func TestVerifyAcceptsBothHeaderForms(t *testing.T) {
	sig := Sign("current", []byte(body))
	for _, header := range []string{sig, "sha256=" + sig} {
		ev, err := Verify([]string{"current"}, []byte(body), header)
		require.NoError(t, err)
		require.Equal(t, "account.updated", ev.Name)
		require.NotNil(t, ev.Time)
	}
}

func TestVerifyRejects(t *testing.T) {
	sig := Sign("current", []byte(body))
	cases := map[string]string{
		"wrong secret": Sign("other", []byte(body)),
		"tampered":     Sign("current", []byte(body+" ")),
		"empty":        "",
		"not hex":      "sha256=zz",
		"wrong scheme": "md5=" + sig,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Verify([]string{"current"}, []byte(body), header)
			require.True(t, errors.Is(err, ErrRejected))
		})
	}
}

func TestVerifyInvalidPayload(t *testing.T) {
	raw := []byte(`{"entity":{"id":"a1"}}`)
	_, err := Verify([]string{"s"}, raw, Sign("s", raw))
	require.ErrorIs(t, err, ErrInvalidPayload)

	raw = []byte(`{"event":"account.updated"}`)
	_, err = Verify([]string{"s"}, raw, Sign("s", raw))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSecretsHonourRotationGrace(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	prev := "old"
	expires := now.Add(time.Hour)
	sub := &models.WebhookSubscription{SigningSecret: "new", PreviousSecret: &prev, PreviousSecretExpiresAt: &expires}

	require.Equal(t, []string{"new", "old"}, Secrets(sub, now))
	require.Equal(t, []string{"new"}, Secrets(sub, expires.Add(time.Second)))

	_, err := Verify(Secrets(sub, now), []byte(body), Sign("old", []byte(body)))
	require.NoError(t, err)
	_, err = Verify(Secrets(sub, expires.Add(time.Second)), []byte(body), Sign("old", []byte(body)))
	require.ErrorIs(t, err, ErrRejected)
}

func TestDedupeKey(t *testing.T) {
	ev, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "delivery-1", DedupeKey("delivery-1", ev))

	spaced, err := Parse([]byte(`{"event":"account.updated","entity":{ "id": "a1" },"event_time":"2026-03-01T10:00:00Z"}`))
	require.NoError(t, err)
	require.Equal(t, DedupeKey("", ev), DedupeKey("", spaced))

	other, err := Parse([]byte(`{"event":"account.updated","entity":{"id":"a2"},"event_time":"2026-03-01T10:00:00Z"}`))
	require.NoError(t, err)
	require.NotEqual(t, DedupeKey("", ev), DedupeKey("", other))
}
