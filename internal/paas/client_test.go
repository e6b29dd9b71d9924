package paas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/notify"
)

func TestNotifierLogsThroughPaaS(t *testing.T) {
	var logins atomic.Int32
	logged := make(chan logRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			logins.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"token":      "t1",
				"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			})
		case "/api/v1/logs":
			assert.Equal(t, "Bearer t1", r.Header.Get("Authorization"))
			var req logRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			logged <- req
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	n := Notifier{Client: &Client{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client()}}
	err := n.Notify(context.Background(), notify.Message{
		Event:   notify.EventSyncError,
		Message: "opportunity 37 failed",
		Details: map[string]any{"strategy": "Opportunity", "entity_type": "opportunity", "entity_id": "37"},
	})
	require.NoError(t, err)
	req := <-logged
	require.Equal(t, "crmsync", req.Agent)
	require.Equal(t, notify.EventSyncError, req.Action)
	require.Equal(t, "Opportunity", req.Details["strategy"])
	require.Equal(t, "opportunity:37", req.SessionKey)
	require.Equal(t, LevelWarn, req.Level)
	require.EqualValues(t, 1, logins.Load())
}

func TestLevelFromStatus(t *testing.T) {
	require.Equal(t, "info", levelFromStatus(200))
	require.Equal(t, "warn", levelFromStatus(404))
	require.Equal(t, "error", levelFromStatus(503))
}

func TestLogLogsInAgainAfterUnauthorized(t *testing.T) {
	var logins, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			n := logins.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"token":      "t" + string(rune('0'+n)),
				"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			})
		case "/api/v1/logs":
			posts.Add(1)
			if r.Header.Get("Authorization") != "Bearer t2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client()}
	require.NoError(t, c.Log(context.Background(), Entry{Action: "sync_run.finished"}))
	require.EqualValues(t, 2, logins.Load())
	require.EqualValues(t, 2, posts.Load())

	var nilClient *Client
	require.NoError(t, nilClient.LogBestEffort(Entry{Action: "noop"}))
}

func TestLogSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("bad key"))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client()}
	err := c.Log(context.Background(), Entry{Action: "x"})
	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, "login", herr.Op)
	require.Equal(t, http.StatusForbidden, herr.Status)
	require.Equal(t, "bad key", herr.Body)
}
