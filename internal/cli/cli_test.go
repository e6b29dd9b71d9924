package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"crmsync/internal/auth"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

func newServer(t *testing.T, status int, payload string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &rec.body)
		}
		calls = append(calls, rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRoot(&RootOptions{HTTP: srv.Client()})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--token", "tok"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"sync", "run"}, {"sync", "push"}, {"sync", "status"}, {"sync", "runs"}, {"sync", "positions"},
		{"errors", "list"}, {"errors", "archive"}, {"errors", "restore-all"},
		{"webhooks", "register"}, {"webhooks", "rotate"}, {"token"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
	format := cmd.PersistentFlags().Lookup("output")
	require.NotNil(t, format)
	assert.Equal(t, "json", format.DefValue)
}

func TestSyncRunSendsStrategies(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"code":0,"message":"ok","data":{"run_id":"r1","already_running":false}}`)
	out, err := run(t, srv, "sync", "run", "-s", "account", "-s", "opportunity")
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	got := (*calls)[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/sync", got.path)
	assert.Equal(t, "Bearer tok", got.auth)
	assert.Equal(t, []any{"account", "opportunity"}, got.body["strategies"])
	assert.Contains(t, out, `"run_id": "r1"`)
}

func TestErrorsArchiveRoutesByArity(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"code":0,"message":"ok","data":{"affected":2}}`)
	_, err := run(t, srv, "errors", "archive", "7")
	require.NoError(t, err)
	_, err = run(t, srv, "errors", "archive", "7", "8")
	require.NoError(t, err)
	_, err = run(t, srv, "errors", "archive", "x")
	require.Error(t, err)

	require.Len(t, *calls, 2)
	assert.Equal(t, "/api/sync/errors/7/archive", (*calls)[0].path)
	assert.Equal(t, "/api/sync/errors/archive", (*calls)[1].path)
	assert.Equal(t, []any{float64(7), float64(8)}, (*calls)[1].body["ids"])
}

func TestErrorsListYAML(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{"code":0,"message":"ok","data":[{"id":1,"entity_type":"opportunity"}],"meta":{"total":1}}`)
	out, err := run(t, srv, "-o", "yaml", "errors", "list", "--state", "archived", "--strategy", "Opportunity")
	require.NoError(t, err)

	assert.Contains(t, (*calls)[0].query, "state=archived")
	assert.Contains(t, (*calls)[0].query, "strategy=Opportunity")
	var doc struct {
		Items []map[string]any `yaml:"items"`
		Meta  map[string]any   `yaml:"meta"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Items, 1)
	assert.Equal(t, "opportunity", doc.Items[0]["entity_type"])
	assert.Equal(t, 1, doc.Meta["total"])
}

func TestAPIErrorSurfaces(t *testing.T) {
	srv, _ := newServer(t, http.StatusNotFound, `{"code":404,"message":"not found"}`)
	_, err := run(t, srv, "sync", "runs", "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not found", apiErr.Message)
}

func TestInvalidFormatRejected(t *testing.T) {
	srv, calls := newServer(t, http.StatusOK, `{}`)
	_, err := run(t, srv, "-o", "xml", "sync", "status")
	require.Error(t, err)
	assert.Empty(t, *calls)
}

func TestTokenVerifiesWithSameSecret(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{}`)
	out, err := run(t, srv, "token", "--secret", "k", "--subject", "ops", "--role", "viewer")
	require.NoError(t, err)

	var got struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	claims, err := auth.JWT{Secret: []byte("k"), Issuer: "crmsync"}.Verify(got.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, auth.RoleViewer, claims.Role)
}
