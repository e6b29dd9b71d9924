package crm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLimiter struct {
	waits    atomic.Int32
	acquired atomic.Int32
	released atomic.Int32
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.waits.Add(1)
	return nil
}

func (l *countingLimiter) Acquire(ctx context.Context) (func(), error) {
	l.acquired.Add(1)
	return func() { l.released.Add(1) }, nil
}

func TestClientPage(t *testing.T) {
	var got graphQLRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"data":{"accounts":{"nodes":[{"id":"a1","updatedAt":"2026-01-02T03:04:05Z","name":"Acme"}],"pageInfo":{"endCursor":"def456","hasNextPage":true}}}}`))
	}))
	defer srv.Close()

	lim := &countingLimiter{}
	c := NewClient(srv.Client(), srv.URL, "tok")
	c.Rate = lim
	c.Conns = lim

	page, err := c.Page(context.Background(), PageRequest{
		Query:  ListQuery("accounts", "AccountFilter", "name"),
		Root:   "accounts",
		First:  50,
		After:  "abc123",
		Filter: map[string]any{"organizationalUnitId": "emea"},
	})
	require.NoError(t, err)
	require.Len(t, page.Nodes, 1)
	require.Equal(t, "def456", page.PageInfo.EndCursor)
	require.True(t, page.PageInfo.HasNextPage)
	require.Equal(t, "abc123", got.Variables["after"])
	require.EqualValues(t, 50, got.Variables["first"])
	require.Equal(t, map[string]any{"organizationalUnitId": "emea"}, got.Variables["filter"])
	require.EqualValues(t, 1, lim.waits.Load())
	require.EqualValues(t, 1, lim.acquired.Load())
	require.EqualValues(t, 1, lim.released.Load())
}

func TestClientUpsertUserErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"opportunityUpsert":{"record":null,"userErrors":[{"field":"amount","message":"must be positive"}]}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "")
	_, err := c.Upsert(context.Background(), UpsertRequest{
		Mutation: UpsertMutation("opportunityUpsert", "OpportunityInput"),
		Root:     "opportunityUpsert",
		Input:    map[string]any{"amount": "-1.00"},
	})
	var userErrs UserErrors
	require.True(t, errors.As(err, &userErrs))
	require.Contains(t, err.Error(), "amount: must be positive")
	require.False(t, IsTransient(err))
}

func TestClientUpsertReturnsRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "x1", req.Variables["id"])
		_, _ = w.Write([]byte(`{"data":{"accountUpsert":{"record":{"id":"x1","updatedAt":"2026-01-02T03:04:05Z"},"userErrors":[]}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "")
	ref, err := c.Upsert(context.Background(), UpsertRequest{
		Mutation: UpsertMutation("accountUpsert", "AccountInput"),
		Root:     "accountUpsert",
		ID:       "x1",
		Input:    map[string]any{"name": "Acme"},
	})
	require.NoError(t, err)
	require.Equal(t, "x1", ref.ID)
	require.NotNil(t, ref.UpdatedAt)
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, true},
		{"server error", &APIError{Status: 502}, true},
		{"throttled", &APIError{Status: 429}, true},
		{"bad request", &APIError{Status: 400}, false},
		{"rate limited code", &GraphQLError{Errors: []GraphQLErrorItem{gqlItem("slow down", "RATE_LIMITED")}}, true},
		{"validation code", &GraphQLError{Errors: []GraphQLErrorItem{gqlItem("bad", "BAD_USER_INPUT")}}, false},
		{"user errors", UserErrors{{Message: "nope"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestClientGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"throttled","extensions":{"code":"RATE_LIMITED"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, "")
	_, err := c.Page(context.Background(), PageRequest{Root: "accounts", First: 10})
	require.Error(t, err)
	require.True(t, IsTransient(err))
}

func TestDecimalUnmarshal(t *testing.T) {
	var v struct {
		A Decimal `json:"a"`
		B Decimal `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.50","b":7}`), &v))
	require.Equal(t, "12.50", v.A.StringFixed(2))
	require.Equal(t, "7.00", v.B.StringFixed(2))
}

func gqlItem(msg, code string) GraphQLErrorItem {
	item := GraphQLErrorItem{Message: msg}
	item.Extensions.Code = code
	return item
}
