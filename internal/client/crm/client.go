package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
}

type ConnectionLimiter interface {
	Acquire(ctx context.Context) (func(), error)
}

// Client talks GraphQL over HTTP to the CRM. Every request first passes the
// shared rate and connection limiters when they are set.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client

	Rate  RateLimiter
	Conns ConnectionLimiter
}

func NewClient(httpClient *http.Client, endpoint, token string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

type GraphQLErrorItem struct {
	Message    string `json:"message"`
	Path       []any  `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type GraphQLError struct {
	Errors []GraphQLErrorItem
}

func (e *GraphQLError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		msgs = append(msgs, item.Message)
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// UserError is a validation failure reported by a mutation payload.
type UserError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type UserErrors []UserError

func (e UserErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, item := range e {
		if item.Field != "" {
			parts = append(parts, item.Field+": "+item.Message)
			continue
		}
		parts = append(parts, item.Message)
	}
	return "rejected: " + strings.Join(parts, "; ")
}

var transientCodes = map[string]bool{
	"RATE_LIMITED":          true,
	"THROTTLED":             true,
	"TIMEOUT":               true,
	"INTERNAL_SERVER_ERROR": true,
	"SERVICE_UNAVAILABLE":   true,
}

// IsTransient reports whether err is a transport or availability failure
// that should be retried on a later run rather than recorded per entity.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests || apiErr.Status == http.StatusRequestTimeout
	}
	var gqlErr *GraphQLError
	if errors.As(err, &gqlErr) {
		for _, item := range gqlErr.Errors {
			if transientCodes[strings.ToUpper(item.Extensions.Code)] {
				return true
			}
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var userErrs UserErrors
	if errors.As(err, &userErrs) {
		return false
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage    `json:"data"`
	Errors []GraphQLErrorItem `json:"errors"`
}

// Do runs one GraphQL document and decodes the data object into out.
func (c *Client) Do(ctx context.Context, query string, variables map[string]any, out any) error {
	if c.endpoint == "" {
		return fmt.Errorf("crm endpoint is empty")
	}
	if c.Rate != nil {
		if err := c.Rate.Wait(ctx); err != nil {
			return err
		}
	}
	if c.Conns != nil {
		release, err := c.Conns.Acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	var envelope graphQLResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return &GraphQLError{Errors: envelope.Errors}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}
