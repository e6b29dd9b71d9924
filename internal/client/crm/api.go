package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

func (c *Client) Page(ctx context.Context, req PageRequest) (Page, error) {
	if strings.TrimSpace(req.Root) == "" {
		return Page{}, fmt.Errorf("page root is required")
	}
	vars := map[string]any{"first": req.First}
	if req.After != "" {
		vars["after"] = req.After
	}
	if len(req.Filter) > 0 {
		vars["filter"] = req.Filter
	}
	var data map[string]json.RawMessage
	if err := c.Do(ctx, req.Query, vars, &data); err != nil {
		return Page{}, err
	}
	raw, ok := data[req.Root]
	if !ok {
		return Page{}, fmt.Errorf("response missing %s", req.Root)
	}
	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return Page{}, fmt.Errorf("failed to decode %s: %w", req.Root, err)
	}
	return page, nil
}

func (c *Client) Upsert(ctx context.Context, req UpsertRequest) (RecordRef, error) {
	vars := map[string]any{"input": req.Input}
	if req.ID != "" {
		vars["id"] = req.ID
	} else {
		vars["id"] = nil
	}
	return c.mutate(ctx, req.Mutation, req.Root, vars)
}

// Resolve turns a relation URL carried by a webhook into the remote record it
// points at.
func (c *Client) Resolve(ctx context.Context, url string) (Resolved, error) {
	var data struct {
		ResolveURL *Resolved `json:"resolveUrl"`
	}
	if err := c.Do(ctx, resolveURLQuery, map[string]any{"url": url}, &data); err != nil {
		return Resolved{}, err
	}
	if data.ResolveURL == nil || data.ResolveURL.ExternalID == "" {
		return Resolved{}, fmt.Errorf("url %s did not resolve", url)
	}
	return *data.ResolveURL, nil
}

func (c *Client) CreateWebhook(ctx context.Context, in WebhookInput) (string, error) {
	ref, err := c.mutate(ctx, createWebhookMutation, "webhookSubscriptionCreate", map[string]any{"input": in})
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (c *Client) UpdateWebhookSecret(ctx context.Context, id, secret string) error {
	_, err := c.mutate(ctx, updateWebhookSecretMutation, "webhookSubscriptionUpdate", map[string]any{
		"id":    id,
		"input": map[string]any{"secret": secret},
	})
	return err
}

func (c *Client) mutate(ctx context.Context, document, root string, vars map[string]any) (RecordRef, error) {
	var data map[string]json.RawMessage
	if err := c.Do(ctx, document, vars, &data); err != nil {
		return RecordRef{}, err
	}
	raw, ok := data[root]
	if !ok {
		return RecordRef{}, fmt.Errorf("response missing %s", root)
	}
	var result UpsertResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return RecordRef{}, fmt.Errorf("failed to decode %s: %w", root, err)
	}
	if len(result.UserErrors) > 0 {
		return RecordRef{}, UserErrors(result.UserErrors)
	}
	if result.Record.ID == "" {
		return RecordRef{}, fmt.Errorf("%s returned no record", root)
	}
	return result.Record, nil
}
