package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"crmsync/internal/client/crm"
)

// Toucher marks local entities for resync by their CRM ids.
type Toucher interface {
	TouchExternal(ctx context.Context, entityType string, externalIDs []string) (int64, error)
}

type Resolver interface {
	Resolve(ctx context.Context, url string) (crm.Resolved, error)
}

// EntityChangeHandler handles <kind>.created|updated|deleted.
type EntityChangeHandler struct {
	Touch Toucher
	// Kinds maps the event prefix to the local entity type.
	Kinds map[string]string
}

func (h EntityChangeHandler) Name() string { return "entity_change" }

func (h EntityChangeHandler) Events() []string {
	out := make([]string, 0, len(h.Kinds)*3)
	for kind := range h.Kinds {
		for _, action := range []string{"created", "updated", "deleted"} {
			out = append(out, kind+"."+action)
		}
	}
	sort.Strings(out)
	return out
}

type entityRef struct {
	ID  string   `json:"id"`
	IDs []string `json:"ids"`
}

func (h EntityChangeHandler) Handle(ctx context.Context, ev Event) error {
	kind, _, ok := strings.Cut(strings.ToLower(ev.Name), ".")
	if !ok {
		return fmt.Errorf("event %q has no kind", ev.Name)
	}
	entityType, ok := h.Kinds[kind]
	if !ok {
		return fmt.Errorf("event kind %q is not synced", kind)
	}
	var ref entityRef
	if err := json.Unmarshal(ev.Entity, &ref); err != nil {
		return fmt.Errorf("decode entity: %w", err)
	}
	ids := ref.IDs
	if ref.ID != "" {
		ids = append(ids, ref.ID)
	}
	if len(ids) == 0 {
		return fmt.Errorf("event %q carries no entity id", ev.Name)
	}
	_, err := h.Touch.TouchExternal(ctx, entityType, ids)
	return err
}

// RelationHandler handles relation events, whose entity only carries the
// URLs of both ends. Each URL is resolved through the CRM before touching.
type RelationHandler struct {
	Touch    Toucher
	Resolver Resolver
	// Types maps a remote type name (e.g. "Account") to the local entity type.
	Types map[string]string
}

func (h RelationHandler) Name() string { return "relation" }

func (h RelationHandler) Events() []string {
	return []string{"relation.created", "relation.deleted"}
}

type relationRef struct {
	URLs      []string `json:"urls"`
	SourceURL string   `json:"source_url"`
	TargetURL string   `json:"target_url"`
}

func (h RelationHandler) Handle(ctx context.Context, ev Event) error {
	var ref relationRef
	if err := json.Unmarshal(ev.Entity, &ref); err != nil {
		return fmt.Errorf("decode relation: %w", err)
	}
	urls := append([]string{}, ref.URLs...)
	for _, u := range []string{ref.SourceURL, ref.TargetURL} {
		if strings.TrimSpace(u) != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return fmt.Errorf("relation event carries no urls")
	}
	byType := map[string][]string{}
	for _, u := range urls {
		resolved, err := h.Resolver.Resolve(ctx, strings.TrimSpace(u))
		if err != nil {
			return fmt.Errorf("resolve %s: %w", u, err)
		}
		entityType, ok := h.Types[resolved.TypeName]
		if !ok {
			continue
		}
		byType[entityType] = append(byType[entityType], resolved.ExternalID)
	}
	for entityType, ids := range byType {
		if _, err := h.Touch.TouchExternal(ctx, entityType, ids); err != nil {
			return err
		}
	}
	return nil
}
