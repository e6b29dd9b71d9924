package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"crmsync/internal/client/crm"
)

type recordingToucher struct {
	calls map[string][]string
}

func (r *recordingToucher) TouchExternal(ctx context.Context, entityType string, ids []string) (int64, error) {
	if r.calls == nil {
		r.calls = map[string][]string{}
	}
	r.calls[entityType] = append(r.calls[entityType], ids...)
	return int64(len(ids)), nil
}

type staticResolver map[string]crm.Resolved

func (s staticResolver) Resolve(ctx context.Context, url string) (crm.Resolved, error) {
	r, ok := s[url]
	if !ok {
		return crm.Resolved{}, errors.New("unknown url")
	}
	return r, nil
}

type funcHandler struct {
	name   string
	events []string
	fn     func(ev Event) error
}

func (f funcHandler) Name() string { return f.name }
func (f funcHandler) Events() []string { return f.events }
func (f funcHandler) Handle(ctx context.Context, ev Event) error { return f.fn(ev) }

func TestRegistryDispatchOrderAndWildcard(t *testing.T) {
	var order []string
	mk := func(name string, events ...string) Handler {
		return funcHandler{name: name, events: events, fn: func(ev Event) error {
			order = append(order, name)
			if name == "b" {
				return errors.New("b failed")
			}
			return nil
		}}
	}
	reg := NewRegistry(mk("a", "account.updated"), mk("b", "*"), mk("c", "contact.updated"), mk("d", "ACCOUNT.UPDATED"))

	n, err := reg.Dispatch(context.Background(), Event{Name: "account.updated"})
	require.Equal(t, 3, n)
	require.ErrorContains(t, err, "b failed")
	require.Equal(t, []string{"a", "b", "d"}, order)
}

func TestEntityChangeHandler(t *testing.T) {
	touch := &recordingToucher{}
	h := EntityChangeHandler{Touch: touch, Kinds: map[string]string{"account": "account"}}
	require.Contains(t, h.Events(), "account.deleted")

	err := h.Handle(context.Background(), Event{Name: "account.updated", Entity: json.RawMessage(`{"id":"a1"}`)})
	require.NoError(t, err)
	require.Equal(t, []string{"a1"}, touch.calls["account"])

	err = h.Handle(context.Background(), Event{Name: "invoice.updated", Entity: json.RawMessage(`{"id":"i1"}`)})
	require.Error(t, err)
	err = h.Handle(context.Background(), Event{Name: "account.updated", Entity: json.RawMessage(`{}`)})
	require.Error(t, err)
}

func TestRelationHandlerResolvesURLs(t *testing.T) {
	touch := &recordingToucher{}
	h := RelationHandler{
		Touch: touch,
		Resolver: staticResolver{
			"https://crm/accounts/a1":      {TypeName: "Account", ExternalID: "a1"},
			"https://crm/opportunities/o9": {TypeName: "Opportunity", ExternalID: "o9"},
			"https://crm/notes/n1":         {TypeName: "Note", ExternalID: "n1"},
		},
		Types: map[string]string{"Account": "account", "Opportunity": "opportunity"},
	}
	err := h.Handle(context.Background(), Event{
		Name:   "relation.created",
		Entity: json.RawMessage(`{"source_url":"https://crm/accounts/a1","target_url":"https://crm/opportunities/o9","urls":["https://crm/notes/n1"]}`),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a1"}, touch.calls["account"])
	require.Equal(t, []string{"o9"}, touch.calls["opportunity"])

	err = h.Handle(context.Background(), Event{Name: "relation.created", Entity: json.RawMessage(`{"urls":["https://crm/missing"]}`)})
	require.Error(t, err)
}
