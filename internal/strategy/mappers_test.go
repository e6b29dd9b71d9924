package strategy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"crmsync/internal/models"
)

func record(id, raw string) Record {
	return Record{ExternalID: id, Raw: json.RawMessage(raw)}
}

func TestAccountMapperNormalizes(t *testing.T) {
	m := accountMapper{}
	got, err := m.FromRemote(record("a1", `{"name":"  Acme ","domain":" acme.io ","ownerEmail":"Owner@Acme.IO"}`))
	require.NoError(t, err)
	require.Equal(t, "Acme", got.Name)
	require.Equal(t, "acme.io", *got.Domain)
	require.Equal(t, "owner@acme.io", *got.OwnerEmail)
	require.Nil(t, got.Industry)

	_, err = m.FromRemote(record("a2", `{"name":""}`))
	require.Error(t, err)

	out, err := m.ToRemote(got)
	require.NoError(t, err)
	require.Equal(t, "Acme", out["name"])
}

func TestOpportunityMapper(t *testing.T) {
	m := opportunityMapper{}
	got, err := m.FromRemote(record("o1", `{"name":"Renewal","amount":1234.567,"closeDate":"2026-06-30","stage":"WON"}`))
	require.NoError(t, err)
	require.Equal(t, "won", got.Stage)
	require.Equal(t, "USD", got.Currency)
	require.True(t, got.Amount.Equal(decimal.RequireFromString("1234.57")))
	require.Equal(t, time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC), got.CloseDate.UTC())

	got, err = m.FromRemote(record("o2", `{"name":"Upsell","amount":"99.5","currency":"eur"}`))
	require.NoError(t, err)
	require.Equal(t, "EUR", got.Currency)

	out, err := m.ToRemote(got)
	require.NoError(t, err)
	require.Equal(t, "99.50", out["amount"])
	require.NotContains(t, out, "closeDate")

	_, err = m.ToRemote(&models.Opportunity{Name: "Bad", Amount: decimal.NewFromInt(-1)})
	require.ErrorContains(t, err, "negative")
	_, err = m.ToRemote(&models.Opportunity{Name: " "})
	require.Error(t, err)
	_, err = m.FromRemote(record("o3", `{"name":"x","closeDate":"next week"}`))
	require.Error(t, err)
}

func TestContactAndTaskMappers(t *testing.T) {
	c, err := contactMapper{}.FromRemote(record("c1", `{"email":"Jane@Example.com","accountId":"a1"}`))
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", *c.Email)
	require.Equal(t, "a1", *c.AccountExternalID)
	_, err = contactMapper{}.FromRemote(record("c2", `{"phone":"123"}`))
	require.Error(t, err)

	task, err := taskMapper{}.FromRemote(record("t1", `{"subject":"Call back","dueAt":"2026-05-05T09:30:00Z","relatedType":"Account","relatedId":"a1"}`))
	require.NoError(t, err)
	require.Equal(t, "open", task.Status)
	require.NotNil(t, task.DueAt)

	out, err := taskMapper{}.ToRemote(task)
	require.NoError(t, err)
	require.Equal(t, "2026-05-05T09:30:00Z", out["dueAt"])
}

func TestCustomFieldMapperSkipsSystemFields(t *testing.T) {
	m := customFieldMapper{}
	_, err := m.FromRemote(record("f1", `{"label":"Created by","fieldType":"text"}`))
	require.ErrorIs(t, err, ErrSkipRecord)

	got, err := m.FromRemote(record("f2", `{"entityKind":"Account","key":"tier","fieldType":"SELECT","options":["gold","silver"]}`))
	require.NoError(t, err)
	require.Equal(t, "tier", got.Label)
	require.Equal(t, "account", got.EntityKind)
	require.Equal(t, "select", got.FieldType)
	require.JSONEq(t, `["gold","silver"]`, string(got.Options))
}

func TestWatermarkAfterStopsAtFirstFailure(t *testing.T) {
	results := []PushResult{
		{EntityID: 1, OK: true},
		{EntityID: 2, OK: true},
		{EntityID: 3},
		{EntityID: 4, OK: true},
	}
	require.Equal(t, uint64(2), WatermarkAfter(results).EntityID)
	require.Nil(t, WatermarkAfter(results[2:3]))
	require.Nil(t, WatermarkAfter(nil))
}
