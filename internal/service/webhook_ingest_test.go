package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crmsync/internal/models"
	"crmsync/internal/webhook"
)

type ingestFixture struct {
	env   *testEnv
	svc   *WebhookIngestService
	sub   *models.WebhookSubscription
	clock time.Time
	acct  models.Account
}

func newIngestFixture(t *testing.T, workers Submitter) *ingestFixture {
	t.Helper()
	env := newTestEnv(t, "account")
	f := &ingestFixture{env: env, clock: env.now}
	now := func() time.Time { return f.clock }

	touch := &TouchService{Registry: env.registry, Now: now}
	f.svc = &WebhookIngestService{
		Repo:       env.store,
		Handlers:   webhook.NewRegistry(webhook.EntityChangeHandler{Touch: touch, Kinds: map[string]string{"account": "account"}}),
		Workers:    workers,
		StaleAfter: time.Minute,
		Now:        now,
	}
	f.sub = &models.WebhookSubscription{
		EndpointURL:   "https://sync.example.com/webhooks/crm/1",
		SigningSecret: "s3cret",
		Active:        true,
	}
	require.NoError(t, env.store.CreateWebhookSubscription(context.Background(), f.sub))

	ext := "acc-1"
	f.acct = models.Account{Name: "Acme"}
	f.acct.ExternalID = &ext
	f.acct.PartitionID = models.DefaultPartition
	require.NoError(t, env.db.Create(&f.acct).Error)
	return f
}

func (f *ingestFixture) delivery(body, secret, id string) Delivery {
	return Delivery{
		SubscriptionID: f.sub.ID,
		Body:           []byte(body),
		Signature:      "sha256=" + webhook.Sign(secret, []byte(body)),
		DeliveryID:     id,
	}
}

func (f *ingestFixture) pending(t *testing.T) bool {
	t.Helper()
	var got models.Account
	require.NoError(t, f.env.db.First(&got, f.acct.ID).Error)
	return got.NeedsResync
}

const accountUpdated = `{"event":"account.updated","entity":{"id":"acc-1"},"event_time":"2026-05-04T11:00:00Z"}`

func TestWebhookIngestTouchesEntity(t *testing.T) {
	f := newIngestFixture(t, inlineSubmitter{})
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, f.delivery(accountUpdated, "s3cret", "d-1"))
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.NotZero(t, res.EventID)
	require.True(t, f.pending(t))

	ev, err := f.env.store.GetWebhookEvent(ctx, res.EventID)
	require.NoError(t, err)
	require.NotNil(t, ev.ProcessedAt)
	require.Equal(t, "account.updated", ev.EventName)
	require.Equal(t, 1, ev.Attempts)

	dup, err := f.svc.Ingest(ctx, f.delivery(accountUpdated, "s3cret", "d-1"))
	require.NoError(t, err)
	require.True(t, dup.Duplicate)
}

func TestWebhookIngestDedupesWithoutDeliveryID(t *testing.T) {
	f := newIngestFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Ingest(ctx, f.delivery(accountUpdated, "s3cret", ""))
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	spaced := `{"event":"account.updated","entity":{ "id": "acc-1" },"event_time":"2026-05-04T11:00:00Z"}`
	second, err := f.svc.Ingest(ctx, f.delivery(spaced, "s3cret", ""))
	require.NoError(t, err)
	require.True(t, second.Duplicate)
}

func TestWebhookIngestRejects(t *testing.T) {
	f := newIngestFixture(t, inlineSubmitter{})
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, f.delivery(accountUpdated, "wrong", "d-1"))
	require.ErrorIs(t, err, webhook.ErrRejected)

	_, err = f.svc.Ingest(ctx, f.delivery(`{"entity":{}}`, "s3cret", "d-2"))
	require.ErrorIs(t, err, webhook.ErrInvalidPayload)

	d := f.delivery(accountUpdated, "s3cret", "d-3")
	d.SubscriptionID = 999
	_, err = f.svc.Ingest(ctx, d)
	require.ErrorIs(t, err, ErrNotFound)

	f.sub.Active = false
	require.NoError(t, f.env.store.SaveWebhookSubscription(ctx, f.sub))
	_, err = f.svc.Ingest(ctx, f.delivery(accountUpdated, "s3cret", "d-4"))
	require.ErrorIs(t, err, ErrNotFound)

	require.False(t, f.pending(t))
}

func TestWebhookIngestAcceptsPreviousSecretDuringGrace(t *testing.T) {
	f := newIngestFixture(t, nil)
	ctx := context.Background()
	prev := "old-secret"
	expires := f.clock.Add(time.Hour)
	f.sub.PreviousSecret = &prev
	f.sub.PreviousSecretExpiresAt = &expires
	require.NoError(t, f.env.store.SaveWebhookSubscription(ctx, f.sub))

	_, err := f.svc.Ingest(ctx, f.delivery(accountUpdated, prev, "d-1"))
	require.NoError(t, err)

	f.clock = expires.Add(time.Second)
	_, err = f.svc.Ingest(ctx, f.delivery(accountUpdated, prev, "d-2"))
	require.ErrorIs(t, err, webhook.ErrRejected)
}

func TestWebhookDrainProcessesAcknowledgedEvents(t *testing.T) {
	f := newIngestFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, f.delivery(accountUpdated, "s3cret", "d-1"))
	require.NoError(t, err)
	require.False(t, f.pending(t))

	// too fresh to be drained
	n, err := f.svc.DrainPending(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	f.clock = f.clock.Add(2 * time.Minute)
	n, err = f.svc.DrainPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, f.pending(t))

	ev, err := f.env.store.GetWebhookEvent(ctx, res.EventID)
	require.NoError(t, err)
	require.NotNil(t, ev.ProcessedAt)

	n, err = f.svc.DrainPending(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWebhookProcessRecordsHandlerFailure(t *testing.T) {
	f := newIngestFixture(t, nil)
	ctx := context.Background()
	body := `{"event":"account.updated","entity":{},"event_time":"2026-05-04T11:00:00Z"}`

	res, err := f.svc.Ingest(ctx, f.delivery(body, "s3cret", "d-1"))
	require.NoError(t, err)

	err = f.svc.Process(ctx, res.EventID)
	require.Error(t, err)

	ev, err := f.env.store.GetWebhookEvent(ctx, res.EventID)
	require.NoError(t, err)
	require.Nil(t, ev.ProcessedAt)
	require.Nil(t, ev.ProcessingStartedAt)
	require.NotNil(t, ev.LastError)
	require.Equal(t, 1, ev.Attempts)
}
