//go:build container

package gormrepository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"crmsync/internal/models"
	"crmsync/internal/repository"
	"crmsync/internal/testutil"
)

func TestPostgresStatusClaimRace(t *testing.T) {
	store := New(testutil.OpenPostgres(t))
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.EnsureStatus(ctx, "data_sync"))

	var (
		mu  sync.Mutex
		won []string
		wg  sync.WaitGroup
	)
	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ok, err := store.ClaimStatus(ctx, "data_sync", repository.StatusClaim{RunID: id, Owner: id, Now: now, ExpiresAt: now.Add(time.Minute)})
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				won = append(won, id)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	require.Len(t, won, 1)

	st, err := store.GetStatus(ctx, "data_sync")
	require.NoError(t, err)
	require.True(t, st.Running)
	require.Equal(t, won[0], *st.RunID)
}

func TestPostgresWebhookDedupe(t *testing.T) {
	store := New(testutil.OpenPostgres(t))
	ctx := context.Background()
	now := time.Now().UTC()
	sub := &models.WebhookSubscription{EndpointURL: "https://x/webhooks/crm/1", SigningSecret: "s"}
	require.NoError(t, store.CreateWebhookSubscription(ctx, sub))

	for i, want := range []bool{true, false} {
		inserted, err := store.InsertWebhookEventIfAbsent(ctx, &models.WebhookEvent{
			SubscriptionID: sub.ID,
			DedupeKey:      "d-1",
			EventName:      "account.updated",
			Payload:        datatypes.JSON(`{"event":"account.updated"}`),
			ReceivedAt:     now,
		})
		require.NoError(t, err)
		require.Equal(t, want, inserted, "delivery %d", i)
	}
}
