package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crmsync/internal/client/crm"
	"crmsync/internal/models"
	"crmsync/internal/repository"
)

func TestStrategyRunnerPullIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "account")
	ctx := context.Background()
	updated := env.now.Add(-time.Hour)
	nodes := accountNodes(t, 1, 3, updated)
	env.api.setPage("accounts", "", crm.Page{Nodes: nodes, PageInfo: crm.PageInfo{EndCursor: "c1"}})
	env.api.setPage("accounts", "c1", crm.Page{Nodes: nodes, PageInfo: crm.PageInfo{EndCursor: "c2"}})

	st, ok := env.registry.ByEntityType("account")
	require.True(t, ok)

	first, err := env.runner.Run(ctx, st)
	require.NoError(t, err)
	require.Equal(t, models.StrategyCounts{Processed: 3}, first)

	second, err := env.runner.Run(ctx, st)
	require.NoError(t, err)
	require.Equal(t, models.StrategyCounts{Processed: 3}, second)

	var total int64
	require.NoError(t, env.db.Model(&models.Account{}).Count(&total).Error)
	require.Equal(t, int64(3), total)

	cursor, err := env.store.GetCursor(ctx, "account", models.DefaultPartition)
	require.NoError(t, err)
	require.NotNil(t, cursor.Cursor)
	require.Equal(t, "c2", *cursor.Cursor)
	require.Equal(t, int64(2), cursor.PagesApplied)
	require.Zero(t, env.api.upsertCount())
}

func TestStrategyRunnerSkipsRecordWithNewerLocalChange(t *testing.T) {
	env := newTestEnv(t, "account")
	ctx := context.Background()
	ext := "acc-001"
	changed := env.now
	local := models.Account{Name: "Local name"}
	local.ExternalID = &ext
	local.PartitionID = models.DefaultPartition
	local.ChangedAt = &changed
	local.NeedsResync = true
	require.NoError(t, env.db.Create(&local).Error)

	env.api.setPage("accounts", "", crm.Page{Nodes: accountNodes(t, 1, 2, env.now.Add(-time.Hour))})
	st, _ := env.registry.ByEntityType("account")
	counts, err := env.runner.Run(ctx, st)
	require.NoError(t, err)
	// the pending row is pushed after the pull skipped it
	require.Equal(t, models.StrategyCounts{Processed: 2, Skipped: 1}, counts)

	var got models.Account
	require.NoError(t, env.db.First(&got, local.ID).Error)
	require.Equal(t, "Local name", got.Name)
	require.False(t, got.NeedsResync)
	require.Equal(t, 1, env.api.upsertCount())
	require.Equal(t, "acc-001", env.api.upserts[0].ID)
}

func TestStrategyRunnerResumesAfterTransientPageError(t *testing.T) {
	env := newTestEnv(t, "account")
	ctx := context.Background()
	updated := env.now.Add(-time.Hour)
	env.api.setPage("accounts", "", crm.Page{Nodes: accountNodes(t, 1, 2, updated), PageInfo: crm.PageInfo{EndCursor: "p1", HasNextPage: true}})
	env.api.setPage("accounts", "p1", crm.Page{Nodes: accountNodes(t, 3, 2, updated), PageInfo: crm.PageInfo{EndCursor: "p2"}})
	env.api.pageErrs["accounts@p1"] = &crm.APIError{Status: 503, Body: "unavailable"}

	st, _ := env.registry.ByEntityType("account")
	counts, err := env.runner.Run(ctx, st)
	require.Error(t, err)
	require.True(t, crm.IsTransient(err))
	require.Equal(t, 2, counts.Processed)

	cursor, err := env.store.GetCursor(ctx, "account", models.DefaultPartition)
	require.NoError(t, err)
	require.Equal(t, "p1", *cursor.Cursor)
	require.NotNil(t, cursor.LastError)

	counts, err = env.runner.Run(ctx, st)
	require.NoError(t, err)
	require.Equal(t, 2, counts.Processed)

	cursor, err = env.store.GetCursor(ctx, "account", models.DefaultPartition)
	require.NoError(t, err)
	require.Equal(t, "p2", *cursor.Cursor)
	require.Nil(t, cursor.LastError)

	var total int64
	require.NoError(t, env.db.Model(&models.Account{}).Count(&total).Error)
	require.Equal(t, int64(4), total)
}

func TestStrategyRunnerRecordsMalformedPullRecord(t *testing.T) {
	env := newTestEnv(t, "opportunity")
	ctx := context.Background()
	nodes := []json.RawMessage{
		json.RawMessage(`{"id":"opp-1","updatedAt":"2026-05-04T10:00:00Z","name":"Good","stage":"open","amount":"10.00","currency":"USD"}`),
		json.RawMessage(`{"id":"opp-2","updatedAt":"2026-05-04T10:00:00Z","name":"Bad","amount":{"oops":true}}`),
	}
	env.api.setPage("opportunities", "", crm.Page{Nodes: nodes})

	st, _ := env.registry.ByEntityType("opportunity")
	counts, err := env.runner.Run(ctx, st)
	require.NoError(t, err)
	require.Equal(t, models.StrategyCounts{Processed: 1, Errored: 1}, counts)

	items, total, err := env.errors.List(ctx, repository.ListSyncErrorsParams{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "opp-2", items[0].EntityID)
	require.Equal(t, models.DirectionPull, items[0].Direction)

	// a later successful pull of the same record resolves the error
	env.api.setPage("opportunities", "", crm.Page{Nodes: []json.RawMessage{
		json.RawMessage(`{"id":"opp-2","updatedAt":"2026-05-04T11:00:00Z","name":"Fixed","stage":"open","amount":"5","currency":"USD"}`),
	}})
	_, err = env.runner.Run(ctx, st)
	require.NoError(t, err)
	_, total, err = env.errors.List(ctx, repository.ListSyncErrorsParams{})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestStrategyRunnerTransientPushStopsWindow(t *testing.T) {
	env := newTestEnv(t, "opportunity")
	ctx := context.Background()
	opps := env.seedOpportunities(t, 5, env.now.Add(-time.Hour), nil)
	env.api.failIDs["Deal 3"] = &crm.APIError{Status: 429, Body: "slow down"}

	st, _ := env.registry.ByEntityType("opportunity")
	counts, err := env.runner.Run(ctx, st)
	require.Error(t, err)
	require.Equal(t, 2, counts.Processed)
	require.Zero(t, counts.Errored)
	require.Equal(t, 3, env.api.upsertCount())

	wm, err := env.store.GetWatermark(ctx, "opportunity", models.DefaultPartition)
	require.NoError(t, err)
	require.Equal(t, opps[1].ID, wm.LatestEntityID)
	require.NotNil(t, wm.LastError)

	_, total, err := env.errors.List(ctx, repository.ListSyncErrorsParams{})
	require.NoError(t, err)
	require.Zero(t, total)

	delete(env.api.failIDs, "Deal 3")
	counts, err = env.runner.Run(ctx, st)
	require.NoError(t, err)
	require.Equal(t, 3, counts.Processed)

	wm, err = env.store.GetWatermark(ctx, "opportunity", models.DefaultPartition)
	require.NoError(t, err)
	require.Equal(t, opps[4].ID, wm.LatestEntityID)
}

func TestTouchThenPush(t *testing.T) {
	env := newTestEnv(t, "account")
	ctx := context.Background()
	acc := models.Account{Name: "Acme"}
	acc.PartitionID = models.DefaultPartition
	require.NoError(t, env.db.Create(&acc).Error)

	touch := &TouchService{Registry: env.registry, Now: func() time.Time { return env.now }}
	n, err := touch.Touch(ctx, "account", []uint64{acc.ID})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// touching a pending row is a no-op
	n, err = touch.Touch(ctx, "account", []uint64{acc.ID})
	require.NoError(t, err)
	require.Zero(t, n)

	counts, err := env.sync.GetQueueCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts.Pending["account"])

	st, _ := env.registry.ByEntityType("account")
	pushed, err := env.runner.Run(ctx, st)
	require.NoError(t, err)
	require.Equal(t, 1, pushed.Processed)

	var got models.Account
	require.NoError(t, env.db.First(&got, acc.ID).Error)
	require.False(t, got.NeedsResync)
	require.NotNil(t, got.ExternalID)
	require.Equal(t, "remote-1", *got.ExternalID)
	require.NotNil(t, got.LastSyncedAt)

	n, err = touch.TouchExternal(ctx, "account", []string{"remote-1", "unknown"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = touch.Touch(ctx, "widget", []uint64{1})
	require.Error(t, err)
}

func TestPushOneLeavesWatermark(t *testing.T) {
	env := newTestEnv(t, "opportunity")
	ctx := context.Background()
	opps := env.seedOpportunities(t, 2, env.now.Add(-time.Hour), nil)

	st, _ := env.registry.ByEntityType("opportunity")
	counts, err := env.runner.PushOne(ctx, st, opps[1].ID)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Processed)

	wm, err := env.store.GetWatermark(ctx, "opportunity", models.DefaultPartition)
	require.NoError(t, err)
	require.Nil(t, wm)

	pending, err := st.Entities().CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)
}

func TestWebhookTouchTakesRemoteChange(t *testing.T) {
	env := newTestEnv(t, "account")
	ctx := context.Background()
	ext := "acc-001"
	pushedAt := env.now.Add(-30 * time.Minute)
	remoteAt := env.now.Add(-2 * time.Hour)
	local := models.Account{Name: "Old name"}
	local.ExternalID = &ext
	local.PartitionID = models.DefaultPartition
	local.ChangedAt = &pushedAt
	local.RemoteUpdatedAt = &remoteAt
	local.LastSyncedAt = &pushedAt
	require.NoError(t, env.db.Create(&local).Error)

	touch := &TouchService{Registry: env.registry, Now: func() time.Time { return env.now }}
	n, err := touch.TouchExternal(ctx, "account", []string{ext})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// a second delivery of the same change is a no-op
	n, err = touch.TouchExternal(ctx, "account", []string{ext})
	require.NoError(t, err)
	require.Zero(t, n)

	env.api.setPage("accounts", "", crm.Page{Nodes: accountNodes(t, 1, 1, env.now.Add(-time.Minute))})
	st, _ := env.registry.ByEntityType("account")
	counts, err := env.runner.Run(ctx, st)
	require.NoError(t, err)
	require.Equal(t, models.StrategyCounts{Processed: 1}, counts)
	require.Zero(t, env.api.upsertCount())

	var got models.Account
	require.NoError(t, env.db.First(&got, local.ID).Error)
	require.Equal(t, "Account 1", got.Name)
	require.NotNil(t, got.Domain)
	require.Equal(t, "a1.example.com", *got.Domain)
	require.False(t, got.NeedsResync)
	require.False(t, got.NeedsPull)
}

func TestWebhookTouchedRowIsNotPushedBeforePull(t *testing.T) {
	env := newTestEnv(t, "account")
	ctx := context.Background()
	ext := "acc-002"
	local := models.Account{Name: "Stale"}
	local.ExternalID = &ext
	local.PartitionID = models.DefaultPartition
	require.NoError(t, env.db.Create(&local).Error)

	touch := &TouchService{Registry: env.registry, Now: func() time.Time { return env.now }}
	_, err := touch.TouchExternal(ctx, "account", []string{ext})
	require.NoError(t, err)

	// the page does not carry the record yet
	st, _ := env.registry.ByEntityType("account")
	counts, err := env.runner.Run(ctx, st)
	require.NoError(t, err)
	require.Equal(t, models.StrategyCounts{}, counts)
	require.Zero(t, env.api.upsertCount())

	pushed, err := env.runner.PushOne(ctx, st, local.ID)
	require.NoError(t, err)
	require.Equal(t, models.StrategyCounts{Skipped: 1}, pushed)
	require.Zero(t, env.api.upsertCount())

	pending, err := st.Entities().CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)

	// a local edit turns it back into a regular push
	n, err := touch.Touch(ctx, "account", []uint64{local.ID})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	counts, err = env.runner.Run(ctx, st)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Processed)
	require.Equal(t, 1, env.api.upsertCount())
	require.Equal(t, ext, env.api.upserts[0].ID)
	require.Equal(t, "Stale", env.api.upserts[0].Input["name"])
}
