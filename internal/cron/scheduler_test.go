package cronrunner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crmsync/internal/coord"
	"crmsync/internal/lock"
	"crmsync/internal/models"
	"crmsync/internal/service"
)

type fakeQueuer struct {
	mu     sync.Mutex
	queued []service.Selection
}

func (f *fakeQueuer) QueueSync(ctx context.Context, sel service.Selection) (service.RunHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, sel)
	return service.RunHandle{RunID: "run-1"}, nil
}

func (f *fakeQueuer) Wait(ctx context.Context, h service.RunHandle) (*models.SyncAggregateRun, error) {
	return &models.SyncAggregateRun{ID: h.RunID, Status: models.RunStatusCompleted}, nil
}

func TestFrequencySpec(t *testing.T) {
	cases := map[int]string{
		0:  "0 0 */1 * * *",
		1:  "0 0 */1 * * *",
		6:  "0 0 */6 * * *",
		24: "0 0 0 */1 * *",
		48: "0 0 0 */2 * *",
		5:  "@every 5h",
		36: "@every 36h",
	}
	for hours, want := range cases {
		require.Equal(t, want, FrequencySpec(hours), "hours=%d", hours)
	}
}

func TestTriggerQueuesScheduledRun(t *testing.T) {
	store := coord.NewMemoryStore()
	q := &fakeQueuer{}
	s := &SyncScheduler{
		Sync:       q,
		Locker:     &lock.Locker{Store: store, Poll: 5 * time.Millisecond},
		Strategies: []string{"account"},
		LockTTL:    time.Minute,
	}
	require.NoError(t, s.Trigger(context.Background()))
	require.Len(t, q.queued, 1)
	require.Equal(t, service.TriggerScheduled, q.queued[0].TriggeredBy)
	require.Equal(t, []string{"account"}, q.queued[0].Strategies)

	// the lock was released, so the next tick runs too
	require.NoError(t, s.Trigger(context.Background()))
	require.Len(t, q.queued, 2)
}

func TestTriggerSkipsWhenLockHeld(t *testing.T) {
	store := coord.NewMemoryStore()
	locker := &lock.Locker{Store: store, Poll: 5 * time.Millisecond}
	_, ok, err := locker.TryAcquire(context.Background(), DataSyncLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	q := &fakeQueuer{}
	s := &SyncScheduler{Sync: q, Locker: locker, LockWait: 20 * time.Millisecond}
	require.NoError(t, s.Trigger(context.Background()))
	require.Empty(t, q.queued)
}

func TestRunnerReportsNextRun(t *testing.T) {
	r := New(nil, context.Background())
	s := &SyncScheduler{Sync: &fakeQueuer{}, Locker: &lock.Locker{Store: coord.NewMemoryStore()}}
	require.Nil(t, s.NextRun())
	require.NoError(t, s.Register(r, 6))
	require.NoError(t, RegisterMaintenance(r, nil, "", nil, 0))
	r.Start()
	defer r.Stop()

	next := s.NextRun()
	require.NotNil(t, next)
	require.True(t, next.After(time.Now()))
	require.True(t, next.Before(time.Now().Add(6*time.Hour+time.Minute)))
}
