package cronrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"crmsync/internal/lock"
	"crmsync/internal/models"
	"crmsync/internal/service"
)

const DataSyncLockKey = "lock:data_sync"

// SyncQueuer is the slice of the orchestrator the scheduler drives.
type SyncQueuer interface {
	QueueSync(ctx context.Context, sel service.Selection) (service.RunHandle, error)
	Wait(ctx context.Context, h service.RunHandle) (*models.SyncAggregateRun, error)
}

// SyncScheduler triggers aggregate runs on a fixed frequency. Every tick
// takes the shared lock first, so only one worker fleet member queues the
// run.
type SyncScheduler struct {
	Sync       SyncQueuer
	Locker     *lock.Locker
	Logger     *zap.Logger
	Strategies []string
	LockKey    string
	LockTTL    time.Duration
	LockWait   time.Duration

	runner *Runner
	entry  cron.EntryID
}

// FrequencySpec turns an hourly frequency into a six-field cron spec.
func FrequencySpec(hours int) string {
	if hours <= 0 {
		hours = 1
	}
	switch {
	case hours < 24 && 24%hours == 0:
		return fmt.Sprintf("0 0 */%d * * *", hours)
	case hours%24 == 0:
		return fmt.Sprintf("0 0 0 */%d * *", hours/24)
	default:
		return fmt.Sprintf("@every %dh", hours)
	}
}

func (s *SyncScheduler) Register(r *Runner, frequencyHours int) error {
	id, err := r.AddJob("data_sync", FrequencySpec(frequencyHours), s.Trigger)
	if err != nil {
		return err
	}
	s.runner = r
	s.entry = id
	return nil
}

// NextRun reports the next scheduled tick.
func (s *SyncScheduler) NextRun() *time.Time {
	if s.runner == nil {
		return nil
	}
	return s.runner.Next(s.entry)
}

// Trigger runs one scheduled tick. A held lock means another worker is
// already syncing and the tick is skipped.
func (s *SyncScheduler) Trigger(ctx context.Context) error {
	key := s.LockKey
	if key == "" {
		key = DataSyncLockKey
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	lease, ok, err := s.Locker.Acquire(ctx, key, ttl, s.LockWait)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		if s.Logger != nil {
			s.Logger.Info("scheduled sync skipped, lock held elsewhere", zap.String("lock", key))
		}
		return nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil && s.Logger != nil {
			s.Logger.Warn("release sync lock failed", zap.String("lock", key), zap.Error(err))
		}
	}()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lost := make(chan error, 1)
	go lease.KeepAlive(waitCtx, 0, func(err error) {
		lost <- err
		cancel()
	})

	h, err := s.Sync.QueueSync(ctx, service.Selection{Strategies: s.Strategies, TriggeredBy: service.TriggerScheduled})
	if err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("scheduled sync queued", zap.String("run_id", h.RunID), zap.Bool("coalesced", h.AlreadyRunning))
	}
	run, err := s.Sync.Wait(waitCtx, h)
	if err != nil {
		select {
		case lerr := <-lost:
			return fmt.Errorf("sync lock lost while waiting for run %s: %w", h.RunID, lerr)
		default:
		}
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("scheduled sync finished", zap.String("run_id", run.ID), zap.String("status", run.Status))
	}
	return nil
}

type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

type Drainer interface {
	DrainPending(ctx context.Context) (int, error)
}

// RegisterMaintenance schedules the sync error retention purge and the
// webhook drain.
func RegisterMaintenance(r *Runner, purger Purger, purgeSpec string, drainer Drainer, drainEvery time.Duration) error {
	if purger != nil && purgeSpec != "" {
		if _, err := r.AddJob("sync_error_purge", purgeSpec, func(ctx context.Context) error {
			_, err := purger.Purge(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("schedule purge: %w", err)
		}
	}
	if drainer != nil && drainEvery > 0 {
		if _, err := r.AddJob("webhook_drain", "@every "+drainEvery.String(), func(ctx context.Context) error {
			_, err := drainer.DrainPending(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("schedule drain: %w", err)
		}
	}
	return nil
}
