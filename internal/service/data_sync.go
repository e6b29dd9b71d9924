package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crmsync/internal/models"
	"crmsync/internal/repository"
	"crmsync/internal/strategy"
	"crmsync/internal/worker"
)

const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

var errClaimLost = errors.New("sync status claim lost")

type Selection struct {
	Strategies  []string `json:"strategies"`
	TriggeredBy string   `json:"triggered_by"`
}

// RunHandle identifies a queued run. AlreadyRunning is set when the request
// was coalesced into the run that was already active.
type RunHandle struct {
	RunID          string    `json:"run_id"`
	AlreadyRunning bool      `json:"already_running"`
	StartedAt      time.Time `json:"started_at"`

	done <-chan struct{}
}

type ModelRef struct {
	EntityType string
	ID         uint64
}

type DataSyncStatus struct {
	Running     bool                     `json:"running"`
	RunID       *string                  `json:"run_id,omitempty"`
	Owner       *string                  `json:"owner,omitempty"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	HeartbeatAt *time.Time               `json:"heartbeat_at,omitempty"`
	Progress    *models.SyncProgress     `json:"progress,omitempty"`
	LastRun     *models.SyncAggregateRun `json:"last_run,omitempty"`
	NextRunAt   *time.Time               `json:"next_run_at,omitempty"`
	Strategies  []string                 `json:"strategies"`
}

type QueueCounts struct {
	Pending        map[string]int64 `json:"pending"`
	PendingTotal   int64            `json:"pending_total"`
	ActiveErrors   int64            `json:"active_errors"`
	ArchivedErrors int64            `json:"archived_errors"`
}

// DataSyncService orchestrates aggregate runs across the strategy registry.
// Exactly one run is active system-wide; the status claim decides which.
type DataSyncService struct {
	Registry          *strategy.Registry
	Runner            *StrategyRunner
	Status            *StatusTracker
	Runs              *RunRecorder
	Errors            repository.SyncErrorRepository
	Workers           Submitter
	Logger            *zap.Logger
	Concurrency       int
	HeartbeatInterval time.Duration
	WaitPoll          time.Duration
	NextRun           func() *time.Time
	Now               func() time.Time

	mu    sync.Mutex
	local map[string]chan struct{}
}

func (s *DataSyncService) now() time.Time {
	return clock(s.Now).now()
}

// QueueSync claims the run slot, records the run and hands it to the worker
// pool. It returns before any strategy executes.
func (s *DataSyncService) QueueSync(ctx context.Context, sel Selection) (RunHandle, error) {
	strategies, err := s.Registry.Select(sel.Strategies)
	if err != nil {
		return RunHandle{}, err
	}
	if len(strategies) == 0 {
		return RunHandle{}, ErrNoStrategies
	}
	names := make([]string, 0, len(strategies))
	for _, st := range strategies {
		names = append(names, st.Name())
	}
	triggeredBy := strings.TrimSpace(sel.TriggeredBy)
	if triggeredBy == "" {
		triggeredBy = TriggerManual
	}

	for attempt := 0; attempt < 3; attempt++ {
		runID := uuid.NewString()
		claimed, err := s.Status.Claim(ctx, runID, models.SyncProgress{Total: len(strategies)})
		if err != nil {
			return RunHandle{}, err
		}
		if claimed {
			return s.start(ctx, runID, triggeredBy, names, strategies)
		}
		st, active, err := s.Status.Current(ctx)
		if err != nil {
			return RunHandle{}, err
		}
		if active && st.RunID != nil {
			h := RunHandle{RunID: *st.RunID, AlreadyRunning: true, done: s.localDone(*st.RunID)}
			if st.StartedAt != nil {
				h.StartedAt = *st.StartedAt
			}
			return h, nil
		}
		// the previous holder released between our claim and read
	}
	return RunHandle{}, fmt.Errorf("could not claim sync status")
}

func (s *DataSyncService) start(ctx context.Context, runID, triggeredBy string, names []string, strategies []strategy.Strategy) (RunHandle, error) {
	startedAt := s.now()
	if _, err := s.Runs.Start(ctx, runID, triggeredBy, names, startedAt); err != nil {
		s.release(ctx, runID)
		return RunHandle{}, err
	}
	done := s.track(runID)
	err := s.Workers.Submit("sync:"+runID, func(wctx context.Context) {
		s.execute(wctx, runID, strategies)
	})
	if err != nil {
		s.untrack(runID)
		s.finish(ctx, runID, models.RunStatusAborted, nil, err.Error())
		return RunHandle{}, err
	}
	if s.Logger != nil {
		s.Logger.Info("sync run queued", zap.String("run_id", runID), zap.String("triggered_by", triggeredBy), zap.Strings("strategies", names))
	}
	return RunHandle{RunID: runID, StartedAt: startedAt, done: done}, nil
}

type progressTracker struct {
	mu sync.Mutex
	p  models.SyncProgress
}

func (t *progressTracker) begin(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Current = append(t.p.Current, name)
}

func (t *progressTracker) end(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Completed++
	cur := t.p.Current[:0]
	for _, n := range t.p.Current {
		if n != name {
			cur = append(cur, n)
		}
	}
	t.p.Current = cur
}

func (t *progressTracker) snapshot() models.SyncProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.p
	out.Current = append([]string{}, t.p.Current...)
	return out
}

func (s *DataSyncService) execute(ctx context.Context, runID string, strategies []strategy.Strategy) {
	defer s.untrack(runID)
	progress := &progressTracker{p: models.SyncProgress{Total: len(strategies)}}

	// the claim may have expired while the job was queued
	if err := ctx.Err(); err != nil {
		s.finish(ctx, runID, models.RunStatusAborted, nil, "run cancelled before start: "+err.Error())
		return
	}
	ok, err := s.Status.Heartbeat(ctx, runID, progress.snapshot())
	if err != nil {
		s.finish(ctx, runID, models.RunStatusAborted, nil, "refresh sync status: "+err.Error())
		return
	}
	if !ok {
		s.finish(ctx, runID, models.RunStatusAborted, nil, errClaimLost.Error()+" before start")
		return
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	hbCtx, stopHeartbeat := context.WithCancel(runCtx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		s.heartbeat(hbCtx, runID, progress, cancelRun)
	}()

	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	stats := map[string]models.StrategyCounts{}
	var failures []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, st := range strategies {
		select {
		case <-runCtx.Done():
		case sem <- struct{}{}:
		}
		if runCtx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(st strategy.Strategy) {
			defer wg.Done()
			defer func() { <-sem }()
			name := st.Name()
			progress.begin(name)
			started := time.Now()
			counts, err := s.Runner.Run(runCtx, st)
			progress.end(name)

			mu.Lock()
			stats[name] = counts
			if err != nil && runCtx.Err() == nil {
				failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			}
			mu.Unlock()

			if s.Logger == nil {
				return
			}
			fields := []zap.Field{
				zap.String("run_id", runID),
				zap.String("strategy", name),
				zap.Int("processed", counts.Processed),
				zap.Int("errored", counts.Errored),
				zap.Int("skipped", counts.Skipped),
				zap.Duration("took", time.Since(started)),
			}
			if err != nil {
				s.Logger.Warn("strategy failed", append(fields, zap.Error(err))...)
				return
			}
			s.Logger.Info("strategy finished", fields...)
		}(st)
	}
	wg.Wait()
	stopHeartbeat()
	<-hbDone

	status := models.RunStatusCompleted
	errored := 0
	for _, c := range stats {
		errored += c.Errored
	}
	if errored > 0 || len(failures) > 0 {
		status = models.RunStatusPartial
	}
	if runCtx.Err() != nil {
		status = models.RunStatusAborted
		failures = append(failures, "run cancelled: "+context.Cause(runCtx).Error())
	}
	sort.Strings(failures)
	s.finish(ctx, runID, status, stats, strings.Join(failures, "; "))
}

// heartbeat keeps the claim alive. Losing the claim to another worker
// cancels the run through lost.
func (s *DataSyncService) heartbeat(ctx context.Context, runID string, progress *progressTracker, lost context.CancelCauseFunc) {
	interval := s.HeartbeatInterval
	if interval <= 0 {
		interval = s.Status.ttl() / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ok, err := s.Status.Heartbeat(ctx, runID, progress.snapshot())
		if err != nil {
			if s.Logger != nil && ctx.Err() == nil {
				s.Logger.Warn("sync heartbeat failed", zap.String("run_id", runID), zap.Error(err))
			}
			continue
		}
		if !ok {
			if s.Logger != nil {
				s.Logger.Warn("sync status claim lost", zap.String("run_id", runID))
			}
			lost(errClaimLost)
			return
		}
	}
}

// finish persists the summary and frees the run slot even when ctx is
// already cancelled by shutdown.
func (s *DataSyncService) finish(ctx context.Context, runID, status string, stats map[string]models.StrategyCounts, errMsg string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := s.Runs.Finish(fctx, runID, status, stats, errMsg); err != nil && s.Logger != nil {
		s.Logger.Error("finish sync run failed", zap.String("run_id", runID), zap.Error(err))
	}
	s.release(fctx, runID)
	if s.Logger != nil {
		s.Logger.Info("sync run finished", zap.String("run_id", runID), zap.String("status", status))
	}
}

func (s *DataSyncService) release(ctx context.Context, runID string) {
	if err := s.Status.Release(context.WithoutCancel(ctx), runID); err != nil && s.Logger != nil {
		s.Logger.Error("release sync status failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func (s *DataSyncService) track(runID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local == nil {
		s.local = map[string]chan struct{}{}
	}
	ch := make(chan struct{})
	s.local[runID] = ch
	return ch
}

func (s *DataSyncService) untrack(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.local[runID]; ok {
		close(ch)
		delete(s.local, runID)
	}
}

func (s *DataSyncService) localDone(runID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local[runID]
}

// Wait blocks until the run has a finished record. Runs owned by another
// process are polled.
func (s *DataSyncService) Wait(ctx context.Context, h RunHandle) (*models.SyncAggregateRun, error) {
	if h.RunID == "" {
		return nil, ErrNotFound
	}
	if h.done != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-h.done:
		}
		return s.Runs.Get(ctx, h.RunID)
	}
	poll := s.WaitPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	for {
		run, err := s.Runs.Get(ctx, h.RunID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if run != nil && run.FinishedAt != nil {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// QueueModelSync pushes one local entity in the background. When the queue
// is full the entity is touched so the next run picks it up instead.
func (s *DataSyncService) QueueModelSync(ctx context.Context, ref ModelRef) error {
	st, ok := s.Registry.ByEntityType(ref.EntityType)
	if !ok {
		return fmt.Errorf("%w: %s", strategy.ErrUnknownStrategy, ref.EntityType)
	}
	if _, err := st.Load(ctx, ref.ID); err != nil {
		if errors.Is(err, strategy.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	err := s.Workers.Submit(fmt.Sprintf("model:%s:%d", st.EntityType(), ref.ID), func(wctx context.Context) {
		counts, err := s.Runner.PushOne(wctx, st, ref.ID)
		if s.Logger == nil {
			return
		}
		if err != nil {
			s.Logger.Warn("model sync failed", zap.String("entity_type", st.EntityType()), zap.Uint64("id", ref.ID), zap.Error(err))
			return
		}
		s.Logger.Info("model synced", zap.String("entity_type", st.EntityType()), zap.Uint64("id", ref.ID), zap.Int("errored", counts.Errored))
	})
	if errors.Is(err, worker.ErrQueueFull) {
		_, terr := st.Entities().Touch(ctx, []uint64{ref.ID}, s.now())
		return terr
	}
	return err
}

func (s *DataSyncService) GetDataSyncStatus(ctx context.Context) (DataSyncStatus, error) {
	out := DataSyncStatus{Strategies: s.Registry.Names()}
	st, active, err := s.Status.Current(ctx)
	if err != nil {
		return out, err
	}
	if st != nil {
		out.Running = active
		out.Progress = decodeProgress(st.Progress)
		if active {
			out.RunID = st.RunID
			out.Owner = st.Owner
			out.StartedAt = st.StartedAt
			out.HeartbeatAt = st.HeartbeatAt
		}
	}
	last, err := s.Runs.Latest(ctx)
	if err != nil {
		return out, err
	}
	out.LastRun = last
	if s.NextRun != nil {
		out.NextRunAt = s.NextRun()
	}
	return out, nil
}

func (s *DataSyncService) GetQueueCounts(ctx context.Context) (QueueCounts, error) {
	out := QueueCounts{Pending: map[string]int64{}}
	for _, st := range s.Registry.All() {
		n, err := st.Entities().CountPending(ctx)
		if err != nil {
			return out, err
		}
		out.Pending[st.EntityType()] = n
		out.PendingTotal += n
	}
	active, err := s.Errors.CountSyncErrors(ctx, repository.ListSyncErrorsParams{State: repository.ErrorStateActive})
	if err != nil {
		return out, err
	}
	archived, err := s.Errors.CountSyncErrors(ctx, repository.ListSyncErrorsParams{State: repository.ErrorStateArchived})
	if err != nil {
		return out, err
	}
	out.ActiveErrors = active
	out.ArchivedErrors = archived
	return out, nil
}

// RecoverStale closes runs orphaned by a previous process.
func (s *DataSyncService) RecoverStale(ctx context.Context) (int, error) {
	activeID := ""
	st, active, err := s.Status.Current(ctx)
	if err != nil {
		return 0, err
	}
	if active && st.RunID != nil {
		activeID = *st.RunID
	}
	n, err := s.Runs.RecoverStale(ctx, activeID)
	if n > 0 && s.Logger != nil {
		s.Logger.Warn("recovered stale sync runs", zap.Int("count", n))
	}
	return n, err
}
