package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"crmsync/internal/models"
	"crmsync/internal/repository"
)

// RunRecorder persists one SyncAggregateRun per orchestrated run.
type RunRecorder struct {
	Repo repository.RunRepository
	Now  func() time.Time
}

func (r *RunRecorder) Start(ctx context.Context, id, triggeredBy string, selection []string, startedAt time.Time) (*models.SyncAggregateRun, error) {
	sel, _ := json.Marshal(selection)
	run := &models.SyncAggregateRun{
		ID:          id,
		TriggeredBy: triggeredBy,
		Selection:   datatypes.JSON(sel),
		Status:      models.RunStatusRunning,
		Stats:       datatypes.JSON([]byte(`{}`)),
		StartedAt:   startedAt,
	}
	if err := r.Repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Finish writes the summary once; a second call for the same run is a no-op
// and reports false.
func (r *RunRecorder) Finish(ctx context.Context, id, status string, stats map[string]models.StrategyCounts, errMsg string) (bool, error) {
	if stats == nil {
		stats = map[string]models.StrategyCounts{}
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return false, err
	}
	return r.Repo.FinishRun(ctx, id, status, datatypes.JSON(b), strPtr(truncate(errMsg)), clock(r.Now).now())
}

func (r *RunRecorder) Get(ctx context.Context, id string) (*models.SyncAggregateRun, error) {
	run, err := r.Repo.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrNotFound
	}
	return run, nil
}

func (r *RunRecorder) List(ctx context.Context, params repository.ListRunsParams) ([]models.SyncAggregateRun, int64, error) {
	items, err := r.Repo.ListRuns(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.Repo.CountRuns(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *RunRecorder) Latest(ctx context.Context) (*models.SyncAggregateRun, error) {
	return r.Repo.LatestFinishedRun(ctx)
}

// RecoverStale finishes runs left open by a crashed process. The run that
// currently holds the status claim is skipped.
func (r *RunRecorder) RecoverStale(ctx context.Context, activeRunID string) (int, error) {
	runs, err := r.Repo.ListUnfinishedRuns(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, run := range runs {
		if run.ID == activeRunID {
			continue
		}
		ok, err := r.Repo.FinishRun(ctx, run.ID, models.RunStatusAborted, run.Stats, strPtr("run was interrupted before it finished"), clock(r.Now).now())
		if err != nil {
			return recovered, fmt.Errorf("finish stale run %s: %w", run.ID, err)
		}
		if ok {
			recovered++
		}
	}
	return recovered, nil
}

// DecodeStats reads the per-strategy counts stored on a run.
func DecodeStats(run *models.SyncAggregateRun) map[string]models.StrategyCounts {
	out := map[string]models.StrategyCounts{}
	if run == nil || len(run.Stats) == 0 {
		return out
	}
	_ = json.Unmarshal(run.Stats, &out)
	return out
}
