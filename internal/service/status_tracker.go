package service

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"crmsync/internal/models"
	"crmsync/internal/repository"
)

const DataSyncStatusName = "data_sync"

// StatusTracker is the durable "a run is active" marker. A claim expires
// when its holder stops heartbeating, so a crashed worker cannot block runs
// for longer than the TTL.
type StatusTracker struct {
	Repo  repository.StatusRepository
	Name  string
	Owner string
	TTL   time.Duration
	Now   func() time.Time
}

func (t *StatusTracker) name() string {
	if t.Name != "" {
		return t.Name
	}
	return DataSyncStatusName
}

func (t *StatusTracker) ttl() time.Duration {
	if t.TTL > 0 {
		return t.TTL
	}
	return 5 * time.Minute
}

func (t *StatusTracker) Claim(ctx context.Context, runID string, progress models.SyncProgress) (bool, error) {
	now := clock(t.Now).now()
	return t.Repo.ClaimStatus(ctx, t.name(), repository.StatusClaim{
		RunID:     runID,
		Owner:     t.Owner,
		Now:       now,
		ExpiresAt: now.Add(t.ttl()),
		Progress:  progressJSON(progress),
	})
}

// Heartbeat extends the claim and publishes progress. False means the claim
// was lost to another worker.
func (t *StatusTracker) Heartbeat(ctx context.Context, runID string, progress models.SyncProgress) (bool, error) {
	now := clock(t.Now).now()
	return t.Repo.HeartbeatStatus(ctx, t.name(), runID, progressJSON(progress), now, now.Add(t.ttl()))
}

func (t *StatusTracker) Release(ctx context.Context, runID string) error {
	_, err := t.Repo.ReleaseStatus(ctx, t.name(), runID, clock(t.Now).now())
	return err
}

// Current returns the status row and whether it describes a live run.
func (t *StatusTracker) Current(ctx context.Context) (*models.SyncStatus, bool, error) {
	st, err := t.Repo.GetStatus(ctx, t.name())
	if err != nil || st == nil {
		return st, false, err
	}
	now := clock(t.Now).now()
	active := st.Running && st.ExpiresAt != nil && st.ExpiresAt.After(now)
	return st, active, nil
}

func progressJSON(p models.SyncProgress) datatypes.JSON {
	if p.Current == nil {
		p.Current = []string{}
	}
	b, _ := json.Marshal(p)
	return datatypes.JSON(b)
}

func decodeProgress(raw datatypes.JSON) *models.SyncProgress {
	if len(raw) == 0 {
		return nil
	}
	var p models.SyncProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}
