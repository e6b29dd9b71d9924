package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"crmsync/internal/client/crm"
	"crmsync/internal/models"
	"crmsync/internal/repository"
)

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrNotFound        = errors.New("entity not found")
	// ErrSkipRecord tells ApplyTx to count a remote record as skipped.
	ErrSkipRecord = errors.New("record skipped")
)

// API is the subset of the CRM client the strategies call.
type API interface {
	Page(ctx context.Context, req crm.PageRequest) (crm.Page, error)
	Upsert(ctx context.Context, req crm.UpsertRequest) (crm.RecordRef, error)
}

// Strategy synchronises one entity kind in both directions.
type Strategy interface {
	Name() string
	EntityType() string
	Partitions() []string
	Pull(ctx context.Context, partition, cursor string) (PullPage, error)
	ApplyTx(ctx context.Context, tx *gorm.DB, partition string, rec Record) (ApplyOutcome, error)
	Window(ctx context.Context, partition string, after models.UpdateWatermark, limit int) ([]PushItem, error)
	Push(ctx context.Context, partition string, items []PushItem) []PushResult
	MarkPushedTx(ctx context.Context, tx *gorm.DB, results []PushResult, now time.Time) error
	Load(ctx context.Context, id uint64) (PushItem, error)
	Entities() repository.EntityIndex
}

type Record struct {
	ExternalID string
	UpdatedAt  *time.Time
	Raw        json.RawMessage
}

type PullPage struct {
	Records    []Record
	NextCursor string
	Exhausted  bool
}

type ApplyOutcome int

const (
	Applied ApplyOutcome = iota
	Skipped
)

// PushItem is one local row in a push window. Err carries a mapping failure
// so the row is reported without calling the API.
type PushItem struct {
	EntityID     uint64
	ExternalID   *string
	ChangedAt    *time.Time
	UpdatedAt    time.Time
	AwaitingPull bool
	Input        map[string]any
	Err          error
}

type PushResult struct {
	EntityID        uint64
	ExternalID      string
	OK              bool
	Err             error
	Transient       bool
	ChangedAt       *time.Time
	UpdatedAt       time.Time
	RemoteUpdatedAt *time.Time
}

// WatermarkAfter returns the position of the last successful result before
// the first failure, or nil when the first result already failed.
func WatermarkAfter(results []PushResult) *PushResult {
	var last *PushResult
	for i := range results {
		if !results[i].OK {
			break
		}
		last = &results[i]
	}
	return last
}
