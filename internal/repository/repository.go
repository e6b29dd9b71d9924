package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"crmsync/internal/models"
)

// PositionRepository persists pull cursors and push watermarks. Both only
// move forward inside the transaction that applied the matching data.
type PositionRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	GetCursor(ctx context.Context, entityType, partition string) (*models.SyncCursor, error)
	SaveCursorTx(ctx context.Context, tx *gorm.DB, entityType, partition string, cursor *string, at time.Time) error
	MarkCursorAttempt(ctx context.Context, entityType, partition string, at time.Time, lastErr *string) error
	ListCursors(ctx context.Context) ([]models.SyncCursor, error)
	GetWatermark(ctx context.Context, entityType, partition string) (*models.UpdateWatermark, error)
	SaveWatermarkTx(ctx context.Context, tx *gorm.DB, wm *models.UpdateWatermark) error
	MarkWatermarkAttempt(ctx context.Context, entityType, partition string, at time.Time, lastErr *string) error
	ListWatermarks(ctx context.Context) ([]models.UpdateWatermark, error)
}

type SyncErrorRepository interface {
	// RecordSyncErrorTx creates a row for the key or bumps the active one.
	RecordSyncErrorTx(ctx context.Context, tx *gorm.DB, item *models.SyncError) (created bool, err error)
	ResolveSyncErrorsTx(ctx context.Context, tx *gorm.DB, key models.SyncErrorKey, at time.Time) (int64, error)
	GetSyncError(ctx context.Context, id uint64) (*models.SyncError, error)
	ListSyncErrors(ctx context.Context, params ListSyncErrorsParams) ([]models.SyncError, error)
	CountSyncErrors(ctx context.Context, params ListSyncErrorsParams) (int64, error)
	ArchiveSyncErrors(ctx context.Context, ids []uint64, at time.Time) (int64, error)
	ArchiveAllSyncErrors(ctx context.Context, filter SyncErrorFilter, at time.Time) (int64, error)
	RestoreSyncErrors(ctx context.Context, ids []uint64) (int64, error)
	RestoreAllSyncErrors(ctx context.Context, filter SyncErrorFilter) (int64, error)
	PurgeResolvedSyncErrors(ctx context.Context, before time.Time) (int64, error)
}

type RunRepository interface {
	CreateRun(ctx context.Context, run *models.SyncAggregateRun) error
	// FinishRun sets finished_at only when it is still empty.
	FinishRun(ctx context.Context, id, status string, stats datatypes.JSON, errMsg *string, at time.Time) (bool, error)
	GetRun(ctx context.Context, id string) (*models.SyncAggregateRun, error)
	ListRuns(ctx context.Context, params ListRunsParams) ([]models.SyncAggregateRun, error)
	CountRuns(ctx context.Context, params ListRunsParams) (int64, error)
	LatestFinishedRun(ctx context.Context) (*models.SyncAggregateRun, error)
	ListUnfinishedRuns(ctx context.Context) ([]models.SyncAggregateRun, error)
}

type StatusRepository interface {
	EnsureStatus(ctx context.Context, name string) error
	ClaimStatus(ctx context.Context, name string, claim StatusClaim) (bool, error)
	HeartbeatStatus(ctx context.Context, name, runID string, progress datatypes.JSON, now, expiresAt time.Time) (bool, error)
	ReleaseStatus(ctx context.Context, name, runID string, now time.Time) (bool, error)
	GetStatus(ctx context.Context, name string) (*models.SyncStatus, error)
}

type WebhookRepository interface {
	CreateWebhookSubscription(ctx context.Context, item *models.WebhookSubscription) error
	SaveWebhookSubscription(ctx context.Context, item *models.WebhookSubscription) error
	GetWebhookSubscription(ctx context.Context, id uint64) (*models.WebhookSubscription, error)
	ListWebhookSubscriptions(ctx context.Context) ([]models.WebhookSubscription, error)
	InsertWebhookEventIfAbsent(ctx context.Context, item *models.WebhookEvent) (bool, error)
	GetWebhookEvent(ctx context.Context, id uint64) (*models.WebhookEvent, error)
	ClaimWebhookEvent(ctx context.Context, id uint64, now, staleBefore time.Time) (bool, error)
	CompleteWebhookEvent(ctx context.Context, id uint64, at time.Time) error
	FailWebhookEvent(ctx context.Context, id uint64, message string) error
	ListPendingWebhookEvents(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]models.WebhookEvent, error)
}

// Repository is everything the sync core persists outside the entity tables.
type Repository interface {
	PositionRepository
	SyncErrorRepository
	RunRepository
	StatusRepository
	WebhookRepository
}

// EntityIndex is the type-erased view of one entity table used by the
// touch service, webhook handlers and queue counts.
type EntityIndex interface {
	EntityType() string
	Touch(ctx context.Context, ids []uint64, at time.Time) (int64, error)
	TouchRemote(ctx context.Context, ids []uint64) (int64, error)
	CountPending(ctx context.Context) (int64, error)
	IDsByExternalIDs(ctx context.Context, externalIDs []string) ([]uint64, error)
}

type EntityRepository[T any] interface {
	EntityIndex
	// UpsertPulledTx reports false when a newer pending local change kept
	// the remote values from being applied.
	UpsertPulledTx(ctx context.Context, tx *gorm.DB, item *T, columns []string) (bool, error)
	ListPushWindow(ctx context.Context, partition string, after models.UpdateWatermark, limit int) ([]T, error)
	Get(ctx context.Context, id uint64) (*T, error)
	MarkPushedTx(ctx context.Context, tx *gorm.DB, mark PushMark) error
}

// PushMark records a successful remote upsert. NeedsResync is cleared only
// when the row still carries the ChangedAt/UpdatedAt that were pushed.
type PushMark struct {
	ID              uint64
	ExternalID      string
	ChangedAt       *time.Time
	UpdatedAt       time.Time
	RemoteUpdatedAt *time.Time
	At              time.Time
}

type StatusClaim struct {
	RunID     string
	Owner     string
	Now       time.Time
	ExpiresAt time.Time
	Progress  datatypes.JSON
}

const (
	ErrorStateActive   = "active"
	ErrorStateArchived = "archived"
	ErrorStateResolved = "resolved"
	ErrorStateAll      = "all"
)

type SyncErrorFilter struct {
	EntityType   *string
	StrategyName *string
	Direction    *string
}

type ListSyncErrorsParams struct {
	Limit  int
	Offset int
	State  string
	SyncErrorFilter
	OrderBy string
	Asc     *bool
}

type ListRunsParams struct {
	Limit       int
	Offset      int
	Status      *string
	TriggeredBy *string
	OrderBy     string
	Asc         *bool
}
