package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"crmsync/internal/models"
	"crmsync/internal/notify"
	"crmsync/internal/repository"
)

// SyncErrorService owns the per-entity failure log: recording inside sync
// transactions, operator archive/restore, owner notification and retention.
type SyncErrorService struct {
	Repo      repository.SyncErrorRepository
	Notifier  notify.Notifier
	Logger    *zap.Logger
	Retention time.Duration
	Now       func() time.Time
}

func (s *SyncErrorService) now() time.Time {
	return clock(s.Now).now()
}

// RecordTx stores item or bumps the unresolved row with the same key.
func (s *SyncErrorService) RecordTx(ctx context.Context, tx *gorm.DB, item *models.SyncError) (bool, error) {
	if item.FirstSeenAt.IsZero() {
		item.FirstSeenAt = s.now()
	}
	if item.LastSeenAt.IsZero() {
		item.LastSeenAt = item.FirstSeenAt
	}
	if item.Occurrences == 0 {
		item.Occurrences = 1
	}
	if item.PartitionID == "" {
		item.PartitionID = models.DefaultPartition
	}
	item.Message = truncate(item.Message)
	return s.Repo.RecordSyncErrorTx(ctx, tx, item)
}

func (s *SyncErrorService) ResolveTx(ctx context.Context, tx *gorm.DB, key models.SyncErrorKey, at time.Time) error {
	_, err := s.Repo.ResolveSyncErrorsTx(ctx, tx, key, at)
	return err
}

// NotifyCreated tells the entity owner about first occurrences. Repeats of an
// unresolved error are not notified again.
func (s *SyncErrorService) NotifyCreated(ctx context.Context, items []models.SyncError) {
	if s.Notifier == nil {
		return
	}
	for _, item := range items {
		msg := notify.Message{
			Event:   notify.EventSyncError,
			Message: fmt.Sprintf("%s %s failed to %s: %s", item.StrategyName, item.EntityID, item.Direction, item.Message),
			Details: map[string]any{
				"sync_error_id": item.ID,
				"entity_type":   item.EntityType,
				"entity_id":     item.EntityID,
				"strategy":      item.StrategyName,
				"direction":     item.Direction,
				"partition_id":  item.PartitionID,
			},
			At: item.FirstSeenAt,
		}
		if item.ExternalID != nil {
			msg.Details["external_id"] = *item.ExternalID
		}
		if err := s.Notifier.Notify(ctx, msg); err != nil && s.Logger != nil {
			s.Logger.Warn("sync error notification failed", zap.Uint64("sync_error_id", item.ID), zap.Error(err))
		}
	}
}

func (s *SyncErrorService) Get(ctx context.Context, id uint64) (*models.SyncError, error) {
	item, err := s.Repo.GetSyncError(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return item, nil
}

func (s *SyncErrorService) List(ctx context.Context, params repository.ListSyncErrorsParams) ([]models.SyncError, int64, error) {
	if params.State == "" {
		params.State = repository.ErrorStateActive
	}
	switch params.State {
	case repository.ErrorStateActive, repository.ErrorStateArchived, repository.ErrorStateResolved, repository.ErrorStateAll:
	default:
		return nil, 0, fmt.Errorf("%w: state %q", ErrInvalidInput, params.State)
	}
	items, err := s.Repo.ListSyncErrors(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountSyncErrors(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// PaginateActive lists errors that are neither archived nor resolved, newest
// first.
func (s *SyncErrorService) PaginateActive(ctx context.Context, limit, offset int) ([]models.SyncError, int64, error) {
	return s.List(ctx, repository.ListSyncErrorsParams{
		Limit:   limit,
		Offset:  offset,
		State:   repository.ErrorStateActive,
		OrderBy: "last_seen_at",
		Asc:     boolPtr(false),
	})
}

func (s *SyncErrorService) Archive(ctx context.Context, id uint64) (*models.SyncError, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if _, err := s.Repo.ArchiveSyncErrors(ctx, []uint64{id}, s.now()); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *SyncErrorService) ArchiveMany(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: ids are required", ErrInvalidInput)
	}
	return s.Repo.ArchiveSyncErrors(ctx, ids, s.now())
}

func (s *SyncErrorService) ArchiveAll(ctx context.Context, filter repository.SyncErrorFilter) (int64, error) {
	return s.Repo.ArchiveAllSyncErrors(ctx, filter, s.now())
}

func (s *SyncErrorService) Restore(ctx context.Context, id uint64) (*models.SyncError, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if _, err := s.Repo.RestoreSyncErrors(ctx, []uint64{id}); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *SyncErrorService) RestoreMany(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: ids are required", ErrInvalidInput)
	}
	return s.Repo.RestoreSyncErrors(ctx, ids)
}

func (s *SyncErrorService) RestoreAll(ctx context.Context, filter repository.SyncErrorFilter) (int64, error) {
	return s.Repo.RestoreAllSyncErrors(ctx, filter)
}

// Purge soft-deletes resolved errors older than the retention window.
func (s *SyncErrorService) Purge(ctx context.Context) (int64, error) {
	if s.Retention <= 0 {
		return 0, nil
	}
	n, err := s.Repo.PurgeResolvedSyncErrors(ctx, s.now().Add(-s.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 && s.Logger != nil {
		s.Logger.Info("purged resolved sync errors", zap.Int64("count", n))
	}
	return n, nil
}
