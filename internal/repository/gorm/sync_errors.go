package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"crmsync/internal/models"
	"crmsync/internal/repository"
)

func (s *Store) RecordSyncErrorTx(ctx context.Context, tx *gorm.DB, item *models.SyncError) (bool, error) {
	if item == nil {
		return false, nil
	}
	if item.LastSeenAt.IsZero() {
		item.LastSeenAt = time.Now().UTC()
	}
	if item.FirstSeenAt.IsZero() {
		item.FirstSeenAt = item.LastSeenAt
	}
	if strings.TrimSpace(item.PartitionID) == "" {
		item.PartitionID = models.DefaultPartition
	}

	var existing models.SyncError
	err := tx.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND strategy_name = ? AND direction = ?",
			item.EntityType, item.EntityID, item.StrategyName, item.Direction).
		Where("resolved_at IS NULL").
		Order("id desc").
		First(&existing).Error
	if err != nil && !isNotFound(err) {
		return false, err
	}
	if err == nil {
		updates := map[string]any{
			"message":      item.Message,
			"occurrences":  gorm.Expr("occurrences + 1"),
			"last_seen_at": item.LastSeenAt,
			"partition_id": item.PartitionID,
		}
		if item.ExternalID != nil {
			updates["external_id"] = *item.ExternalID
		}
		if err := tx.WithContext(ctx).Model(&models.SyncError{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return false, err
		}
		item.ID = existing.ID
		item.FirstSeenAt = existing.FirstSeenAt
		item.Occurrences = existing.Occurrences + 1
		item.ArchivedAt = existing.ArchivedAt
		return false, nil
	}

	item.ID = 0
	item.Occurrences = 1
	item.ResolvedAt = nil
	item.ArchivedAt = nil
	if err := tx.WithContext(ctx).Create(item).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ResolveSyncErrorsTx(ctx context.Context, tx *gorm.DB, key models.SyncErrorKey, at time.Time) (int64, error) {
	res := tx.WithContext(ctx).
		Model(&models.SyncError{}).
		Where("entity_type = ? AND entity_id = ? AND strategy_name = ? AND direction = ?",
			key.EntityType, key.EntityID, key.StrategyName, key.Direction).
		Where("resolved_at IS NULL").
		Update("resolved_at", at)
	return res.RowsAffected, res.Error
}

func (s *Store) GetSyncError(ctx context.Context, id uint64) (*models.SyncError, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SyncError
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSyncErrors(ctx context.Context, params repository.ListSyncErrorsParams) ([]models.SyncError, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.syncErrorQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "last_seen_at")
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.SyncError
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSyncErrors(ctx context.Context, params repository.ListSyncErrorsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.syncErrorQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ArchiveSyncErrors(ctx context.Context, ids []uint64, at time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	ids = cleanIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.SyncError{}).
		Where("id IN ?", ids).
		Where("archived_at IS NULL").
		Update("archived_at", at)
	return res.RowsAffected, res.Error
}

func (s *Store) ArchiveAllSyncErrors(ctx context.Context, filter repository.SyncErrorFilter, at time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := applySyncErrorFilter(s.db.WithContext(ctx).Model(&models.SyncError{}), filter)
	res := query.
		Where("archived_at IS NULL").
		Where("resolved_at IS NULL").
		Update("archived_at", at)
	return res.RowsAffected, res.Error
}

func (s *Store) RestoreSyncErrors(ctx context.Context, ids []uint64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	ids = cleanIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.SyncError{}).
		Where("id IN ?", ids).
		Where("archived_at IS NOT NULL").
		Update("archived_at", nil)
	return res.RowsAffected, res.Error
}

func (s *Store) RestoreAllSyncErrors(ctx context.Context, filter repository.SyncErrorFilter) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := applySyncErrorFilter(s.db.WithContext(ctx).Model(&models.SyncError{}), filter)
	res := query.
		Where("archived_at IS NOT NULL").
		Update("archived_at", nil)
	return res.RowsAffected, res.Error
}

func (s *Store) PurgeResolvedSyncErrors(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("resolved_at IS NOT NULL").
		Where("resolved_at < ?", before).
		Delete(&models.SyncError{})
	return res.RowsAffected, res.Error
}

func (s *Store) syncErrorQuery(ctx context.Context, params repository.ListSyncErrorsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.SyncError{})
	switch strings.ToLower(strings.TrimSpace(params.State)) {
	case repository.ErrorStateAll:
	case repository.ErrorStateArchived:
		query = query.Where("archived_at IS NOT NULL")
	case repository.ErrorStateResolved:
		query = query.Where("resolved_at IS NOT NULL")
	default:
		query = query.Where("archived_at IS NULL").Where("resolved_at IS NULL")
	}
	return applySyncErrorFilter(query, params.SyncErrorFilter)
}

func applySyncErrorFilter(query *gorm.DB, filter repository.SyncErrorFilter) *gorm.DB {
	if v := strPtrValue(filter.EntityType); v != "" {
		query = query.Where("entity_type = ?", v)
	}
	if v := strPtrValue(filter.StrategyName); v != "" {
		query = query.Where("strategy_name = ?", v)
	}
	if v := strPtrValue(filter.Direction); v != "" {
		query = query.Where("direction = ?", v)
	}
	return query
}
