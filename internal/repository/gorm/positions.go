package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crmsync/internal/models"
)

func (s *Store) GetCursor(ctx context.Context, entityType, partition string) (*models.SyncCursor, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SyncCursor
	err := s.db.WithContext(ctx).First(&item, "entity_type = ? AND partition_id = ?", entityType, partition).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SaveCursorTx records that a page was applied. A nil cursor keeps the stored
// one, so an exhausted feed resumes from its last known position.
func (s *Store) SaveCursorTx(ctx context.Context, tx *gorm.DB, entityType, partition string, cursor *string, at time.Time) error {
	item := &models.SyncCursor{
		EntityType:    entityType,
		PartitionID:   partition,
		Cursor:        cursor,
		PagesApplied:  1,
		LastSuccessAt: &at,
		LastAttemptAt: &at,
		UpdatedAt:     at,
	}
	columns := []string{"last_success_at", "last_attempt_at", "last_error", "updated_at"}
	if cursor != nil {
		columns = append(columns, "cursor")
	}
	updates := clause.AssignmentColumns(columns)
	updates = append(updates, clause.Assignment{
		Column: clause.Column{Name: "pages_applied"},
		Value:  gorm.Expr("sync_cursors.pages_applied + 1"),
	})
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "partition_id"}},
		DoUpdates: updates,
	}).Create(item).Error
}

func (s *Store) MarkCursorAttempt(ctx context.Context, entityType, partition string, at time.Time, lastErr *string) error {
	if s == nil || s.db == nil {
		return nil
	}
	item := &models.SyncCursor{
		EntityType:    entityType,
		PartitionID:   partition,
		LastAttemptAt: &at,
		LastError:     lastErr,
		UpdatedAt:     at,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "partition_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_attempt_at", "last_error", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) ListCursors(ctx context.Context) ([]models.SyncCursor, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SyncCursor
	if err := s.db.WithContext(ctx).Order("entity_type asc, partition_id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetWatermark(ctx context.Context, entityType, partition string) (*models.UpdateWatermark, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.UpdateWatermark
	err := s.db.WithContext(ctx).First(&item, "entity_type = ? AND partition_id = ?", entityType, partition).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveWatermarkTx(ctx context.Context, tx *gorm.DB, wm *models.UpdateWatermark) error {
	if wm == nil {
		return nil
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_type"}, {Name: "partition_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"latest_source_updated_at",
			"latest_entity_id",
			"last_attempt_at",
			"last_error",
			"updated_at",
		}),
	}).Create(wm).Error
}

func (s *Store) MarkWatermarkAttempt(ctx context.Context, entityType, partition string, at time.Time, lastErr *string) error {
	if s == nil || s.db == nil {
		return nil
	}
	item := &models.UpdateWatermark{
		EntityType:    entityType,
		PartitionID:   partition,
		LastAttemptAt: &at,
		LastError:     lastErr,
		UpdatedAt:     at,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "partition_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_attempt_at", "last_error", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) ListWatermarks(ctx context.Context) ([]models.UpdateWatermark, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.UpdateWatermark
	if err := s.db.WithContext(ctx).Order("entity_type asc, partition_id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
