package gormrepository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"crmsync/internal/models"
	"crmsync/internal/repository"
)

func (s *Store) CreateRun(ctx context.Context, run *models.SyncAggregateRun) error {
	if s == nil || s.db == nil || run == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *Store) FinishRun(ctx context.Context, id, status string, stats datatypes.JSON, errMsg *string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.SyncAggregateRun{}).
		Where("id = ?", id).
		Where("finished_at IS NULL").
		Updates(map[string]any{
			"status":      status,
			"stats":       stats,
			"error":       errMsg,
			"finished_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*models.SyncAggregateRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SyncAggregateRun
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListRuns(ctx context.Context, params repository.ListRunsParams) ([]models.SyncAggregateRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := runQuery(s.db.WithContext(ctx), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "started_at")
	limit := normalizeLimit(params.Limit, 20)
	offset := normalizeOffset(params.Offset)
	var items []models.SyncAggregateRun
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountRuns(ctx context.Context, params repository.ListRunsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := runQuery(s.db.WithContext(ctx), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) LatestFinishedRun(ctx context.Context) (*models.SyncAggregateRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SyncAggregateRun
	err := s.db.WithContext(ctx).
		Where("finished_at IS NOT NULL").
		Order("finished_at desc").
		First(&item).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListUnfinishedRuns(ctx context.Context) ([]models.SyncAggregateRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SyncAggregateRun
	if err := s.db.WithContext(ctx).
		Where("finished_at IS NULL").
		Order("started_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func runQuery(db *gorm.DB, params repository.ListRunsParams) *gorm.DB {
	query := db.Model(&models.SyncAggregateRun{})
	if v := strPtrValue(params.Status); v != "" {
		query = query.Where("status = ?", v)
	}
	if v := strPtrValue(params.TriggeredBy); v != "" {
		query = query.Where("triggered_by = ?", v)
	}
	return query
}
