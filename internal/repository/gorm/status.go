package gormrepository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"crmsync/internal/models"
	"crmsync/internal/repository"
)

func (s *Store) EnsureStatus(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&models.SyncStatus{Name: name}).Error
}

// ClaimStatus flips the row to running when it is idle or its previous
// holder stopped heartbeating. Exactly one concurrent caller wins.
func (s *Store) ClaimStatus(ctx context.Context, name string, claim repository.StatusClaim) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	if err := s.EnsureStatus(ctx, name); err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).
		Model(&models.SyncStatus{}).
		Where("name = ?", name).
		Where("running = ? OR expires_at IS NULL OR expires_at < ?", false, claim.Now).
		Updates(map[string]any{
			"running":      true,
			"run_id":       claim.RunID,
			"owner":        claim.Owner,
			"started_at":   claim.Now,
			"heartbeat_at": claim.Now,
			"expires_at":   claim.ExpiresAt,
			"progress":     claim.Progress,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) HeartbeatStatus(ctx context.Context, name, runID string, progress datatypes.JSON, now, expiresAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	updates := map[string]any{
		"heartbeat_at": now,
		"expires_at":   expiresAt,
	}
	if len(progress) > 0 {
		updates["progress"] = progress
	}
	res := s.db.WithContext(ctx).
		Model(&models.SyncStatus{}).
		Where("name = ? AND run_id = ? AND running = ?", name, runID, true).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ReleaseStatus(ctx context.Context, name, runID string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.SyncStatus{}).
		Where("name = ? AND run_id = ?", name, runID).
		Updates(map[string]any{
			"running":      false,
			"heartbeat_at": now,
			"expires_at":   nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetStatus(ctx context.Context, name string) (*models.SyncStatus, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SyncStatus
	err := s.db.WithContext(ctx).First(&item, "name = ?", name).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
