package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crmsync/internal/models"
)

func (s *Store) CreateWebhookSubscription(ctx context.Context, item *models.WebhookSubscription) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) SaveWebhookSubscription(ctx context.Context, item *models.WebhookSubscription) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) GetWebhookSubscription(ctx context.Context, id uint64) (*models.WebhookSubscription, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.WebhookSubscription
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListWebhookSubscriptions(ctx context.Context) ([]models.WebhookSubscription, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.WebhookSubscription
	if err := s.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// InsertWebhookEventIfAbsent reports false when the (subscription, dedupe key)
// pair was already recorded by an earlier delivery.
func (s *Store) InsertWebhookEventIfAbsent(ctx context.Context, item *models.WebhookEvent) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetWebhookEvent(ctx context.Context, id uint64) (*models.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.WebhookEvent
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ClaimWebhookEvent(ctx context.Context, id uint64, now, staleBefore time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Where("processed_at IS NULL").
		Where("processing_started_at IS NULL OR processing_started_at < ?", staleBefore).
		Updates(map[string]any{
			"processing_started_at": now,
			"attempts":              gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) CompleteWebhookEvent(ctx context.Context, id uint64, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at": at,
			"last_error":   nil,
		}).Error
}

func (s *Store) FailWebhookEvent(ctx context.Context, id uint64, message string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processing_started_at": nil,
			"last_error":            message,
		}).Error
}

func (s *Store) ListPendingWebhookEvents(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]models.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("processed_at IS NULL").
		Where("received_at < ?", staleBefore).
		Where("processing_started_at IS NULL OR processing_started_at < ?", staleBefore)
	if maxAttempts > 0 {
		query = query.Where("attempts < ?", maxAttempts)
	}
	var items []models.WebhookEvent
	if err := query.Order("received_at asc").Limit(normalizeLimit(limit, 100)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
