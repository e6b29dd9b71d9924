package gormrepository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crmsync/internal/models"
	"crmsync/internal/repository"
)

type entityModel[T any] interface {
	*T
	models.Syncable
}

// EntityTable implements repository.EntityRepository for one local entity model.
type EntityTable[T any, PT entityModel[T]] struct {
	db         *gorm.DB
	entityType string
	table      string
}

func NewEntityTable[T any, PT entityModel[T]](db *gorm.DB, entityType string) *EntityTable[T, PT] {
	return &EntityTable[T, PT]{
		db:         db,
		entityType: entityType,
		table:      PT(new(T)).TableName(),
	}
}

var _ repository.EntityRepository[models.Account] = (*EntityTable[models.Account, *models.Account])(nil)

func (t *EntityTable[T, PT]) EntityType() string {
	return t.entityType
}

// Touch marks rows as locally changed. Rows already pending a push are left
// alone; a row waiting for a pull becomes a local change.
func (t *EntityTable[T, PT]) Touch(ctx context.Context, ids []uint64, at time.Time) (int64, error) {
	if t == nil || t.db == nil {
		return 0, nil
	}
	ids = cleanIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	res := t.db.WithContext(ctx).
		Model(new(T)).
		Where("id IN ?", ids).
		Where("needs_resync = ? OR needs_pull = ?", false, true).
		Updates(map[string]any{
			"needs_resync": true,
			"needs_pull":   false,
			"changed_at":   at,
		})
	return res.RowsAffected, res.Error
}

// TouchRemote marks rows whose CRM copy changed. changed_at is kept so a
// pending local edit is not mistaken for a newer one. Rows with a pending
// local change keep it; the pull guard settles which side wins.
func (t *EntityTable[T, PT]) TouchRemote(ctx context.Context, ids []uint64) (int64, error) {
	if t == nil || t.db == nil {
		return 0, nil
	}
	ids = cleanIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	res := t.db.WithContext(ctx).
		Model(new(T)).
		Where("id IN ?", ids).
		Where("needs_resync = ?", false).
		Updates(map[string]any{
			"needs_resync": true,
			"needs_pull":   true,
		})
	return res.RowsAffected, res.Error
}

func (t *EntityTable[T, PT]) CountPending(ctx context.Context) (int64, error) {
	if t == nil || t.db == nil {
		return 0, nil
	}
	var total int64
	if err := t.db.WithContext(ctx).Model(new(T)).Where("needs_resync = ?", true).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (t *EntityTable[T, PT]) IDsByExternalIDs(ctx context.Context, externalIDs []string) ([]uint64, error) {
	if t == nil || t.db == nil {
		return nil, nil
	}
	externalIDs = cleanStrings(externalIDs)
	if len(externalIDs) == 0 {
		return nil, nil
	}
	var ids []uint64
	if err := t.db.WithContext(ctx).
		Model(new(T)).
		Where("external_id IN ?", externalIDs).
		Order("id asc").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// UpsertPulledTx inserts or updates the row keyed by external_id. A row with
// a pending local change newer than the remote update keeps its values; a
// row waiting for a pull always takes them.
func (t *EntityTable[T, PT]) UpsertPulledTx(ctx context.Context, tx *gorm.DB, item *T, columns []string) (bool, error) {
	if item == nil {
		return false, nil
	}
	fields := PT(item).Fields()
	if fields.ExternalID == nil || strings.TrimSpace(*fields.ExternalID) == "" {
		return false, fmt.Errorf("%s: external id is required", t.entityType)
	}
	if strings.TrimSpace(fields.PartitionID) == "" {
		fields.PartitionID = models.DefaultPartition
	}
	cols := cleanStrings(append(append([]string{}, columns...),
		"partition_id",
		"remote_updated_at",
		"needs_resync",
		"needs_pull",
		"last_synced_at",
		"updated_at",
	))
	guard := clause.Expr{
		SQL:  fmt.Sprintf("%[1]s.needs_resync = ? OR %[1]s.needs_pull = ? OR %[1]s.changed_at IS NULL OR %[1]s.changed_at <= excluded.remote_updated_at", t.table),
		Vars: []any{false, true},
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns(cols),
		Where:     clause.Where{Exprs: []clause.Expression{guard}},
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListPushWindow returns pending rows strictly after the watermark, in
// (changed_at, id) order. Rows waiting for a pull hold stale values and are
// left out.
func (t *EntityTable[T, PT]) ListPushWindow(ctx context.Context, partition string, after models.UpdateWatermark, limit int) ([]T, error) {
	if t == nil || t.db == nil {
		return nil, nil
	}
	query := t.db.WithContext(ctx).
		Model(new(T)).
		Where("partition_id = ?", partition).
		Where("changed_at IS NOT NULL").
		Where("needs_resync = ?", true).
		Where("needs_pull = ?", false)
	if after.LatestSourceUpdatedAt != nil {
		ts := *after.LatestSourceUpdatedAt
		query = query.Where("changed_at > ? OR (changed_at = ? AND id > ?)", ts, ts, after.LatestEntityID)
	}
	var items []T
	if err := query.Order("changed_at asc, id asc").Limit(normalizeLimit(limit, 50)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (t *EntityTable[T, PT]) Get(ctx context.Context, id uint64) (*T, error) {
	if t == nil || t.db == nil {
		return nil, nil
	}
	item := new(T)
	err := t.db.WithContext(ctx).First(item, "id = ?", id).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// MarkPushedTx stores the remote id and clears needs_resync when the row is
// unchanged since it was read. A row edited mid-push gets a fresh changed_at
// so the next window picks it up again.
func (t *EntityTable[T, PT]) MarkPushedTx(ctx context.Context, tx *gorm.DB, mark repository.PushMark) error {
	match := "changed_at IS NULL AND updated_at = ?"
	vars := []any{mark.UpdatedAt}
	if mark.ChangedAt != nil {
		match = "changed_at = ? AND updated_at = ?"
		vars = []any{*mark.ChangedAt, mark.UpdatedAt}
	}
	updates := map[string]any{
		"last_synced_at": mark.At,
		"needs_resync":   gorm.Expr("CASE WHEN "+match+" THEN false ELSE needs_resync END", vars...),
		"changed_at":     gorm.Expr("CASE WHEN "+match+" THEN changed_at ELSE ? END", withArg(vars, mark.At)...),
	}
	if ext := strings.TrimSpace(mark.ExternalID); ext != "" {
		updates["external_id"] = gorm.Expr("COALESCE(external_id, ?)", ext)
	}
	if mark.RemoteUpdatedAt != nil {
		updates["remote_updated_at"] = *mark.RemoteUpdatedAt
	}
	return tx.WithContext(ctx).
		Model(new(T)).
		Where("id = ?", mark.ID).
		Updates(updates).Error
}

func withArg(vars []any, arg any) []any {
	out := make([]any, 0, len(vars)+1)
	out = append(out, vars...)
	return append(out, arg)
}
