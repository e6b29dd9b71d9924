package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"crmsync/internal/models"
	"crmsync/internal/repository"
	"crmsync/internal/strategy"
)

// StrategyRunner executes one strategy: pull every partition page by page,
// then push the local change window. Positions only move inside the
// transaction that applied the data they describe.
type StrategyRunner struct {
	Positions      repository.PositionRepository
	Errors         *SyncErrorService
	Logger         *zap.Logger
	MaxPages       int
	PushBatchSize  int
	MaxPushBatches int
	Now            func() time.Time
}

func (r *StrategyRunner) now() time.Time {
	return clock(r.Now).now()
}

// Run returns the counts accumulated so far together with the first
// systemic error. Per-entity failures are counted, not returned.
func (r *StrategyRunner) Run(ctx context.Context, s strategy.Strategy) (models.StrategyCounts, error) {
	var counts models.StrategyCounts
	var errs []error
	for _, partition := range s.Partitions() {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		pulled, err := r.pull(ctx, s, partition)
		counts.Add(pulled)
		if err != nil {
			errs = append(errs, fmt.Errorf("pull %s/%s: %w", s.EntityType(), partition, err))
			continue
		}
		pushed, err := r.push(ctx, s, partition)
		counts.Add(pushed)
		if err != nil {
			errs = append(errs, fmt.Errorf("push %s/%s: %w", s.EntityType(), partition, err))
		}
	}
	return counts, errors.Join(errs...)
}

func (r *StrategyRunner) pull(ctx context.Context, s strategy.Strategy, partition string) (models.StrategyCounts, error) {
	var counts models.StrategyCounts
	entityType := s.EntityType()
	maxPages := r.MaxPages
	if maxPages <= 0 {
		maxPages = 200
	}
	for page := 0; page < maxPages; page++ {
		state, err := r.Positions.GetCursor(ctx, entityType, partition)
		if err != nil {
			return counts, err
		}
		cursor := ""
		if state != nil && state.Cursor != nil {
			cursor = *state.Cursor
		}
		res, err := s.Pull(ctx, partition, cursor)
		now := r.now()
		if err != nil {
			r.markCursorAttempt(ctx, entityType, partition, now, err)
			return counts, err
		}

		var pageCounts models.StrategyCounts
		var created []models.SyncError
		err = r.Positions.InTx(ctx, func(tx *gorm.DB) error {
			pageCounts = models.StrategyCounts{}
			created = created[:0]
			for i, rec := range res.Records {
				sp := fmt.Sprintf("sync_rec_%d", i)
				if err := tx.SavePoint(sp).Error; err != nil {
					return err
				}
				outcome, applyErr := s.ApplyTx(ctx, tx, partition, rec)
				if applyErr != nil {
					if err := tx.RollbackTo(sp).Error; err != nil {
						return err
					}
					pageCounts.Errored++
					entityID := rec.ExternalID
					if entityID == "" {
						entityID = fmt.Sprintf("page:%s#%d", cursor, i)
					}
					item := r.syncError(s, partition, models.DirectionPull, entityID, strPtr(rec.ExternalID), applyErr, now)
					isNew, err := r.Errors.RecordTx(ctx, tx, &item)
					if err != nil {
						return err
					}
					if isNew {
						created = append(created, item)
					}
					continue
				}
				if outcome == strategy.Skipped {
					pageCounts.Skipped++
				} else {
					pageCounts.Processed++
				}
				key := models.SyncErrorKey{EntityType: entityType, EntityID: rec.ExternalID, StrategyName: s.Name(), Direction: models.DirectionPull}
				if err := r.Errors.ResolveTx(ctx, tx, key, now); err != nil {
					return err
				}
			}
			return r.Positions.SaveCursorTx(ctx, tx, entityType, partition, strPtr(res.NextCursor), now)
		})
		if err != nil {
			r.markCursorAttempt(ctx, entityType, partition, now, err)
			return counts, err
		}
		counts.Add(pageCounts)
		r.Errors.NotifyCreated(ctx, created)
		if r.Logger != nil {
			r.Logger.Debug("pulled page",
				zap.String("strategy", s.Name()),
				zap.String("partition", partition),
				zap.Int("records", len(res.Records)),
				zap.Bool("exhausted", res.Exhausted),
			)
		}
		if res.Exhausted || res.NextCursor == "" || res.NextCursor == cursor {
			break
		}
	}
	return counts, nil
}

// push walks the pending rows after the stored watermark. The stored
// watermark only advances across rows that succeeded before the first
// failure of this run; the in-memory scan position keeps moving so later
// rows are still pushed.
func (r *StrategyRunner) push(ctx context.Context, s strategy.Strategy, partition string) (models.StrategyCounts, error) {
	var counts models.StrategyCounts
	entityType := s.EntityType()
	size := r.PushBatchSize
	if size <= 0 {
		size = 50
	}
	maxBatches := r.MaxPushBatches
	if maxBatches <= 0 {
		maxBatches = 100
	}
	stored, err := r.Positions.GetWatermark(ctx, entityType, partition)
	if err != nil {
		return counts, err
	}
	persisted := models.UpdateWatermark{EntityType: entityType, PartitionID: partition}
	if stored != nil {
		persisted = *stored
	}
	scan := persisted
	failed := false

	for batch := 0; batch < maxBatches; batch++ {
		items, err := s.Window(ctx, partition, scan, size)
		if err != nil {
			return counts, err
		}
		if len(items) == 0 {
			break
		}
		results := s.Push(ctx, partition, items)
		now := r.now()

		var advance *strategy.PushResult
		if !failed {
			advance = strategy.WatermarkAfter(results)
		}
		var batchCounts models.StrategyCounts
		var created []models.SyncError
		var transientErr error
		err = r.Positions.InTx(ctx, func(tx *gorm.DB) error {
			batchCounts = models.StrategyCounts{}
			created = created[:0]
			transientErr = nil
			if err := s.MarkPushedTx(ctx, tx, results, now); err != nil {
				return err
			}
			for _, res := range results {
				n, err := r.settlePush(ctx, tx, s, partition, res, now)
				if err != nil {
					return err
				}
				if n != nil {
					created = append(created, *n)
				}
				switch {
				case res.OK:
					batchCounts.Processed++
				case res.Transient:
					transientErr = res.Err
				default:
					batchCounts.Errored++
				}
			}
			if advance == nil || advance.ChangedAt == nil {
				return nil
			}
			next := persisted
			next.LatestSourceUpdatedAt = advance.ChangedAt
			next.LatestEntityID = advance.EntityID
			next.LastAttemptAt = &now
			next.LastError = nil
			return r.Positions.SaveWatermarkTx(ctx, tx, &next)
		})
		if err != nil {
			r.markWatermarkAttempt(ctx, entityType, partition, now, err)
			return counts, err
		}
		counts.Add(batchCounts)
		r.Errors.NotifyCreated(ctx, created)
		if advance != nil && advance.ChangedAt != nil {
			persisted.LatestSourceUpdatedAt = advance.ChangedAt
			persisted.LatestEntityID = advance.EntityID
		}
		if len(results) < len(items) || batchCounts.Processed < len(results) {
			failed = true
		}
		if transientErr != nil {
			r.markWatermarkAttempt(ctx, entityType, partition, now, transientErr)
			return counts, transientErr
		}
		last := items[len(items)-1]
		scan.LatestSourceUpdatedAt = last.ChangedAt
		scan.LatestEntityID = last.EntityID
		if len(items) < size || last.ChangedAt == nil {
			break
		}
	}
	return counts, nil
}

// settlePush resolves or records the error row for one push result and
// returns the error when it was newly created.
func (r *StrategyRunner) settlePush(ctx context.Context, tx *gorm.DB, s strategy.Strategy, partition string, res strategy.PushResult, now time.Time) (*models.SyncError, error) {
	entityID := idString(res.EntityID)
	if res.OK {
		key := models.SyncErrorKey{EntityType: s.EntityType(), EntityID: entityID, StrategyName: s.Name(), Direction: models.DirectionPush}
		return nil, r.Errors.ResolveTx(ctx, tx, key, now)
	}
	if res.Transient {
		return nil, nil
	}
	item := r.syncError(s, partition, models.DirectionPush, entityID, strPtr(res.ExternalID), res.Err, now)
	isNew, err := r.Errors.RecordTx(ctx, tx, &item)
	if err != nil || !isNew {
		return nil, err
	}
	return &item, nil
}

// PushOne pushes a single local entity outside of any window. Watermarks
// are left alone; the row's needs_resync flag decides whether the next run
// sees it again. A row waiting for a pull is skipped.
func (r *StrategyRunner) PushOne(ctx context.Context, s strategy.Strategy, id uint64) (models.StrategyCounts, error) {
	var counts models.StrategyCounts
	item, err := s.Load(ctx, id)
	if err != nil {
		return counts, err
	}
	if item.AwaitingPull {
		counts.Skipped++
		return counts, nil
	}
	results := s.Push(ctx, "", []strategy.PushItem{item})
	now := r.now()
	var created []models.SyncError
	err = r.Positions.InTx(ctx, func(tx *gorm.DB) error {
		created = created[:0]
		if err := s.MarkPushedTx(ctx, tx, results, now); err != nil {
			return err
		}
		for _, res := range results {
			n, err := r.settlePush(ctx, tx, s, models.DefaultPartition, res, now)
			if err != nil {
				return err
			}
			if n != nil {
				created = append(created, *n)
			}
		}
		return nil
	})
	if err != nil {
		return counts, err
	}
	r.Errors.NotifyCreated(ctx, created)
	for _, res := range results {
		switch {
		case res.OK:
			counts.Processed++
		case res.Transient:
			return counts, res.Err
		default:
			counts.Errored++
		}
	}
	return counts, nil
}

func (r *StrategyRunner) syncError(s strategy.Strategy, partition, direction, entityID string, externalID *string, cause error, now time.Time) models.SyncError {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return models.SyncError{
		EntityType:   s.EntityType(),
		EntityID:     entityID,
		StrategyName: s.Name(),
		Direction:    direction,
		ExternalID:   externalID,
		PartitionID:  partition,
		Message:      msg,
		Occurrences:  1,
		FirstSeenAt:  now,
		LastSeenAt:   now,
	}
}

func (r *StrategyRunner) markCursorAttempt(ctx context.Context, entityType, partition string, at time.Time, cause error) {
	msg := truncate(cause.Error())
	if err := r.Positions.MarkCursorAttempt(context.WithoutCancel(ctx), entityType, partition, at, &msg); err != nil && r.Logger != nil {
		r.Logger.Warn("record cursor attempt failed", zap.String("entity_type", entityType), zap.Error(err))
	}
}

func (r *StrategyRunner) markWatermarkAttempt(ctx context.Context, entityType, partition string, at time.Time, cause error) {
	msg := truncate(cause.Error())
	if err := r.Positions.MarkWatermarkAttempt(context.WithoutCancel(ctx), entityType, partition, at, &msg); err != nil && r.Logger != nil {
		r.Logger.Warn("record watermark attempt failed", zap.String("entity_type", entityType), zap.Error(err))
	}
}
