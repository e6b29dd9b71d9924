package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"crmsync/internal/models"
	"crmsync/internal/repository"
	"crmsync/internal/webhook"
)

type Delivery struct {
	SubscriptionID uint64
	Body           []byte
	Signature      string
	DeliveryID     string
}

type IngestResult struct {
	EventID   uint64 `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// WebhookIngestService verifies and durably records deliveries, then runs
// the handler registry off the request path.
type WebhookIngestService struct {
	Repo        repository.WebhookRepository
	Handlers    *webhook.Registry
	Workers     Submitter
	Logger      *zap.Logger
	StaleAfter  time.Duration
	MaxAttempts int
	DrainBatch  int
	Now         func() time.Time
}

func (s *WebhookIngestService) now() time.Time {
	return clock(s.Now).now()
}

func (s *WebhookIngestService) staleAfter() time.Duration {
	if s.StaleAfter > 0 {
		return s.StaleAfter
	}
	return 2 * time.Minute
}

// Ingest returns ErrNotFound for unknown or inactive subscriptions,
// webhook.ErrRejected for bad signatures and webhook.ErrInvalidPayload for
// bodies that verify but do not decode. A redelivery is acknowledged without
// dispatching again.
func (s *WebhookIngestService) Ingest(ctx context.Context, d Delivery) (IngestResult, error) {
	sub, err := s.Repo.GetWebhookSubscription(ctx, d.SubscriptionID)
	if err != nil {
		return IngestResult{}, err
	}
	if sub == nil || !sub.Active {
		return IngestResult{}, ErrNotFound
	}
	now := s.now()
	ev, err := webhook.Verify(webhook.Secrets(sub, now), d.Body, d.Signature)
	if err != nil {
		return IngestResult{}, err
	}
	record := &models.WebhookEvent{
		SubscriptionID: sub.ID,
		DedupeKey:      webhook.DedupeKey(d.DeliveryID, ev),
		EventName:      ev.Name,
		EventTime:      ev.Time,
		Payload:        datatypes.JSON(d.Body),
		ReceivedAt:     now,
	}
	inserted, err := s.Repo.InsertWebhookEventIfAbsent(ctx, record)
	if err != nil {
		return IngestResult{}, err
	}
	if !inserted {
		return IngestResult{Duplicate: true}, nil
	}
	s.dispatch(record.ID)
	return IngestResult{EventID: record.ID}, nil
}

func (s *WebhookIngestService) dispatch(id uint64) {
	if s.Workers == nil {
		return
	}
	err := s.Workers.Submit(fmt.Sprintf("webhook:%d", id), func(ctx context.Context) {
		if err := s.Process(ctx, id); err != nil && s.Logger != nil {
			s.Logger.Warn("webhook event failed", zap.Uint64("event_id", id), zap.Error(err))
		}
	})
	if err != nil && s.Logger != nil {
		s.Logger.Warn("webhook dispatch deferred to drain", zap.Uint64("event_id", id), zap.Error(err))
	}
}

// Process claims the event and runs its handlers. An event already claimed
// by another worker is left alone.
func (s *WebhookIngestService) Process(ctx context.Context, id uint64) error {
	now := s.now()
	claimed, err := s.Repo.ClaimWebhookEvent(ctx, id, now, now.Add(-s.staleAfter()))
	if err != nil || !claimed {
		return err
	}
	record, err := s.Repo.GetWebhookEvent(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrNotFound
	}
	ev, err := webhook.Parse(record.Payload)
	if err == nil {
		var n int
		n, err = s.Handlers.Dispatch(ctx, ev)
		if err == nil && n == 0 && s.Logger != nil {
			s.Logger.Debug("no handler for webhook event", zap.String("event", ev.Name))
		}
	}
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if ferr := s.Repo.FailWebhookEvent(bg, id, truncate(err.Error())); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	return s.Repo.CompleteWebhookEvent(bg, id, s.now())
}

// DrainPending re-processes events that were acknowledged but never
// completed, up to MaxAttempts each.
func (s *WebhookIngestService) DrainPending(ctx context.Context) (int, error) {
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	batch := s.DrainBatch
	if batch <= 0 {
		batch = 100
	}
	pending, err := s.Repo.ListPendingWebhookEvents(ctx, s.now().Add(-s.staleAfter()), maxAttempts, batch)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, ev := range pending {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := s.Process(ctx, ev.ID); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("drained webhook event failed", zap.Uint64("event_id", ev.ID), zap.Int("attempts", ev.Attempts+1), zap.Error(err))
			}
			continue
		}
		done++
	}
	return done, nil
}
