package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"crmsync/internal/client/crm"
	"crmsync/internal/models"
	"crmsync/internal/repository"
)

type WebhookAPI interface {
	CreateWebhook(ctx context.Context, in crm.WebhookInput) (string, error)
	UpdateWebhookSecret(ctx context.Context, id, secret string) error
}

// SubscriptionService registers this service's receiver with the CRM and
// rotates signing secrets.
type SubscriptionService struct {
	Repo          repository.WebhookRepository
	API           WebhookAPI
	Logger        *zap.Logger
	PublicBaseURL string
	Events        []string
	RotationGrace time.Duration
	Now           func() time.Time
}

type RegisterInput struct {
	Events []string `json:"events"`
}

func (s *SubscriptionService) now() time.Time {
	return clock(s.Now).now()
}

func (s *SubscriptionService) List(ctx context.Context) ([]models.WebhookSubscription, error) {
	return s.Repo.ListWebhookSubscriptions(ctx)
}

// Register creates the local subscription first so its id can be part of
// the receiver URL, then registers that URL with the CRM. A CRM failure
// leaves the subscription inactive.
func (s *SubscriptionService) Register(ctx context.Context, in RegisterInput) (*models.WebhookSubscription, error) {
	base := strings.TrimRight(strings.TrimSpace(s.PublicBaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("%w: webhook public base url is not configured", ErrInvalidInput)
	}
	events := cleanEventNames(in.Events)
	if len(events) == 0 {
		events = cleanEventNames(s.Events)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: no events to subscribe", ErrInvalidInput)
	}
	secret, err := NewSigningSecret()
	if err != nil {
		return nil, err
	}
	names, _ := json.Marshal(events)
	sub := &models.WebhookSubscription{
		EndpointURL:   base + "/webhooks/crm/pending",
		SigningSecret: secret,
		EventNames:    datatypes.JSON(names),
		Active:        false,
	}
	if err := s.Repo.CreateWebhookSubscription(ctx, sub); err != nil {
		return nil, err
	}
	sub.EndpointURL = fmt.Sprintf("%s/webhooks/crm/%d", base, sub.ID)
	if s.API != nil {
		externalID, err := s.API.CreateWebhook(ctx, crm.WebhookInput{URL: sub.EndpointURL, Events: events, Secret: secret})
		if err != nil {
			if serr := s.Repo.SaveWebhookSubscription(ctx, sub); serr != nil && s.Logger != nil {
				s.Logger.Warn("save inactive subscription failed", zap.Uint64("subscription_id", sub.ID), zap.Error(serr))
			}
			return nil, fmt.Errorf("register webhook with crm: %w", err)
		}
		sub.ExternalID = strPtr(externalID)
	}
	sub.Active = true
	if err := s.Repo.SaveWebhookSubscription(ctx, sub); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("webhook subscription registered", zap.Uint64("subscription_id", sub.ID), zap.Strings("events", events))
	}
	return sub, nil
}

// Rotate issues a new secret. Deliveries signed with the old one are still
// accepted until RotationGrace has passed.
func (s *SubscriptionService) Rotate(ctx context.Context, id uint64) (*models.WebhookSubscription, error) {
	sub, err := s.Repo.GetWebhookSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNotFound
	}
	secret, err := NewSigningSecret()
	if err != nil {
		return nil, err
	}
	if s.API != nil && sub.ExternalID != nil {
		if err := s.API.UpdateWebhookSecret(ctx, *sub.ExternalID, secret); err != nil {
			return nil, fmt.Errorf("rotate webhook secret with crm: %w", err)
		}
	}
	grace := s.RotationGrace
	if grace <= 0 {
		grace = 24 * time.Hour
	}
	now := s.now()
	prev := sub.SigningSecret
	expires := now.Add(grace)
	sub.PreviousSecret = &prev
	sub.PreviousSecretExpiresAt = &expires
	sub.SigningSecret = secret
	sub.RotatedAt = &now
	if err := s.Repo.SaveWebhookSubscription(ctx, sub); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("webhook secret rotated", zap.Uint64("subscription_id", sub.ID), zap.Time("previous_expires_at", expires))
	}
	return sub, nil
}

func NewSigningSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func cleanEventNames(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, ev := range in {
		ev = strings.ToLower(strings.TrimSpace(ev))
		if ev == "" || seen[ev] {
			continue
		}
		seen[ev] = true
		out = append(out, ev)
	}
	return out
}
