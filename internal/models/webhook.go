package models

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookSubscription struct {
	ID                      uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID              *string        `gorm:"type:varchar(128);uniqueIndex" json:"external_id,omitempty"`
	EndpointURL             string         `gorm:"type:text;not null" json:"endpoint_url"`
	SigningSecret           string         `gorm:"type:varchar(128);not null" json:"-"`
	PreviousSecret          *string        `gorm:"type:varchar(128)" json:"-"`
	PreviousSecretExpiresAt *time.Time     `json:"previous_secret_expires_at,omitempty"`
	EventNames              datatypes.JSON `json:"event_names"`
	Options                 datatypes.JSON `json:"options,omitempty"`
	Active                  bool           `gorm:"not null;default:false" json:"active"`
	RotatedAt               *time.Time     `json:"rotated_at,omitempty"`
	CreatedAt               time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WebhookSubscription) TableName() string {
	return "webhook_subscriptions"
}

// WebhookEvent is the durable record written before a delivery is acknowledged.
type WebhookEvent struct {
	ID                  uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID      uint64         `gorm:"not null;uniqueIndex:idx_webhook_events_dedupe,priority:1" json:"subscription_id"`
	DedupeKey           string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_webhook_events_dedupe,priority:2" json:"dedupe_key"`
	EventName           string         `gorm:"type:varchar(128);not null;index" json:"event_name"`
	EventTime           *time.Time     `json:"event_time,omitempty"`
	Payload             datatypes.JSON `json:"payload"`
	ReceivedAt          time.Time      `gorm:"not null;index" json:"received_at"`
	ProcessingStartedAt *time.Time     `json:"processing_started_at,omitempty"`
	ProcessedAt         *time.Time     `gorm:"index" json:"processed_at,omitempty"`
	Attempts            int            `gorm:"not null;default:0" json:"attempts"`
	LastError           *string        `gorm:"type:text" json:"last_error,omitempty"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
