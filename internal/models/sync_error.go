package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	DirectionPull = "pull"
	DirectionPush = "push"
)

// SyncError is one entity that failed to reconcile. ArchivedAt only hides the
// row from the active list; ResolvedAt is set once a later sync of the same
// entity succeeds. The two markers are independent.
type SyncError struct {
	ID           uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityType   string         `gorm:"type:varchar(64);not null;index:idx_sync_errors_key,priority:1" json:"entity_type"`
	EntityID     string         `gorm:"type:varchar(128);not null;index:idx_sync_errors_key,priority:2" json:"entity_id"`
	StrategyName string         `gorm:"type:varchar(64);not null;index:idx_sync_errors_key,priority:3" json:"strategy_name"`
	Direction    string         `gorm:"type:varchar(8);not null;index:idx_sync_errors_key,priority:4" json:"direction"`
	ExternalID   *string        `gorm:"type:varchar(128)" json:"external_id,omitempty"`
	PartitionID  string         `gorm:"type:varchar(64);not null;default:'default'" json:"partition_id"`
	Message      string         `gorm:"type:text;not null" json:"message"`
	Occurrences  int            `gorm:"not null;default:1" json:"occurrences"`
	FirstSeenAt  time.Time      `gorm:"not null" json:"first_seen_at"`
	LastSeenAt   time.Time      `gorm:"not null;index" json:"last_seen_at"`
	ArchivedAt   *time.Time     `gorm:"index" json:"archived_at,omitempty"`
	ResolvedAt   *time.Time     `gorm:"index" json:"resolved_at,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (SyncError) TableName() string {
	return "sync_errors"
}

func (e SyncError) Active() bool {
	return e.ArchivedAt == nil && e.ResolvedAt == nil
}

// SyncErrorKey identifies the entity and side of the sync an error belongs to.
type SyncErrorKey struct {
	EntityType   string
	EntityID     string
	StrategyName string
	Direction    string
}

func (e SyncError) Key() SyncErrorKey {
	return SyncErrorKey{
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		StrategyName: e.StrategyName,
		Direction:    e.Direction,
	}
}
