package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "completed_with_errors"
	RunStatusAborted   = "aborted"
)

// SyncAggregateRun is the summary of one orchestrated run across strategies.
type SyncAggregateRun struct {
	ID          string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TriggeredBy string         `gorm:"type:varchar(32);not null" json:"triggered_by"`
	Selection   datatypes.JSON `json:"selection"`
	Status      string         `gorm:"type:varchar(32);not null;index" json:"status"`
	Stats       datatypes.JSON `json:"stats"`
	Error       *string        `gorm:"type:text" json:"error,omitempty"`
	StartedAt   time.Time      `gorm:"not null;index" json:"started_at"`
	FinishedAt  *time.Time     `gorm:"index" json:"finished_at,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (SyncAggregateRun) TableName() string {
	return "sync_aggregate_runs"
}

// StrategyCounts is the per-strategy block stored in SyncAggregateRun.Stats.
type StrategyCounts struct {
	Processed int `json:"processed"`
	Errored   int `json:"errored"`
	Skipped   int `json:"skipped"`
}

func (c *StrategyCounts) Add(other StrategyCounts) {
	c.Processed += other.Processed
	c.Errored += other.Errored
	c.Skipped += other.Skipped
}

// SyncStatus is the durable "a run is active" marker shared by every worker.
type SyncStatus struct {
	Name        string         `gorm:"primaryKey;type:varchar(64)" json:"name"`
	Running     bool           `gorm:"not null;default:false" json:"running"`
	RunID       *string        `gorm:"type:varchar(36)" json:"run_id,omitempty"`
	Owner       *string        `gorm:"type:varchar(128)" json:"owner,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	HeartbeatAt *time.Time     `json:"heartbeat_at,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	Progress    datatypes.JSON `json:"progress,omitempty"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SyncStatus) TableName() string {
	return "sync_status"
}

type SyncProgress struct {
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Current   []string `json:"current"`
}
