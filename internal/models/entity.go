package models

import "time"

const DefaultPartition = "default"

// SyncFields is embedded by every local entity the sync engine reconciles.
// ChangedAt is nil until the application marks a local change; only rows
// with a ChangedAt take part in push windows.
//
// NeedsPull marks a row whose CRM copy changed (webhook touch). The next
// pull overwrites it unconditionally and push windows skip it until then.
type SyncFields struct {
	ExternalID      *string    `gorm:"type:varchar(128);uniqueIndex" json:"external_id,omitempty"`
	PartitionID     string     `gorm:"type:varchar(64);not null;default:'default';index" json:"partition_id"`
	RemoteUpdatedAt *time.Time `json:"remote_updated_at,omitempty"`
	ChangedAt       *time.Time `gorm:"index" json:"changed_at,omitempty"`
	NeedsResync     bool       `gorm:"not null;default:false;index" json:"needs_resync"`
	NeedsPull       bool       `gorm:"not null;default:false" json:"needs_pull"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
}

func (f *SyncFields) Fields() *SyncFields {
	return f
}

// Syncable is implemented by pointers to the entity models.
type Syncable interface {
	TableName() string
	EntityKey() uint64
	LastUpdated() time.Time
	Fields() *SyncFields
}
