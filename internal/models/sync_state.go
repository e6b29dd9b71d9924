package models

import (
	"time"
)

// SyncCursor is the last opaque pagination cursor the remote API returned
// for one entity type and partition.
type SyncCursor struct {
	EntityType    string     `gorm:"primaryKey;type:varchar(64);comment:entity type"`
	PartitionID   string     `gorm:"primaryKey;type:varchar(64);comment:organizational unit"`
	Cursor        *string    `gorm:"type:text;comment:remote pagination cursor"`
	PagesApplied  int64      `gorm:"not null;default:0;comment:pages applied since creation"`
	LastSuccessAt *time.Time `gorm:"comment:last page applied"`
	LastAttemptAt *time.Time `gorm:"comment:last pull attempt"`
	LastError     *string    `gorm:"type:text;comment:last transient failure"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"`
}

func (SyncCursor) TableName() string {
	return "sync_cursors"
}

// UpdateWatermark is the keyset position of the last local change known to
// be pushed. LatestEntityID breaks ties between rows sharing a timestamp.
type UpdateWatermark struct {
	EntityType            string     `gorm:"primaryKey;type:varchar(64);comment:entity type"`
	PartitionID           string     `gorm:"primaryKey;type:varchar(64);comment:organizational unit"`
	LatestSourceUpdatedAt *time.Time `gorm:"comment:changed_at of last pushed row"`
	LatestEntityID        uint64     `gorm:"not null;default:0;comment:id of last pushed row"`
	LastAttemptAt         *time.Time `gorm:"comment:last push attempt"`
	LastError             *string    `gorm:"type:text;comment:last transient failure"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime"`
}

func (UpdateWatermark) TableName() string {
	return "sync_watermarks"
}

// After reports whether the keyset position (ts, id) lies strictly beyond w.
func (w UpdateWatermark) After(ts time.Time, id uint64) bool {
	if w.LatestSourceUpdatedAt == nil {
		return true
	}
	if ts.After(*w.LatestSourceUpdatedAt) {
		return true
	}
	return ts.Equal(*w.LatestSourceUpdatedAt) && id > w.LatestEntityID
}
