package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Account struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string  `gorm:"type:varchar(255);not null" json:"name"`
	Domain     *string `gorm:"type:varchar(255)" json:"domain,omitempty"`
	Industry   *string `gorm:"type:varchar(128)" json:"industry,omitempty"`
	OwnerEmail *string `gorm:"type:varchar(255)" json:"owner_email,omitempty"`
	SyncFields
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) EntityKey() uint64 { return a.ID }

func (a *Account) LastUpdated() time.Time { return a.UpdatedAt }

type Contact struct {
	ID                uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	FirstName         string  `gorm:"type:varchar(128)" json:"first_name"`
	LastName          string  `gorm:"type:varchar(128)" json:"last_name"`
	Email             *string `gorm:"type:varchar(255);index" json:"email,omitempty"`
	Phone             *string `gorm:"type:varchar(64)" json:"phone,omitempty"`
	AccountExternalID *string `gorm:"type:varchar(128);index" json:"account_external_id,omitempty"`
	SyncFields
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

func (c *Contact) EntityKey() uint64 { return c.ID }

func (c *Contact) LastUpdated() time.Time { return c.UpdatedAt }

type Opportunity struct {
	ID                uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string          `gorm:"type:varchar(255);not null" json:"name"`
	Stage             string          `gorm:"type:varchar(64);not null;default:'open';index" json:"stage"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"amount"`
	Currency          string          `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`
	CloseDate         *time.Time      `json:"close_date,omitempty"`
	AccountExternalID *string         `gorm:"type:varchar(128);index" json:"account_external_id,omitempty"`
	SyncFields
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Opportunity) TableName() string {
	return "opportunities"
}

func (o *Opportunity) EntityKey() uint64 { return o.ID }

func (o *Opportunity) LastUpdated() time.Time { return o.UpdatedAt }

type Task struct {
	ID                uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Subject           string     `gorm:"type:varchar(255);not null" json:"subject"`
	Status            string     `gorm:"type:varchar(32);not null;default:'open'" json:"status"`
	DueAt             *time.Time `json:"due_at,omitempty"`
	OwnerEmail        *string    `gorm:"type:varchar(255)" json:"owner_email,omitempty"`
	RelatedType       *string    `gorm:"type:varchar(64)" json:"related_type,omitempty"`
	RelatedExternalID *string    `gorm:"type:varchar(128);index" json:"related_external_id,omitempty"`
	SyncFields
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

func (t *Task) EntityKey() uint64 { return t.ID }

func (t *Task) LastUpdated() time.Time { return t.UpdatedAt }

// CustomField mirrors a custom field definition configured in the CRM.
type CustomField struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityKind string         `gorm:"type:varchar(64);not null;index" json:"entity_kind"`
	Key        string         `gorm:"type:varchar(128);not null" json:"key"`
	Label      string         `gorm:"type:varchar(255);not null" json:"label"`
	FieldType  string         `gorm:"type:varchar(32);not null" json:"field_type"`
	Options    datatypes.JSON `json:"options,omitempty"`
	SyncFields
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CustomField) TableName() string {
	return "custom_fields"
}

func (f *CustomField) EntityKey() uint64 { return f.ID }

func (f *CustomField) LastUpdated() time.Time { return f.UpdatedAt }
