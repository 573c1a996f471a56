// Package domain contains the token purchase types.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the payment lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payment records one token purchase against a grant. Completed payments
// credit the grant's paid balance exactly once.
type Payment struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	UserAutomationID snowflake.ID `gorm:"not null;index" json:"user_automation_id"`

	Amount   int64  `gorm:"not null" json:"amount"`
	Currency string `gorm:"type:text;not null;default:'usd'" json:"currency"`
	Tokens   int64  `gorm:"not null" json:"tokens"`

	Provider    string  `gorm:"type:text;not null;default:'';uniqueIndex:uq_payments_provider_ref,priority:1" json:"provider"`
	ProviderRef *string `gorm:"type:text;uniqueIndex:uq_payments_provider_ref,priority:2" json:"provider_ref,omitempty"`

	Status Status            `gorm:"type:text;not null;default:'pending'" json:"status"`
	Meta   datatypes.JSONMap `gorm:"type:json" json:"meta,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }
