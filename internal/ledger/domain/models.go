// Package domain contains the token ledger models: per-user automation grants
// and the append-only usage event log.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// IntegrationStatus tracks the provisioning handshake outcome for a grant.
type IntegrationStatus string

const (
	IntegrationPending      IntegrationStatus = "pending"
	IntegrationProvisioning IntegrationStatus = "provisioning"
	IntegrationActive       IntegrationStatus = "active"
	IntegrationFailed       IntegrationStatus = "failed"
)

// UserAutomationGrant is the per-user, per-automation subscription record.
// Balances on this row are only ever mutated by the ledger service; grants
// are deactivated, never deleted, so payment and usage history stays intact.
type UserAutomationGrant struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID       snowflake.ID `gorm:"not null;uniqueIndex:uq_user_automation,priority:1" json:"user_id"`
	AutomationID snowflake.ID `gorm:"not null;uniqueIndex:uq_user_automation,priority:2" json:"automation_id"`

	DemoTokens int64 `gorm:"not null;default:0" json:"demo_tokens"`
	PaidTokens int64 `gorm:"not null;default:0" json:"paid_tokens"`

	IsDemoActive bool `gorm:"not null;default:true" json:"is_demo_active"`
	DemoExpired  bool `gorm:"not null;default:false" json:"demo_expired"`

	IntegrationStatus IntegrationStatus `gorm:"type:text;not null;default:'pending'" json:"integration_status"`
	ProvisionedAt     *time.Time        `json:"provisioned_at"`
	ServiceURL        *string           `gorm:"type:text" json:"service_url,omitempty"`

	// BotToken is the external bot credential. Unique platform-wide: two
	// grants can never register the same bot.
	BotToken *string `gorm:"type:text;uniqueIndex:uq_user_automations_bot_token" json:"bot_token,omitempty"`

	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (UserAutomationGrant) TableName() string { return "user_automations" }

// TotalTokens is the combined spendable balance.
func (g UserAutomationGrant) TotalTokens() int64 {
	return g.DemoTokens + g.PaidTokens
}

// UsageEvent is one immutable ledger entry. The sum of Units over a grant's
// events always equals its initial allotment minus its current balance.
type UsageEvent struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	GrantID   snowflake.ID      `gorm:"not null;index" json:"grant_id"`
	Units     int64             `gorm:"not null" json:"units"`
	UsageType string            `gorm:"type:text;not null" json:"usage_type"`
	Meta      datatypes.JSONMap `gorm:"type:json" json:"meta,omitempty"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
