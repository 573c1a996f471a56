// Package domain contains the automation catalog types. An automation is an
// external service users subscribe to; the row carries everything the
// gateway needs to provision and probe it.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// HealthStatus is the prober's last verdict on an automation service.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Capability names an optional feature an automation service exposes.
const (
	CapabilityKnowledgeBase = "kb"
)

// Automation is a catalog entry for one external automation service.
type Automation struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	Slug        string       `gorm:"type:text;not null;uniqueIndex:uq_automations_slug" json:"slug"`
	Description string       `gorm:"type:text;not null;default:''" json:"description"`

	// ProvisionURL is the base URL of the automation's internal API. Empty
	// means the service is not yet deployed; provisioning fails fast
	// without any network call.
	ProvisionURL string `gorm:"type:text;not null;default:''" json:"provision_url"`
	HealthURL    string `gorm:"type:text;not null;default:''" json:"health_url"`

	// ServiceTokenHash is the sha256 hex of the shared secret expected in
	// the environment. The plaintext secret never touches the database.
	ServiceTokenHash string `gorm:"type:text;not null;default:''" json:"-"`

	Capabilities pq.StringArray `gorm:"type:text[]" json:"capabilities"`

	PricePerToken int64 `gorm:"not null;default:0" json:"price_per_token"`

	HealthStatus HealthStatus `gorm:"type:text;not null;default:'unknown'" json:"health_status"`
	LastHealthAt *time.Time   `json:"last_health_at"`

	IsListed  bool      `gorm:"not null;default:true" json:"is_listed"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Automation) TableName() string { return "automations" }

// HasCapability reports whether the automation advertises the capability.
func (a Automation) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}
