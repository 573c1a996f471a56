package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreateAutomationRequest registers a new catalog entry.
type CreateAutomationRequest struct {
	Name          string   `json:"name" binding:"required"`
	Description   string   `json:"description"`
	ProvisionURL  string   `json:"provision_url"`
	HealthURL     string   `json:"health_url"`
	ServiceToken  string   `json:"service_token"`
	Capabilities  []string `json:"capabilities"`
	PricePerToken int64    `json:"price_per_token"`
}

type Service interface {
	Create(ctx context.Context, req CreateAutomationRequest) (*Automation, error)
	Get(ctx context.Context, id snowflake.ID) (*Automation, error)
	GetBySlug(ctx context.Context, slug string) (*Automation, error)
	List(ctx context.Context) ([]Automation, error)
	SetHealth(ctx context.Context, id snowflake.ID, status HealthStatus, at time.Time) error
}
