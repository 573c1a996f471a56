package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// CreatePaymentRequest opens a pending purchase for a grant.
type CreatePaymentRequest struct {
	UserAutomationID snowflake.ID `json:"user_automation_id"`
	Amount           int64        `json:"amount"`
	Currency         string       `json:"currency"`
	Tokens           int64        `json:"tokens"`
	Provider         string       `json:"provider"`
	ProviderRef      *string      `json:"provider_ref,omitempty"`
}

// CallbackRequest is the provider's settlement notification.
type CallbackRequest struct {
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref"`
	Succeeded   bool   `json:"succeeded"`
}

type Service interface {
	Create(ctx context.Context, req CreatePaymentRequest) (*Payment, error)
	HandleCallback(ctx context.Context, req CallbackRequest) (*Payment, error)
	Get(ctx context.Context, id snowflake.ID) (*Payment, error)
	ListByGrant(ctx context.Context, grantID snowflake.ID) ([]Payment, error)
}
