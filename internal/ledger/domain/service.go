package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ConsumeRequest asks the ledger to debit units from a grant.
type ConsumeRequest struct {
	GrantID   snowflake.ID   `json:"user_automation_id"`
	Units     int64          `json:"units"`
	UsageType string         `json:"usage_type"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// ConsumeResult reports the outcome of a debit attempt. A rejected attempt
// is not an error: Accepted is false and balances are unchanged.
type ConsumeResult struct {
	Accepted            bool   `json:"accepted"`
	RemainingDemoTokens int64  `json:"remaining_demo_tokens"`
	RemainingPaidTokens int64  `json:"remaining_paid_tokens"`
	Message             string `json:"message,omitempty"`
}

// CreateGrantRequest opens a new grant for a user on an automation.
type CreateGrantRequest struct {
	UserID       snowflake.ID `json:"user_id"`
	AutomationID snowflake.ID `json:"automation_id"`
	BotToken     *string      `json:"bot_token,omitempty"`

	// DemoTokens overrides the configured demo allotment when set.
	DemoTokens *int64 `json:"demo_tokens,omitempty"`
}

// ListEventsRequest pages through a grant's usage history, newest first.
type ListEventsRequest struct {
	GrantID   snowflake.ID
	PageSize  int
	PageToken string
}

type Service interface {
	Consume(ctx context.Context, req ConsumeRequest) (ConsumeResult, error)
	CreateGrant(ctx context.Context, req CreateGrantRequest) (*UserAutomationGrant, error)
	CreditPaid(ctx context.Context, grantID snowflake.ID, tokens int64) (*UserAutomationGrant, error)

	// CreditPaidTx credits inside a caller-owned transaction so the caller
	// can settle related rows and the credit atomically.
	CreditPaidTx(ctx context.Context, tx *gorm.DB, grantID snowflake.ID, tokens int64) (*UserAutomationGrant, error)
	GetGrant(ctx context.Context, id snowflake.ID) (*UserAutomationGrant, error)
	ListGrantsByUser(ctx context.Context, userID snowflake.ID) ([]UserAutomationGrant, error)
	ListEvents(ctx context.Context, req ListEventsRequest) ([]UsageEvent, string, error)
}
