// Package domain defines the provisioning gateway contract: activating a
// grant against its external automation service.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrAlreadyActive        = errors.New("grant_already_active")
	ErrProvisionInProgress  = errors.New("provision_in_progress")
	ErrServiceNotConfigured = errors.New("automation_service_not_configured")
	ErrServiceTokenMissing  = errors.New("service_token_missing")
	ErrServiceTokenMismatch = errors.New("service_token_mismatch")
	ErrProvisionFailed      = errors.New("provision_failed")
	ErrNotGrantOwner        = errors.New("not_grant_owner")
)

// ProvisionRequest activates one grant.
type ProvisionRequest struct {
	GrantID snowflake.ID
	// ActorID is the authenticated user; a non-admin can only provision
	// their own grants.
	ActorID snowflake.ID
	IsAdmin bool
}

// ProvisionResult reports the post-handshake grant state.
type ProvisionResult struct {
	Status     string `json:"status"`
	ServiceURL string `json:"service_url,omitempty"`
	Message    string `json:"message,omitempty"`
}

type Service interface {
	Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error)
}
