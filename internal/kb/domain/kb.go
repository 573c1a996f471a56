// Package domain defines the knowledge base passthrough contract. Zimmer
// stores no KB documents itself; calls are proxied to the automation service
// owning the integration.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotSupported   = errors.New("kb_not_supported")
	ErrNotProvisioned = errors.New("grant_not_provisioned")
)

// StatusResult mirrors the automation's KB report.
type StatusResult struct {
	Status         string `json:"status"`
	LastUpdated    string `json:"last_updated,omitempty"`
	TotalDocuments int64  `json:"total_documents"`
	Healthy        bool   `json:"healthy"`
}

// Request addresses one integration's knowledge base.
type Request struct {
	GrantID snowflake.ID
	ActorID snowflake.ID
	IsAdmin bool
}

type Service interface {
	Status(ctx context.Context, req Request) (*StatusResult, error)
	Reset(ctx context.Context, req Request) error
}
