// Package service manages the automation catalog.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/lib/pq"

	"github.com/zimmerhq/zimmer/internal/automation/domain"
	"github.com/zimmerhq/zimmer/internal/clock"
	"github.com/zimmerhq/zimmer/pkg/db"
	"github.com/zimmerhq/zimmer/pkg/repository"
)

type service struct {
	automations repository.Repository[domain.Automation]
	node        *snowflake.Node
	clock       clock.Clock
}

// New constructs the catalog service.
func New(
	automations repository.Repository[domain.Automation],
	node *snowflake.Node,
	clk clock.Clock,
) domain.Service {
	return &service{automations: automations, node: node, clock: clk}
}

// HashServiceToken is the digest stored for shared-secret verification.
func HashServiceToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *service) Create(ctx context.Context, req domain.CreateAutomationRequest) (*domain.Automation, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidAutomation
	}

	now := s.clock.Now()
	automation := &domain.Automation{
		ID:            s.node.Generate(),
		Name:          name,
		Slug:          slug.Make(name),
		Description:   strings.TrimSpace(req.Description),
		ProvisionURL:  strings.TrimRight(strings.TrimSpace(req.ProvisionURL), "/"),
		HealthURL:     strings.TrimSpace(req.HealthURL),
		Capabilities:  pq.StringArray(req.Capabilities),
		PricePerToken: req.PricePerToken,
		HealthStatus:  domain.HealthUnknown,
		IsListed:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.ServiceToken != "" {
		automation.ServiceTokenHash = HashServiceToken(req.ServiceToken)
	}

	if err := s.automations.Create(ctx, automation); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAutomationExists
		}
		return nil, err
	}
	return automation, nil
}

func (s *service) Get(ctx context.Context, id snowflake.ID) (*domain.Automation, error) {
	automation, err := s.automations.FindOne(ctx, &domain.Automation{ID: id})
	if err != nil {
		return nil, err
	}
	if automation == nil {
		return nil, domain.ErrAutomationNotFound
	}
	return automation, nil
}

func (s *service) GetBySlug(ctx context.Context, slugVal string) (*domain.Automation, error) {
	automation, err := s.automations.FindOne(ctx, &domain.Automation{Slug: slugVal})
	if err != nil {
		return nil, err
	}
	if automation == nil {
		return nil, domain.ErrAutomationNotFound
	}
	return automation, nil
}

func (s *service) List(ctx context.Context) ([]domain.Automation, error) {
	rows, err := s.automations.Find(ctx, &domain.Automation{IsListed: true})
	if err != nil {
		return nil, err
	}
	automations := make([]domain.Automation, 0, len(rows))
	for _, row := range rows {
		automations = append(automations, *row)
	}
	return automations, nil
}

func (s *service) SetHealth(ctx context.Context, id snowflake.ID, status domain.HealthStatus, at time.Time) error {
	return s.automations.Update(ctx, id.String(), map[string]any{
		"health_status":  status,
		"last_health_at": at,
		"updated_at":     s.clock.Now(),
	})
}
