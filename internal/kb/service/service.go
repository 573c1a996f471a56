// Package service proxies knowledge base calls to automation services that
// advertise the kb capability.
package service

import (
	"context"
	"os"

	"github.com/zimmerhq/zimmer/internal/automationclient"
	automationdomain "github.com/zimmerhq/zimmer/internal/automation/domain"
	"github.com/zimmerhq/zimmer/internal/config"
	"github.com/zimmerhq/zimmer/internal/kb/domain"
	ledgerdomain "github.com/zimmerhq/zimmer/internal/ledger/domain"
	provisioningdomain "github.com/zimmerhq/zimmer/internal/provisioning/domain"
)

// KBClient is the slice of the automation client the proxy needs.
type KBClient interface {
	KBStatus(ctx context.Context, userAutomationID string) (*automationclient.KBStatus, error)
	KBReset(ctx context.Context, userAutomationID string) error
}

// ClientFactory builds a KB client for one automation deployment.
type ClientFactory func(baseURL, serviceToken string) (KBClient, error)

// DefaultClientFactory wires the real HTTP client.
func DefaultClientFactory(cfg config.Config) ClientFactory {
	return func(baseURL, serviceToken string) (KBClient, error) {
		return automationclient.New(baseURL, serviceToken, cfg.ProvisionTimeout)
	}
}

type service struct {
	ledger      ledgerdomain.Service
	automations automationdomain.Service
	newClient   ClientFactory
	secret      func(key string) string
}

// New constructs the KB proxy.
func New(
	ledger ledgerdomain.Service,
	automations automationdomain.Service,
	factory ClientFactory,
) domain.Service {
	return &service{
		ledger:      ledger,
		automations: automations,
		newClient:   factory,
		secret:      os.Getenv,
	}
}

func (s *service) Status(ctx context.Context, req domain.Request) (*domain.StatusResult, error) {
	client, grant, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	status, err := client.KBStatus(ctx, grant.ID.String())
	if err != nil {
		return nil, err
	}
	return &domain.StatusResult{
		Status:         status.Status,
		LastUpdated:    status.LastUpdated,
		TotalDocuments: status.TotalDocuments,
		Healthy:        status.Healthy,
	}, nil
}

func (s *service) Reset(ctx context.Context, req domain.Request) error {
	client, grant, err := s.resolve(ctx, req)
	if err != nil {
		return err
	}
	return client.KBReset(ctx, grant.ID.String())
}

// resolve loads the grant, enforces ownership and capability, and builds a
// client against the owning automation.
func (s *service) resolve(ctx context.Context, req domain.Request) (KBClient, *ledgerdomain.UserAutomationGrant, error) {
	grant, err := s.ledger.GetGrant(ctx, req.GrantID)
	if err != nil {
		return nil, nil, err
	}
	if !req.IsAdmin && grant.UserID != req.ActorID {
		return nil, nil, provisioningdomain.ErrNotGrantOwner
	}
	if grant.IntegrationStatus != ledgerdomain.IntegrationActive {
		return nil, nil, domain.ErrNotProvisioned
	}

	automation, err := s.automations.Get(ctx, grant.AutomationID)
	if err != nil {
		return nil, nil, err
	}
	if !automation.HasCapability(automationdomain.CapabilityKnowledgeBase) {
		return nil, nil, domain.ErrNotSupported
	}
	if automation.ProvisionURL == "" {
		return nil, nil, provisioningdomain.ErrServiceNotConfigured
	}

	token := s.secret(config.ServiceTokenEnv(int64(automation.ID)))
	if token == "" {
		return nil, nil, provisioningdomain.ErrServiceTokenMissing
	}

	client, err := s.newClient(automation.ProvisionURL, token)
	if err != nil {
		return nil, nil, err
	}
	return client, grant, nil
}
