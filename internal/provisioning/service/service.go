// Package service implements the provisioning handshake. The shared secret
// is verified against the catalog hash before any network traffic; a
// mismatch never reaches the automation service.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zimmerhq/zimmer/internal/automationclient"
	automationdomain "github.com/zimmerhq/zimmer/internal/automation/domain"
	"github.com/zimmerhq/zimmer/internal/clock"
	"github.com/zimmerhq/zimmer/internal/config"
	ledgerdomain "github.com/zimmerhq/zimmer/internal/ledger/domain"
	"github.com/zimmerhq/zimmer/internal/observability/logger"
	"github.com/zimmerhq/zimmer/internal/observability/metrics"
	"github.com/zimmerhq/zimmer/internal/provisioning/domain"
	"github.com/zimmerhq/zimmer/pkg/db"
)

// AutomationAPI is the slice of the automation client the gateway needs.
type AutomationAPI interface {
	Provision(ctx context.Context, req automationclient.ProvisionRequest) (*automationclient.ProvisionResponse, error)
}

// ClientFactory builds a client for one automation deployment.
type ClientFactory func(baseURL, serviceToken string) (AutomationAPI, error)

// DefaultClientFactory wires the real HTTP client with the configured
// handshake timeout.
func DefaultClientFactory(cfg config.Config) ClientFactory {
	return func(baseURL, serviceToken string) (AutomationAPI, error) {
		return automationclient.New(baseURL, serviceToken, cfg.ProvisionTimeout)
	}
}

type service struct {
	db          *gorm.DB
	automations automationdomain.Service
	newClient   ClientFactory
	clock       clock.Clock
	metrics     *metrics.Metrics
	secret      func(key string) string
}

// New constructs the provisioning gateway.
func New(
	conn *gorm.DB,
	automations automationdomain.Service,
	factory ClientFactory,
	clk clock.Clock,
	m *metrics.Metrics,
) domain.Service {
	return &service{
		db:          conn,
		automations: automations,
		newClient:   factory,
		clock:       clk,
		metrics:     m,
		secret:      os.Getenv,
	}
}

// Provision runs the activation handshake for a grant. The grant moves to
// provisioning before the outbound call and settles on active or failed in a
// single transaction afterwards.
func (s *service) Provision(ctx context.Context, req domain.ProvisionRequest) (*domain.ProvisionResult, error) {
	log := logger.FromContext(ctx)

	// Claim the grant. The row lock plus the status write keeps two
	// concurrent requests from both reaching the network.
	var grant ledgerdomain.UserAutomationGrant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.LockForUpdate(tx).First(&grant, "id = ?", req.GrantID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ledgerdomain.ErrGrantNotFound
			}
			return err
		}
		if !req.IsAdmin && grant.UserID != req.ActorID {
			return domain.ErrNotGrantOwner
		}
		switch grant.IntegrationStatus {
		case ledgerdomain.IntegrationActive:
			return domain.ErrAlreadyActive
		case ledgerdomain.IntegrationProvisioning:
			return domain.ErrProvisionInProgress
		}
		return tx.Model(&ledgerdomain.UserAutomationGrant{}).
			Where("id = ?", grant.ID).
			Updates(map[string]any{
				"integration_status": ledgerdomain.IntegrationProvisioning,
				"updated_at":         s.clock.Now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}

	automation, err := s.automations.Get(ctx, grant.AutomationID)
	if err != nil {
		s.settle(ctx, grant.ID, ledgerdomain.IntegrationFailed, "")
		return nil, err
	}

	// Configuration gates, checked before any I/O.
	if automation.ProvisionURL == "" {
		s.settle(ctx, grant.ID, ledgerdomain.IntegrationFailed, "")
		s.metrics.RecordProvisionAttempt(ctx, "not_configured")
		return nil, domain.ErrServiceNotConfigured
	}
	serviceToken := s.secret(config.ServiceTokenEnv(int64(automation.ID)))
	if serviceToken == "" {
		s.settle(ctx, grant.ID, ledgerdomain.IntegrationFailed, "")
		s.metrics.RecordProvisionAttempt(ctx, "token_missing")
		return nil, domain.ErrServiceTokenMissing
	}
	if !verifyServiceToken(serviceToken, automation.ServiceTokenHash) {
		s.settle(ctx, grant.ID, ledgerdomain.IntegrationFailed, "")
		s.metrics.RecordProvisionAttempt(ctx, "token_mismatch")
		log.Warn("service token mismatch",
			zap.String("automation_id", automation.ID.String()),
		)
		return nil, domain.ErrServiceTokenMismatch
	}

	client, err := s.newClient(automation.ProvisionURL, serviceToken)
	if err != nil {
		s.settle(ctx, grant.ID, ledgerdomain.IntegrationFailed, "")
		return nil, err
	}

	payload := automationclient.ProvisionRequest{
		UserAutomationID: grant.ID.String(),
		UserID:           grant.UserID.String(),
		DemoTokens:       grant.DemoTokens,
	}
	if grant.BotToken != nil {
		payload.BotToken = *grant.BotToken
	}

	resp, err := client.Provision(ctx, payload)
	if err != nil || !resp.Success {
		s.settle(ctx, grant.ID, ledgerdomain.IntegrationFailed, "")
		s.metrics.RecordProvisionAttempt(ctx, "failed")
		if err != nil {
			log.Warn("provision handshake failed",
				zap.String("grant_id", grant.ID.String()),
				zap.Error(err),
			)
		}
		// Upstream detail stays out of the client-facing message.
		return &domain.ProvisionResult{
			Status:  string(ledgerdomain.IntegrationFailed),
			Message: "provisioning failed, please try again later",
		}, nil
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(&ledgerdomain.UserAutomationGrant{}).
			Where("id = ?", grant.ID).
			Updates(map[string]any{
				"integration_status": ledgerdomain.IntegrationActive,
				"provisioned_at":     now,
				"service_url":        resp.ServiceURL,
				"updated_at":         now,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordProvisionAttempt(ctx, "active")
	log.Info("grant provisioned",
		zap.String("grant_id", grant.ID.String()),
		zap.String("automation_id", automation.ID.String()),
	)
	return &domain.ProvisionResult{
		Status:     string(ledgerdomain.IntegrationActive),
		ServiceURL: resp.ServiceURL,
	}, nil
}

func (s *service) settle(ctx context.Context, grantID snowflake.ID, status ledgerdomain.IntegrationStatus, serviceURL string) {
	updates := map[string]any{
		"integration_status": status,
		"updated_at":         s.clock.Now(),
	}
	if serviceURL != "" {
		updates["service_url"] = serviceURL
	}
	if err := s.db.WithContext(ctx).
		Model(&ledgerdomain.UserAutomationGrant{}).
		Where("id = ?", grantID).
		Updates(updates).Error; err != nil {
		logger.FromContext(ctx).Error("settle provision state",
			zap.String("grant_id", grantID.String()),
			zap.Error(err),
		)
	}
}

func verifyServiceToken(token, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	digest := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(digest), []byte(storedHash)) == 1
}
