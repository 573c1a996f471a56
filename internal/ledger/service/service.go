// Package service implements the token ledger: atomic demo-first debits,
// grant lifecycle, paid credits and the append-only usage log.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zimmerhq/zimmer/internal/clock"
	"github.com/zimmerhq/zimmer/internal/config"
	"github.com/zimmerhq/zimmer/internal/ledger/domain"
	"github.com/zimmerhq/zimmer/internal/observability/logger"
	"github.com/zimmerhq/zimmer/internal/observability/metrics"
	"github.com/zimmerhq/zimmer/pkg/db"
	"github.com/zimmerhq/zimmer/pkg/db/pagination"
	"github.com/zimmerhq/zimmer/pkg/repository"
)

const msgInsufficientTokens = "insufficient tokens"

type service struct {
	db      *gorm.DB
	grants  repository.Repository[domain.UserAutomationGrant]
	events  repository.Repository[domain.UsageEvent]
	node    *snowflake.Node
	policy  *config.TokenPolicyHolder
	clock   clock.Clock
	metrics *metrics.Metrics
}

// New constructs the ledger service.
func New(
	conn *gorm.DB,
	grants repository.Repository[domain.UserAutomationGrant],
	events repository.Repository[domain.UsageEvent],
	node *snowflake.Node,
	policy *config.TokenPolicyHolder,
	clk clock.Clock,
	m *metrics.Metrics,
) domain.Service {
	return &service{
		db:      conn,
		grants:  grants,
		events:  events,
		node:    node,
		policy:  policy,
		clock:   clk,
		metrics: m,
	}
}

// Consume debits units atomically, demo balance first. The grant row is
// locked for the duration of the transaction so concurrent consumes
// serialize; a rejected attempt writes nothing.
func (s *service) Consume(ctx context.Context, req domain.ConsumeRequest) (domain.ConsumeResult, error) {
	if req.Units <= 0 {
		return domain.ConsumeResult{}, domain.ErrInvalidUnits
	}
	if strings.TrimSpace(req.UsageType) == "" {
		return domain.ConsumeResult{}, domain.ErrInvalidUsageType
	}
	policy := s.policy.Current()
	if policy.MaxUnitsPerConsume > 0 && req.Units > policy.MaxUnitsPerConsume {
		return domain.ConsumeResult{}, domain.ErrUnitsExceedLimit
	}

	var result domain.ConsumeResult
	var demoDebited, paidDebited int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var grant domain.UserAutomationGrant
		if err := db.LockForUpdate(tx).First(&grant, "id = ?", req.GrantID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return domain.ErrGrantNotFound
			}
			return err
		}
		if !grant.IsActive {
			return domain.ErrGrantInactive
		}

		if grant.TotalTokens() < req.Units {
			result = domain.ConsumeResult{
				Accepted:            false,
				RemainingDemoTokens: grant.DemoTokens,
				RemainingPaidTokens: grant.PaidTokens,
				Message:             msgInsufficientTokens,
			}
			return nil
		}

		demoDebited = req.Units
		if demoDebited > grant.DemoTokens {
			demoDebited = grant.DemoTokens
		}
		paidDebited = req.Units - demoDebited

		grant.DemoTokens -= demoDebited
		grant.PaidTokens -= paidDebited
		if grant.DemoTokens == 0 && grant.IsDemoActive {
			grant.IsDemoActive = false
			grant.DemoExpired = true
		}
		grant.UpdatedAt = s.clock.Now()

		updates := map[string]any{
			"demo_tokens":    grant.DemoTokens,
			"paid_tokens":    grant.PaidTokens,
			"is_demo_active": grant.IsDemoActive,
			"demo_expired":   grant.DemoExpired,
			"updated_at":     grant.UpdatedAt,
		}
		if err := tx.Model(&domain.UserAutomationGrant{}).
			Where("id = ?", grant.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		event := domain.UsageEvent{
			ID:        s.node.Generate(),
			GrantID:   grant.ID,
			Units:     req.Units,
			UsageType: req.UsageType,
			CreatedAt: s.clock.Now(),
		}
		if len(req.Meta) > 0 {
			event.Meta = datatypes.JSONMap(req.Meta)
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}

		result = domain.ConsumeResult{
			Accepted:            true,
			RemainingDemoTokens: grant.DemoTokens,
			RemainingPaidTokens: grant.PaidTokens,
		}
		return nil
	})
	if err != nil {
		return domain.ConsumeResult{}, err
	}

	log := logger.FromContext(ctx)
	if result.Accepted {
		s.metrics.RecordDebit(ctx, req.UsageType, demoDebited, paidDebited)
		remaining := result.RemainingDemoTokens + result.RemainingPaidTokens
		if remaining <= policy.LowBalanceThreshold {
			log.Warn("grant balance low",
				zap.String("grant_id", req.GrantID.String()),
				zap.Int64("remaining", remaining),
			)
		}
	} else {
		s.metrics.RecordConsumeRejection(ctx, "insufficient_tokens")
		log.Debug("consume rejected",
			zap.String("grant_id", req.GrantID.String()),
			zap.Int64("units", req.Units),
		)
	}
	return result, nil
}

// CreateGrant opens a grant seeded with the configured demo allotment.
func (s *service) CreateGrant(ctx context.Context, req domain.CreateGrantRequest) (*domain.UserAutomationGrant, error) {
	demoTokens := s.policy.Current().DemoAllotment
	if req.DemoTokens != nil {
		if *req.DemoTokens < 0 {
			return nil, domain.ErrInvalidAmount
		}
		demoTokens = *req.DemoTokens
	}

	now := s.clock.Now()
	grant := &domain.UserAutomationGrant{
		ID:                s.node.Generate(),
		UserID:            req.UserID,
		AutomationID:      req.AutomationID,
		DemoTokens:        demoTokens,
		IsDemoActive:      demoTokens > 0,
		IntegrationStatus: domain.IntegrationPending,
		BotToken:          req.BotToken,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.grants.Create(ctx, grant); err != nil {
		if db.IsDuplicateKeyErr(err) {
			if strings.Contains(db.ConstraintName(err), "bot_token") {
				return nil, domain.ErrDuplicateCredential
			}
			return nil, domain.ErrDuplicateGrant
		}
		return nil, err
	}
	return grant, nil
}

// CreditPaid adds purchased tokens to a grant's paid balance.
func (s *service) CreditPaid(ctx context.Context, grantID snowflake.ID, tokens int64) (*domain.UserAutomationGrant, error) {
	var grant *domain.UserAutomationGrant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		grant, err = s.CreditPaidTx(ctx, tx, grantID, tokens)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPaymentCredit(ctx, tokens)
	logger.FromContext(ctx).Info("paid tokens credited",
		zap.String("grant_id", grantID.String()),
		zap.Int64("tokens", tokens),
	)
	return grant, nil
}

// CreditPaidTx applies the credit on the caller's transaction. The caller
// commits, so nothing is recorded here until the surrounding work succeeds.
func (s *service) CreditPaidTx(ctx context.Context, tx *gorm.DB, grantID snowflake.ID, tokens int64) (*domain.UserAutomationGrant, error) {
	if tokens <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var grant domain.UserAutomationGrant
	if err := db.LockForUpdate(tx).First(&grant, "id = ?", grantID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrGrantNotFound
		}
		return nil, err
	}
	grant.PaidTokens += tokens
	grant.UpdatedAt = s.clock.Now()
	if err := tx.Model(&domain.UserAutomationGrant{}).
		Where("id = ?", grant.ID).
		Updates(map[string]any{
			"paid_tokens": grant.PaidTokens,
			"updated_at":  grant.UpdatedAt,
		}).Error; err != nil {
		return nil, err
	}
	return &grant, nil
}

func (s *service) GetGrant(ctx context.Context, id snowflake.ID) (*domain.UserAutomationGrant, error) {
	grant, err := s.grants.FindOne(ctx, &domain.UserAutomationGrant{ID: id})
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, domain.ErrGrantNotFound
	}
	return grant, nil
}

func (s *service) ListGrantsByUser(ctx context.Context, userID snowflake.ID) ([]domain.UserAutomationGrant, error) {
	rows, err := s.grants.Find(ctx, &domain.UserAutomationGrant{UserID: userID})
	if err != nil {
		return nil, err
	}
	grants := make([]domain.UserAutomationGrant, 0, len(rows))
	for _, row := range rows {
		grants = append(grants, *row)
	}
	return grants, nil
}

// ListEvents returns a grant's usage history, newest first, cursor-paged.
func (s *service) ListEvents(ctx context.Context, req domain.ListEventsRequest) ([]domain.UsageEvent, string, error) {
	limit := req.PageSize
	if limit <= 0 || limit > 250 {
		limit = 20
	}

	query := s.db.WithContext(ctx).
		Where("grant_id = ?", req.GrantID).
		Order("id DESC").
		Limit(limit + 1)
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return nil, "", fmt.Errorf("decode page token: %w", err)
		}
		query = query.Where("id < ?", cursor.ID)
	}

	var events []*domain.UsageEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, "", err
	}

	events, info := pagination.BuildCursorPageInfo(events, limit, func(e *domain.UsageEvent) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: e.ID.String()})
		return token
	})

	out := make([]domain.UsageEvent, 0, len(events))
	for _, e := range events {
		out = append(out, *e)
	}
	nextToken := ""
	if info.HasMore {
		nextToken = info.NextPageToken
	}
	return out, nextToken, nil
}
