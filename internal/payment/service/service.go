// Package service settles token purchases. Paid balances only ever grow
// through HandleCallback, which delegates the credit to the ledger.
package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zimmerhq/zimmer/internal/clock"
	ledgerdomain "github.com/zimmerhq/zimmer/internal/ledger/domain"
	"github.com/zimmerhq/zimmer/internal/observability/logger"
	"github.com/zimmerhq/zimmer/internal/observability/metrics"
	"github.com/zimmerhq/zimmer/internal/payment/domain"
	"github.com/zimmerhq/zimmer/pkg/db"
	"github.com/zimmerhq/zimmer/pkg/repository"
)

type service struct {
	db       *gorm.DB
	payments repository.Repository[domain.Payment]
	ledger   ledgerdomain.Service
	node     *snowflake.Node
	clock    clock.Clock
	metrics  *metrics.Metrics
}

// New constructs the payment service.
func New(
	conn *gorm.DB,
	payments repository.Repository[domain.Payment],
	ledger ledgerdomain.Service,
	node *snowflake.Node,
	clk clock.Clock,
	m *metrics.Metrics,
) domain.Service {
	return &service{db: conn, payments: payments, ledger: ledger, node: node, clock: clk, metrics: m}
}

func (s *service) Create(ctx context.Context, req domain.CreatePaymentRequest) (*domain.Payment, error) {
	if req.Tokens <= 0 || req.Amount < 0 {
		return nil, domain.ErrInvalidPayment
	}
	if _, err := s.ledger.GetGrant(ctx, req.UserAutomationID); err != nil {
		return nil, err
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}

	now := s.clock.Now()
	payment := &domain.Payment{
		ID:               s.node.Generate(),
		UserAutomationID: req.UserAutomationID,
		Amount:           req.Amount,
		Currency:         currency,
		Tokens:           req.Tokens,
		Provider:         strings.TrimSpace(req.Provider),
		ProviderRef:      req.ProviderRef,
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrPaymentExists
		}
		return nil, err
	}
	return payment, nil
}

// HandleCallback settles a pending payment. Repeated notifications for the
// same reference are acknowledged without crediting twice.
func (s *service) HandleCallback(ctx context.Context, req domain.CallbackRequest) (*domain.Payment, error) {
	ref := strings.TrimSpace(req.ProviderRef)
	if ref == "" {
		return nil, domain.ErrInvalidPayment
	}

	var payment domain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.LockForUpdate(tx).
			First(&payment, "provider = ? AND provider_ref = ?", req.Provider, ref).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return domain.ErrUnknownProviderRef
			}
			return err
		}
		if payment.Status != domain.StatusPending {
			return domain.ErrAlreadySettled
		}

		status := domain.StatusFailed
		if req.Succeeded {
			status = domain.StatusCompleted
		}
		payment.Status = status
		payment.UpdatedAt = s.clock.Now()
		if err := tx.Model(&domain.Payment{}).
			Where("id = ?", payment.ID).
			Updates(map[string]any{
				"status":     payment.Status,
				"updated_at": payment.UpdatedAt,
			}).Error; err != nil {
			return err
		}

		// Credit on the same transaction. A failed credit rolls the
		// settle back, keeping the payment retryable.
		if payment.Status == domain.StatusCompleted {
			if _, err := s.ledger.CreditPaidTx(ctx, tx, payment.UserAutomationID, payment.Tokens); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if err == domain.ErrAlreadySettled {
			return &payment, domain.ErrAlreadySettled
		}
		return nil, err
	}

	if payment.Status == domain.StatusCompleted {
		s.metrics.RecordPaymentCredit(ctx, payment.Tokens)
		logger.FromContext(ctx).Info("payment settled",
			zap.String("payment_id", payment.ID.String()),
			zap.Int64("tokens", payment.Tokens),
		)
	}
	return &payment, nil
}

func (s *service) Get(ctx context.Context, id snowflake.ID) (*domain.Payment, error) {
	payment, err := s.payments.FindOne(ctx, &domain.Payment{ID: id})
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *service) ListByGrant(ctx context.Context, grantID snowflake.ID) ([]domain.Payment, error) {
	rows, err := s.payments.Find(ctx, &domain.Payment{UserAutomationID: grantID})
	if err != nil {
		return nil, err
	}
	payments := make([]domain.Payment, 0, len(rows))
	for _, row := range rows {
		payments = append(payments, *row)
	}
	return payments, nil
}
