package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"

	"github.com/zimmerhq/zimmer/internal/ledger/domain"
)

func TestCreateGrantDefaultAllotment(t *testing.T) {
	svc, _ := newTestLedger(t)

	node, _ := snowflake.NewNode(4)
	grant, err := svc.CreateGrant(context.Background(), domain.CreateGrantRequest{
		UserID:       node.Generate(),
		AutomationID: node.Generate(),
	})
	if err != nil {
		t.Fatalf("create grant: %v", err)
	}
	if grant.DemoTokens != 5 {
		t.Fatalf("expected default demo allotment 5, got %d", grant.DemoTokens)
	}
	if grant.PaidTokens != 0 {
		t.Fatalf("expected zero paid tokens, got %d", grant.PaidTokens)
	}
	if !grant.IsDemoActive {
		t.Fatal("expected demo active")
	}
	if grant.IntegrationStatus != domain.IntegrationPending {
		t.Fatalf("expected pending integration, got %s", grant.IntegrationStatus)
	}
}

func TestCreateGrantDuplicatePair(t *testing.T) {
	svc, _ := newTestLedger(t)

	node, _ := snowflake.NewNode(4)
	userID := node.Generate()
	automationID := node.Generate()

	if _, err := svc.CreateGrant(context.Background(), domain.CreateGrantRequest{
		UserID:       userID,
		AutomationID: automationID,
	}); err != nil {
		t.Fatalf("create grant: %v", err)
	}

	_, err := svc.CreateGrant(context.Background(), domain.CreateGrantRequest{
		UserID:       userID,
		AutomationID: automationID,
	})
	if err != domain.ErrDuplicateGrant {
		t.Fatalf("expected ErrDuplicateGrant, got %v", err)
	}
}

func TestCreateGrantDuplicateBotToken(t *testing.T) {
	svc, _ := newTestLedger(t)

	node, _ := snowflake.NewNode(4)
	token := "bot-secret-1"

	if _, err := svc.CreateGrant(context.Background(), domain.CreateGrantRequest{
		UserID:       node.Generate(),
		AutomationID: node.Generate(),
		BotToken:     &token,
	}); err != nil {
		t.Fatalf("create grant: %v", err)
	}

	_, err := svc.CreateGrant(context.Background(), domain.CreateGrantRequest{
		UserID:       node.Generate(),
		AutomationID: node.Generate(),
		BotToken:     &token,
	})
	if err != domain.ErrDuplicateCredential {
		t.Fatalf("expected ErrDuplicateCredential, got %v", err)
	}
}

func TestCreditPaidValidation(t *testing.T) {
	svc, _ := newTestLedger(t)
	grant := mustCreateGrant(t, svc, 5)

	if _, err := svc.CreditPaid(context.Background(), grant.ID, 0); err != domain.ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.CreditPaid(context.Background(), grant.ID, -3); err != domain.ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	node, _ := snowflake.NewNode(4)
	if _, err := svc.CreditPaid(context.Background(), node.Generate(), 10); err != domain.ErrGrantNotFound {
		t.Fatalf("expected ErrGrantNotFound, got %v", err)
	}
}

// Crediting paid tokens never reactivates an expired demo pool.
func TestCreditPaidLeavesDemoExpired(t *testing.T) {
	svc, _ := newTestLedger(t)
	grant := mustCreateGrant(t, svc, 2)

	if _, err := svc.Consume(context.Background(), domain.ConsumeRequest{
		GrantID:   grant.ID,
		Units:     2,
		UsageType: "message",
	}); err != nil {
		t.Fatalf("consume: %v", err)
	}

	updated, err := svc.CreditPaid(context.Background(), grant.ID, 20)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if updated.PaidTokens != 20 {
		t.Fatalf("expected 20 paid tokens, got %d", updated.PaidTokens)
	}
	if updated.IsDemoActive || !updated.DemoExpired {
		t.Fatalf("expected demo to stay expired, got active=%v expired=%v", updated.IsDemoActive, updated.DemoExpired)
	}
}
