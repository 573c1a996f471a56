package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/zimmerhq/zimmer/internal/automationclient"
	automationdomain "github.com/zimmerhq/zimmer/internal/automation/domain"
	automationservice "github.com/zimmerhq/zimmer/internal/automation/service"
	"github.com/zimmerhq/zimmer/internal/clock"
	ledgerdomain "github.com/zimmerhq/zimmer/internal/ledger/domain"
	"github.com/zimmerhq/zimmer/internal/provisioning/domain"
	"github.com/zimmerhq/zimmer/pkg/db"
	"github.com/zimmerhq/zimmer/pkg/repository"
)

const testServiceToken = "svc-secret"

type fixture struct {
	svc   *service
	conn  *gorm.DB
	node  *snowflake.Node
	calls atomic.Int64
}

type stubAPI struct {
	fx   *fixture
	resp *automationclient.ProvisionResponse
	err  error
}

func (s *stubAPI) Provision(ctx context.Context, req automationclient.ProvisionRequest) (*automationclient.ProvisionResponse, error) {
	s.fx.calls.Add(1)
	return s.resp, s.err
}

func newFixture(t *testing.T, factory ClientFactory) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := conn.AutoMigrate(
		&automationdomain.Automation{},
		&ledgerdomain.UserAutomationGrant{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	automations := automationservice.New(
		repository.ProvideStore[automationdomain.Automation](conn),
		node,
		clk,
	)

	fx := &fixture{conn: conn, node: node}
	if factory == nil {
		factory = func(baseURL, serviceToken string) (AutomationAPI, error) {
			return &stubAPI{fx: fx, resp: &automationclient.ProvisionResponse{
				Success:    true,
				ServiceURL: "https://bot.example.com",
			}}, nil
		}
	}

	svc := New(conn, automations, factory, clk, nil).(*service)
	svc.secret = func(string) string { return testServiceToken }
	fx.svc = svc
	return fx
}

func (f *fixture) createAutomation(t *testing.T, provisionURL string) *automationdomain.Automation {
	t.Helper()

	automation := &automationdomain.Automation{
		ID:               f.node.Generate(),
		Name:             "Test Automation",
		Slug:             "test-automation-" + f.node.Generate().String(),
		ProvisionURL:     provisionURL,
		ServiceTokenHash: automationservice.HashServiceToken(testServiceToken),
		HealthStatus:     automationdomain.HealthUnknown,
		IsListed:         true,
	}
	if err := f.conn.Create(automation).Error; err != nil {
		t.Fatalf("create automation: %v", err)
	}
	return automation
}

func (f *fixture) createGrant(t *testing.T, automationID snowflake.ID, status ledgerdomain.IntegrationStatus) *ledgerdomain.UserAutomationGrant {
	t.Helper()

	token := "bot-" + f.node.Generate().String()
	grant := &ledgerdomain.UserAutomationGrant{
		ID:                f.node.Generate(),
		UserID:            f.node.Generate(),
		AutomationID:      automationID,
		DemoTokens:        5,
		IsDemoActive:      true,
		IntegrationStatus: status,
		BotToken:          &token,
		IsActive:          true,
	}
	if err := f.conn.Create(grant).Error; err != nil {
		t.Fatalf("create grant: %v", err)
	}
	return grant
}

func (f *fixture) grantStatus(t *testing.T, id snowflake.ID) ledgerdomain.IntegrationStatus {
	t.Helper()

	var grant ledgerdomain.UserAutomationGrant
	if err := f.conn.First(&grant, "id = ?", id).Error; err != nil {
		t.Fatalf("load grant: %v", err)
	}
	return grant.IntegrationStatus
}

func TestProvisionSuccess(t *testing.T) {
	fx := newFixture(t, nil)
	automation := fx.createAutomation(t, "https://internal.example.com")
	grant := fx.createGrant(t, automation.ID, ledgerdomain.IntegrationPending)

	result, err := fx.svc.Provision(context.Background(), domain.ProvisionRequest{
		GrantID: grant.ID,
		ActorID: grant.UserID,
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if result.Status != string(ledgerdomain.IntegrationActive) {
		t.Fatalf("expected active, got %s", result.Status)
	}
	if result.ServiceURL != "https://bot.example.com" {
		t.Fatalf("unexpected service url %q", result.ServiceURL)
	}

	var fresh ledgerdomain.UserAutomationGrant
	if err := fx.conn.First(&fresh, "id = ?", grant.ID).Error; err != nil {
		t.Fatalf("load grant: %v", err)
	}
	if fresh.IntegrationStatus != ledgerdomain.IntegrationActive {
		t.Fatalf("expected active status, got %s", fresh.IntegrationStatus)
	}
	if fresh.ProvisionedAt == nil {
		t.Fatal("expected provisioned_at set")
	}
	if fresh.ServiceURL == nil || *fresh.ServiceURL != "https://bot.example.com" {
		t.Fatal("expected service url persisted")
	}
}

func TestProvisionEmptyURLFailsWithoutNetwork(t *testing.T) {
	fx := newFixture(t, nil)
	automation := fx.createAutomation(t, "")
	grant := fx.createGrant(t, automation.ID, ledgerdomain.IntegrationPending)

	_, err := fx.svc.Provision(context.Background(), domain.ProvisionRequest{
		GrantID: grant.ID,
		ActorID: grant.UserID,
	})
	if err != domain.ErrServiceNotConfigured {
		t.Fatalf("expected ErrServiceNotConfigured, got %v", err)
	}
	if fx.calls.Load() != 0 {
		t.Fatalf("expected no outbound calls, got %d", fx.calls.Load())
	}
	if got := fx.grantStatus(t, grant.ID); got != ledgerdomain.IntegrationFailed {
		t.Fatalf("expected failed status, got %s", got)
	}
}

func TestProvisionTokenMismatchNeverCallsOut(t *testing.T) {
	fx := newFixture(t, nil)
	fx.svc.secret = func(string) string { return "the-wrong-secret" }

	automation := fx.createAutomation(t, "https://internal.example.com")
	grant := fx.createGrant(t, automation.ID, ledgerdomain.IntegrationPending)

	_, err := fx.svc.Provision(context.Background(), domain.ProvisionRequest{
		GrantID: grant.ID,
		ActorID: grant.UserID,
	})
	if err != domain.ErrServiceTokenMismatch {
		t.Fatalf("expected ErrServiceTokenMismatch, got %v", err)
	}
	if fx.calls.Load() != 0 {
		t.Fatalf("expected no outbound calls, got %d", fx.calls.Load())
	}
}

func TestProvisionMissingTokenFails(t *testing.T) {
	fx := newFixture(t, nil)
	fx.svc.secret = func(string) string { return "" }

	automation := fx.createAutomation(t, "https://internal.example.com")
	grant := fx.createGrant(t, automation.ID, ledgerdomain.IntegrationPending)

	_, err := fx.svc.Provision(context.Background(), domain.ProvisionRequest{
		GrantID: grant.ID,
		ActorID: grant.UserID,
	})
	if err != domain.ErrServiceTokenMissing {
		t.Fatalf("expected ErrServiceTokenMissing, got %v", err)
	}
	if fx.calls.Load() != 0 {
		t.Fatalf("expected no outbound calls, got %d", fx.calls.Load())
	}
}

func TestProvisionUpstreamFailureReturnsGenericMessage(t *testing.T) {
	var fx *fixture
	fx = newFixture(t, func(baseURL, serviceToken string) (AutomationAPI, error) {
		return &stubAPI{fx: fx, resp: &automationclient.ProvisionResponse{
			Success: false,
			Message: "internal stack trace: db connection refused at 10.0.0.3",
		}}, nil
	})
	automation := fx.createAutomation(t, "https://internal.example.com")
	grant := fx.createGrant(t, automation.ID, ledgerdomain.IntegrationPending)

	result, err := fx.svc.Provision(context.Background(), domain.ProvisionRequest{
		GrantID: grant.ID,
		ActorID: grant.UserID,
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if result.Status != string(ledgerdomain.IntegrationFailed) {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.Message == "" || result.Message == "internal stack trace: db connection refused at 10.0.0.3" {
		t.Fatalf("expected generic message, got %q", result.Message)
	}
	if got := fx.grantStatus(t, grant.ID); got != ledgerdomain.IntegrationFailed {
		t.Fatalf("expected failed status, got %s", got)
	}
}

func TestProvisionAlreadyActive(t *testing.T) {
	fx := newFixture(t, nil)
	automation := fx.createAutomation(t, "https://internal.example.com")
	grant := fx.createGrant(t, automation.ID, ledgerdomain.IntegrationActive)

	_, err := fx.svc.Provision(context.Background(), domain.ProvisionRequest{
		GrantID: grant.ID,
		ActorID: grant.UserID,
	})
	if err != domain.ErrAlreadyActive {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
}

func TestProvisionNotOwner(t *testing.T) {
	fx := newFixture(t, nil)
	automation := fx.createAutomation(t, "https://internal.example.com")
	grant := fx.createGrant(t, automation.ID, ledgerdomain.IntegrationPending)

	_, err := fx.svc.Provision(context.Background(), domain.ProvisionRequest{
		GrantID: grant.ID,
		ActorID: fx.node.Generate(),
	})
	if err != domain.ErrNotGrantOwner {
		t.Fatalf("expected ErrNotGrantOwner, got %v", err)
	}
	if got := fx.grantStatus(t, grant.ID); got != ledgerdomain.IntegrationPending {
		t.Fatalf("expected status untouched, got %s", got)
	}
}

func TestProvisionRetryAfterFailure(t *testing.T) {
	fx := newFixture(t, nil)
	automation := fx.createAutomation(t, "https://internal.example.com")
	grant := fx.createGrant(t, automation.ID, ledgerdomain.IntegrationFailed)

	result, err := fx.svc.Provision(context.Background(), domain.ProvisionRequest{
		GrantID: grant.ID,
		ActorID: grant.UserID,
	})
	if err != nil {
		t.Fatalf("provision retry: %v", err)
	}
	if result.Status != string(ledgerdomain.IntegrationActive) {
		t.Fatalf("expected active after retry, got %s", result.Status)
	}
}

func TestProvisionTimeoutFailsGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		json.NewEncoder(w).Encode(automationclient.ProvisionResponse{Success: true})
	}))
	defer srv.Close()

	fx := newFixture(t, func(baseURL, serviceToken string) (AutomationAPI, error) {
		return automationclient.New(baseURL, serviceToken, 50*time.Millisecond)
	})
	automation := fx.createAutomation(t, srv.URL)
	grant := fx.createGrant(t, automation.ID, ledgerdomain.IntegrationPending)

	result, err := fx.svc.Provision(context.Background(), domain.ProvisionRequest{
		GrantID: grant.ID,
		ActorID: grant.UserID,
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if result.Status != string(ledgerdomain.IntegrationFailed) {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.Message != "provisioning failed, please try again later" {
		t.Fatalf("expected generic message, got %q", result.Message)
	}

	var fresh ledgerdomain.UserAutomationGrant
	if err := fx.conn.First(&fresh, "id = ?", grant.ID).Error; err != nil {
		t.Fatalf("load grant: %v", err)
	}
	if fresh.IntegrationStatus != ledgerdomain.IntegrationFailed {
		t.Fatalf("expected failed status, got %s", fresh.IntegrationStatus)
	}
	if fresh.ProvisionedAt != nil {
		t.Fatal("expected provisioned_at unset")
	}
}

// End to end against a real HTTP server, including header verification on
// the automation side.
func TestProvisionOverHTTP(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Service-Token")
		json.NewEncoder(w).Encode(automationclient.ProvisionResponse{
			Success:    true,
			ServiceURL: "https://hosted.example.com/bot",
		})
	}))
	defer srv.Close()

	fx := newFixture(t, func(baseURL, serviceToken string) (AutomationAPI, error) {
		return automationclient.New(baseURL, serviceToken, 5*time.Second)
	})
	automation := fx.createAutomation(t, srv.URL)
	grant := fx.createGrant(t, automation.ID, ledgerdomain.IntegrationPending)

	result, err := fx.svc.Provision(context.Background(), domain.ProvisionRequest{
		GrantID: grant.ID,
		ActorID: grant.UserID,
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if result.Status != string(ledgerdomain.IntegrationActive) {
		t.Fatalf("expected active, got %s", result.Status)
	}
	if gotToken != testServiceToken {
		t.Fatalf("expected service token forwarded, got %q", gotToken)
	}
}
