package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	authdomain "github.com/zimmerhq/zimmer/internal/auth/domain"
	automationdomain "github.com/zimmerhq/zimmer/internal/automation/domain"
	"github.com/zimmerhq/zimmer/internal/clock"
	"github.com/zimmerhq/zimmer/internal/config"
	ledgerdomain "github.com/zimmerhq/zimmer/internal/ledger/domain"
	provisioningdomain "github.com/zimmerhq/zimmer/internal/provisioning/domain"
)

type fakeAuthService struct {
	user *authdomain.User
}

func (f *fakeAuthService) Register(ctx context.Context, req authdomain.RegisterRequest) (*authdomain.User, error) {
	return f.user, nil
}

func (f *fakeAuthService) Login(ctx context.Context, req authdomain.LoginRequest) (*authdomain.LoginResult, error) {
	return &authdomain.LoginResult{Token: "signed", ExpiresIn: 3600, User: f.user}, nil
}

func (f *fakeAuthService) GetUser(ctx context.Context, id snowflake.ID) (*authdomain.User, error) {
	return f.user, nil
}

func (f *fakeAuthService) VerifyToken(ctx context.Context, token string) (*authdomain.User, error) {
	if token != "good-token" || f.user == nil {
		return nil, authdomain.ErrInvalidToken
	}
	return f.user, nil
}

type fakeLedgerService struct {
	grant        *ledgerdomain.UserAutomationGrant
	consumeCalls int
	createErr    error
	eventsReq    ledgerdomain.ListEventsRequest
}

func (f *fakeLedgerService) Consume(ctx context.Context, req ledgerdomain.ConsumeRequest) (ledgerdomain.ConsumeResult, error) {
	f.consumeCalls++
	return ledgerdomain.ConsumeResult{
		Accepted:            true,
		RemainingDemoTokens: 4,
		RemainingPaidTokens: 0,
	}, nil
}

func (f *fakeLedgerService) CreateGrant(ctx context.Context, req ledgerdomain.CreateGrantRequest) (*ledgerdomain.UserAutomationGrant, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.grant, nil
}

func (f *fakeLedgerService) CreditPaid(ctx context.Context, grantID snowflake.ID, tokens int64) (*ledgerdomain.UserAutomationGrant, error) {
	return f.grant, nil
}

func (f *fakeLedgerService) CreditPaidTx(ctx context.Context, tx *gorm.DB, grantID snowflake.ID, tokens int64) (*ledgerdomain.UserAutomationGrant, error) {
	return f.grant, nil
}

func (f *fakeLedgerService) GetGrant(ctx context.Context, id snowflake.ID) (*ledgerdomain.UserAutomationGrant, error) {
	if f.grant == nil || f.grant.ID != id {
		return nil, ledgerdomain.ErrGrantNotFound
	}
	return f.grant, nil
}

func (f *fakeLedgerService) ListGrantsByUser(ctx context.Context, userID snowflake.ID) ([]ledgerdomain.UserAutomationGrant, error) {
	if f.grant == nil {
		return nil, nil
	}
	return []ledgerdomain.UserAutomationGrant{*f.grant}, nil
}

func (f *fakeLedgerService) ListEvents(ctx context.Context, req ledgerdomain.ListEventsRequest) ([]ledgerdomain.UsageEvent, string, error) {
	f.eventsReq = req
	return nil, "", nil
}

type fakeAutomationService struct {
	automation *automationdomain.Automation
}

func (f *fakeAutomationService) Create(ctx context.Context, req automationdomain.CreateAutomationRequest) (*automationdomain.Automation, error) {
	return f.automation, nil
}

func (f *fakeAutomationService) Get(ctx context.Context, id snowflake.ID) (*automationdomain.Automation, error) {
	if f.automation == nil {
		return nil, automationdomain.ErrAutomationNotFound
	}
	return f.automation, nil
}

func (f *fakeAutomationService) GetBySlug(ctx context.Context, slug string) (*automationdomain.Automation, error) {
	if f.automation == nil || f.automation.Slug != slug {
		return nil, automationdomain.ErrAutomationNotFound
	}
	return f.automation, nil
}

func (f *fakeAutomationService) List(ctx context.Context) ([]automationdomain.Automation, error) {
	if f.automation == nil {
		return nil, nil
	}
	return []automationdomain.Automation{*f.automation}, nil
}

func (f *fakeAutomationService) SetHealth(ctx context.Context, id snowflake.ID, status automationdomain.HealthStatus, at time.Time) error {
	return nil
}

type fakeProvisionService struct {
	calls int
	err   error
}

func (f *fakeProvisionService) Provision(ctx context.Context, req provisioningdomain.ProvisionRequest) (*provisioningdomain.ProvisionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &provisioningdomain.ProvisionResult{Status: "active"}, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newTestServer(t *testing.T) (*Server, *fakeLedgerService, *fakeAutomationService, *fakeProvisionService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	user := &authdomain.User{
		ID:       snowflake.ID(100),
		Email:    "alice@example.com",
		Role:     authdomain.RoleUser,
		IsActive: true,
	}
	grant := &ledgerdomain.UserAutomationGrant{
		ID:           snowflake.ID(500),
		UserID:       user.ID,
		AutomationID: snowflake.ID(900),
		DemoTokens:   5,
		IsDemoActive: true,
		IsActive:     true,
	}
	ledgerSvc := &fakeLedgerService{grant: grant}
	automationSvc := &fakeAutomationService{
		automation: &automationdomain.Automation{
			ID:               snowflake.ID(900),
			Slug:             "telegram-assistant",
			ServiceTokenHash: sha256Hex("svc-secret"),
		},
	}
	provisionSvc := &fakeProvisionService{}

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:        engine,
		cfg:           config.Config{AppVersion: "test"},
		clock:         clk,
		startedAt:     clk.Now(),
		authSvc:       &fakeAuthService{user: user},
		automationSvc: automationSvc,
		ledgerSvc:     ledgerSvc,
		provisionSvc:  provisionSvc,
	}
	srv.registerAuthRoutes()
	srv.registerAPIRoutes()

	return srv, ledgerSvc, automationSvc, provisionSvc
}

func doJSON(srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBufferString("{}")
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	srv.engine.ServeHTTP(resp, req)
	return resp
}

func TestConsumeRequiresServiceToken(t *testing.T) {
	srv, ledgerSvc, _, _ := newTestServer(t)

	resp := doJSON(srv, http.MethodPost, "/usage/consume",
		`{"user_automation_id":"500","units":1,"usage_type":"message"}`, nil)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if ledgerSvc.consumeCalls != 0 {
		t.Fatal("expected ledger not to be called without a service token")
	}
}

func TestConsumeRejectsWrongServiceToken(t *testing.T) {
	srv, ledgerSvc, _, _ := newTestServer(t)

	resp := doJSON(srv, http.MethodPost, "/usage/consume",
		`{"user_automation_id":"500","units":1,"usage_type":"message"}`,
		map[string]string{serviceTokenHeader: "not-the-secret"})

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if ledgerSvc.consumeCalls != 0 {
		t.Fatal("expected ledger not to be called with a bad service token")
	}
}

func TestConsumeDebitsWithValidServiceToken(t *testing.T) {
	srv, ledgerSvc, _, _ := newTestServer(t)

	resp := doJSON(srv, http.MethodPost, "/usage/consume",
		`{"user_automation_id":"500","units":1,"usage_type":"message"}`,
		map[string]string{serviceTokenHeader: "svc-secret"})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ledgerSvc.consumeCalls != 1 {
		t.Fatalf("expected one ledger call, got %d", ledgerSvc.consumeCalls)
	}

	var result ledgerdomain.ConsumeResult
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Accepted {
		t.Fatal("expected debit to be accepted")
	}
	if result.RemainingDemoTokens != 4 {
		t.Fatalf("expected 4 demo tokens remaining, got %d", result.RemainingDemoTokens)
	}
}

func TestGrantsRequireBearerToken(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp := doJSON(srv, http.MethodGet, "/api/grants", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}

	resp = doJSON(srv, http.MethodGet, "/api/grants", "",
		map[string]string{"Authorization": "Bearer bad-token"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for an invalid token, got %d", resp.Code)
	}

	resp = doJSON(srv, http.MethodGet, "/api/grants", "",
		map[string]string{"Authorization": "Bearer good-token"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestListGrantEventsPageQuery(t *testing.T) {
	srv, ledgerSvc, _, _ := newTestServer(t)
	auth := map[string]string{"Authorization": "Bearer good-token"}

	resp := doJSON(srv, http.MethodGet, "/api/grants/500/events?page_size=40&page_token=tok", "", auth)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ledgerSvc.eventsReq.PageSize != 40 || ledgerSvc.eventsReq.PageToken != "tok" {
		t.Fatalf("unexpected page query passed through: %+v", ledgerSvc.eventsReq)
	}

	resp = doJSON(srv, http.MethodGet, "/api/grants/500/events", "", auth)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if ledgerSvc.eventsReq.PageSize != 20 {
		t.Fatalf("expected default page size 20, got %d", ledgerSvc.eventsReq.PageSize)
	}

	resp = doJSON(srv, http.MethodGet, "/api/grants/500/events?page_size=-1", "", auth)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for a negative page size, got %d", resp.Code)
	}
}

func TestCreateAutomationRequiresAdmin(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp := doJSON(srv, http.MethodPost, "/api/automations",
		`{"name":"Telegram Assistant"}`,
		map[string]string{"Authorization": "Bearer good-token"})

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestDuplicateGrantMapsToConflict(t *testing.T) {
	srv, ledgerSvc, _, _ := newTestServer(t)
	ledgerSvc.createErr = ledgerdomain.ErrDuplicateGrant

	resp := doJSON(srv, http.MethodPost, "/api/grants",
		`{"automation_id":"900"}`,
		map[string]string{"Authorization": "Bearer good-token"})

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestProvisionInProgressMapsToConflict(t *testing.T) {
	srv, _, _, provisionSvc := newTestServer(t)
	provisionSvc.err = provisioningdomain.ErrProvisionInProgress

	resp := doJSON(srv, http.MethodPost, "/api/grants/500/provision", "",
		map[string]string{"Authorization": "Bearer good-token"})

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if provisionSvc.calls != 1 {
		t.Fatalf("expected one provision call, got %d", provisionSvc.calls)
	}
}

func TestProvisionSucceeds(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp := doJSON(srv, http.MethodPost, "/api/grants/500/provision", "",
		map[string]string{"Authorization": "Bearer good-token"})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var result provisioningdomain.ProvisionResult
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Status != "active" {
		t.Fatalf("expected active status, got %q", result.Status)
	}
}

func TestHealthReportsVersionAndUptime(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp := doJSON(srv, http.MethodGet, "/health", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", body["status"])
	}
	if body["version"] != "test" {
		t.Fatalf("expected version test, got %v", body["version"])
	}
}
