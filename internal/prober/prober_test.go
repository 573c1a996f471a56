package prober

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/zimmerhq/zimmer/internal/automationclient"
	automationdomain "github.com/zimmerhq/zimmer/internal/automation/domain"
	automationservice "github.com/zimmerhq/zimmer/internal/automation/service"
	"github.com/zimmerhq/zimmer/internal/clock"
	"github.com/zimmerhq/zimmer/pkg/db"
	"github.com/zimmerhq/zimmer/pkg/repository"
)

type stubHealth struct {
	status  *automationclient.HealthStatus
	err     error
	baseURL string
}

func (s *stubHealth) Health(ctx context.Context) (*automationclient.HealthStatus, error) {
	return s.status, s.err
}

func newProber(t *testing.T, health *stubHealth) (*Prober, automationdomain.Service) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := conn.AutoMigrate(&automationdomain.Automation{}); err != nil {
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

	p := New(Config{Interval: time.Minute}, zap.NewNop(), automations, nil, func(baseURL, serviceToken string) (HealthClient, error) {
		health.baseURL = baseURL
		return health, nil
	}, clk)
	p.secret = func(string) string { return "svc-secret" }
	return p, automations
}

func TestRunOnceMarksHealthy(t *testing.T) {
	p, automations := newProber(t, &stubHealth{status: &automationclient.HealthStatus{Status: "ok"}})

	created, err := automations.Create(context.Background(), automationdomain.CreateAutomationRequest{
		Name:         "Probe Target",
		ProvisionURL: "https://internal.example.com",
	})
	if err != nil {
		t.Fatalf("create automation: %v", err)
	}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	fresh, err := automations.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get automation: %v", err)
	}
	if fresh.HealthStatus != automationdomain.HealthHealthy {
		t.Fatalf("expected healthy, got %s", fresh.HealthStatus)
	}
	if fresh.LastHealthAt == nil {
		t.Fatal("expected last_health_at set")
	}
}

func TestRunOnceMarksUnhealthyOnError(t *testing.T) {
	p, automations := newProber(t, &stubHealth{err: errors.New("connection refused")})

	created, err := automations.Create(context.Background(), automationdomain.CreateAutomationRequest{
		Name:         "Broken Target",
		ProvisionURL: "https://internal.example.com",
	})
	if err != nil {
		t.Fatalf("create automation: %v", err)
	}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	fresh, err := automations.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get automation: %v", err)
	}
	if fresh.HealthStatus != automationdomain.HealthUnhealthy {
		t.Fatalf("expected unhealthy, got %s", fresh.HealthStatus)
	}
}

func TestRunOnceSkipsUndeployed(t *testing.T) {
	p, automations := newProber(t, &stubHealth{status: &automationclient.HealthStatus{Status: "ok"}})

	created, err := automations.Create(context.Background(), automationdomain.CreateAutomationRequest{
		Name: "Not Deployed",
	})
	if err != nil {
		t.Fatalf("create automation: %v", err)
	}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	fresh, err := automations.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get automation: %v", err)
	}
	if fresh.HealthStatus != automationdomain.HealthUnknown {
		t.Fatalf("expected unknown, got %s", fresh.HealthStatus)
	}
}

func TestRunOncePrefersHealthURL(t *testing.T) {
	health := &stubHealth{status: &automationclient.HealthStatus{Status: "ok"}}
	p, automations := newProber(t, health)

	if _, err := automations.Create(context.Background(), automationdomain.CreateAutomationRequest{
		Name:         "Dedicated Health",
		ProvisionURL: "https://internal.example.com",
		HealthURL:    "https://health.example.com",
	}); err != nil {
		t.Fatalf("create automation: %v", err)
	}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if health.baseURL != "https://health.example.com" {
		t.Fatalf("expected probe against health url, got %q", health.baseURL)
	}
}

func TestRunOnceProbesHealthURLOnlyDeployments(t *testing.T) {
	health := &stubHealth{status: &automationclient.HealthStatus{Status: "ok"}}
	p, automations := newProber(t, health)

	created, err := automations.Create(context.Background(), automationdomain.CreateAutomationRequest{
		Name:      "External Monitor",
		HealthURL: "https://health.example.com",
	})
	if err != nil {
		t.Fatalf("create automation: %v", err)
	}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	fresh, err := automations.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get automation: %v", err)
	}
	if fresh.HealthStatus != automationdomain.HealthHealthy {
		t.Fatalf("expected healthy, got %s", fresh.HealthStatus)
	}
}
