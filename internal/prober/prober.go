// Package prober periodically checks every automation service's /health
// endpoint and records the verdict on the catalog row.
package prober

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/zimmerhq/zimmer/internal/automationclient"
	automationdomain "github.com/zimmerhq/zimmer/internal/automation/domain"
	"github.com/zimmerhq/zimmer/internal/clock"
	"github.com/zimmerhq/zimmer/internal/config"
	"github.com/zimmerhq/zimmer/internal/ratelimit"
)

var automationUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "zimmer_automation_up",
	Help: "Whether the automation service answered its last health probe.",
}, []string{"automation"})

// HealthClient is the slice of the automation client the prober needs.
type HealthClient interface {
	Health(ctx context.Context) (*automationclient.HealthStatus, error)
}

// ClientFactory builds a health client for one automation deployment.
type ClientFactory func(baseURL, serviceToken string) (HealthClient, error)

// DefaultClientFactory wires the real HTTP client with a short probe timeout.
func DefaultClientFactory() ClientFactory {
	return func(baseURL, serviceToken string) (HealthClient, error) {
		return automationclient.New(baseURL, serviceToken, 10*time.Second)
	}
}

// Config tunes the probe loop.
type Config struct {
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	return c
}

// Prober owns the probe loop. When rate limiting is enabled a redis lock
// elects one instance per cycle, so multiple replicas do not probe the same
// services at once.
type Prober struct {
	cfg         Config
	log         *zap.Logger
	automations automationdomain.Service
	limiter     *ratelimit.ConsumeLimiter
	newClient   ClientFactory
	clock       clock.Clock
	secret      func(key string) string
}

// New constructs the prober.
func New(
	cfg Config,
	log *zap.Logger,
	automations automationdomain.Service,
	limiter *ratelimit.ConsumeLimiter,
	factory ClientFactory,
	clk clock.Clock,
) *Prober {
	return &Prober{
		cfg:         cfg.withDefaults(),
		log:         log.Named("prober"),
		automations: automations,
		limiter:     limiter,
		newClient:   factory,
		clock:       clk,
		secret:      os.Getenv,
	}
}

// RunOnce probes every catalog entry with a health endpoint.
func (p *Prober) RunOnce(ctx context.Context) error {
	cycle := p.clock.Now().Truncate(p.cfg.Interval).Format(time.RFC3339)
	token, acquired, err := p.limiter.TryProberLock(ctx, cycle)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := p.limiter.ReleaseProberLock(ctx, cycle, token); err != nil {
			p.log.Warn("release prober lock", zap.Error(err))
		}
	}()

	automations, err := p.automations.List(ctx)
	if err != nil {
		return err
	}

	for _, automation := range automations {
		if probeURL(automation) == "" {
			continue
		}
		p.probe(ctx, automation)
	}
	return nil
}

// probeURL prefers the dedicated health endpoint and falls back to the
// provisioning base URL.
func probeURL(automation automationdomain.Automation) string {
	if automation.HealthURL != "" {
		return automation.HealthURL
	}
	return automation.ProvisionURL
}

func (p *Prober) probe(ctx context.Context, automation automationdomain.Automation) {
	status := automationdomain.HealthUnhealthy

	serviceToken := p.secret(config.ServiceTokenEnv(int64(automation.ID)))
	client, err := p.newClient(probeURL(automation), serviceToken)
	if err == nil {
		if report, probeErr := client.Health(ctx); probeErr == nil && report.Status == "ok" {
			status = automationdomain.HealthHealthy
		}
	}

	up := 0.0
	if status == automationdomain.HealthHealthy {
		up = 1.0
	}
	automationUp.WithLabelValues(automation.Slug).Set(up)

	now := p.clock.Now()
	if err := p.automations.SetHealth(ctx, automation.ID, status, now); err != nil {
		p.log.Warn("record health verdict",
			zap.String("automation_id", automation.ID.String()),
			zap.Error(err),
		)
	}
}

// RunForever probes on the configured interval until the context ends.
func (p *Prober) RunForever(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.RunOnce(ctx); err != nil {
			p.log.Warn("probe cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
