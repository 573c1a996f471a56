package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	tokenDebits       metric.Int64Counter
	consumeRejections metric.Int64Counter
	provisionAttempts metric.Int64Counter
	paymentCredits    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metric instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "zimmer"
	}
	meter := provider.Meter(name)

	tokenDebits, err := meter.Int64Counter("zimmer_token_debits_total")
	if err != nil {
		return nil, err
	}
	consumeRejections, err := meter.Int64Counter("zimmer_consume_rejections_total")
	if err != nil {
		return nil, err
	}
	provisionAttempts, err := meter.Int64Counter("zimmer_provision_attempts_total")
	if err != nil {
		return nil, err
	}
	paymentCredits, err := meter.Int64Counter("zimmer_payment_credits_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		tokenDebits:       tokenDebits,
		consumeRejections: consumeRejections,
		provisionAttempts: provisionAttempts,
		paymentCredits:    paymentCredits,
	}, nil
}

// RecordDebit counts tokens debited from a grant, split by pool.
func (m *Metrics) RecordDebit(ctx context.Context, usageType string, demoUnits, paidUnits int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("usage_type", usageType))
	if demoUnits > 0 {
		m.tokenDebits.Add(ctx, demoUnits, attrs, metric.WithAttributes(attribute.String("pool", "demo")))
	}
	if paidUnits > 0 {
		m.tokenDebits.Add(ctx, paidUnits, attrs, metric.WithAttributes(attribute.String("pool", "paid")))
	}
}

// RecordConsumeRejection counts rejected consume calls.
func (m *Metrics) RecordConsumeRejection(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.consumeRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProvisionAttempt counts provisioning attempts by outcome.
func (m *Metrics) RecordProvisionAttempt(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.provisionAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPaymentCredit counts paid tokens credited through payments.
func (m *Metrics) RecordPaymentCredit(ctx context.Context, tokens int64) {
	if m == nil || tokens <= 0 {
		return
	}
	m.paymentCredits.Add(ctx, tokens)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
