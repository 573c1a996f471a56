package prober

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/zimmerhq/zimmer/internal/config"
)

var Module = fx.Module("prober",
	fx.Provide(ProvideConfig),
	fx.Provide(DefaultClientFactory),
	fx.Provide(New),
	fx.Invoke(StartProber),
)

// ProvideConfig reads the probe interval from the environment-backed config.
func ProvideConfig(cfg config.Config) Config {
	return Config{Interval: time.Duration(cfg.ProberIntervalSeconds) * time.Second}
}

// StartProber runs the probe loop for the life of the application.
func StartProber(lc fx.Lifecycle, cfg config.Config, p *Prober) {
	if !cfg.ProberEnabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go p.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
