package auth

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/zimmerhq/zimmer/internal/auth/domain"
	"github.com/zimmerhq/zimmer/internal/auth/service"
	"github.com/zimmerhq/zimmer/internal/auth/token"
	"github.com/zimmerhq/zimmer/internal/clock"
	"github.com/zimmerhq/zimmer/internal/config"
	"github.com/zimmerhq/zimmer/pkg/repository"
)

var Module = fx.Module("auth.service",
	fx.Provide(func(db *gorm.DB) repository.Repository[domain.User] {
		return repository.ProvideStore[domain.User](db)
	}),
	fx.Provide(func(cfg config.Config, clk clock.Clock) (*token.Signer, error) {
		return token.NewSigner(cfg.AuthJWTSecret, cfg.AuthTokenTTL, clk)
	}),
	fx.Provide(service.New),
)
