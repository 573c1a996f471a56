package ledger

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/zimmerhq/zimmer/internal/ledger/domain"
	"github.com/zimmerhq/zimmer/internal/ledger/service"
	"github.com/zimmerhq/zimmer/pkg/repository"
)

var Module = fx.Module("ledger.service",
	fx.Provide(func(db *gorm.DB) repository.Repository[domain.UserAutomationGrant] {
		return repository.ProvideStore[domain.UserAutomationGrant](db)
	}),
	fx.Provide(func(db *gorm.DB) repository.Repository[domain.UsageEvent] {
		return repository.ProvideStore[domain.UsageEvent](db)
	}),
	fx.Provide(service.New),
)
