package payment

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/zimmerhq/zimmer/internal/payment/domain"
	"github.com/zimmerhq/zimmer/internal/payment/service"
	"github.com/zimmerhq/zimmer/pkg/repository"
)

var Module = fx.Module("payment.service",
	fx.Provide(func(db *gorm.DB) repository.Repository[domain.Payment] {
		return repository.ProvideStore[domain.Payment](db)
	}),
	fx.Provide(service.New),
)
