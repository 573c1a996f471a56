package automation

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/zimmerhq/zimmer/internal/automation/domain"
	"github.com/zimmerhq/zimmer/internal/automation/service"
	"github.com/zimmerhq/zimmer/pkg/repository"
)

var Module = fx.Module("automation.service",
	fx.Provide(func(db *gorm.DB) repository.Repository[domain.Automation] {
		return repository.ProvideStore[domain.Automation](db)
	}),
	fx.Provide(service.New),
)
