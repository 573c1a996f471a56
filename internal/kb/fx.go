package kb

import (
	"go.uber.org/fx"

	"github.com/zimmerhq/zimmer/internal/kb/service"
)

var Module = fx.Module("kb.service",
	fx.Provide(service.DefaultClientFactory),
	fx.Provide(service.New),
)
