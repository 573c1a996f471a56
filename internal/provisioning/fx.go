package provisioning

import (
	"go.uber.org/fx"

	"github.com/zimmerhq/zimmer/internal/provisioning/service"
)

var Module = fx.Module("provisioning.service",
	fx.Provide(service.DefaultClientFactory),
	fx.Provide(service.New),
)
