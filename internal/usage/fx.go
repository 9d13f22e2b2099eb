package usage

import (
	"github.com/luisterslim/billing/internal/usage/repository"
	"github.com/luisterslim/billing/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
