package retention

import (
	"github.com/luisterslim/billing/internal/retention/repository"
	"github.com/luisterslim/billing/internal/retention/service"
	"go.uber.org/fx"
)

var Module = fx.Module("retention.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
