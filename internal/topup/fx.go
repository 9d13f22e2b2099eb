package topup

import (
	"github.com/luisterslim/billing/internal/topup/repository"
	"github.com/luisterslim/billing/internal/topup/service"
	"go.uber.org/fx"
)

var Module = fx.Module("topup.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
