package account

import (
	"github.com/luisterslim/billing/internal/account/repository"
	"github.com/luisterslim/billing/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
