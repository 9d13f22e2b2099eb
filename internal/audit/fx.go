package audit

import (
	"github.com/luisterslim/billing/internal/audit/repository"
	"github.com/luisterslim/billing/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
