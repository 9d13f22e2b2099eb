package webhook

import (
	"github.com/luisterslim/billing/internal/webhook/repository"
	"github.com/luisterslim/billing/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
