package auth

import (
	"github.com/luisterslim/billing/internal/auth/service"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(service.NewVerifier),
)
