package ratelimit

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewDebitLimiter),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, limiter *DebitLimiter) {
	if limiter == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return limiter.Close()
		},
	})
}
