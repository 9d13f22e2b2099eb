package billing

import (
	"github.com/luisterslim/billing/internal/config"
	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	"github.com/luisterslim/billing/internal/providers/billing/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billing.gateway",
	fx.Provide(NewGateway),
)

func NewGateway(cfg config.Config, log *zap.Logger) billingdomain.Gateway {
	if cfg.Stripe.SecretKey == "" {
		log.Warn("STRIPE_SECRET_KEY not set, billing verification will fail closed")
	}
	return stripe.New(stripe.Config{
		SecretKey:           cfg.Stripe.SecretKey,
		WebhookSecret:       cfg.Stripe.WebhookSecret,
		EphemeralKeyVersion: cfg.Stripe.EphemeralKeyVersion,
	}, log)
}
