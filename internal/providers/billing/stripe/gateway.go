package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	billingdomain "github.com/luisterslim/billing/internal/providers/billing/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

type Config struct {
	SecretKey           string
	WebhookSecret       string
	EphemeralKeyVersion string
	// Backends overrides the API endpoint, used by tests.
	Backends *stripego.Backends
}

type Gateway struct {
	api                 *client.API
	webhookSecret       string
	ephemeralKeyVersion string
	log                 *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Gateway {
	g := &Gateway{
		webhookSecret:       strings.TrimSpace(cfg.WebhookSecret),
		ephemeralKeyVersion: strings.TrimSpace(cfg.EphemeralKeyVersion),
		log:                 log.Named("billing.stripe"),
	}
	if key := strings.TrimSpace(cfg.SecretKey); key != "" {
		g.api = client.New(key, cfg.Backends)
	}
	return g
}

func (g *Gateway) GetSubscription(ctx context.Context, subscriptionID string) (*billingdomain.Subscription, error) {
	if g.api == nil {
		return nil, billingdomain.ErrNotConfigured
	}
	params := &stripego.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, g.classify("get subscription", err)
	}
	return toSubscription(sub), nil
}

func (g *Gateway) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*billingdomain.PaymentIntent, error) {
	if g.api == nil {
		return nil, billingdomain.ErrNotConfigured
	}
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		return nil, g.classify("get payment intent", err)
	}

	out := &billingdomain.PaymentIntent{
		ID:       pi.ID,
		Status:   string(pi.Status),
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		Metadata: pi.Metadata,
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	return out, nil
}

func (g *Gateway) CreateCustomer(ctx context.Context, req billingdomain.CreateCustomerRequest) (*billingdomain.Customer, error) {
	if g.api == nil {
		return nil, billingdomain.ErrNotConfigured
	}
	params := &stripego.CustomerParams{}
	params.Context = ctx
	if email := strings.TrimSpace(req.Email); email != "" {
		params.Email = stripego.String(email)
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		params.Name = stripego.String(name)
	}
	params.AddMetadata("account_id", req.AccountID)
	// one customer per account even when the create call is retried
	params.SetIdempotencyKey("customer:" + req.AccountID)

	cus, err := g.api.Customers.New(params)
	if err != nil {
		return nil, g.classify("create customer", err)
	}
	return &billingdomain.Customer{ID: cus.ID, Email: cus.Email, Name: cus.Name}, nil
}

func (g *Gateway) CreateEphemeralKey(ctx context.Context, customerID string) (*billingdomain.EphemeralKey, error) {
	if g.api == nil {
		return nil, billingdomain.ErrNotConfigured
	}
	params := &stripego.EphemeralKeyParams{
		Customer:      stripego.String(customerID),
		StripeVersion: stripego.String(g.ephemeralKeyVersion),
	}
	params.Context = ctx

	key, err := g.api.EphemeralKeys.New(params)
	if err != nil {
		return nil, g.classify("create ephemeral key", err)
	}
	return &billingdomain.EphemeralKey{
		ID:         key.ID,
		Secret:     key.Secret,
		CustomerID: customerID,
		ExpiresAt:  time.Unix(key.Expires, 0).UTC(),
	}, nil
}

func (g *Gateway) ConstructEvent(payload []byte, signatureHeader string) (*billingdomain.Event, error) {
	if g.webhookSecret == "" {
		return nil, billingdomain.ErrNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		g.log.Warn("webhook signature rejected", zap.Error(err))
		return nil, billingdomain.ErrInvalidSignature
	}

	out := &billingdomain.Event{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
		Payload: payload,
	}
	if event.Data != nil {
		out.Object = event.Data.Raw
	}
	return out, nil
}

// classify separates permanent rejections from outages so callers can decide
// whether a retry makes sense.
func (g *Gateway) classify(op string, err error) error {
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		g.log.Warn("stripe call failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w: %v", op, billingdomain.ErrUnavailable, err)
	}

	g.log.Warn("stripe call returned error",
		zap.String("op", op),
		zap.Int("status", stripeErr.HTTPStatusCode),
		zap.String("code", string(stripeErr.Code)),
		zap.String("request_id", stripeErr.RequestID),
	)
	switch {
	case stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripego.ErrorCodeResourceMissing:
		return fmt.Errorf("%s: %w", op, billingdomain.ErrNotFound)
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= 500:
		return fmt.Errorf("%s: %w", op, billingdomain.ErrUnavailable)
	case stripeErr.HTTPStatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, billingdomain.ErrNotConfigured)
	default:
		return fmt.Errorf("%s: %w: %s", op, billingdomain.ErrRejected, stripeErr.Msg)
	}
}

func toSubscription(sub *stripego.Subscription) *billingdomain.Subscription {
	out := &billingdomain.Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			out.CurrentPeriodEnd = &end
		}
	}
	return out
}

// SubscriptionFromObject decodes a webhook data.object into the domain shape.
func SubscriptionFromObject(sub *stripego.Subscription) *billingdomain.Subscription {
	if sub == nil {
		return nil
	}
	return toSubscription(sub)
}
