// Package domain defines the external billing collaborator. The core treats
// it as authoritative for payment and subscription truth.
package domain

//go:generate mockgen -destination=../mock/gateway_mock.go -package=mock github.com/luisterslim/billing/internal/providers/billing/domain Gateway

import (
	"context"
	"errors"
	"time"
)

const ProviderStripe = "stripe"

type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	PriceID          string
	CurrentPeriodEnd *time.Time
	Metadata         map[string]string
}

type PaymentIntent struct {
	ID         string
	CustomerID string
	Status     string
	Amount     int64
	Currency   string
	Metadata   map[string]string
}

type Customer struct {
	ID    string
	Email string
	Name  string
}

type CreateCustomerRequest struct {
	AccountID string
	Email     string
	Name      string
}

type EphemeralKey struct {
	ID         string
	Secret     string
	CustomerID string
	ExpiresAt  time.Time
}

// Event is a signature-checked webhook delivery. Object holds the raw
// data.object JSON.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Object  []byte
	Payload []byte
}

type Gateway interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error)
	CreateEphemeralKey(ctx context.Context, customerID string) (*EphemeralKey, error)
	ConstructEvent(payload []byte, signatureHeader string) (*Event, error)
}

var (
	ErrNotConfigured    = errors.New("billing_gateway_not_configured")
	ErrNotFound         = errors.New("billing_resource_not_found")
	ErrRejected         = errors.New("billing_request_rejected")
	ErrUnavailable      = errors.New("billing_gateway_unavailable")
	ErrInvalidSignature = errors.New("invalid_webhook_signature")

	// ErrVerificationRejected means the provider answered and the claim does
	// not hold. Retrying will not change the answer.
	ErrVerificationRejected = errors.New("billing_verification_rejected")
)

// IsRetryable reports whether err came from an unreachable or throttled provider.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
