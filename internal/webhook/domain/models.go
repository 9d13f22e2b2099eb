// Package domain records billing provider webhook deliveries and the
// contract for applying them to accounts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event is one provider delivery. (Provider, ProviderEventID) is unique, so a
// redelivered event maps onto the row written by the first delivery.
type Event struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider        string         `gorm:"type:text;not null" json:"provider"`
	ProviderEventID string         `gorm:"type:text;not null" json:"provider_event_id"`
	EventType       string         `gorm:"type:text;not null" json:"event_type"`
	Payload         datatypes.JSON `json:"payload,omitempty"`
	ReceivedAt      time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	Attempts        int            `gorm:"not null" json:"attempts"`
	LastError       *string        `json:"last_error,omitempty"`
}

func (Event) TableName() string { return "billing_webhook_events" }

// Stripe event types the dispatcher acts on.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
	EventInvoicePaymentFail  = "invoice.payment_failed"
	EventCheckoutCompleted   = "checkout.session.completed"
)
