package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	// TopUpIDReferral marks credits granted by the referral programme.
	TopUpIDReferral = "referral"

	// BonusWindow is how far back credits count toward effective quota.
	// Credits are not scoped to the period they were bought in.
	BonusWindow = 365 * 24 * time.Hour
)

// Verification asks CreditTopUp to confirm the payment with the billing
// provider before writing anything.
type Verification struct {
	PaymentIntentID string
	// ExpectedCustomerID, when set, is accepted as proof of ownership in
	// place of the payment intent's account_id metadata.
	ExpectedCustomerID string
	// TopUpID is the pack the intent's topup_id metadata must name. It
	// defaults to the credit's TopUpID.
	TopUpID string
}

type CreditRequest struct {
	// ExternalInvoiceID keys unverified credits. A verified credit is keyed
	// by its payment intent id so every path reporting one payment lands on
	// the same row.
	ExternalInvoiceID string
	AccountID         string
	TopUpID           string
	MinutesGranted    int64
	ExternalPaymentID string
	CreditedPeriodID  string
	Verify            *Verification
}

type CreditResult struct {
	// Created is false when the invoice had already been credited.
	Created bool         `json:"created"`
	Credit  *TopUpCredit `json:"credit"`
}

// ConfirmRequest is a purchase claim for a catalog top-up. The credited
// period, the minutes and the ledger key are resolved server side.
type ConfirmRequest struct {
	AccountID       string `json:"-"`
	TopUpID         string `json:"topup_id"`
	PaymentIntentID string `json:"payment_intent_id"`
}

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, credit *TopUpCredit) (bool, error)
	Find(ctx context.Context, db *gorm.DB, externalInvoiceID string) (*TopUpCredit, error)
	FindByPayment(ctx context.Context, db *gorm.DB, externalPaymentID string) (*TopUpCredit, error)
	SumMsSince(ctx context.Context, db *gorm.DB, accountID string, since time.Time) (int64, error)
	ListByAccount(ctx context.Context, db *gorm.DB, accountID string, limit int) ([]TopUpCredit, error)
}

// Service is the top-up ledger.
type Service interface {
	CreditTopUp(ctx context.Context, req CreditRequest) (*CreditResult, error)
	ConfirmPurchase(ctx context.Context, req ConfirmRequest) (*CreditResult, error)
	CreditReferral(ctx context.Context, accountID, referralID string, minutes int64) (*CreditResult, error)
	SumBonusMs(ctx context.Context, accountID string) (int64, error)
	List(ctx context.Context, accountID string, limit int) ([]TopUpCredit, error)
}

var (
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrInvalidInvoice  = errors.New("invalid_external_invoice_id")
	ErrInvalidTopUp    = errors.New("invalid_topup_id")
	ErrInvalidMinutes  = errors.New("invalid_minutes_granted")
	ErrInvalidPeriod   = errors.New("invalid_credited_period")
	ErrInvalidPayment  = errors.New("invalid_payment_intent")
	ErrInvalidReferral = errors.New("invalid_referral")
	ErrUnknownTopUp    = errors.New("unknown_topup")
	// ErrInvoiceConflict means the invoice id was already credited to another account.
	ErrInvoiceConflict = errors.New("topup_invoice_conflict")
)
