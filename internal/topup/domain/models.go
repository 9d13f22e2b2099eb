package domain

import "time"

// TopUpCredit is one externally verified bonus grant. ExternalInvoiceID is
// the idempotence key and a payment id is credited at most once; rows are
// never updated or deleted.
type TopUpCredit struct {
	ExternalInvoiceID string    `gorm:"primaryKey;column:external_invoice_id;type:text" json:"external_invoice_id"`
	AccountID         string    `gorm:"type:text;not null" json:"account_id"`
	TopUpID           string    `gorm:"column:topup_id;type:text;not null" json:"topup_id"`
	MsGranted         int64     `gorm:"not null" json:"ms_granted"`
	MinutesGranted    int64     `gorm:"not null" json:"minutes_granted"`
	ExternalPaymentID *string   `gorm:"type:text;uniqueIndex" json:"external_payment_id,omitempty"`
	CreditedPeriodID  string    `gorm:"type:text;not null" json:"credited_period_id"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
}

func (TopUpCredit) TableName() string { return "topup_credits" }
