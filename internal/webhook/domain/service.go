package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	// MaxAttempts bounds how often a failing event is retried.
	MaxAttempts = 5
	// RetryGrace keeps the retry job away from deliveries still in flight.
	RetryGrace = time.Minute
)

type IngestResult struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Ignored bool   `json:"ignored"`
}

type RetryReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, event *Event) (bool, error)
	Find(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*Event, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error
	ListPending(ctx context.Context, db *gorm.DB, provider string, receivedBefore time.Time, maxAttempts, limit int) ([]Event, error)
}

type Service interface {
	// Ingest checks the signature, records the delivery and applies it.
	Ingest(ctx context.Context, payload []byte, signatureHeader string) (*IngestResult, error)
	// RetryPending re-applies recorded events that have not been processed.
	RetryPending(ctx context.Context, limit int) (*RetryReport, error)
}

var (
	ErrEventAlreadyProcessed = errors.New("webhook_event_already_processed")
	ErrInvalidEvent          = errors.New("invalid_webhook_event")
	ErrUnresolvedAccount     = errors.New("webhook_account_unresolved")
)
