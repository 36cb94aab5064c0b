package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	// PaymentExpired marks a session the processor will no longer accept.
	PaymentExpired PaymentStatus = "EXPIRED"
)

// Payment is one checkout session opened for an application.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID            string          `bun:"id,pk" json:"id"`
	ApplicationID string          `bun:"application_id,notnull" json:"applicationId"`
	EventID       string          `bun:"event_id,notnull" json:"eventId"`
	UserID        string          `bun:"user_id,notnull" json:"userId"`
	SessionID     string          `bun:"session_id,notnull,unique" json:"sessionId"`
	Amount        decimal.Decimal `bun:"amount,type:numeric(12,2),notnull" json:"amount"`
	Currency      string          `bun:"currency,notnull" json:"currency"`
	Status        PaymentStatus   `bun:"status,notnull" json:"status"`
	CheckoutURL   string          `bun:"checkout_url" json:"checkoutUrl"`
	CreatedAt     time.Time       `bun:"created_at,notnull" json:"createdAt"`
	ExpiresAt     time.Time       `bun:"expires_at,nullzero" json:"expiresAt,omitempty"`
	CompletedAt   time.Time       `bun:"completed_at,nullzero" json:"completedAt,omitempty"`
}

// ProcessedSession is the dedupe ledger for payment confirmations.
type ProcessedSession struct {
	bun.BaseModel `bun:"table:processed_sessions"`

	SessionID     string    `bun:"session_id,pk"`
	ApplicationID string    `bun:"application_id,notnull"`
	Source        string    `bun:"source,notnull"`
	ProcessedAt   time.Time `bun:"processed_at,notnull"`
}

type CheckoutSession struct {
	ApplicationID string `json:"applicationId"`
	SessionID     string `json:"sessionId"`
	RedirectURL   string `json:"redirectUrl"`
}

// ConfirmationResult tells the caller whether this delivery changed anything.
type ConfirmationResult struct {
	ApplicationID    string `json:"applicationId"`
	SessionID        string `json:"sessionId"`
	AlreadyProcessed bool   `json:"alreadyProcessed"`
}
