package storage

import (
	"context"
	"time"

	"ms-eventchain/internal/models"
)

// ConfirmOutcome is what a confirmation transaction did.
type ConfirmOutcome int

const (
	// Confirmed moved the application to PAID and queued the mint.
	Confirmed ConfirmOutcome = iota
	// Duplicate means the session id was already in the ledger.
	Duplicate
	// UnknownSession means no checkout was opened for the session id.
	UnknownSession
	// NotSelected means the application was not SELECTED; nothing was written.
	NotSelected
)

type Store interface {
	InsertPayment(ctx context.Context, payment *models.Payment) error
	GetPendingPayment(ctx context.Context, applicationID string) (*models.Payment, error)
	GetPaymentBySession(ctx context.Context, sessionID string) (*models.Payment, error)
	// ExpirePending moves a PENDING payment to EXPIRED and reports whether
	// this call did it.
	ExpirePending(ctx context.Context, sessionID string) (bool, error)
	// ConfirmSession records sessionID in the processed ledger and applies
	// SELECTED -> PAID plus the mint job in the same transaction.
	ConfirmSession(ctx context.Context, sessionID, source string, at time.Time) (ConfirmOutcome, *models.Payment, error)
}
