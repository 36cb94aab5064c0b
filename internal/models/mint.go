package models

import (
	"time"

	"github.com/uptrace/bun"
)

type MintJobStatus string

const (
	MintPending   MintJobStatus = "PENDING"
	MintRunning   MintJobStatus = "RUNNING"
	MintSucceeded MintJobStatus = "SUCCEEDED"
	MintFailed    MintJobStatus = "FAILED"
)

// MintJob is keyed by application id, which doubles as the mint idempotency key.
type MintJob struct {
	bun.BaseModel `bun:"table:mint_jobs"`

	ApplicationID string        `bun:"application_id,pk" json:"applicationId"`
	EventID       string        `bun:"event_id,notnull" json:"eventId"`
	UserID        string        `bun:"user_id,notnull" json:"userId"`
	Status        MintJobStatus `bun:"status,notnull" json:"status"`
	Attempts      int           `bun:"attempts,notnull" json:"attempts"`
	LastError     string        `bun:"last_error" json:"lastError,omitempty"`
	NextAttemptAt time.Time     `bun:"next_attempt_at,notnull" json:"nextAttemptAt"`
	LockedUntil   time.Time     `bun:"locked_until,nullzero" json:"lockedUntil,omitempty"`
	CreatedAt     time.Time     `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt     time.Time     `bun:"updated_at,notnull" json:"updatedAt"`
}

type MintRequest struct {
	ApplicationID string `json:"applicationId"`
	EventID       string `json:"eventId"`
	UserID        string `json:"userId"`
}

type MintResult struct {
	TokenID         int64  `json:"tokenId"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// AttendanceRequest records a door scan against the ticket token on chain.
type AttendanceRequest struct {
	EventID  string `json:"eventId"`
	TicketID string `json:"ticketId"`
	TokenID  int64  `json:"tokenId"`
}

// AnchorRequest binds a certificate file hash to the attendee's token.
type AnchorRequest struct {
	CertificateID string `json:"certificateId"`
	TokenID       int64  `json:"tokenId"`
	FileHash      string `json:"fileHash"`
}

type ChainReceipt struct {
	TransactionHash string `json:"transactionHash"`
}
