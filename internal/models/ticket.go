package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID              string    `bun:"id,pk" json:"id"`
	ApplicationID   string    `bun:"application_id,notnull,unique" json:"applicationId"`
	EventID         string    `bun:"event_id,notnull" json:"eventId"`
	OwnerID         string    `bun:"owner_id,notnull" json:"ownerId"`
	TokenID         int64     `bun:"token_id,notnull,unique" json:"tokenId"`
	TransactionHash string    `bun:"transaction_hash" json:"transactionHash,omitempty"`
	CheckedIn       bool      `bun:"checked_in,notnull" json:"checkedIn"`
	CheckedInAt     time.Time `bun:"checked_in_at,nullzero" json:"checkedInAt,omitempty"`
	AttendanceTx    string    `bun:"attendance_tx_hash" json:"attendanceTransactionHash,omitempty"`
	IssuedAt        time.Time `bun:"issued_at,notnull" json:"issuedAt"`
}

// TicketQRPayload is what the encrypted ticket QR carries.
type TicketQRPayload struct {
	TicketID string `json:"tid"`
	EventID  string `json:"eid"`
	TokenID  int64  `json:"tok"`
}
