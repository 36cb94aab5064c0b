package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Certificate struct {
	bun.BaseModel `bun:"table:certificates"`

	ID              string    `bun:"id,pk" json:"certificateId"`
	TicketID        string    `bun:"ticket_id,notnull,unique" json:"ticketId"`
	EventID         string    `bun:"event_id,notnull" json:"eventId"`
	UserID          string    `bun:"user_id,notnull" json:"userId"`
	FileHash        string    `bun:"file_hash" json:"fileHash"`
	VerificationURL string    `bun:"verification_url" json:"verificationUrl"`
	TransactionHash string    `bun:"transaction_hash" json:"transactionHash,omitempty"`
	IssuedAt        time.Time `bun:"issued_at,notnull" json:"issuedAt"`
}
