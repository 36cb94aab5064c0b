package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventDraft  EventStatus = "DRAFT"
	EventOpen   EventStatus = "OPEN"
	EventClosed EventStatus = "CLOSED"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID              string          `bun:"id,pk" json:"id"`
	Title           string          `bun:"title,notnull" json:"title"`
	Description     string          `bun:"description" json:"description"`
	Location        string          `bun:"location" json:"location"`
	EventDate       time.Time       `bun:"event_date,notnull" json:"eventDate"`
	LotteryDeadline time.Time       `bun:"lottery_deadline,notnull" json:"lotteryDeadline"`
	Price           decimal.Decimal `bun:"price,type:numeric(12,2),notnull" json:"price"`
	MaxSeats        int             `bun:"max_seats,notnull" json:"maxSeats"`
	Status          EventStatus     `bun:"status,notnull" json:"status"`
	CreatedBy       string          `bun:"created_by" json:"createdBy"`
	CreatedAt       time.Time       `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull" json:"updatedAt"`
	PublishedAt     time.Time       `bun:"published_at,nullzero" json:"publishedAt,omitempty"`
	ClosedAt        time.Time       `bun:"closed_at,nullzero" json:"closedAt,omitempty"`
}

// EventInput is the payload accepted by create and update.
type EventInput struct {
	Title           string          `json:"title" validate:"required,max=200"`
	Description     string          `json:"description" validate:"max=5000"`
	Location        string          `json:"location" validate:"max=300"`
	EventDate       time.Time       `json:"eventDate" validate:"required"`
	LotteryDeadline time.Time       `json:"lotteryDeadline" validate:"required,ltfield=EventDate"`
	Price           decimal.Decimal `json:"price"`
	MaxSeats        int             `json:"maxSeats" validate:"gt=0"`
}
