package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ApplicationStatus string

const (
	ApplicationApplied    ApplicationStatus = "APPLIED"
	ApplicationSelected   ApplicationStatus = "SELECTED"
	ApplicationWaitlisted ApplicationStatus = "WAITLISTED"
	ApplicationPaid       ApplicationStatus = "PAID"
	ApplicationRejected   ApplicationStatus = "REJECTED"
)

type Application struct {
	bun.BaseModel `bun:"table:applications"`

	ID           string            `bun:"id,pk" json:"id"`
	UserID       string            `bun:"user_id,notnull,unique:applications_user_event" json:"userId"`
	EventID      string            `bun:"event_id,notnull,unique:applications_user_event" json:"eventId"`
	Status       ApplicationStatus `bun:"status,notnull" json:"status"`
	DrawPosition int               `bun:"draw_position,nullzero" json:"drawPosition,omitempty"`
	LotteryRound int               `bun:"lottery_round,nullzero" json:"lotteryRound,omitempty"`
	CreatedAt    time.Time         `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt    time.Time         `bun:"updated_at,notnull" json:"updatedAt"`
}
