package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Announcement is a staff notice. An empty EventID makes it public.
type Announcement struct {
	bun.BaseModel `bun:"table:announcements"`

	ID        string    `bun:"id,pk" json:"id"`
	EventID   string    `bun:"event_id,nullzero" json:"eventId,omitempty"`
	Title     string    `bun:"title,notnull" json:"title"`
	Content   string    `bun:"content,notnull" json:"content"`
	Type      string    `bun:"type,notnull" json:"type"`
	CreatedBy string    `bun:"created_by,notnull" json:"createdBy"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"createdAt"`
}

type AnnouncementInput struct {
	EventID string `json:"eventId"`
	Title   string `json:"title" validate:"required,max=200"`
	Content string `json:"content" validate:"required"`
	Type    string `json:"type" validate:"required,max=32"`
}
