package db

import (
	"context"
	"fmt"

	"ms-eventchain/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateAnnouncement(ctx context.Context, a *models.Announcement) error {
	if _, err := d.Bun.NewInsert().Model(a).Exec(ctx); err != nil {
		return fmt.Errorf("insert announcement: %w", err)
	}
	return nil
}

// ListAnnouncements returns newest first. An empty eventID lists the public
// feed.
func (d *DB) ListAnnouncements(ctx context.Context, eventID string, limit int) ([]models.Announcement, error) {
	var out []models.Announcement
	q := d.Bun.NewSelect().Model(&out)
	if eventID == "" {
		q = q.Where("event_id IS NULL")
	} else {
		q = q.Where("event_id = ?", eventID)
	}
	err := q.OrderExpr("created_at DESC, id DESC").Limit(limit).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	return out, nil
}
