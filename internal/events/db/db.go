package db

import (
	"context"
	"fmt"
	"time"

	"ms-eventchain/internal/database"
	"ms-eventchain/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateEvent(ctx context.Context, event *models.Event) error {
	_, err := d.Bun.NewInsert().Model(event).Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// UpdateDraft overwrites editable fields only while the event is still a draft.
func (d *DB) UpdateDraft(ctx context.Context, event *models.Event) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model(event).
		Column("title", "description", "location", "event_date", "lottery_deadline", "price", "max_seats", "updated_at").
		Where("id = ?", event.ID).
		Where("status = ?", models.EventDraft).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update draft event: %w", err)
	}
	n, err := database.RowsAffected(res)
	return n == 1, err
}

// TransitionStatus moves the event from one status to the next if and only
// if it is still in from. The returned flag reports whether this call won.
func (d *DB) TransitionStatus(ctx context.Context, id string, from, to models.EventStatus, at time.Time) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", from)

	switch to {
	case models.EventOpen:
		q = q.Set("published_at = ?", at)
	case models.EventClosed:
		q = q.Set("closed_at = ?", at)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("transition event %s -> %s: %w", from, to, err)
	}
	n, err := database.RowsAffected(res)
	return n == 1, err
}

func (d *DB) ListEvents(ctx context.Context, status models.EventStatus, limit, offset int) ([]models.Event, int, error) {
	var events []models.Event
	count, err := d.Bun.NewSelect().
		Model(&events).
		Where("status = ?", status).
		Order("event_date ASC", "id ASC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	return events, count, nil
}

// ListDueForLottery returns open events whose deadline has passed.
func (d *DB) ListDueForLottery(ctx context.Context, now time.Time, limit int) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Where("status = ?", models.EventOpen).
		Where("lottery_deadline <= ?", now).
		Order("lottery_deadline ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events due for lottery: %w", err)
	}
	return events, nil
}
