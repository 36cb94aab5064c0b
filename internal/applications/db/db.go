package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-eventchain/internal/database"
	"ms-eventchain/internal/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type DB struct {
	Bun *bun.DB
}

// ErrEventNotOpen is returned by InsertIfOpen when the event has left OPEN.
var ErrEventNotOpen = errors.New("event is not open")

// InsertIfOpen writes app only while its event is OPEN. On PostgreSQL the
// event row is share-locked, so the draw's OPEN -> CLOSED update either waits
// for this insert or is seen by it. The (user_id, event_id) unique constraint
// decides duplicates; created is false when the pair already exists.
func (d *DB) InsertIfOpen(ctx context.Context, app *models.Application) (created bool, err error) {
	err = d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var event models.Event
		q := tx.NewSelect().
			Model(&event).
			Column("id", "status").
			Where("id = ?", app.EventID)
		if d.Bun.Dialect().Name() == dialect.PG {
			q = q.For("SHARE")
		}
		if err := q.Scan(ctx); err != nil {
			return err
		}
		if event.Status != models.EventOpen {
			return ErrEventNotOpen
		}

		res, err := tx.NewInsert().
			Model(app).
			On("CONFLICT (user_id, event_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert application: %w", err)
		}
		n, err := database.RowsAffected(res)
		created = n == 1
		return err
	})
	return created, err
}

func (d *DB) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	var app models.Application
	err := d.Bun.NewSelect().
		Model(&app).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (d *DB) ListByEvent(ctx context.Context, eventID string) ([]models.Application, error) {
	var apps []models.Application
	err := d.Bun.NewSelect().
		Model(&apps).
		Where("event_id = ?", eventID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list applications for event %s: %w", eventID, err)
	}
	return apps, nil
}

func (d *DB) ListByUser(ctx context.Context, userID string) ([]models.Application, error) {
	var apps []models.Application
	err := d.Bun.NewSelect().
		Model(&apps).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list applications for user %s: %w", userID, err)
	}
	return apps, nil
}

func (d *DB) TransitionStatus(ctx context.Context, id string, from, to models.ApplicationStatus, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Application)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("transition application %s -> %s: %w", from, to, err)
	}
	n, err := database.RowsAffected(res)
	return n == 1, err
}
