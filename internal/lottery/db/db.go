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

// AllocateFunc decides the outcome of every APPLIED application. It runs
// inside the draw transaction.
type AllocateFunc func(applied []models.Application) ([]models.Allocation, error)

// RunDraw closes the event and writes the allocations in one transaction.
// The event is moved OPEN -> CLOSED first; if another caller already did so
// won is false and nothing else is touched.
func (d *DB) RunDraw(ctx context.Context, eventID string, at time.Time, allocate AllocateFunc) (allocs []models.Allocation, won bool, err error) {
	err = d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Event)(nil)).
			Set("status = ?", models.EventClosed).
			Set("closed_at = ?", at).
			Set("updated_at = ?", at).
			Where("id = ?", eventID).
			Where("status = ?", models.EventOpen).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("close event %s: %w", eventID, err)
		}
		n, err := database.RowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		won = true

		var applied []models.Application
		err = tx.NewSelect().
			Model(&applied).
			Where("event_id = ?", eventID).
			Where("status = ?", models.ApplicationApplied).
			Order("id ASC").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("load applications for draw: %w", err)
		}

		allocs, err = allocate(applied)
		if err != nil {
			return err
		}

		for _, a := range allocs {
			res, err := tx.NewUpdate().
				Model((*models.Application)(nil)).
				Set("status = ?", a.Status).
				Set("draw_position = ?", a.DrawPosition).
				Set("lottery_round = ?", 1).
				Set("updated_at = ?", at).
				Where("id = ?", a.ApplicationID).
				Where("status = ?", models.ApplicationApplied).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("allocate application %s: %w", a.ApplicationID, err)
			}
			if n, err := database.RowsAffected(res); err != nil {
				return err
			} else if n != 1 {
				return fmt.Errorf("application %s changed during draw", a.ApplicationID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return allocs, won, nil
}
