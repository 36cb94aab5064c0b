package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-eventchain/internal/database"
	"ms-eventchain/internal/models"

	"github.com/uptrace/bun"
)

// ErrTokenTaken means the token id is already bound to another application.
var ErrTokenTaken = errors.New("token id already bound to another ticket")

// ClaimNextJob leases one runnable job: a PENDING job that is due, or a
// RUNNING job whose lease expired. The claim is a conditional update, so two
// workers never hold the same job.
func (d *DB) ClaimNextJob(ctx context.Context, now time.Time, lease time.Duration) (*models.MintJob, error) {
	var candidates []models.MintJob
	err := d.Bun.NewSelect().
		Model(&candidates).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
					return q.Where("status = ?", models.MintPending).Where("next_attempt_at <= ?", now)
				}).
				WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
					return q.Where("status = ?", models.MintRunning).Where("locked_until < ?", now)
				})
		}).
		Order("next_attempt_at ASC").
		Limit(5).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("find runnable mint jobs: %w", err)
	}

	for i := range candidates {
		job := &candidates[i]
		q := d.Bun.NewUpdate().
			Model((*models.MintJob)(nil)).
			Set("status = ?", models.MintRunning).
			Set("locked_until = ?", now.Add(lease)).
			Set("updated_at = ?", now).
			Where("application_id = ?", job.ApplicationID).
			Where("status = ?", job.Status)
		if job.Status == models.MintRunning {
			q = q.Where("locked_until = ?", job.LockedUntil)
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("claim mint job %s: %w", job.ApplicationID, err)
		}
		n, err := database.RowsAffected(res)
		if err != nil {
			return nil, err
		}
		if n == 1 {
			job.Status = models.MintRunning
			job.LockedUntil = now.Add(lease)
			job.UpdatedAt = now
			return job, nil
		}
	}
	return nil, nil
}

// RecordAttempt bumps the attempt counter and extends the lease.
func (d *DB) RecordAttempt(ctx context.Context, applicationID, lastErr string, now time.Time, lease time.Duration) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.MintJob)(nil)).
		Set("attempts = attempts + 1").
		Set("last_error = ?", lastErr).
		Set("locked_until = ?", now.Add(lease)).
		Set("updated_at = ?", now).
		Where("application_id = ?", applicationID).
		Where("status = ?", models.MintRunning).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record mint attempt for %s: %w", applicationID, err)
	}
	return nil
}

// CompleteJob stores the ticket and marks the job SUCCEEDED atomically. A
// ticket already present for the application wins; a token id that belongs
// to another application fails with ErrTokenTaken.
func (d *DB) CompleteJob(ctx context.Context, ticket *models.Ticket, now time.Time) (*models.Ticket, error) {
	stored := ticket
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var existing models.Ticket
		err := tx.NewSelect().Model(&existing).Where("application_id = ?", ticket.ApplicationID).Limit(1).Scan(ctx)
		switch {
		case err == nil:
			stored = &existing
		case errors.Is(err, sql.ErrNoRows):
			taken, err := tx.NewSelect().Model((*models.Ticket)(nil)).Where("token_id = ?", ticket.TokenID).Exists(ctx)
			if err != nil {
				return fmt.Errorf("check token id: %w", err)
			}
			if taken {
				return ErrTokenTaken
			}
			if _, err := tx.NewInsert().Model(ticket).Exec(ctx); err != nil {
				return fmt.Errorf("insert ticket: %w", err)
			}
		default:
			return fmt.Errorf("load ticket for application: %w", err)
		}

		_, err = tx.NewUpdate().
			Model((*models.MintJob)(nil)).
			Set("status = ?", models.MintSucceeded).
			Set("last_error = ?", "").
			Set("locked_until = NULL").
			Set("updated_at = ?", now).
			Where("application_id = ?", ticket.ApplicationID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("complete mint job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (d *DB) FailJob(ctx context.Context, applicationID, lastErr string, now time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.MintJob)(nil)).
		Set("status = ?", models.MintFailed).
		Set("last_error = ?", lastErr).
		Set("locked_until = NULL").
		Set("updated_at = ?", now).
		Where("application_id = ?", applicationID).
		Where("status = ?", models.MintRunning).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("fail mint job %s: %w", applicationID, err)
	}
	return nil
}

// ReleaseJob puts a running job back to PENDING, for example on shutdown.
func (d *DB) ReleaseJob(ctx context.Context, applicationID string, nextAttempt, now time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.MintJob)(nil)).
		Set("status = ?", models.MintPending).
		Set("next_attempt_at = ?", nextAttempt).
		Set("locked_until = NULL").
		Set("updated_at = ?", now).
		Where("application_id = ?", applicationID).
		Where("status = ?", models.MintRunning).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release mint job %s: %w", applicationID, err)
	}
	return nil
}

// RetryJob is the operator override: FAILED -> PENDING with a fresh budget.
func (d *DB) RetryJob(ctx context.Context, applicationID string, now time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.MintJob)(nil)).
		Set("status = ?", models.MintPending).
		Set("attempts = 0").
		Set("next_attempt_at = ?", now).
		Set("updated_at = ?", now).
		Where("application_id = ?", applicationID).
		Where("status = ?", models.MintFailed).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("retry mint job %s: %w", applicationID, err)
	}
	n, err := database.RowsAffected(res)
	return n == 1, err
}

func (d *DB) GetJob(ctx context.Context, applicationID string) (*models.MintJob, error) {
	var job models.MintJob
	err := d.Bun.NewSelect().Model(&job).Where("application_id = ?", applicationID).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (d *DB) ListJobs(ctx context.Context, status models.MintJobStatus, limit int) ([]models.MintJob, error) {
	var jobs []models.MintJob
	q := d.Bun.NewSelect().Model(&jobs).Order("updated_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list mint jobs: %w", err)
	}
	return jobs, nil
}

func (d *DB) CountJobsByStatus(ctx context.Context) (map[models.MintJobStatus]int, error) {
	var rows []struct {
		Status models.MintJobStatus `bun:"status"`
		Count  int                  `bun:"count"`
	}
	err := d.Bun.NewSelect().
		Model((*models.MintJob)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("count mint jobs: %w", err)
	}
	out := make(map[models.MintJobStatus]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
