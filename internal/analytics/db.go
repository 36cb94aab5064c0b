package analytics

import (
	"context"
	"fmt"

	"ms-eventchain/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DB runs the rollup queries.
type DB struct {
	bun *bun.DB
}

func NewDB(db *bun.DB) *DB {
	return &DB{bun: db}
}

// Counts is the raw material for one snapshot.
type Counts struct {
	ByStatus     map[models.ApplicationStatus]int
	Minted       int
	CheckedIn    int
	Certificates int
	Revenue      decimal.Decimal
}

type statusCount struct {
	Status models.ApplicationStatus `bun:"status"`
	Count  int                      `bun:"count"`
}

type dailyRevenueRow struct {
	Day      string          `bun:"day"`
	Revenue  decimal.Decimal `bun:"revenue"`
	Payments int             `bun:"payments"`
}

func (d *DB) GetCounts(ctx context.Context, eventID string) (*Counts, error) {
	var rows []statusCount
	err := d.bun.NewSelect().
		Model((*models.Application)(nil)).
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		Where("event_id = ?", eventID).
		GroupExpr("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("count applications for %s: %w", eventID, err)
	}
	counts := &Counts{ByStatus: make(map[models.ApplicationStatus]int, len(rows))}
	for _, r := range rows {
		counts.ByStatus[r.Status] = r.Count
	}

	if counts.Minted, err = d.bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx); err != nil {
		return nil, fmt.Errorf("count tickets for %s: %w", eventID, err)
	}
	if counts.CheckedIn, err = d.bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Where("checked_in = ?", true).
		Count(ctx); err != nil {
		return nil, fmt.Errorf("count check-ins for %s: %w", eventID, err)
	}
	if counts.Certificates, err = d.bun.NewSelect().
		Model((*models.Certificate)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx); err != nil {
		return nil, fmt.Errorf("count certificates for %s: %w", eventID, err)
	}

	var revenue decimal.NullDecimal
	err = d.bun.NewSelect().
		Model((*models.Payment)(nil)).
		ColumnExpr("SUM(amount)").
		Where("event_id = ?", eventID).
		Where("status = ?", models.PaymentCompleted).
		Scan(ctx, &revenue)
	if err != nil {
		return nil, fmt.Errorf("sum revenue for %s: %w", eventID, err)
	}
	if revenue.Valid {
		counts.Revenue = revenue.Decimal
	}
	return counts, nil
}

// GetDailyRevenue groups completed payments by the day they completed.
func (d *DB) GetDailyRevenue(ctx context.Context, eventID string) ([]models.DailyRevenue, error) {
	var rows []dailyRevenueRow
	err := d.bun.NewSelect().
		Model((*models.Payment)(nil)).
		ColumnExpr("CAST(DATE(completed_at) AS TEXT) AS day").
		ColumnExpr("SUM(amount) AS revenue").
		ColumnExpr("COUNT(*) AS payments").
		Where("event_id = ?", eventID).
		Where("status = ?", models.PaymentCompleted).
		GroupExpr("DATE(completed_at)").
		OrderExpr("DATE(completed_at)").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("daily revenue for %s: %w", eventID, err)
	}

	out := make([]models.DailyRevenue, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.DailyRevenue{Date: r.Day, Revenue: r.Revenue, Payments: r.Payments})
	}
	return out, nil
}
