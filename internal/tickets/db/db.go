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

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketByApplication(ctx context.Context, applicationID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("application_id = ?", applicationID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketByToken(ctx context.Context, eventID string, tokenID int64) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("event_id = ?", eventID).
		Where("token_id = ?", tokenID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("owner_id = ?", userID).
		Order("issued_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets for user %s: %w", userID, err)
	}
	return tickets, nil
}

func (d *DB) GetTicketsByEvent(ctx context.Context, eventID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("event_id = ?", eventID).
		Order("token_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets for event %s: %w", eventID, err)
	}
	return tickets, nil
}

// MarkCheckedIn flips checked_in false -> true for the ticket identified by
// (eventID, tokenID). It reports false when no unchecked ticket matched.
func (d *DB) MarkCheckedIn(ctx context.Context, eventID string, tokenID int64, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("checked_in = ?", true).
		Set("checked_in_at = ?", at).
		Where("event_id = ?", eventID).
		Where("token_id = ?", tokenID).
		Where("checked_in = ?", false).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("check in token %d: %w", tokenID, err)
	}
	n, err := database.RowsAffected(res)
	return n == 1, err
}

// SetAttendanceTx stores the chain receipt for a check-in. The first receipt
// wins.
func (d *DB) SetAttendanceTx(ctx context.Context, ticketID, txHash string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("attendance_tx_hash = ?", txHash).
		Where("id = ?", ticketID).
		Where("(attendance_tx_hash IS NULL OR attendance_tx_hash = '')").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store attendance receipt for %s: %w", ticketID, err)
	}
	return nil
}
