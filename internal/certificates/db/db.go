package db

import (
	"context"
	"fmt"

	"ms-eventchain/internal/database"
	"ms-eventchain/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// InsertCertificate stores cert unless the ticket already has one. It
// reports whether this call created the row.
func (d *DB) InsertCertificate(ctx context.Context, cert *models.Certificate) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(cert).
		On("CONFLICT (ticket_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("insert certificate for ticket %s: %w", cert.TicketID, err)
	}
	n, err := database.RowsAffected(res)
	return n == 1, err
}

func (d *DB) GetCertificateByTicket(ctx context.Context, ticketID string) (*models.Certificate, error) {
	cert := new(models.Certificate)
	err := d.Bun.NewSelect().Model(cert).Where("ticket_id = ?", ticketID).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return cert, nil
}

func (d *DB) GetCertificateByID(ctx context.Context, id string) (*models.Certificate, error) {
	cert := new(models.Certificate)
	err := d.Bun.NewSelect().Model(cert).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// SetTransactionHash records the chain anchor for a certificate. The first
// hash wins.
func (d *DB) SetTransactionHash(ctx context.Context, certificateID, txHash string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Certificate)(nil)).
		Set("transaction_hash = ?", txHash).
		Where("id = ?", certificateID).
		Where("(transaction_hash IS NULL OR transaction_hash = '')").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store anchor for certificate %s: %w", certificateID, err)
	}
	return nil
}
