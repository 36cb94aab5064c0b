package storage

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

// BunStore is the PostgreSQL payment store. Tests run it on SQLite.
type BunStore struct {
	Bun *bun.DB
}

var _ Store = (*BunStore)(nil)

// errRollback aborts a confirmation transaction without surfacing an error.
var errRollback = errors.New("rollback")

// InsertPayment ignores a duplicate session id, which happens when two
// checkout requests race and the gateway hands both the same session.
func (s *BunStore) InsertPayment(ctx context.Context, payment *models.Payment) error {
	_, err := s.Bun.NewInsert().
		Model(payment).
		On("CONFLICT (session_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *BunStore) GetPendingPayment(ctx context.Context, applicationID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.Bun.NewSelect().
		Model(&payment).
		Where("application_id = ?", applicationID).
		Where("status = ?", models.PaymentPending).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *BunStore) GetPaymentBySession(ctx context.Context, sessionID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.Bun.NewSelect().
		Model(&payment).
		Where("session_id = ?", sessionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *BunStore) ExpirePending(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.Bun.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("status = ?", models.PaymentExpired).
		Where("session_id = ?", sessionID).
		Where("status = ?", models.PaymentPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("expire payment for session %s: %w", sessionID, err)
	}
	n, err := database.RowsAffected(res)
	return n == 1, err
}

func (s *BunStore) ConfirmSession(ctx context.Context, sessionID, source string, at time.Time) (ConfirmOutcome, *models.Payment, error) {
	outcome := Confirmed
	var payment models.Payment

	err := s.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(&payment).
			Where("session_id = ?", sessionID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			outcome = UnknownSession
			return errRollback
		}
		if err != nil {
			return fmt.Errorf("load payment for session: %w", err)
		}

		res, err := tx.NewInsert().
			Model(&models.ProcessedSession{
				SessionID:     sessionID,
				ApplicationID: payment.ApplicationID,
				Source:        source,
				ProcessedAt:   at,
			}).
			On("CONFLICT (session_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("record processed session: %w", err)
		}
		if n, err := database.RowsAffected(res); err != nil {
			return err
		} else if n == 0 {
			outcome = Duplicate
			return errRollback
		}

		res, err = tx.NewUpdate().
			Model((*models.Application)(nil)).
			Set("status = ?", models.ApplicationPaid).
			Set("updated_at = ?", at).
			Where("id = ?", payment.ApplicationID).
			Where("status = ?", models.ApplicationSelected).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("mark application paid: %w", err)
		}
		if n, err := database.RowsAffected(res); err != nil {
			return err
		} else if n == 0 {
			outcome = NotSelected
			return errRollback
		}

		_, err = tx.NewUpdate().
			Model((*models.Payment)(nil)).
			Set("status = ?", models.PaymentCompleted).
			Set("completed_at = ?", at).
			Where("id = ?", payment.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("complete payment: %w", err)
		}
		payment.Status = models.PaymentCompleted
		payment.CompletedAt = at

		_, err = tx.NewInsert().
			Model(&models.MintJob{
				ApplicationID: payment.ApplicationID,
				EventID:       payment.EventID,
				UserID:        payment.UserID,
				Status:        models.MintPending,
				NextAttemptAt: at,
				CreatedAt:     at,
				UpdatedAt:     at,
			}).
			On("CONFLICT (application_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("enqueue mint job: %w", err)
		}
		return nil
	})
	if errors.Is(err, errRollback) {
		return outcome, &payment, nil
	}
	if err != nil {
		return outcome, nil, err
	}
	return outcome, &payment, nil
}
