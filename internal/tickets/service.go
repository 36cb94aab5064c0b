// Package tickets binds minted tokens to paid applications and serves the
// resulting tickets.
package tickets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	qr "ms-eventchain/internal/tickets/qr_genrator"
)

const maxJobListing = 200

type TicketDBLayer interface {
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error)
	GetTicketsByEvent(ctx context.Context, eventID string) ([]models.Ticket, error)
	GetJob(ctx context.Context, applicationID string) (*models.MintJob, error)
	ListJobs(ctx context.Context, status models.MintJobStatus, limit int) ([]models.MintJob, error)
	RetryJob(ctx context.Context, applicationID string, now time.Time) (bool, error)
}

type TicketService struct {
	DB     TicketDBLayer
	QR     *qr.QRGenerator
	Clock  clock.Clock
	Logger *logger.Logger
}

func NewTicketService(db TicketDBLayer, qrGen *qr.QRGenerator, clk clock.Clock, log *logger.Logger) *TicketService {
	return &TicketService{DB: db, QR: qrGen, Clock: clk, Logger: log}
}

func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	ticket, err := s.DB.GetTicketByID(ctx, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("ticket %s not found", ticketID)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", ticketID, err)
	}
	return ticket, nil
}

// GetOwnedTicket returns the ticket if actor owns it or is an admin.
func (s *TicketService) GetOwnedTicket(ctx context.Context, actor models.Actor, ticketID string) (*models.Ticket, error) {
	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.OwnerID != actor.UserID && !actor.IsAdmin() {
		return nil, apperr.Forbidden("ticket belongs to another user")
	}
	return ticket, nil
}

func (s *TicketService) ListMine(ctx context.Context, userID string) ([]models.Ticket, error) {
	tickets, err := s.DB.GetTicketsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return nonNil(tickets), nil
}

func (s *TicketService) ListByEvent(ctx context.Context, actor models.Actor, eventID string) ([]models.Ticket, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("administrator role required")
	}
	tickets, err := s.DB.GetTicketsByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return nonNil(tickets), nil
}

// QRCode renders the venue QR for a ticket. Its content is sealed so only
// this service can read it back at the door.
func (s *TicketService) QRCode(ctx context.Context, actor models.Actor, ticketID string) ([]byte, error) {
	ticket, err := s.GetOwnedTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	png, err := s.QR.GenerateEncryptedQR(models.TicketQRPayload{
		TicketID: ticket.ID,
		EventID:  ticket.EventID,
		TokenID:  ticket.TokenID,
	})
	if err != nil {
		return nil, fmt.Errorf("generate QR for ticket %s: %w", ticketID, err)
	}
	return png, nil
}

// ListJobs is the operator view of the mint queue.
func (s *TicketService) ListJobs(ctx context.Context, actor models.Actor, status models.MintJobStatus) ([]models.MintJob, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("administrator role required")
	}
	switch status {
	case "", models.MintPending, models.MintRunning, models.MintSucceeded, models.MintFailed:
	default:
		return nil, apperr.Validation("unknown mint job status %q", status)
	}
	jobs, err := s.DB.ListJobs(ctx, status, maxJobListing)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []models.MintJob{}
	}
	return jobs, nil
}

// RetryJob re-queues a FAILED mint job with a fresh attempt budget.
func (s *TicketService) RetryJob(ctx context.Context, actor models.Actor, applicationID string) (*models.MintJob, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("administrator role required")
	}

	ok, err := s.DB.RetryJob(ctx, applicationID, s.Clock.Now())
	if err != nil {
		return nil, err
	}

	job, err := s.DB.GetJob(ctx, applicationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("no mint job for application %s", applicationID)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("mint job is %s, only FAILED jobs can be retried", job.Status)
	}

	s.Logger.Warn("MINT", fmt.Sprintf("[%s] re-queued by operator %s", applicationID, actor.UserID))
	return job, nil
}

func nonNil(tickets []models.Ticket) []models.Ticket {
	if tickets == nil {
		return []models.Ticket{}
	}
	return tickets
}
