// Package checkin consumes tickets at the door.
package checkin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/minting"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/monitoring"
	"ms-eventchain/internal/notify"
	"ms-eventchain/internal/sse"
	qr "ms-eventchain/internal/tickets/qr_genrator"
)

const attestTimeout = 5 * time.Second

type TicketStore interface {
	MarkCheckedIn(ctx context.Context, eventID string, tokenID int64, at time.Time) (bool, error)
	GetTicketByToken(ctx context.Context, eventID string, tokenID int64) (*models.Ticket, error)
	SetAttendanceTx(ctx context.Context, ticketID, txHash string) error
}

type Service struct {
	Tickets   TicketStore
	QR        *qr.QRGenerator
	Chain     minting.Attester
	Clock     clock.Clock
	Publisher notify.Publisher
	Realtime  sse.Broadcaster
	Logger    *logger.Logger
}

// NewService wires check-in. chain may be nil, in which case attendance is
// recorded only in the database.
func NewService(tickets TicketStore, qrGen *qr.QRGenerator, chain minting.Attester, clk clock.Clock, pub notify.Publisher, rt sse.Broadcaster, log *logger.Logger) *Service {
	return &Service{Tickets: tickets, QR: qrGen, Chain: chain, Clock: clk, Publisher: pub, Realtime: rt, Logger: log}
}

// CheckIn consumes the ticket for (eventID, tokenID). Exactly one of any
// number of concurrent calls succeeds; the rest get Conflict.
func (s *Service) CheckIn(ctx context.Context, actor models.Actor, eventID string, tokenID int64) (*models.Ticket, error) {
	if !actor.IsStaff() {
		monitoring.CheckIn("forbidden")
		return nil, apperr.Forbidden("staff role required")
	}
	// Token ids start at 0 on most ERC-721 contracts.
	if eventID == "" || tokenID < 0 {
		return nil, apperr.Validation("eventId and a non-negative tokenId are required")
	}

	now := s.Clock.Now()
	flipped, err := s.Tickets.MarkCheckedIn(ctx, eventID, tokenID, now)
	if err != nil {
		monitoring.CheckIn("error")
		return nil, err
	}

	ticket, err := s.Tickets.GetTicketByToken(ctx, eventID, tokenID)
	if errors.Is(err, sql.ErrNoRows) {
		monitoring.CheckIn("not_found")
		return nil, apperr.NotFound("no ticket with token %d for event %s", tokenID, eventID)
	}
	if err != nil {
		monitoring.CheckIn("error")
		return nil, fmt.Errorf("load ticket for token %d: %w", tokenID, err)
	}
	if !flipped {
		monitoring.CheckIn("duplicate")
		s.Logger.LogCheckIn(eventID, tokenID, "Rejected repeat check-in")
		return nil, apperr.Conflict("ticket already checked in at %s", ticket.CheckedInAt.UTC().Format(time.RFC3339))
	}

	monitoring.CheckIn("ok")
	s.Logger.LogCheckIn(eventID, tokenID, fmt.Sprintf("Checked in by %s", actor.UserID))
	s.markAttendance(ctx, ticket)
	s.announce(ctx, ticket)
	return ticket, nil
}

// markAttendance mirrors the check-in on chain. The database flip already
// happened and stands whatever the chain says.
func (s *Service) markAttendance(ctx context.Context, ticket *models.Ticket) {
	if s.Chain == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), attestTimeout)
	defer cancel()

	receipt, err := s.Chain.MarkAttendance(ctx, models.AttendanceRequest{
		EventID:  ticket.EventID,
		TicketID: ticket.ID,
		TokenID:  ticket.TokenID,
	})
	if err != nil {
		monitoring.ChainAttestation("attendance", "failed")
		s.Logger.Warn("CHECKIN", fmt.Sprintf("On-chain attendance for token %d failed: %v", ticket.TokenID, err))
		return
	}
	monitoring.ChainAttestation("attendance", "ok")
	if receipt.TransactionHash == "" {
		return
	}
	if err := s.Tickets.SetAttendanceTx(ctx, ticket.ID, receipt.TransactionHash); err != nil {
		s.Logger.Warn("CHECKIN", err.Error())
		return
	}
	ticket.AttendanceTx = receipt.TransactionHash
}

// Scan decrypts a ticket QR, confirms the token still belongs to the ticket
// the code names, and checks it in.
func (s *Service) Scan(ctx context.Context, actor models.Actor, content string) (*models.Ticket, error) {
	if !actor.IsStaff() {
		monitoring.CheckIn("forbidden")
		return nil, apperr.Forbidden("staff role required")
	}
	payload, err := s.QR.Decrypt(content)
	if err != nil {
		monitoring.CheckIn("bad_qr")
		return nil, apperr.Validation("unreadable ticket code")
	}
	if payload.EventID == "" || payload.TokenID < 0 {
		monitoring.CheckIn("bad_qr")
		return nil, apperr.Validation("ticket code is missing its event or token")
	}

	owner, err := s.Tickets.GetTicketByToken(ctx, payload.EventID, payload.TokenID)
	if errors.Is(err, sql.ErrNoRows) {
		monitoring.CheckIn("not_found")
		return nil, apperr.NotFound("no ticket with token %d for event %s", payload.TokenID, payload.EventID)
	}
	if err != nil {
		monitoring.CheckIn("error")
		return nil, fmt.Errorf("load ticket for token %d: %w", payload.TokenID, err)
	}
	if owner.ID != payload.TicketID {
		monitoring.CheckIn("mismatch")
		s.Logger.LogSecurity("QR_MISMATCH", fmt.Sprintf("QR names ticket %s but token %d belongs to %s", payload.TicketID, payload.TokenID, owner.ID))
		return nil, apperr.Validation("ticket code does not match its token")
	}

	return s.CheckIn(ctx, actor, payload.EventID, payload.TokenID)
}

func (s *Service) announce(ctx context.Context, ticket *models.Ticket) {
	notice := models.CheckInNotice{
		EventID:     ticket.EventID,
		TicketID:    ticket.ID,
		TokenID:     ticket.TokenID,
		UserID:      ticket.OwnerID,
		CheckedInAt: ticket.CheckedInAt,
	}
	if s.Realtime != nil {
		if err := s.Realtime.Broadcast(ctx, ticket.EventID, sse.TopicCheckIn, notice); err != nil {
			s.Logger.Warn("CHECKIN", fmt.Sprintf("Failed to push check-in for %s: %v", ticket.ID, err))
		}
	}
	if s.Publisher != nil {
		evt := models.DomainEvent{
			Type:          models.TypeTicketCheckedIn,
			EventID:       ticket.EventID,
			ApplicationID: ticket.ApplicationID,
			TicketID:      ticket.ID,
			UserID:        ticket.OwnerID,
			TokenID:       ticket.TokenID,
			OccurredAt:    ticket.CheckedInAt,
		}
		if err := s.Publisher.Publish(ctx, evt); err != nil {
			s.Logger.Warn("CHECKIN", fmt.Sprintf("Failed to publish %s for %s: %v", evt.Type, ticket.ID, err))
		}
	}
}
