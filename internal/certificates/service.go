// Package certificates issues attendance certificates for checked-in tickets.
package certificates

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/certificates/template"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/minting"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/monitoring"
	"ms-eventchain/internal/notify"
	qr "ms-eventchain/internal/tickets/qr_genrator"
	"ms-eventchain/internal/utils"
)

const (
	verificationQRSize = 256
	anchorTimeout      = 5 * time.Second
)

type DBLayer interface {
	InsertCertificate(ctx context.Context, cert *models.Certificate) (bool, error)
	SetTransactionHash(ctx context.Context, certificateID, txHash string) error
	GetCertificateByTicket(ctx context.Context, ticketID string) (*models.Certificate, error)
	GetCertificateByID(ctx context.Context, id string) (*models.Certificate, error)
}

type TicketReader interface {
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
}

type EventReader interface {
	Get(ctx context.Context, id string) (*models.Event, error)
}

type Renderer interface {
	Render(doc template.CertificateDocument) ([]byte, error)
}

type Service struct {
	DB            DBLayer
	Tickets       TicketReader
	Events        EventReader
	Renderer      Renderer
	Chain         minting.Attester
	VerifyBaseURL string
	Clock         clock.Clock
	Publisher     notify.Publisher
	Logger        *logger.Logger
}

// NewService wires certificate issue. chain may be nil; certificates are then
// verified by database lookup alone.
func NewService(store DBLayer, tickets TicketReader, events EventReader, renderer Renderer, chain minting.Attester, verifyBaseURL string, clk clock.Clock, pub notify.Publisher, log *logger.Logger) *Service {
	return &Service{
		DB:            store,
		Tickets:       tickets,
		Events:        events,
		Renderer:      renderer,
		Chain:         chain,
		VerifyBaseURL: strings.TrimRight(verifyBaseURL, "/"),
		Clock:         clk,
		Publisher:     pub,
		Logger:        log,
	}
}

// Issue returns the certificate for ticketID, creating it on first call.
// Repeated and concurrent calls all return the same certificate.
func (s *Service) Issue(ctx context.Context, actor models.Actor, ticketID string) (*models.Certificate, error) {
	cert, _, _, err := s.issue(ctx, actor, ticketID)
	return cert, err
}

// Download issues if needed and renders the certificate PDF.
func (s *Service) Download(ctx context.Context, actor models.Actor, ticketID string) (*models.Certificate, []byte, error) {
	cert, ticket, event, err := s.issue(ctx, actor, ticketID)
	if err != nil {
		return nil, nil, err
	}
	pdf, err := s.render(cert, ticket, event)
	if err != nil {
		return nil, nil, err
	}
	return cert, pdf, nil
}

// Verify reports whether certificateID was issued. Unknown ids are not an
// error.
func (s *Service) Verify(ctx context.Context, certificateID string) (bool, error) {
	if certificateID == "" {
		return false, nil
	}
	_, err := s.DB.GetCertificateByID(ctx, certificateID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("verify certificate %s: %w", certificateID, err)
	}
	return true, nil
}

func (s *Service) issue(ctx context.Context, actor models.Actor, ticketID string) (*models.Certificate, *models.Ticket, *models.Event, error) {
	ticket, err := s.Tickets.GetTicketByID(ctx, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil, apperr.NotFound("ticket %s not found", ticketID)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	if ticket.OwnerID != actor.UserID && !actor.IsAdmin() {
		monitoring.Certificate("forbidden")
		return nil, nil, nil, apperr.Forbidden("ticket belongs to another user")
	}
	if !ticket.CheckedIn {
		monitoring.Certificate("not_checked_in")
		return nil, nil, nil, apperr.InvalidState("ticket %s has not been checked in", ticketID)
	}

	event, err := s.Events.Get(ctx, ticket.EventID)
	if err != nil {
		return nil, nil, nil, err
	}

	existing, err := s.DB.GetCertificateByTicket(ctx, ticketID)
	if err == nil {
		monitoring.Certificate("existing")
		s.anchor(ctx, existing, ticket)
		return existing, ticket, event, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil, fmt.Errorf("load certificate for %s: %w", ticketID, err)
	}

	id := utils.GenerateCertificateID()
	cert := &models.Certificate{
		ID:              id,
		TicketID:        ticket.ID,
		EventID:         ticket.EventID,
		UserID:          ticket.OwnerID,
		VerificationURL: s.VerifyBaseURL + "/" + id,
		IssuedAt:        s.Clock.Now(),
	}
	pdf, err := s.render(cert, ticket, event)
	if err != nil {
		monitoring.Certificate("error")
		return nil, nil, nil, err
	}
	sum := sha256.Sum256(pdf)
	cert.FileHash = hex.EncodeToString(sum[:])

	inserted, err := s.DB.InsertCertificate(ctx, cert)
	if err != nil {
		monitoring.Certificate("error")
		return nil, nil, nil, err
	}
	if !inserted {
		// A concurrent request won; its row is the certificate.
		winner, err := s.DB.GetCertificateByTicket(ctx, ticketID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("reload certificate for %s: %w", ticketID, err)
		}
		monitoring.Certificate("existing")
		return winner, ticket, event, nil
	}

	monitoring.Certificate("issued")
	s.Logger.Info("CERTIFICATE", fmt.Sprintf("Issued %s for ticket %s", cert.ID, ticketID))
	s.anchor(ctx, cert, ticket)
	s.publish(ctx, models.DomainEvent{
		Type:          models.TypeCertificateIssued,
		EventID:       ticket.EventID,
		ApplicationID: ticket.ApplicationID,
		TicketID:      ticket.ID,
		UserID:        ticket.OwnerID,
		Detail:        cert.ID,
		OccurredAt:    cert.IssuedAt,
	})
	return cert, ticket, event, nil
}

// anchor writes the file hash against the ticket token once. A failed
// attempt leaves the hash empty and the next Issue or Download retries it.
func (s *Service) anchor(ctx context.Context, cert *models.Certificate, ticket *models.Ticket) {
	if s.Chain == nil || cert.TransactionHash != "" || cert.FileHash == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), anchorTimeout)
	defer cancel()

	receipt, err := s.Chain.AnchorCertificate(ctx, models.AnchorRequest{
		CertificateID: cert.ID,
		TokenID:       ticket.TokenID,
		FileHash:      cert.FileHash,
	})
	if err != nil {
		monitoring.ChainAttestation("certificate", "failed")
		s.Logger.Warn("CERTIFICATE", fmt.Sprintf("Anchoring %s on chain failed: %v", cert.ID, err))
		return
	}
	monitoring.ChainAttestation("certificate", "ok")
	if receipt.TransactionHash == "" {
		return
	}
	if err := s.DB.SetTransactionHash(ctx, cert.ID, receipt.TransactionHash); err != nil {
		s.Logger.Warn("CERTIFICATE", err.Error())
		return
	}
	cert.TransactionHash = receipt.TransactionHash
}

func (s *Service) render(cert *models.Certificate, ticket *models.Ticket, event *models.Event) ([]byte, error) {
	code, err := qr.PlainQR(cert.VerificationURL, verificationQRSize)
	if err != nil {
		return nil, fmt.Errorf("verification QR for %s: %w", cert.ID, err)
	}
	pdf, err := s.Renderer.Render(template.CertificateDocument{
		CertificateID:   cert.ID,
		AttendeeID:      ticket.OwnerID,
		EventTitle:      event.Title,
		EventLocation:   event.Location,
		EventDate:       event.EventDate,
		IssuedAt:        cert.IssuedAt,
		VerificationURL: cert.VerificationURL,
		VerificationQR:  code,
	})
	if err != nil {
		return nil, fmt.Errorf("render certificate %s: %w", cert.ID, err)
	}
	return pdf, nil
}

func (s *Service) publish(ctx context.Context, evt models.DomainEvent) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, evt); err != nil {
		s.Logger.Warn("CERTIFICATE", fmt.Sprintf("Failed to publish %s for %s: %v", evt.Type, evt.TicketID, err))
	}
}
