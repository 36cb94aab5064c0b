// Package payment opens checkout sessions for selected applicants and turns
// gateway confirmations into exactly one SELECTED -> PAID transition.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/clock"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/monitoring"
	"ms-eventchain/internal/notify"
	"ms-eventchain/internal/payment/services"
	"ms-eventchain/internal/payment/storage"
	"ms-eventchain/internal/utils"
)

const (
	SourceWebhook  = "webhook"
	SourceCallback = "success_callback"
	SourceFree     = "free"

	freeSessionPrefix = "free_"
)

// Gateway is the payment-processor collaborator.
type Gateway interface {
	CreateSession(ctx context.Context, req services.SessionRequest) (*services.Session, error)
	GetSession(ctx context.Context, sessionID string) (*services.Session, error)
}

type ApplicationReader interface {
	Get(ctx context.Context, id string) (*models.Application, error)
}

type EventReader interface {
	Get(ctx context.Context, id string) (*models.Event, error)
}

type Service struct {
	Store        storage.Store
	Gateway      Gateway
	Applications ApplicationReader
	Events       EventReader
	Currency     string
	SuccessURL   string
	Clock        clock.Clock
	Publisher    notify.Publisher
	Logger       *logger.Logger
}

func NewService(store storage.Store, gateway Gateway, apps ApplicationReader, events EventReader, currency, successURL string, clk clock.Clock, pub notify.Publisher, log *logger.Logger) *Service {
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		Store:        store,
		Gateway:      gateway,
		Applications: apps,
		Events:       events,
		Currency:     currency,
		SuccessURL:   successURL,
		Clock:        clk,
		Publisher:    pub,
		Logger:       log,
	}
}

// CreateCheckout returns a checkout session for a SELECTED application. An
// open session is reused; an expired one is marked EXPIRED and replaced.
// Free events are confirmed on the spot.
func (s *Service) CreateCheckout(ctx context.Context, actor models.Actor, applicationID string) (*models.CheckoutSession, error) {
	app, err := s.Applications.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, apperr.Forbidden("application belongs to another user")
	}
	if app.Status != models.ApplicationSelected {
		return nil, apperr.InvalidState("application is %s, checkout requires SELECTED", app.Status)
	}

	idempotencyKey := ""
	existing, err := s.Store.GetPendingPayment(ctx, applicationID)
	switch {
	case err == nil && strings.HasPrefix(existing.SessionID, freeSessionPrefix):
		// An earlier free confirmation failed part way; finish it.
		if _, err := s.ConfirmPayment(ctx, existing.SessionID, SourceFree); err != nil {
			return nil, err
		}
		return &models.CheckoutSession{ApplicationID: applicationID, SessionID: existing.SessionID, RedirectURL: existing.CheckoutURL}, nil
	case err == nil:
		open, err := s.sessionStillOpen(ctx, existing)
		if err != nil {
			return nil, err
		}
		if open {
			s.Logger.LogPayment("CHECKOUT", applicationID, "Reusing open session "+existing.SessionID)
			return &models.CheckoutSession{ApplicationID: applicationID, SessionID: existing.SessionID, RedirectURL: existing.CheckoutURL}, nil
		}
		if _, err := s.Store.ExpirePending(ctx, existing.SessionID); err != nil {
			return nil, err
		}
		s.Logger.LogPayment("CHECKOUT", applicationID, "Session "+existing.SessionID+" expired, opening a replacement")
		idempotencyKey = "checkout-" + applicationID + "-after-" + existing.SessionID
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("look up pending payment: %w", err)
	}

	event, err := s.Events.Get(ctx, app.EventID)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	payment := &models.Payment{
		ID:            utils.NewID(),
		ApplicationID: app.ID,
		EventID:       app.EventID,
		UserID:        app.UserID,
		Amount:        event.Price,
		Currency:      s.Currency,
		Status:        models.PaymentPending,
		CreatedAt:     now,
	}

	if !event.Price.IsPositive() {
		payment.SessionID = freeSessionPrefix + app.ID
		payment.CheckoutURL = s.SuccessURL
		if err := s.Store.InsertPayment(ctx, payment); err != nil {
			return nil, err
		}
		if _, err := s.ConfirmPayment(ctx, payment.SessionID, SourceFree); err != nil {
			return nil, err
		}
		return &models.CheckoutSession{ApplicationID: app.ID, SessionID: payment.SessionID, RedirectURL: payment.CheckoutURL}, nil
	}

	sess, err := s.Gateway.CreateSession(ctx, services.SessionRequest{
		ApplicationID:  app.ID,
		EventID:        app.EventID,
		UserID:         app.UserID,
		Title:          event.Title,
		Amount:         event.Price,
		Currency:       s.Currency,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, apperr.Dependency(err, "payment processor unavailable")
	}

	payment.SessionID = sess.ID
	payment.CheckoutURL = sess.URL
	payment.ExpiresAt = sess.ExpiresAt
	if err := s.Store.InsertPayment(ctx, payment); err != nil {
		return nil, err
	}

	s.Logger.LogPayment("CHECKOUT", app.ID, fmt.Sprintf("Session %s opened for %s %s", sess.ID, event.Price, s.Currency))
	return &models.CheckoutSession{ApplicationID: app.ID, SessionID: sess.ID, RedirectURL: sess.URL}, nil
}

// sessionStillOpen trusts the stored expiry while it lies ahead and asks the
// gateway otherwise. Only a session the gateway reports expired is replaced,
// so the applicant never holds two payable sessions.
func (s *Service) sessionStillOpen(ctx context.Context, p *models.Payment) (bool, error) {
	if p.CheckoutURL == "" {
		return false, nil
	}
	if !p.ExpiresAt.IsZero() && s.Clock.Now().Before(p.ExpiresAt) {
		return true, nil
	}
	sess, err := s.Gateway.GetSession(ctx, p.SessionID)
	if err != nil {
		return false, apperr.Dependency(err, "payment processor unavailable")
	}
	return !sess.Expired, nil
}

// ExpireSession records the gateway's expiry of a checkout session. Sessions
// that were already paid or expired are left alone.
func (s *Service) ExpireSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return apperr.Validation("session id is required")
	}
	p, err := s.Store.GetPaymentBySession(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("checkout session %s not found", sessionID)
	}
	if err != nil {
		return fmt.Errorf("load payment for session %s: %w", sessionID, err)
	}
	if p.Status != models.PaymentPending {
		return nil
	}
	expired, err := s.Store.ExpirePending(ctx, sessionID)
	if err != nil {
		return err
	}
	if expired {
		s.Logger.LogPayment("EXPIRE", sessionID, "Checkout session expired for application "+p.ApplicationID)
	}
	return nil
}

// ConfirmPayment applies a confirmed session at most once. Replays of an
// already processed session succeed with AlreadyProcessed set.
func (s *Service) ConfirmPayment(ctx context.Context, sessionID, source string) (*models.ConfirmationResult, error) {
	if sessionID == "" {
		return nil, apperr.Validation("session id is required")
	}

	now := s.Clock.Now()
	outcome, payment, err := s.Store.ConfirmSession(ctx, sessionID, source, now)
	if err != nil {
		return nil, fmt.Errorf("confirm session %s: %w", sessionID, err)
	}

	switch outcome {
	case storage.UnknownSession:
		s.Logger.LogSecurity("PAYMENT_UNKNOWN_SESSION", fmt.Sprintf("Confirmation for unknown session %s via %s", sessionID, source))
		return nil, apperr.NotFound("checkout session %s not found", sessionID)
	case storage.NotSelected:
		s.Logger.Error("PAYMENT", fmt.Sprintf("Session %s paid but application %s is not SELECTED", sessionID, payment.ApplicationID))
		return nil, apperr.InvalidState("application is not awaiting payment")
	case storage.Duplicate:
		monitoring.PaymentConfirmation(source, false)
		s.Logger.LogPayment("CONFIRM", sessionID, "Already processed, ignoring "+source)
		return &models.ConfirmationResult{ApplicationID: payment.ApplicationID, SessionID: sessionID, AlreadyProcessed: true}, nil
	}

	monitoring.PaymentConfirmation(source, true)
	s.Logger.LogPayment("CONFIRM", sessionID, fmt.Sprintf("Application %s paid via %s, mint queued", payment.ApplicationID, source))
	if s.Publisher != nil {
		err := s.Publisher.Publish(ctx, models.DomainEvent{
			Type:          models.TypePaymentConfirmed,
			EventID:       payment.EventID,
			ApplicationID: payment.ApplicationID,
			UserID:        payment.UserID,
			Status:        string(models.ApplicationPaid),
			Detail:        source,
			OccurredAt:    now,
		})
		if err != nil {
			s.Logger.Warn("PAYMENT", fmt.Sprintf("Failed to publish payment confirmation for %s: %v", payment.ApplicationID, err))
		}
	}
	return &models.ConfirmationResult{ApplicationID: payment.ApplicationID, SessionID: sessionID}, nil
}

// ConfirmFromGateway is the success-redirect path: it asks the gateway
// whether the session was paid before confirming.
func (s *Service) ConfirmFromGateway(ctx context.Context, sessionID string) (*models.ConfirmationResult, error) {
	if sessionID == "" {
		return nil, apperr.Validation("session id is required")
	}
	sess, err := s.Gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperr.Dependency(err, "payment processor unavailable")
	}
	if !sess.Paid {
		return nil, apperr.InvalidState("checkout session is not paid")
	}
	return s.ConfirmPayment(ctx, sessionID, SourceCallback)
}
