package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"ms-eventchain/internal/config"
	"ms-eventchain/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrStripeAPIError         = errors.New("stripe API error")
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
	ErrInvalidSignature       = errors.New("invalid webhook signature")
)

// SessionRequest is what the gateway needs to open a hosted checkout.
type SessionRequest struct {
	ApplicationID string
	EventID       string
	UserID        string
	Title         string
	Amount        decimal.Decimal
	Currency      string
	// IdempotencyKey defaults to "checkout-<applicationId>". A replacement
	// for an expired session needs a fresh key or Stripe replays the old one.
	IdempotencyKey string
}

// Session is the gateway's view of a checkout session.
type Session struct {
	ID            string
	URL           string
	ApplicationID string
	Paid          bool
	Expired       bool
	ExpiresAt     time.Time
}

// WebhookEvent is a verified inbound notification. Checkout session events
// carry a SessionID; everything else is informational.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
	Paid      bool
	Expired   bool
}

// StripeService talks to Stripe Checkout.
type StripeService struct {
	client        *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	log           *logger.Logger
}

func NewStripeService(cfg config.StripeConfig, log *logger.Logger) (*StripeService, error) {
	if cfg.SecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(cfg.SecretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeService{
		client:        sc,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		log:           log,
	}, nil
}

// AmountInCents converts a decimal price to the smallest currency unit.
func AmountInCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// successURLFor keeps Stripe's {CHECKOUT_SESSION_ID} template unescaped.
func (s *StripeService) successURLFor(applicationID string) string {
	sep := "?"
	if strings.Contains(s.successURL, "?") {
		sep = "&"
	}
	return s.successURL + sep + "session_id={CHECKOUT_SESSION_ID}&application_id=" + url.QueryEscape(applicationID)
}

// CreateSession opens a Checkout Session with a single ticket line item.
// The idempotency key is derived from the application id so a retried
// request does not open a second session.
func (s *StripeService) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	cents := AmountInCents(req.Amount)
	if cents <= 0 {
		return nil, fmt.Errorf("invalid payment amount: %s", req.Amount)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Event Ticket: " + req.Title),
					},
					UnitAmount: stripe.Int64(cents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(s.successURLFor(req.ApplicationID)),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(req.ApplicationID),
	}
	params.Context = ctx
	params.AddMetadata("application_id", req.ApplicationID)
	params.AddMetadata("event_id", req.EventID)
	params.AddMetadata("user_id", req.UserID)
	key := req.IdempotencyKey
	if key == "" {
		key = "checkout-" + req.ApplicationID
	}
	params.SetIdempotencyKey(key)

	s.log.Info("STRIPE", fmt.Sprintf("Creating checkout session for application %s, amount %d %s", req.ApplicationID, cents, req.Currency))
	sess, err := s.client.CheckoutSessions.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}
	s.log.Info("STRIPE", fmt.Sprintf("Checkout session created: %s", sess.ID))

	return toSession(sess), nil
}

func (s *StripeService) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.client.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to retrieve checkout session %s: %v", sessionID, err))
		return nil, fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}
	return toSession(sess), nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the session
// of checkout.session.completed, async_payment_succeeded and expired events.
func (s *StripeService) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.log.LogSecurity("STRIPE_WEBHOOK", fmt.Sprintf("Signature verification failed: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionExpired:
	default:
		return out, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	out.SessionID = sess.ID
	if event.Type == stripe.EventTypeCheckoutSessionExpired {
		out.Expired = true
		return out, nil
	}
	// Delayed methods complete unpaid and settle in async_payment_succeeded.
	out.Paid = sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	return out, nil
}

func toSession(sess *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:      sess.ID,
		URL:     sess.URL,
		Paid:    sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Expired: sess.Status == stripe.CheckoutSessionStatusExpired,
	}
	if sess.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	if sess.Metadata != nil {
		out.ApplicationID = sess.Metadata["application_id"]
	}
	if out.ApplicationID == "" {
		out.ApplicationID = sess.ClientReferenceID
	}
	return out
}
