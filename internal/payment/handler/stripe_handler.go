package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/payment"
	"ms-eventchain/internal/payment/services"
	"ms-eventchain/internal/utils"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 65536

type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*services.WebhookEvent, error)
}

type StripeHandler struct {
	payments *payment.Service
	webhooks WebhookParser
	logger   *logger.Logger
}

func NewStripeHandler(payments *payment.Service, webhooks WebhookParser, logger *logger.Logger) *StripeHandler {
	return &StripeHandler{payments: payments, webhooks: webhooks, logger: logger}
}

// RegisterRoutes wires the payment routes. authMW guards everything except
// the webhook, which authenticates by signature.
func (h *StripeHandler) RegisterRoutes(r gin.IRouter, authMW gin.HandlerFunc) {
	r.POST("/api/stripe/webhook", h.Webhook)

	payments := r.Group("/api/payments", authMW)
	payments.POST("/checkout/:applicationId", h.CreateCheckout)
	payments.GET("/success", h.Success)
}

func (h *StripeHandler) fail(c *gin.Context, op string, err error) {
	if kind := apperr.KindOf(err); kind == apperr.KindInternal || kind == apperr.KindDependencyFailure {
		h.logger.Error("PAYMENT", fmt.Sprintf("%s: %v", op, err))
	}
	c.JSON(apperr.HTTPStatus(apperr.KindOf(err)), utils.ErrorFrom(err))
}

func (h *StripeHandler) CreateCheckout(c *gin.Context) {
	actor, _ := auth.GinActor(c)
	sess, err := h.payments.CreateCheckout(c.Request.Context(), actor, c.Param("applicationId"))
	if err != nil {
		h.fail(c, "CreateCheckout", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Checkout session created", sess))
}

// Success handles the browser redirect after checkout. The session is
// re-read from Stripe so a forged redirect cannot mark anything paid.
func (h *StripeHandler) Success(c *gin.Context) {
	result, err := h.payments.ConfirmFromGateway(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		h.fail(c, "Success", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payment confirmed", result))
}

// Webhook answers 2xx for anything it will never be able to apply so that
// Stripe stops redelivering it.
func (h *StripeHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Unreadable payload", string(apperr.KindValidation)))
		return
	}

	evt, err := h.webhooks.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if errors.Is(err, services.ErrInvalidSignature) {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid signature", string(apperr.KindUnauthorized)))
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid payload", string(apperr.KindValidation)))
		return
	}

	if evt.Expired && evt.SessionID != "" {
		h.expire(c, evt)
		return
	}
	if evt.SessionID == "" || !evt.Paid {
		h.logger.Debug("PAYMENT", fmt.Sprintf("Ignoring webhook %s (%s)", evt.ID, evt.Type))
		c.JSON(http.StatusOK, utils.SuccessResponse("Event ignored", nil))
		return
	}

	result, err := h.payments.ConfirmPayment(c.Request.Context(), evt.SessionID, payment.SourceWebhook)
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindInvalidState:
		h.logger.Warn("PAYMENT", fmt.Sprintf("Webhook %s not applicable: %v", evt.ID, err))
		c.JSON(http.StatusOK, utils.SuccessResponse("Event not applicable", nil))
		return
	}
	if err != nil {
		// 5xx makes Stripe retry later.
		h.fail(c, "Webhook", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payment confirmed", result))
}

func (h *StripeHandler) expire(c *gin.Context, evt *services.WebhookEvent) {
	err := h.payments.ExpireSession(c.Request.Context(), evt.SessionID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		h.logger.Warn("PAYMENT", fmt.Sprintf("Webhook %s not applicable: %v", evt.ID, err))
		c.JSON(http.StatusOK, utils.SuccessResponse("Event not applicable", nil))
		return
	}
	if err != nil {
		h.fail(c, "Webhook", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Session expired", nil))
}
