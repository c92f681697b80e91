package payments

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/httperr"
	"github.com/mbd888/dealdesk/internal/logging"
)

// ProviderStripe tags payments credited from Stripe checkout sessions.
const ProviderStripe = "stripe"

// maxWebhookBody matches Stripe's documented payload ceiling.
const maxWebhookBody = 65536

// StripeHandler receives Stripe webhooks. Checkout sessions carry the
// account to credit in client_reference_id.
type StripeHandler struct {
	gateway *Gateway
	secret  string
}

// NewStripeHandler creates a webhook handler verifying signatures with secret.
func NewStripeHandler(g *Gateway, secret string) *StripeHandler {
	return &StripeHandler{gateway: g, secret: secret}
}

// RegisterRoutes mounts the webhook. It sits outside API key auth; the
// Stripe-Signature header authenticates the sender.
func (h *StripeHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/payments/stripe/webhook", h.Webhook)
}

// Webhook handles POST /v1/payments/stripe/webhook
func (h *StripeHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		httperr.BadRequest(c, "Failed to read body")
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signature",
			"message": "Webhook signature verification failed",
		})
		return
	}

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": string(event.Type)})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		httperr.BadRequest(c, "Malformed checkout session")
		return
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": string(session.PaymentStatus)})
		return
	}

	amount := decimal.New(session.AmountTotal, -2)
	credited, err := h.gateway.Credit(c.Request.Context(), ProviderStripe, session.ID, session.ClientReferenceID, amount)
	if err != nil {
		// Permanent failures are acknowledged so Stripe stops retrying;
		// outages and lost races return 5xx so it delivers again.
		if retryable(err) {
			httperr.Write(c, err)
			return
		}
		logging.L(c.Request.Context()).Warn("stripe payment not credited",
			"session_id", session.ID, "account_id", session.ClientReferenceID, "error", err)
		c.JSON(http.StatusOK, gin.H{"received": true, "credited": false, "error": apperr.Code(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "credited": credited})
}

func retryable(err error) bool {
	return errors.Is(err, apperr.ErrStoreUnavailable) ||
		errors.Is(err, apperr.ErrConflict) ||
		apperr.KindOf(err) == apperr.KindInternal
}
