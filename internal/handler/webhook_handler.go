package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/platform/response"
)

const maxWebhookBody = 1 << 16

// WebhookHandler receives payment gateway webhooks. It is authenticated by the
// gateway's signature, not by a bearer token.
type WebhookHandler struct {
	settlement *application.SettlementService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(settlement *application.SettlementService) *WebhookHandler {
	return &WebhookHandler{settlement: settlement}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/api/v1/webhooks/stripe", h.Stripe)
}

// Stripe handles POST /api/v1/webhooks/stripe.
func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}

	if err := h.settlement.HandlePaymentWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
