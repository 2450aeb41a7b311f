package httpapi

import (
	"errors"
	"io"
	"net/http"

	"bundle-platform/internal/gateway"
	"bundle-platform/internal/orders"
	"bundle-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// PaymentCallback handles the customer's redirect back from checkout.
// The gateway sends both reference and trxref; either works.
func (h Handlers) PaymentCallback(c *gin.Context) {
	ref := c.Query("reference")
	if ref == "" {
		ref = c.Query("trxref")
	}
	if ref == "" {
		badRequest(c, "reference required")
		return
	}
	out, err := h.Orders.ResolveCallback(c.Request.Context(), ref)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// PaystackWebhook handles signed server-to-server charge notifications.
// Anything other than a bad signature is acknowledged with 200 so the gateway
// stops retrying; the reconciler covers events we could not act on.
func (h Handlers) PaystackWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}
	if err := gateway.VerifyWebhookSignature(h.WebhookSecret, body, c.GetHeader(gateway.SignatureHeader)); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	ev, err := gateway.ParseWebhookEvent(body)
	if err != nil {
		badRequest(c, "invalid event")
		return
	}
	log := logger.FromGin(c).With("event", ev.Event, "reference", ev.Reference)
	if !ev.ChargeSucceeded() || ev.Reference == "" {
		log.Debug("webhook ignored")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	out, err := h.Orders.ResolveCallback(c.Request.Context(), ev.Reference)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		log.Warn("webhook for unknown reference")
		c.JSON(http.StatusOK, gin.H{"status": "unknown_reference"})
	case err != nil:
		log.Error("webhook resolution failed", "err", err)
		c.JSON(http.StatusOK, gin.H{"status": "deferred"})
	default:
		c.JSON(http.StatusOK, out)
	}
}
