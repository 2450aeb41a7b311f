package httpapi

import (
	"errors"
	"net/http"

	"bundle-platform/internal/catalog"
	"bundle-platform/internal/gateway"
	"bundle-platform/internal/orders"
	"bundle-platform/internal/reporting"
	"bundle-platform/internal/wallet"
	"bundle-platform/pkg/logger"
	"bundle-platform/pkg/money"

	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var ge *gateway.Error
	switch {
	case errors.Is(err, orders.ErrInvalidPhone),
		errors.Is(err, orders.ErrInvalidPaymentMethod),
		errors.Is(err, orders.ErrInvalidEmail),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInvalidArgument),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, catalog.ErrInvalidCatalogReq),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, orders.ErrNotFound),
		errors.Is(err, catalog.ErrBundleNotFound),
		errors.Is(err, wallet.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrAlreadyRefunded),
		errors.Is(err, wallet.ErrDuplicateReference):
		return http.StatusConflict
	case errors.Is(err, orders.ErrTooManyInFlight):
		return http.StatusTooManyRequests
	case errors.As(err, &ge):
		if ge.Kind == gateway.KindTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError is the single place handlers turn errors into responses.
// Internal errors are logged and replaced with a generic message.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logger.FromGin(c).Error("request failed", "err", err)
		msg = "internal error"
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		logger.FromGin(c).Warn("upstream failed", "err", err)
		msg = "payment provider unavailable"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
