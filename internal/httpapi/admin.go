package httpapi

import (
	"net/http"
	"time"

	"bundle-platform/internal/auth"
	"bundle-platform/internal/reporting"
	"bundle-platform/pkg/money"

	"github.com/gin-gonic/gin"
)

// AdminRefundOrder refunds a failed wallet-paid order.
func (h Handlers) AdminRefundOrder(c *gin.Context) {
	o, err := h.Orders.Refund(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

func (h Handlers) AdminOrderLogs(c *gin.Context) {
	ctx := c.Request.Context()
	o, err := h.Orders.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	logs, err := h.Audit.ListByOrder(ctx, o.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

type adminCreditRequest struct {
	Amount string `json:"amount" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// AdminCreditWallet credits a user's wallet directly.
// RBAC: admin only.
func (h Handlers) AdminCreditWallet(c *gin.Context) {
	ctx := c.Request.Context()
	adminID, _ := auth.UserID(ctx)

	var req adminCreditRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	tx, err := h.Orders.AdminCredit(ctx, c.Param("user_id"), amount, req.Reason, adminID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx, "balance": tx.BalanceAfter})
}

func parseRange(c *gin.Context) (reporting.TimeRange, bool) {
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		badRequest(c, "from and to must be RFC3339 timestamps")
		return reporting.TimeRange{}, false
	}
	return reporting.TimeRange{From: from.UTC(), To: to.UTC()}, true
}

func (h Handlers) AdminSalesReport(c *gin.Context) {
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.SalesSummary(c.Request.Context(), reporting.SalesSummaryRequest{
		Range:         rng,
		Network:       c.Query("network"),
		PaymentMethod: c.Query("payment_method"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) AdminLedgerReport(c *gin.Context) {
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.LedgerSummary(c.Request.Context(), reporting.LedgerSummaryRequest{
		Range:  rng,
		UserID: c.Query("user_id"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
