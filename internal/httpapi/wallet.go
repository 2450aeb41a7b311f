package httpapi

import (
	"net/http"

	"bundle-platform/internal/auth"
	"bundle-platform/pkg/money"

	"github.com/gin-gonic/gin"
)

func (h Handlers) GetWallet(c *gin.Context) {
	ctx := c.Request.Context()
	uid, err := auth.UserID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	w, err := h.Wallet.GetWallet(ctx, uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h Handlers) ListWalletTransactions(c *gin.Context) {
	ctx := c.Request.Context()
	uid, err := auth.UserID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	list, err := h.Wallet.ListTransactions(ctx, uid, queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list})
}

type depositRequest struct {
	// Amount is a decimal string in cedis, e.g. "20.00".
	Amount string `json:"amount" binding:"required"`
	Email  string `json:"email" binding:"required,email"`
}

// CreateDeposit starts a gateway top-up. The wallet is credited by the
// payment callback, not here.
func (h Handlers) CreateDeposit(c *gin.Context) {
	ctx := c.Request.Context()
	uid, err := auth.UserID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req depositRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	top, err := h.Orders.InitiateTopUp(ctx, uid, amount, req.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, top)
}
