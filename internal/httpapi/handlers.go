package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bundle-platform/internal/audit"
	"bundle-platform/internal/auth"
	"bundle-platform/internal/catalog"
	"bundle-platform/internal/orders"
	"bundle-platform/internal/rbac"
	"bundle-platform/internal/reporting"
	"bundle-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Orders  *orders.Service
	Wallet  *wallet.Service
	Catalog *catalog.Service
	Audit   *audit.Service
	Reports *reporting.Service

	// WebhookSecret verifies signed gateway webhooks.
	WebhookSecret string
}

// --- Orders ---

type createOrderRequest struct {
	BundleID      string `json:"bundle_id" binding:"required"`
	Phone         string `json:"phone" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required,oneof=wallet gateway"`
	Email         string `json:"email" binding:"omitempty,email"`
}

type orderResponse struct {
	Order orders.Order `json:"order"`
	// OrderToken is only issued to guests.
	OrderToken string `json:"order_token,omitempty"`
}

func (h Handlers) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	o, err := h.Orders.Create(ctx, orders.CreateRequest{
		BundleID:      req.BundleID,
		Phone:         req.Phone,
		PaymentMethod: orders.PaymentMethod(req.PaymentMethod),
		UserID:        auth.OptionalUserID(ctx),
		PayerEmail:    req.Email,
	})
	if errors.Is(err, wallet.ErrInsufficientBalance) && o.ID != "" {
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": err.Error(), "order": o})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	h.respondOrder(c, http.StatusCreated, o)
}

func (h Handlers) respondOrder(c *gin.Context, status int, o orders.Order) {
	resp := orderResponse{Order: o}
	if o.UserID == "" {
		tok, err := h.Auth.IssueOrderToken(time.Now(), o.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		resp.OrderToken = tok
	}
	c.JSON(status, resp)
}

// loadAuthorizedOrder returns the order if the caller owns it, is an admin,
// or presents a guest token bound to it.
func (h Handlers) loadAuthorizedOrder(c *gin.Context) (orders.Order, bool) {
	ctx := c.Request.Context()
	o, err := h.Orders.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return orders.Order{}, false
	}

	uid := auth.OptionalUserID(ctx)
	role, _ := auth.Role(ctx)
	if uid != "" && (uid == o.UserID || rbac.IsAdmin(role)) {
		return o, true
	}
	if tok := c.GetHeader(auth.OrderTokenHeader); tok != "" {
		if err := h.Auth.VerifyOrderToken(tok, o.ID, time.Now()); err == nil {
			return o, true
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "order token does not grant access"})
		return orders.Order{}, false
	}
	if uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer or order token required"})
		return orders.Order{}, false
	}
	// Do not reveal other customers' orders.
	writeError(c, orders.ErrNotFound)
	return orders.Order{}, false
}

func (h Handlers) GetOrder(c *gin.Context) {
	o, ok := h.loadAuthorizedOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

func (h Handlers) RetryOrder(c *gin.Context) {
	old, ok := h.loadAuthorizedOrder(c)
	if !ok {
		return
	}
	o, err := h.Orders.Retry(c.Request.Context(), old.ID)
	if errors.Is(err, wallet.ErrInsufficientBalance) && o.ID != "" {
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": err.Error(), "order": o})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	h.respondOrder(c, http.StatusCreated, o)
}

func (h Handlers) ListMyOrders(c *gin.Context) {
	ctx := c.Request.Context()
	uid, err := auth.UserID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	list, err := h.Orders.ListByUser(ctx, uid, queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// --- Catalog ---

func (h Handlers) ListNetworks(c *gin.Context) {
	list, err := h.Catalog.ListNetworks(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"networks": list})
}

func (h Handlers) ListBundles(c *gin.Context) {
	list, err := h.Catalog.ListBundles(c.Request.Context(), catalog.NetworkKey(c.Query("network")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bundles": list})
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}
