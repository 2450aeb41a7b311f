package httpapi

import (
	"bundle-platform/internal/auth"
	"bundle-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the inbound API. Keep this free of business logic.
func RegisterRoutes(r gin.IRouter, h Handlers) {
	useJSONFieldNames()
	requireUser := auth.RequireAccessToken(h.Auth)
	optionalUser := auth.OptionalAccessToken(h.Auth)

	// Gateway redirect and webhook (public; the webhook is signed).
	r.GET("/payments/callback", h.PaymentCallback)
	r.POST("/webhooks/paystack", h.PaystackWebhook)

	v1 := r.Group("/v1")

	cat := v1.Group("/catalog")
	{
		cat.GET("/networks", h.ListNetworks)
		cat.GET("/bundles", h.ListBundles)
	}

	ord := v1.Group("/orders")
	ord.Use(optionalUser)
	{
		ord.POST("", h.CreateOrder)
		ord.GET("/:id", h.GetOrder)
		ord.POST("/:id/retry", h.RetryOrder)
	}

	me := v1.Group("/me")
	me.Use(requireUser)
	{
		me.GET("/orders", h.ListMyOrders)
	}

	w := v1.Group("/wallet")
	w.Use(requireUser)
	{
		w.GET("", h.GetWallet)
		w.GET("/transactions", h.ListWalletTransactions)
		w.POST("/deposits", h.CreateDeposit)
	}

	// Support staff may read audit trails; everything that moves money is admin only.
	support := v1.Group("/admin")
	support.Use(requireUser, rbac.RequireAnyRole(rbac.RoleSupport))
	{
		support.GET("/orders/:id/logs", h.AdminOrderLogs)
	}

	admin := v1.Group("/admin")
	admin.Use(requireUser, rbac.RequireAnyRole(rbac.RoleAdmin))
	{
		admin.POST("/orders/:id/refund", h.AdminRefundOrder)
		admin.POST("/wallets/:user_id/credit", h.AdminCreditWallet)
		admin.GET("/reports/sales", h.AdminSalesReport)
		admin.GET("/reports/ledger", h.AdminLedgerReport)
	}
}
