package gateway

import (
	"context"
	"net/http"
	"strings"

	"bundle-platform/internal/config"
	"bundle-platform/pkg/money"

	"github.com/shopspring/decimal"
)

const opExecuteFulfillment = "execute_fulfillment"

// DataMartClient implements FulfillmentProvider against the DataMart reseller API.
type DataMartClient struct {
	cfg config.FulfillmentConfig
	t   transport
}

func NewDataMartClient(cfg config.FulfillmentConfig, client *http.Client) *DataMartClient {
	return &DataMartClient{cfg: cfg, t: newTransport(client)}
}

type purchaseBody struct {
	PhoneNumber string `json:"phone_number"`
	Network     string `json:"network"`
	Capacity    string `json:"capacity"`
	Amount      string `json:"amount"`
	Reference   string `json:"reference"`
}

type purchaseResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		PurchaseID           string              `json:"purchaseId"`
		TransactionReference string              `json:"transactionReference"`
		RemainingBalance     decimal.NullDecimal `json:"remainingBalance"`
	} `json:"data"`
}

func (c *DataMartClient) ExecuteFulfillment(ctx context.Context, req FulfillmentRequest) (FulfillmentResult, Exchange, error) {
	var out purchaseResponse
	x, gerr := c.t.do(ctx, roundTrip{
		op:     opExecuteFulfillment,
		method: http.MethodPost,
		url:    c.cfg.BaseURL + "/purchase",
		headers: map[string]string{
			"X-API-KEY":    c.cfg.APIKey,
			"Content-Type": "application/json",
		},
		body: purchaseBody{
			PhoneNumber: req.Phone,
			Network:     req.Network,
			Capacity:    req.Capacity,
			Amount:      money.Format(req.Amount),
			Reference:   req.Reference,
		},
		timeout: c.cfg.Timeout,
	}, &out)
	if gerr != nil {
		return FulfillmentResult{Raw: x.ResponsePayload}, x, gerr
	}

	if !strings.EqualFold(out.Status, "success") {
		gerr = &Error{Kind: KindRejected, Op: opExecuteFulfillment, Message: nonEmpty(out.Message, "purchase failed"), StatusCode: x.StatusCode, Raw: x.ResponsePayload}
		x.Err = gerr
		return FulfillmentResult{Message: out.Message, Raw: x.ResponsePayload}, x, gerr
	}

	return FulfillmentResult{
		Success:           true,
		ProviderOrderID:   out.Data.PurchaseID,
		ProviderReference: out.Data.TransactionReference,
		RemainingBalance:  out.Data.RemainingBalance,
		Message:           out.Message,
		Raw:               x.ResponsePayload,
	}, x, nil
}
