package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"bundle-platform/internal/config"
	"bundle-platform/pkg/money"
)

const (
	opInitializeCharge = "initialize_charge"
	opVerifyCharge     = "verify_charge"
)

// PaystackClient implements PaymentGateway against the Paystack REST API.
type PaystackClient struct {
	cfg config.GatewayConfig
	t   transport
}

func NewPaystackClient(cfg config.GatewayConfig, client *http.Client) *PaystackClient {
	return &PaystackClient{cfg: cfg, t: newTransport(client)}
}

func (c *PaystackClient) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.cfg.SecretKey,
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}
}

type initializeBody struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

func (c *PaystackClient) InitializeCharge(ctx context.Context, req ChargeRequest) (ChargeResult, Exchange, error) {
	minor, err := money.ToMinor(req.Amount)
	if err != nil || minor <= 0 {
		return ChargeResult{}, Exchange{}, &Error{Kind: KindRejected, Op: opInitializeCharge, Message: fmt.Sprintf("invalid amount %s", req.Amount), Err: err}
	}
	callback := req.CallbackURL
	if callback == "" {
		callback = c.cfg.CallbackURL
	}

	var out initializeResponse
	x, gerr := c.t.do(ctx, roundTrip{
		op:      opInitializeCharge,
		method:  http.MethodPost,
		url:     c.cfg.BaseURL + "/transaction/initialize",
		headers: c.headers(),
		body: initializeBody{
			Email:       req.Email,
			Amount:      minor,
			Reference:   req.Reference,
			CallbackURL: callback,
			Metadata:    req.Metadata,
		},
		timeout: c.cfg.ChargeTimeout,
	}, &out)
	if gerr != nil {
		return ChargeResult{}, x, gerr
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		gerr = &Error{Kind: KindRejected, Op: opInitializeCharge, Message: nonEmpty(out.Message, "charge not initialized"), StatusCode: x.StatusCode, Raw: x.ResponsePayload}
		x.Err = gerr
		return ChargeResult{}, x, gerr
	}

	ref := out.Data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return ChargeResult{
		AuthorizationURL: out.Data.AuthorizationURL,
		AccessCode:       out.Data.AccessCode,
		Reference:        ref,
	}, x, nil
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status    string     `json:"status"`
		Amount    int64      `json:"amount"`
		Channel   string     `json:"channel"`
		PaidAt    *time.Time `json:"paid_at"`
		Reference string     `json:"reference"`
	} `json:"data"`
}

// VerifyCharge reports the gateway's view of a charge. A charge that exists but
// did not succeed is returned with Verified=false and no error.
func (c *PaystackClient) VerifyCharge(ctx context.Context, reference string) (Verification, Exchange, error) {
	if reference == "" {
		return Verification{}, Exchange{}, &Error{Kind: KindRejected, Op: opVerifyCharge, Message: "empty reference"}
	}

	var out verifyResponse
	x, gerr := c.t.do(ctx, roundTrip{
		op:      opVerifyCharge,
		method:  http.MethodGet,
		url:     c.cfg.BaseURL + "/transaction/verify/" + url.PathEscape(reference),
		headers: c.headers(),
		timeout: c.cfg.VerifyTimeout,
	}, &out)
	if gerr != nil {
		return Verification{}, x, gerr
	}
	if !out.Status {
		gerr = &Error{Kind: KindRejected, Op: opVerifyCharge, Message: nonEmpty(out.Message, "verification failed"), StatusCode: x.StatusCode, Raw: x.ResponsePayload}
		x.Err = gerr
		return Verification{}, x, gerr
	}

	v := Verification{
		Verified:      out.Data.Status == "success",
		GatewayStatus: out.Data.Status,
		AmountPaid:    money.FromMinor(out.Data.Amount),
		Channel:       out.Data.Channel,
		Reference:     nonEmpty(out.Data.Reference, reference),
	}
	if out.Data.PaidAt != nil {
		v.PaidAt = out.Data.PaidAt.UTC()
	}
	return v, x, nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
