package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bundle-platform/internal/config"

	"github.com/shopspring/decimal"
)

func paystackFor(srv *httptest.Server) *PaystackClient {
	return NewPaystackClient(config.GatewayConfig{
		BaseURL:       srv.URL,
		SecretKey:     "sk_test_secret",
		CallbackURL:   "https://shop.example/payments/callback",
		ChargeTimeout: 2 * time.Second,
		VerifyTimeout: 2 * time.Second,
	}, srv.Client())
}

func TestInitializeChargeSendsPesewas(t *testing.T) {
	var got initializeBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test_secret" {
			t.Errorf("missing bearer secret")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"ord-1"}}`))
	}))
	defer srv.Close()

	res, x, err := paystackFor(srv).InitializeCharge(context.Background(), ChargeRequest{
		Email:     "buyer@example.com",
		Amount:    decimal.RequireFromString("25.50"),
		Reference: "ord-1",
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if got.Amount != 2550 {
		t.Fatalf("expected 2550 pesewas on the wire, got %d", got.Amount)
	}
	if got.CallbackURL != "https://shop.example/payments/callback" {
		t.Fatalf("expected configured callback, got %q", got.CallbackURL)
	}
	if res.AuthorizationURL != "https://checkout.paystack.com/abc" || res.Reference != "ord-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if strings.Contains(x.RequestHeaders, "sk_test_secret") {
		t.Fatalf("secret leaked into exchange headers: %s", x.RequestHeaders)
	}
	if x.StatusCode != 200 || x.Err != nil {
		t.Fatalf("unexpected exchange %+v", x)
	}
}

func TestVerifyChargeConvertsToMajorUnits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/verify/ord-9" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"status":"success","amount":4999,"channel":"mobile_money","paid_at":"2026-03-01T10:00:00.000Z","reference":"ord-9"}}`))
	}))
	defer srv.Close()

	v, _, err := paystackFor(srv).VerifyCharge(context.Background(), "ord-9")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !v.Verified || !v.AmountPaid.Equal(decimal.RequireFromString("49.99")) {
		t.Fatalf("unexpected verification %+v", v)
	}
	if v.Channel != "mobile_money" || v.PaidAt.IsZero() {
		t.Fatalf("unexpected channel/paid_at %+v", v)
	}
}

func TestVerifyChargeAbandonedIsNotVerified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"status":"abandoned","amount":5000,"paid_at":null,"reference":"r"}}`))
	}))
	defer srv.Close()

	v, _, err := paystackFor(srv).VerifyCharge(context.Background(), "r")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Verified {
		t.Fatalf("abandoned charge must not be verified")
	}
	if v.InFlight() {
		t.Fatalf("abandoned charge is final")
	}
}

func TestVerificationInFlight(t *testing.T) {
	cases := []struct {
		v    Verification
		want bool
	}{
		{Verification{GatewayStatus: "ongoing"}, true},
		{Verification{GatewayStatus: "pending"}, true},
		{Verification{GatewayStatus: "send_otp"}, true},
		{Verification{GatewayStatus: "success", Verified: true}, false},
		{Verification{GatewayStatus: "failed"}, false},
		{Verification{GatewayStatus: "reversed"}, false},
		{Verification{}, false},
	}
	for _, tc := range cases {
		if got := tc.v.InFlight(); got != tc.want {
			t.Fatalf("InFlight(%q) = %v, want %v", tc.v.GatewayStatus, got, tc.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"unauthorized", 401, `{"status":false,"message":"Invalid key"}`, KindUnauthorized},
		{"rejected status", 400, `{"status":false,"message":"Transaction reference not found"}`, KindRejected},
		{"envelope false", 200, `{"status":false,"message":"nope"}`, KindRejected},
		{"bad json", 200, `<html>`, KindTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, x, err := paystackFor(srv).VerifyCharge(context.Background(), "r")
			if !IsKind(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
			if x.ResponsePayload != tc.body {
				t.Fatalf("raw payload not captured: %q", x.ResponsePayload)
			}
			if x.Err == nil {
				t.Fatalf("exchange must carry the error")
			}
		})
	}
}

func TestTimeoutIsClassified(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := paystackFor(srv)
	c.cfg.VerifyTimeout = 50 * time.Millisecond

	_, x, err := c.VerifyCharge(context.Background(), "slow")
	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if x.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 equivalent, got %d", x.StatusCode)
	}
}

func TestExecuteFulfillment(t *testing.T) {
	var got purchaseBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/purchase" || r.Header.Get("X-API-KEY") != "dm_key" {
			t.Errorf("unexpected request %s key=%q", r.URL.Path, r.Header.Get("X-API-KEY"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"status":"success","message":"Data purchased","data":{"purchaseId":"p-1","transactionReference":"TRX-1","remainingBalance":"812.40"}}`))
	}))
	defer srv.Close()

	c := NewDataMartClient(config.FulfillmentConfig{BaseURL: srv.URL, APIKey: "dm_key", Timeout: time.Second}, srv.Client())
	res, x, err := c.ExecuteFulfillment(context.Background(), FulfillmentRequest{
		Phone: "0241234567", Network: "YELLO", Capacity: "5", Amount: decimal.RequireFromString("25"), Reference: "ord-1",
	})
	if err != nil {
		t.Fatalf("fulfillment: %v", err)
	}
	if got.Amount != "25.00" || got.Capacity != "5" || got.Network != "YELLO" {
		t.Fatalf("unexpected body %+v", got)
	}
	if !res.Success || res.ProviderOrderID != "p-1" || res.ProviderReference != "TRX-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.RemainingBalance.Valid || !res.RemainingBalance.Decimal.Equal(decimal.RequireFromString("812.4")) {
		t.Fatalf("unexpected remaining balance %+v", res.RemainingBalance)
	}
	if strings.Contains(x.RequestHeaders, "dm_key") {
		t.Fatalf("api key leaked: %s", x.RequestHeaders)
	}
}

func TestExecuteFulfillmentProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","message":"Insufficient reseller balance"}`))
	}))
	defer srv.Close()

	c := NewDataMartClient(config.FulfillmentConfig{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, srv.Client())
	res, _, err := c.ExecuteFulfillment(context.Background(), FulfillmentRequest{Amount: decimal.RequireFromString("5")})
	if !IsKind(err, KindRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
	if res.Success || !strings.Contains(err.Error(), "Insufficient reseller balance") {
		t.Fatalf("unexpected result %+v err=%v", res, err)
	}
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"ord-1"}}`)
	sig := SignWebhook("sk", body)
	if err := VerifyWebhookSignature("sk", body, sig); err != nil {
		t.Fatalf("expected valid signature: %v", err)
	}
	if err := VerifyWebhookSignature("other", body, sig); err == nil {
		t.Fatalf("expected invalid signature for wrong secret")
	}
	if err := VerifyWebhookSignature("sk", append(body, ' '), sig); err == nil {
		t.Fatalf("expected invalid signature for modified body")
	}

	ev, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ev.ChargeSucceeded() || ev.Reference != "ord-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}
