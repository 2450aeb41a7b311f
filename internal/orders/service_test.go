package orders

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"bundle-platform/internal/audit"
	"bundle-platform/internal/catalog"
	"bundle-platform/internal/events"
	"bundle-platform/internal/gateway"
	"bundle-platform/internal/wallet"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakePayments struct {
	mu       sync.Mutex
	initErr  error
	verified map[string]gateway.Verification
	verifies int
}

func (f *fakePayments) InitializeCharge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, gateway.Exchange, error) {
	x := gateway.Exchange{Endpoint: "/transaction/initialize", Method: "POST", StatusCode: 200}
	if f.initErr != nil {
		x.StatusCode = 502
		return gateway.ChargeResult{}, x, f.initErr
	}
	return gateway.ChargeResult{
		AuthorizationURL: "https://checkout.test/" + req.Reference,
		Reference:        req.Reference,
	}, x, nil
}

func (f *fakePayments) VerifyCharge(ctx context.Context, ref string) (gateway.Verification, gateway.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	x := gateway.Exchange{Endpoint: "/transaction/verify/" + ref, Method: "GET", StatusCode: 200}
	v, ok := f.verified[ref]
	if !ok {
		return gateway.Verification{Reference: ref, GatewayStatus: "abandoned"}, x, nil
	}
	return v, x, nil
}

func (f *fakePayments) pay(ref string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verified == nil {
		f.verified = map[string]gateway.Verification{}
	}
	f.verified[ref] = gateway.Verification{Verified: true, GatewayStatus: "success", AmountPaid: amount, Reference: ref}
}

func (f *fakePayments) setStatus(ref, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verified == nil {
		f.verified = map[string]gateway.Verification{}
	}
	f.verified[ref] = gateway.Verification{GatewayStatus: status, Reference: ref}
}

type fakeFulfillment struct {
	calls atomic.Int32
	err   error
	raw   string
	delay time.Duration
}

func (f *fakeFulfillment) ExecuteFulfillment(ctx context.Context, req gateway.FulfillmentRequest) (gateway.FulfillmentResult, gateway.Exchange, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	x := gateway.Exchange{Endpoint: "/purchase", Method: "POST", StatusCode: 200}
	if f.err != nil {
		x.StatusCode = 400
		return gateway.FulfillmentResult{Raw: nonEmpty(f.raw, `{"status":"error"}`)}, x, f.err
	}
	return gateway.FulfillmentResult{
		Success:           true,
		ProviderOrderID:   "dm-" + req.Reference[:8],
		ProviderReference: "TRX-1",
		RemainingBalance:  decimal.NewNullDecimal(d("900")),
		Raw:               `{"status":"success"}`,
	}, x, nil
}

type denyLimiter struct{}

func (denyLimiter) Acquire(ctx context.Context, key string) (bool, error) { return false, nil }
func (denyLimiter) Release(ctx context.Context, key string) error         { return nil }

type harness struct {
	deps     Deps
	svc      *Service
	store    *MemoryStore
	wallets  *wallet.Service
	walletDB *wallet.MemoryStore
	outbox   *events.MemoryRepo
	audits   *audit.MemoryRepo
	pay      *fakePayments
	ful      *fakeFulfillment
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	walletDB := wallet.NewMemoryStore()
	outbox := events.NewMemoryRepo()
	store := NewMemoryStore(walletDB, outbox)
	audits := audit.NewMemoryRepo()
	cat := catalog.NewService(&catalog.MemoryRepo{
		Networks: []catalog.Network{{Key: catalog.NetworkYello, Name: "MTN", Active: true}},
		Bundles: []catalog.Bundle{
			{ID: "b-yello-5", Network: catalog.NetworkYello, Capacity: "5", Price: d("25.00"), Active: true},
			{ID: "b-yello-10", Network: catalog.NetworkYello, Capacity: "10", Price: d("50.00"), Active: true},
		},
	})
	h := &harness{
		store:    store,
		wallets:  wallet.NewService(walletDB),
		walletDB: walletDB,
		outbox:   outbox,
		audits:   audits,
		pay:      &fakePayments{},
		ful:      &fakeFulfillment{},
	}
	h.deps = Deps{
		Store:       store,
		Catalog:     cat,
		Payments:    h.pay,
		Fulfillment: h.ful,
		Audit:       audit.NewService(audits),
		Deposits:    h.wallets,
		CallbackURL: "https://shop.test/callback",
		EventsTopic: "orders",
	}
	h.svc = NewService(h.deps)
	h.svc.clock = func() time.Time { return t0 }
	return h
}

// useStore rebuilds the service on top of st, which must wrap h.store.
func (h *harness) useStore(st Store) {
	deps := h.deps
	deps.Store = st
	h.svc = NewService(deps)
	h.svc.clock = func() time.Time { return t0 }
}

func (h *harness) fund(t *testing.T, userID, amount string) {
	t.Helper()
	if _, err := h.wallets.Deposit(context.Background(), userID, wallet.DepositRequest{Amount: d(amount), Method: wallet.MethodAdmin, Description: "seed"}); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (h *harness) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	w, err := h.wallets.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	return w.Balance
}

func (h *harness) txCount(userID string, typ wallet.TransactionType) int {
	n := 0
	for _, tx := range h.walletDB.Transactions() {
		if tx.UserID == userID && tx.Type == typ {
			n++
		}
	}
	return n
}

func TestCreate_ValidatesInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Create(ctx, CreateRequest{BundleID: "b-yello-5", Phone: "0211234567", PaymentMethod: PaymentMethodWallet, UserID: "u1"}); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}
	if _, err := h.svc.Create(ctx, CreateRequest{BundleID: "b-yello-5", Phone: "0241234567", PaymentMethod: "cash"}); !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Fatalf("expected ErrInvalidPaymentMethod, got %v", err)
	}
	if _, err := h.svc.Create(ctx, CreateRequest{BundleID: "b-yello-5", Phone: "0241234567", PaymentMethod: PaymentMethodWallet}); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if _, err := h.svc.Create(ctx, CreateRequest{BundleID: "b-yello-5", Phone: "0241234567", PaymentMethod: PaymentMethodGateway, PayerEmail: "nope"}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := h.svc.Create(ctx, CreateRequest{BundleID: "missing", Phone: "0241234567", PaymentMethod: PaymentMethodWallet, UserID: "u1"}); !errors.Is(err, catalog.ErrBundleNotFound) {
		t.Fatalf("expected ErrBundleNotFound, got %v", err)
	}
}

func TestCreate_WalletSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "u1", "100.00")

	o, err := h.svc.Create(ctx, CreateRequest{BundleID: "b-yello-5", Phone: "+233 24 123 4567", PaymentMethod: PaymentMethodWallet, UserID: "u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Status != StatusSuccessful {
		t.Fatalf("expected successful, got %s (%s)", o.Status, o.FailureReason)
	}
	if o.Phone != "0241234567" {
		t.Fatalf("expected normalized phone, got %s", o.Phone)
	}
	if !o.PaidFromWallet || !o.WalletBalanceBefore.Decimal.Equal(d("100")) || !o.WalletBalanceAfter.Decimal.Equal(d("75")) {
		t.Fatalf("unexpected wallet snapshot: %+v", o)
	}
	if got := h.balance(t, "u1"); !got.Equal(d("75")) {
		t.Fatalf("expected balance 75, got %s", got)
	}
	if n := h.txCount("u1", wallet.TransactionTypePurchase); n != 1 {
		t.Fatalf("expected 1 purchase transaction, got %d", n)
	}
	if h.ful.calls.Load() != 1 {
		t.Fatalf("expected one fulfillment call, got %d", h.ful.calls.Load())
	}

	stored, err := h.svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ProviderPurchaseID == "" || !stored.ProviderRemainingBalance.Valid {
		t.Fatalf("provider fields not stored: %+v", stored)
	}
	msgs := h.outbox.Messages()
	if len(msgs) != 1 || msgs[0].Key != o.ID || !strings.Contains(msgs[0].Payload, `"successful"`) {
		t.Fatalf("expected one successful event, got %+v", msgs)
	}
	if logs := h.audits.Logs(); len(logs) != 1 || logs[0].OrderID != o.ID {
		t.Fatalf("expected one audit row for the order, got %+v", logs)
	}
}

func TestCreate_WalletExactBalance(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", "25.00")

	o, err := h.svc.Create(context.Background(), CreateRequest{BundleID: "b-yello-5", Phone: "0241234567", PaymentMethod: PaymentMethodWallet, UserID: "u1"})
	if err != nil || o.Status != StatusSuccessful {
		t.Fatalf("expected success, got %v %s", err, o.Status)
	}
	if got := h.balance(t, "u1"); !got.IsZero() {
		t.Fatalf("expected zero balance, got %s", got)
	}
}

func TestCreate_WalletInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", "10.00")

	o, err := h.svc.Create(context.Background(), CreateRequest{BundleID: "b-yello-5", Phone: "0241234567", PaymentMethod: PaymentMethodWallet, UserID: "u1"})
	if !errors.Is(err, wallet.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if o.Status != StatusFailed || o.FailureReason != ReasonInsufficientBalance {
		t.Fatalf("expected failed order, got %s %q", o.Status, o.FailureReason)
	}
	if got := h.balance(t, "u1"); !got.Equal(d("10")) {
		t.Fatalf("balance changed: %s", got)
	}
	if n := h.txCount("u1", wallet.TransactionTypePurchase); n != 0 {
		t.Fatalf("expected no purchase transaction, got %d", n)
	}
	if h.ful.calls.Load() != 0 {
		t.Fatalf("fulfillment must not run")
	}
	if _, err := h.svc.Refund(context.Background(), o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unpaid order must not be refundable, got %v", err)
	}
}

func TestCreate_WalletFulfillmentFailureRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "u1", "100.00")
	h.ful.err = &gateway.Error{Kind: gateway.KindRejected, Op: "purchase", Message: "network busy"}

	o, err := h.svc.Create(ctx, CreateRequest{BundleID: "b-yello-5", Phone: "0241234567", PaymentMethod: PaymentMethodWallet, UserID: "u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", o.Status)
	}
	if o.FailureReason != "network busy" {
		t.Fatalf("expected provider message kept, got %q", o.FailureReason)
	}
	if !o.RefundAmount.Valid || !o.RefundAmount.Decimal.Equal(d("25")) || o.RefundedAt == nil {
		t.Fatalf("refund fields not set: %+v", o)
	}
	if got := h.balance(t, "u1"); !got.Equal(d("100")) {
		t.Fatalf("expected balance restored to 100, got %s", got)
	}
	if n := h.txCount("u1", wallet.TransactionTypeRefund); n != 1 {
		t.Fatalf("expected one refund transaction, got %d", n)
	}

	if _, err := h.svc.Refund(ctx, o.ID); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}
	if got := h.balance(t, "u1"); !got.Equal(d("100")) {
		t.Fatalf("second refund changed balance: %s", got)
	}
	if n := len(h.outbox.Messages()); n != 2 {
		t.Fatalf("expected failed and refunded events, got %d", n)
	}
}

func TestCreate_TimeoutReason(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", "100.00")
	h.ful.err = &gateway.Error{Kind: gateway.KindTimeout, Op: "purchase", Message: "context deadline exceeded"}

	o, err := h.svc.Create(context.Background(), CreateRequest{BundleID: "b-yello-5", Phone: "0241234567", PaymentMethod: PaymentMethodWallet, UserID: "u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.FailureReason != "fulfillment timed out" {
		t.Fatalf("unexpected reason %q", o.FailureReason)
	}
}

func TestFailureReason(t *testing.T) {
	long := strings.Repeat("a", 254) + "₵ balance too low"
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", &gateway.Error{Kind: gateway.KindTimeout, Message: "deadline"}, "fulfillment timed out"},
		{"transport", &gateway.Error{Kind: gateway.KindTransport}, "fulfillment provider unreachable"},
		{"empty message", &gateway.Error{Kind: gateway.KindRejected}, "fulfillment rejected"},
		{"rune across limit", &gateway.Error{Kind: gateway.KindRejected, Message: long}, strings.Repeat("a", 254)},
		{"invalid utf8", &gateway.Error{Kind: gateway.KindRejected, Message: "bad\xe2\x00 byte"}, "bad\uFFFD byte"},
		{"plain error", errors.New("GH₵ 5 short"), "GH₵ 5 short"},
	}
	for _, tc := range cases {
		got := failureReason(tc.err)
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
		if !utf8.ValidString(got) || len(got) > maxReasonLen {
			t.Fatalf("%s: reason not storable: len=%d valid=%v", tc.name, len(got), utf8.ValidString(got))
		}
	}
}

// settleFailStore fails every update that moves an order out of processing
// while fail is set, the way Postgres aborts a settle on a bad column value.
type settleFailStore struct {
	*MemoryStore
	fail atomic.Bool
}

func (s *settleFailStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.MemoryStore.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, settleFailTx{Tx: tx, fail: &s.fail})
	})
}

type settleFailTx struct {
	Tx
	fail *atomic.Bool
}

func (t settleFailTx) Update(ctx context.Context, o Order, from Status) (bool, error) {
	if from == StatusProcessing && t.fail.Load() {
		return false, errors.New("invalid input syntax for type json")
	}
	return t.Tx.Update(ctx, o, from)
}

func TestReconciler_ExpiresUnsettledWalletClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "u1", "100.00")
	h.ful.err = &gateway.Error{Kind: gateway.KindRejected, Op: "purchase", Message: "<html>502 Bad Gateway</html>"}

	fs := &settleFailStore{MemoryStore: h.store}
	fs.fail.Store(true)
	h.useStore(fs)

	o, err := h.svc.Create(ctx, CreateRequest{BundleID: "b-yello-5", Phone: "0241234567", PaymentMethod: PaymentMethodWallet, UserID: "u1"})
	if err == nil {
		t.Fatalf("expected settle error")
	}
	stored, _ := h.store.Get(ctx, o.ID)
	if stored.Status != StatusProcessing || !stored.Claimed() {
		t.Fatalf("expected claimed processing order, got %s claimed=%v", stored.Status, stored.Claimed())
	}
	if got := h.balance(t, "u1"); !got.Equal(d("75")) {
		t.Fatalf("expected 75 held, got %s", got)
	}
	fs.fail.Store(false)

	r := NewReconciler(h.svc, fs, time.Minute, 15*time.Minute)
	r.clock = func() time.Time { return t0.Add(10 * time.Minute) }
	rep, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.ClaimsExpired != 0 {
		t.Fatalf("claim younger than staleAfter must be left alone: %+v", rep)
	}

	r.clock = func() time.Time { return t0.Add(time.Hour) }
	rep, err = r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.ClaimsExpired != 1 || rep.Refunded != 1 || rep.Errors != 0 {
		t.Fatalf("unexpected pass %+v", rep)
	}
	stored, _ = h.store.Get(ctx, o.ID)
	if stored.Status != StatusRefunded || stored.FailureReason != ReasonFulfillmentUnconfirmed {
		t.Fatalf("expected refunded unconfirmed order, got %s (%s)", stored.Status, stored.FailureReason)
	}
	if got := h.balance(t, "u1"); !got.Equal(d("100")) {
		t.Fatalf("expected balance restored to 100, got %s", got)
	}
	if n := h.txCount("u1", wallet.TransactionTypeRefund); n != 1 {
		t.Fatalf("expected one refund transaction, got %d", n)
	}

	rep, err = r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.ClaimsExpired != 0 || rep.Refunded != 0 {
		t.Fatalf("second pass must be a no-op: %+v", rep)
	}
}

func TestReconciler_ExpiresUnsettledGatewayClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := newCheckout(t, h, "b-yello-5")
	h.pay.pay(o.PaymentReference, d("25.00"))
	h.ful.err = &gateway.Error{Kind: gateway.KindRejected, Op: "purchase", Message: "busy"}

	fs := &settleFailStore{MemoryStore: h.store}
	fs.fail.Store(true)
	h.useStore(fs)
	if _, err := h.svc.ResolveCallback(ctx, o.PaymentReference); err == nil {
		t.Fatalf("expected settle error")
	}
	fs.fail.Store(false)

	r := NewReconciler(h.svc, fs, time.Minute, 15*time.Minute)
	r.clock = func() time.Time { return t0.Add(time.Hour) }
	rep, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.ClaimsExpired != 1 || rep.Refunded != 0 {
		t.Fatalf("unexpected pass %+v", rep)
	}
	stored, _ := h.store.Get(ctx, o.ID)
	if stored.Status != StatusFailed || stored.FailureReason != ReasonFulfillmentUnconfirmed {
		t.Fatalf("expected failed unconfirmed order, got %s (%s)", stored.Status, stored.FailureReason)
	}
	if h.ful.calls.Load() != 1 {
		t.Fatalf("fulfillment must not be retried, got %d calls", h.ful.calls.Load())
	}
}

func TestCreate_NonJSONProviderResponseIsStored(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", "100.00")
	h.ful.err = &gateway.Error{Kind: gateway.KindRejected, Op: "purchase", Message: "bad gateway"}
	h.ful.raw = "<html>502\x00 Bad Gateway\xff</html>"

	o, err := h.svc.Create(context.Background(), CreateRequest{BundleID: "b-yello-5", Phone: "0241234567", PaymentMethod: PaymentMethodWallet, UserID: "u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", o.Status)
	}
	if o.ProviderResponse != "<html>502 Bad Gateway\uFFFD</html>" {
		t.Fatalf("unexpected stored response %q", o.ProviderResponse)
	}
}

func TestCreate_GatewayInitFailureRemovesOrder(t *testing.T) {
	h := newHarness(t)
	h.pay.initErr = &gateway.Error{Kind: gateway.KindTransport, Op: "initialize", Message: "connection refused"}

	_, err := h.svc.Create(context.Background(), CreateRequest{BundleID: "b-yello-5", Phone: "0241234567", PaymentMethod: PaymentMethodGateway, PayerEmail: "a@b.com"})
	if !gateway.IsKind(err, gateway.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	all, _ := h.store.ListBetween(context.Background(), t0.Add(-time.Hour), t0.Add(time.Hour))
	if len(all) != 0 {
		t.Fatalf("expected pending order removed, got %d orders", len(all))
	}
	if logs := h.audits.Logs(); len(logs) != 1 || logs[0].StatusCode != 502 {
		t.Fatalf("expected failed attempt to be audited, got %+v", logs)
	}
}

func newCheckout(t *testing.T, h *harness, bundleID string) Order {
	t.Helper()
	o, err := h.svc.Create(context.Background(), CreateRequest{BundleID: bundleID, Phone: "0551234567", PaymentMethod: PaymentMethodGateway, PayerEmail: "guest@example.com"})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if o.Status != StatusProcessing || o.AuthorizationURL == "" || o.PaymentReference != o.ID {
		t.Fatalf("unexpected checkout order: %+v", o)
	}
	return o
}

func TestResolveCallback_Success(t *testing.T) {
	h := newHarness(t)
	o := newCheckout(t, h, "b-yello-5")
	h.pay.pay(o.PaymentReference, d("25.00"))

	out, err := h.svc.ResolveCallback(context.Background(), o.PaymentReference)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !out.Applied || out.Status != string(StatusSuccessful) || out.OrderID != o.ID {
		t.Fatalf("unexpected outcome %+v", out)
	}

	again, err := h.svc.ResolveCallback(context.Background(), o.PaymentReference)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if again.Applied || again.Status != string(StatusSuccessful) {
		t.Fatalf("duplicate callback should be a no-op, got %+v", again)
	}
	if h.ful.calls.Load() != 1 {
		t.Fatalf("expected one fulfillment, got %d", h.ful.calls.Load())
	}
}

func TestResolveCallback_ConcurrentDuplicates(t *testing.T) {
	h := newHarness(t)
	h.ful.delay = 10 * time.Millisecond
	o := newCheckout(t, h, "b-yello-5")
	h.pay.pay(o.PaymentReference, d("25.00"))

	var wg sync.WaitGroup
	var applied atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.svc.ResolveCallback(context.Background(), o.PaymentReference)
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			if out.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	if h.ful.calls.Load() != 1 {
		t.Fatalf("expected exactly one fulfillment, got %d", h.ful.calls.Load())
	}
	if applied.Load() != 1 {
		t.Fatalf("expected one applied outcome, got %d", applied.Load())
	}
	stored, _ := h.svc.Get(context.Background(), o.ID)
	if stored.Status != StatusSuccessful {
		t.Fatalf("expected successful, got %s", stored.Status)
	}
}

func TestResolveCallback_AmountMismatch(t *testing.T) {
	h := newHarness(t)
	o := newCheckout(t, h, "b-yello-10")
	h.pay.pay(o.PaymentReference, d("49.99"))

	out, err := h.svc.ResolveCallback(context.Background(), o.PaymentReference)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Status != string(StatusFailed) || out.Order.FailureReason != ReasonAmountMismatch {
		t.Fatalf("expected amount mismatch failure, got %+v", out)
	}
	if h.ful.calls.Load() != 0 {
		t.Fatalf("fulfillment must not run on mismatch")
	}
}

func TestResolveCallback_NotPaid(t *testing.T) {
	h := newHarness(t)
	o := newCheckout(t, h, "b-yello-5")

	out, err := h.svc.ResolveCallback(context.Background(), o.PaymentReference)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Status != string(StatusFailed) || out.Order.FailureReason != ReasonPaymentNotVerified {
		t.Fatalf("expected payment_not_verified, got %+v", out)
	}
	if _, err := h.svc.Refund(context.Background(), o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("gateway order must not be wallet-refunded, got %v", err)
	}
}

func TestResolveCallback_InFlightChargeStaysProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := newCheckout(t, h, "b-yello-5")
	h.pay.setStatus(o.PaymentReference, "ongoing")

	out, err := h.svc.ResolveCallback(ctx, o.PaymentReference)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Applied || out.Status != string(StatusProcessing) {
		t.Fatalf("in-flight charge must not settle the order: %+v", out)
	}
	stored, _ := h.store.Get(ctx, o.ID)
	if stored.Claimed() {
		t.Fatalf("in-flight charge must not claim the order")
	}

	h.pay.pay(o.PaymentReference, d("25.00"))
	out, err = h.svc.ResolveCallback(ctx, o.PaymentReference)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !out.Applied || out.Status != string(StatusSuccessful) {
		t.Fatalf("expected fulfilled order after success, got %+v", out)
	}
}

func TestResolveCallback_UnknownReference(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.ResolveCallback(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type busyLocker struct{}

func (busyLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func TestResolveCallback_LockHeldIsNoop(t *testing.T) {
	h := newHarness(t)
	o := newCheckout(t, h, "b-yello-5")
	h.pay.pay(o.PaymentReference, d("25.00"))
	h.svc.locker = busyLocker{}

	out, err := h.svc.ResolveCallback(context.Background(), o.PaymentReference)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Applied || out.Status != string(StatusProcessing) {
		t.Fatalf("expected untouched processing order, got %+v", out)
	}
	if h.pay.verifies != 0 {
		t.Fatalf("verify must not be called while another resolver holds the lock")
	}
}

func TestRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "u1", "10.00")

	failed, err := h.svc.Create(ctx, CreateRequest{BundleID: "b-yello-5", Phone: "0241234567", PaymentMethod: PaymentMethodWallet, UserID: "u1"})
	if !errors.Is(err, wallet.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	h.fund(t, "u1", "20.00")

	retried, err := h.svc.Retry(ctx, failed.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.ID == failed.ID || retried.RetryOf != failed.ID || retried.Status != StatusSuccessful {
		t.Fatalf("unexpected retry order: %+v", retried)
	}
	old, _ := h.svc.Get(ctx, failed.ID)
	if old.Status != StatusFailed {
		t.Fatalf("original order must be unchanged, got %s", old.Status)
	}
	if _, err := h.svc.Retry(ctx, retried.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("successful order must not be retried, got %v", err)
	}
}

func TestCreate_InFlightCap(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "u1", "100.00")
	h.svc.limiter = denyLimiter{}

	if _, err := h.svc.Create(context.Background(), CreateRequest{BundleID: "b-yello-5", Phone: "0241234567", PaymentMethod: PaymentMethodWallet, UserID: "u1"}); !errors.Is(err, ErrTooManyInFlight) {
		t.Fatalf("expected ErrTooManyInFlight, got %v", err)
	}
	if got := h.balance(t, "u1"); !got.Equal(d("100")) {
		t.Fatalf("balance changed: %s", got)
	}
}

func TestTopUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	top, err := h.svc.InitiateTopUp(ctx, "u1", d("20.00"), "u1@example.com")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !wallet.IsDepositReference(top.Reference) || top.AuthorizationURL == "" {
		t.Fatalf("unexpected top-up %+v", top)
	}
	if got := h.balance(t, "u1"); !got.IsZero() {
		t.Fatalf("balance must not move before verification, got %s", got)
	}

	h.pay.pay(top.Reference, d("20.00"))
	out, err := h.svc.ResolveCallback(ctx, top.Reference)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !out.Applied || out.Kind != "deposit" || out.Status != string(wallet.TransactionStatusCompleted) {
		t.Fatalf("unexpected outcome %+v", out)
	}
	again, err := h.svc.ResolveCallback(ctx, top.Reference)
	if err != nil || again.Applied {
		t.Fatalf("duplicate top-up callback should be a no-op, got %+v %v", again, err)
	}
	if got := h.balance(t, "u1"); !got.Equal(d("20")) {
		t.Fatalf("expected balance 20, got %s", got)
	}
}

func TestTopUp_AmountMismatchFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	top, err := h.svc.InitiateTopUp(ctx, "u1", d("20.00"), "u1@example.com")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	h.pay.pay(top.Reference, d("2.00"))

	out, err := h.svc.ResolveCallback(ctx, top.Reference)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Status != string(wallet.TransactionStatusFailed) {
		t.Fatalf("expected failed deposit, got %+v", out)
	}
	if got := h.balance(t, "u1"); !got.IsZero() {
		t.Fatalf("balance changed: %s", got)
	}
}

func TestAdminCredit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.AdminCredit(ctx, "u1", d("15.00"), "  ", "admin-1"); !errors.Is(err, wallet.ErrInvalidArgument) {
		t.Fatalf("expected reason to be required, got %v", err)
	}
	tx, err := h.svc.AdminCredit(ctx, "u1", d("15.00"), "goodwill", "admin-1")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if tx.PaymentMethod != wallet.MethodAdmin || !strings.Contains(tx.Metadata, "admin-1") {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if got := h.balance(t, "u1"); !got.Equal(d("15")) {
		t.Fatalf("expected 15, got %s", got)
	}
}

func TestAdminCredit_MetadataIsJSON(t *testing.T) {
	h := newHarness(t)
	adminID := "ops\x01\a\"quoted\""
	tx, err := h.svc.AdminCredit(context.Background(), "u1", d("5.00"), "goodwill", adminID)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(tx.Metadata), &meta); err != nil {
		t.Fatalf("metadata %q is not JSON: %v", tx.Metadata, err)
	}
	if meta["admin_id"] != adminID {
		t.Fatalf("admin_id = %q, want %q", meta["admin_id"], adminID)
	}
}

func TestReconciler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := newCheckout(t, h, "b-yello-5")
	h.pay.pay(o.PaymentReference, d("25.00"))

	orphan := Order{
		ID: "11111111-1111-1111-1111-111111111111", UserID: "u2", Network: "YELLO", BundleID: "b-yello-5",
		Capacity: "5", BundlePrice: d("25"), Amount: d("25"), Phone: "0241234567",
		PaymentMethod: PaymentMethodWallet, PaidFromWallet: true, Status: StatusFailed,
		FailureReason: "network busy", CreatedAt: t0, UpdatedAt: t0,
	}
	if err := h.store.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.Insert(ctx, orphan) }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := NewReconciler(h.svc, h.store, time.Minute, 15*time.Minute)
	r.clock = func() time.Time { return t0.Add(5 * time.Minute) }
	rep, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.CheckoutsResolved != 0 || rep.Refunded != 1 {
		t.Fatalf("unexpected first pass %+v", rep)
	}
	if got := h.balance(t, "u2"); !got.Equal(d("25")) {
		t.Fatalf("expected orphan refunded, got %s", got)
	}

	r.clock = func() time.Time { return t0.Add(time.Hour) }
	rep, err = r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.CheckoutsResolved != 1 || rep.Refunded != 0 {
		t.Fatalf("unexpected second pass %+v", rep)
	}
	stored, _ := h.svc.Get(ctx, o.ID)
	if stored.Status != StatusSuccessful {
		t.Fatalf("expected stale checkout fulfilled, got %s", stored.Status)
	}
}
