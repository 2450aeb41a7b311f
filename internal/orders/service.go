package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"bundle-platform/internal/audit"
	"bundle-platform/internal/catalog"
	"bundle-platform/internal/events"
	"bundle-platform/internal/gateway"
	"bundle-platform/internal/metrics"
	"bundle-platform/internal/wallet"
	"bundle-platform/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BundleCatalog is the slice of the catalog the orchestrator reads.
type BundleCatalog interface {
	GetBundleByID(ctx context.Context, id string) (catalog.Bundle, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// Deposits is the wallet top-up surface.
type Deposits interface {
	Deposit(ctx context.Context, userID string, req wallet.DepositRequest) (wallet.Transaction, error)
	OpenDeposit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (wallet.Transaction, error)
	CompleteDeposit(ctx context.Context, reference string) (wallet.Transaction, bool, error)
	FailDeposit(ctx context.Context, reference string) (bool, error)
	GetDeposit(ctx context.Context, reference string) (wallet.Transaction, error)
}

// Locker serializes work on one key across instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Limiter caps concurrent in-flight work per key.
type Limiter interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Deps struct {
	Store       Store
	Catalog     BundleCatalog
	Payments    gateway.PaymentGateway
	Fulfillment gateway.FulfillmentProvider
	Audit       AuditRecorder
	Deposits    Deposits
	Locker      Locker
	Limiter     Limiter

	// CallbackURL is where the gateway sends the customer after checkout.
	CallbackURL string
	EventsTopic string
}

// Service is the order orchestrator.
//
// Money invariants:
// - The ledger is only touched through wallet.Post inside Store.InTx.
// - Fulfillment runs only for the caller that won the claim.
// - A wallet-paid order never stays failed without a refund attempt.
type Service struct {
	store       Store
	catalog     BundleCatalog
	payments    gateway.PaymentGateway
	fulfillment gateway.FulfillmentProvider
	audit       AuditRecorder
	deposits    Deposits
	locker      Locker
	limiter     Limiter

	callbackURL string
	topic       string
	lockTTL     time.Duration

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(d Deps) *Service {
	topic := d.EventsTopic
	if topic == "" {
		topic = "bundle.orders"
	}
	return &Service{
		store:       d.Store,
		catalog:     d.Catalog,
		payments:    d.Payments,
		fulfillment: d.Fulfillment,
		audit:       d.Audit,
		deposits:    d.Deposits,
		locker:      d.Locker,
		limiter:     d.Limiter,
		callbackURL: d.CallbackURL,
		topic:       topic,
		lockTTL:     time.Minute,
		clock:       time.Now,
	}
}

type CreateRequest struct {
	BundleID      string
	Phone         string
	PaymentMethod PaymentMethod
	// UserID is empty for guests.
	UserID     string
	PayerEmail string

	retryOf string
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, ErrNotFound
	}
	return s.store.Get(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// Create validates the request, persists a pending order and reserves payment.
//
// Wallet orders are debited and fulfilled before Create returns. Gateway
// orders return in processing with AuthorizationURL set; the callback
// finishes them.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Order, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return Order{}, err
	}
	if !req.PaymentMethod.Valid() {
		return Order{}, ErrInvalidPaymentMethod
	}
	if req.PaymentMethod == PaymentMethodWallet && req.UserID == "" {
		return Order{}, ErrAuthRequired
	}
	email := strings.TrimSpace(req.PayerEmail)
	if req.PaymentMethod == PaymentMethodGateway {
		if !validEmail(email) {
			return Order{}, ErrInvalidEmail
		}
	}

	bundle, err := s.catalog.GetBundleByID(ctx, req.BundleID)
	if err != nil {
		return Order{}, err
	}

	release, err := s.acquireSlot(ctx, req.UserID, phone)
	if err != nil {
		return Order{}, err
	}
	defer release()

	now := s.now()
	o := Order{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Network:       string(bundle.Network),
		BundleID:      bundle.ID,
		Capacity:      bundle.Capacity,
		BundlePrice:   bundle.Price,
		Phone:         phone,
		Amount:        bundle.Price,
		PaymentMethod: req.PaymentMethod,
		PayerEmail:    email,
		Status:        StatusPending,
		RetryOf:       req.retryOf,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	ctx = logger.With(ctx, logger.From(ctx).With("order_id", o.ID))

	if req.PaymentMethod == PaymentMethodWallet {
		return s.payFromWallet(ctx, o)
	}
	return s.startCheckout(ctx, o)
}

func (s *Service) acquireSlot(ctx context.Context, userID, phone string) (func(), error) {
	if s.limiter == nil {
		return func() {}, nil
	}
	key := "phone:" + phone
	if userID != "" {
		key = "user:" + userID
	}
	ok, err := s.limiter.Acquire(ctx, key)
	if err != nil {
		// Fail open: the wallet row and the claim still guard money.
		logger.From(ctx).Warn("in-flight limiter unavailable", "err", err)
		return func() {}, nil
	}
	if !ok {
		return nil, ErrTooManyInFlight
	}
	return func() {
		if err := s.limiter.Release(context.WithoutCancel(ctx), key); err != nil {
			logger.From(ctx).Warn("in-flight limiter release failed", "err", err)
		}
	}, nil
}

// payFromWallet inserts the order and debits the wallet in one unit of work.
func (s *Service) payFromWallet(ctx context.Context, o Order) (Order, error) {
	var insufficient bool
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Insert(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		now := s.now()
		wt, err := wallet.Post(ctx, tx.Ledger(), wallet.Entry{
			UserID:        o.UserID,
			OrderID:       o.ID,
			Type:          wallet.TransactionTypePurchase,
			Amount:        o.Amount,
			PaymentMethod: string(PaymentMethodWallet),
			Description:   fmt.Sprintf("%s %s data bundle for %s", o.Network, o.Capacity+"GB", o.Phone),
		}, now)
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			insufficient = true
			o.Status = StatusFailed
			o.FailureReason = ReasonInsufficientBalance
			o.UpdatedAt = now
			return s.transition(ctx, tx, o, StatusPending)
		}
		if err != nil {
			return err
		}

		o.Status = StatusProcessing
		o.PaidFromWallet = true
		o.WalletBalanceBefore = decimal.NewNullDecimal(wt.BalanceBefore)
		o.WalletBalanceAfter = decimal.NewNullDecimal(wt.BalanceAfter)
		o.FulfillmentClaimedAt = &now
		o.UpdatedAt = now
		return s.transition(ctx, tx, o, StatusPending)
	})
	if err != nil {
		return Order{}, err
	}
	s.observe(o)
	if insufficient {
		logger.From(ctx).Info("wallet order rejected", "reason", ReasonInsufficientBalance)
		return o, wallet.ErrInsufficientBalance
	}
	return s.fulfill(ctx, o)
}

// startCheckout opens a gateway charge for a new order. The order is removed
// again if the gateway refuses, so no pending order is left without a way
// to complete.
func (s *Service) startCheckout(ctx context.Context, o Order) (Order, error) {
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Insert(ctx, o)
	})
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	charge, x, cerr := s.payments.InitializeCharge(ctx, gateway.ChargeRequest{
		Email:       o.PayerEmail,
		Amount:      o.Amount,
		CallbackURL: s.callbackURL,
		Reference:   o.ID,
		Metadata: map[string]string{
			"order_id": o.ID,
			"bundle":   o.Network + ":" + o.Capacity,
			"phone":    o.Phone,
		},
	})
	s.record(ctx, o.ID, o.ID, x)

	if cerr != nil {
		logger.From(ctx).Warn("charge initialization failed", "err", cerr)
		derr := s.store.InTx(context.WithoutCancel(ctx), func(ctx context.Context, tx Tx) error {
			_, err := tx.DeletePending(ctx, o.ID)
			return err
		})
		if derr != nil {
			logger.From(ctx).Error("delete pending order failed", "err", derr)
		}
		return Order{}, cerr
	}

	from := o.Status
	o.Status = StatusProcessing
	o.PaymentReference = charge.Reference
	o.AuthorizationURL = charge.AuthorizationURL
	o.UpdatedAt = s.now()
	err = s.store.InTx(context.WithoutCancel(ctx), func(ctx context.Context, tx Tx) error {
		return s.transition(ctx, tx, o, from)
	})
	if err != nil {
		return Order{}, err
	}
	s.observe(o)
	return o, nil
}

// fulfill runs the provider call for a claimed processing order and settles it.
// The call is detached from the caller's cancellation and bounded by the
// provider timeout.
func (s *Service) fulfill(ctx context.Context, o Order) (Order, error) {
	ctx = context.WithoutCancel(ctx)
	log := logger.From(ctx)

	res, x, ferr := s.fulfillment.ExecuteFulfillment(ctx, gateway.FulfillmentRequest{
		Phone:     o.Phone,
		Network:   o.Network,
		Capacity:  o.Capacity,
		Amount:    o.Amount,
		Reference: o.ID,
	})
	s.record(ctx, o.ID, o.PaymentReference, x)

	from := o.Status
	o.UpdatedAt = s.now()
	o.ProviderResponse = clampText(res.Raw, 0)
	if ferr == nil {
		o.Status = StatusSuccessful
		o.ProviderPurchaseID = res.ProviderOrderID
		o.ProviderReference = res.ProviderReference
		o.ProviderRemainingBalance = res.RemainingBalance
	} else {
		o.Status = StatusFailed
		o.FailureReason = failureReason(ferr)
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return s.transition(ctx, tx, o, from)
	})
	if err != nil {
		// The refund sweeper and reconciler pick the order up from its stored state.
		log.Error("settle order failed", "target_status", o.Status, "err", err)
		return o, err
	}
	s.observe(o)

	if o.Status == StatusSuccessful {
		log.Info("order fulfilled", "purchase_id", o.ProviderPurchaseID)
		return o, nil
	}

	log.Warn("fulfillment failed", "reason", o.FailureReason)
	if !o.PaidFromWallet {
		return o, nil
	}
	refunded, rerr := s.Refund(ctx, o.ID)
	if rerr != nil {
		log.Error("immediate refund failed; sweeper will retry", "err", rerr)
		return o, nil
	}
	return refunded, nil
}

// ExpireClaim fails a processing order whose fulfillment claim was taken
// before claimedBefore and never settled, then refunds it if it was paid from
// the wallet. applied is false when the order had already moved on.
func (s *Service) ExpireClaim(ctx context.Context, orderID string, claimedBefore time.Time) (Order, bool, error) {
	var (
		out     Order
		applied bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Get(ctx, orderID)
		if err != nil {
			return err
		}
		out = o
		if o.Status != StatusProcessing || !o.Claimed() || !o.FulfillmentClaimedAt.Before(claimedBefore) {
			return nil
		}
		o.Status = StatusFailed
		o.FailureReason = ReasonFulfillmentUnconfirmed
		o.UpdatedAt = s.now()
		if err := s.transition(ctx, tx, o, StatusProcessing); err != nil {
			return err
		}
		out, applied = o, true
		return nil
	})
	if err != nil || !applied {
		return out, false, err
	}
	s.observe(out)

	log := logger.From(ctx).With("order_id", out.ID)
	log.Warn("fulfillment claim expired", "claimed_at", out.FulfillmentClaimedAt, "paid_from_wallet", out.PaidFromWallet)
	if !out.PaidFromWallet {
		return out, true, nil
	}
	refunded, err := s.Refund(ctx, out.ID)
	if err != nil {
		log.Error("refund after expired claim failed; sweeper will retry", "err", err)
		return out, true, nil
	}
	return refunded, true, nil
}

// Refund returns a failed wallet-paid order's amount to the wallet.
func (s *Service) Refund(ctx context.Context, orderID string) (Order, error) {
	var out Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == StatusRefunded {
			return ErrAlreadyRefunded
		}
		if o.Status != StatusFailed || !o.PaidFromWallet || o.UserID == "" {
			return fmt.Errorf("%w: refund from %s (paid_from_wallet=%t)", ErrInvalidTransition, o.Status, o.PaidFromWallet)
		}

		now := s.now()
		if _, err := wallet.Post(ctx, tx.Ledger(), wallet.Entry{
			UserID:        o.UserID,
			OrderID:       o.ID,
			Type:          wallet.TransactionTypeRefund,
			Amount:        o.Amount,
			PaymentMethod: string(PaymentMethodWallet),
			Description:   "Refund for failed order " + o.ID,
		}, now); err != nil {
			return err
		}

		o.Status = StatusRefunded
		o.RefundAmount = decimal.NewNullDecimal(o.Amount)
		o.RefundedAt = &now
		o.UpdatedAt = now
		if err := s.transition(ctx, tx, o, StatusFailed); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	metrics.RefundsIssued.Inc()
	s.observe(out)
	logger.From(ctx).Info("order refunded", "order_id", out.ID, "amount", out.Amount.StringFixed(2))
	return out, nil
}

// Retry creates a new order for the same bundle, phone and payer. The old
// order is left untouched.
func (s *Service) Retry(ctx context.Context, orderID string) (Order, error) {
	old, err := s.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if old.Status != StatusFailed && old.Status != StatusRefunded {
		return Order{}, fmt.Errorf("%w: retry from %s", ErrInvalidTransition, old.Status)
	}
	return s.Create(ctx, CreateRequest{
		BundleID:      old.BundleID,
		Phone:         old.Phone,
		PaymentMethod: old.PaymentMethod,
		UserID:        old.UserID,
		PayerEmail:    old.PayerEmail,
		retryOf:       old.ID,
	})
}

// transition persists o with a compare-and-swap on from and, for terminal
// states, enqueues the lifecycle event in the same unit of work.
func (s *Service) transition(ctx context.Context, tx Tx, o Order, from Status) error {
	if !from.CanTransitionTo(o.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, o.Status)
	}
	ok, err := tx.Update(ctx, o, from)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: order %s is no longer %s", ErrInvalidTransition, o.ID, from)
	}
	if !o.Status.Terminal() {
		return nil
	}
	m, err := events.NewOrderMessage(s.topic, events.OrderEvent{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Status:        string(o.Status),
		Amount:        o.Amount,
		FailureReason: o.FailureReason,
		OccurredAt:    o.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, m)
}

func (s *Service) observe(o Order) {
	metrics.OrderTransitions.WithLabelValues(string(o.PaymentMethod), string(o.Status)).Inc()
}

func (s *Service) record(ctx context.Context, orderID, reference string, x gateway.Exchange) {
	if s.audit == nil || x.Endpoint == "" {
		return
	}
	s.audit.Record(ctx, audit.Entry{
		OrderID:         orderID,
		Reference:       reference,
		Endpoint:        x.Endpoint,
		Method:          x.Method,
		RequestPayload:  x.RequestPayload,
		RequestHeaders:  x.RequestHeaders,
		ResponsePayload: x.ResponsePayload,
		StatusCode:      x.StatusCode,
		Latency:         x.Latency,
		ErrorMessage:    x.ErrorMessage(),
	})
}

func (s *Service) now() time.Time { return s.clock().UTC() }

const maxReasonLen = 255

var validate = validator.New()

// validEmail gates the payer address handed to the payment gateway.
func validEmail(email string) bool {
	return email != "" && validate.Var(email, "email") == nil
}

// failureReason is the customer-facing text for a failed fulfillment.
func failureReason(err error) string {
	var ge *gateway.Error
	msg := err.Error()
	if errors.As(err, &ge) {
		switch ge.Kind {
		case gateway.KindTimeout:
			msg = "fulfillment timed out"
		case gateway.KindTransport:
			msg = "fulfillment provider unreachable"
		case gateway.KindUnauthorized:
			msg = "fulfillment provider rejected credentials"
		default:
			msg = nonEmpty(ge.Message, "fulfillment rejected")
		}
	}
	return clampText(msg, maxReasonLen)
}

// clampText makes provider text storable in a TEXT column: valid UTF-8, no
// NUL bytes, at most limit bytes cut on a rune boundary. limit <= 0 keeps length.
func clampText(s string, limit int) string {
	s = strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
