package orders

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"bundle-platform/internal/gateway"
	"bundle-platform/internal/wallet"
	"bundle-platform/pkg/logger"

	"github.com/shopspring/decimal"
)

// CallbackOutcome describes what a callback resolution did.
type CallbackOutcome struct {
	Reference string `json:"reference"`
	// Kind is "order" or "deposit".
	Kind   string `json:"kind"`
	Status string `json:"status"`
	// Applied is false when the callback was a duplicate or lost the race.
	Applied bool   `json:"applied"`
	OrderID string `json:"order_id,omitempty"`
	Order   *Order `json:"-"`
}

// ResolveCallback settles whatever is waiting on a gateway reference. It is
// safe to call any number of times, concurrently, from the redirect, the
// webhook and the reconciler: money moves and fulfillment runs at most once.
func (s *Service) ResolveCallback(ctx context.Context, reference string) (CallbackOutcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return CallbackOutcome{}, ErrNotFound
	}
	ctx = logger.With(ctx, logger.From(ctx).With("reference", reference))

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, "callback:"+reference, s.lockTTL)
		switch {
		case err != nil:
			// The database claim is still authoritative.
			logger.From(ctx).Warn("callback lock unavailable", "err", err)
		case !ok:
			return s.currentOutcome(ctx, reference)
		default:
			defer release()
		}
	}

	if wallet.IsDepositReference(reference) {
		return s.completeTopUp(ctx, reference)
	}
	return s.resolveCheckout(ctx, reference)
}

// currentOutcome reports stored state without acting on it.
func (s *Service) currentOutcome(ctx context.Context, reference string) (CallbackOutcome, error) {
	if wallet.IsDepositReference(reference) {
		t, err := s.deposits.GetDeposit(ctx, reference)
		if err != nil {
			return CallbackOutcome{}, depositErr(err)
		}
		return CallbackOutcome{Reference: reference, Kind: "deposit", Status: string(t.Status)}, nil
	}
	o, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return CallbackOutcome{}, err
	}
	return orderOutcome(o, false), nil
}

func orderOutcome(o Order, applied bool) CallbackOutcome {
	return CallbackOutcome{
		Reference: o.PaymentReference,
		Kind:      "order",
		Status:    string(o.Status),
		Applied:   applied,
		OrderID:   o.ID,
		Order:     &o,
	}
}

func (s *Service) resolveCheckout(ctx context.Context, reference string) (CallbackOutcome, error) {
	log := logger.From(ctx)
	o, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return CallbackOutcome{}, err
	}
	if o.PaymentMethod != PaymentMethodGateway || o.Status != StatusProcessing || o.Claimed() {
		return orderOutcome(o, false), nil
	}

	v, x, verr := s.payments.VerifyCharge(ctx, reference)
	s.record(ctx, o.ID, reference, x)
	if verr == nil && v.InFlight() {
		// Left unclaimed; a later webhook or the reconciler settles it.
		log.Info("charge still in flight", "order_id", o.ID, "gateway_status", v.GatewayStatus)
		return orderOutcome(o, false), nil
	}

	var (
		reason  string
		claimed bool
		settled Order
	)
	switch {
	case verr != nil:
		log.Warn("charge verification failed", "err", verr)
		reason = ReasonPaymentNotVerified
	case !v.Verified:
		reason = ReasonPaymentNotVerified
	case !v.AmountPaid.Equal(o.Amount):
		log.Warn("charge amount mismatch", "paid", v.AmountPaid.StringFixed(2), "expected", o.Amount.StringFixed(2))
		reason = ReasonAmountMismatch
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now()
		ok, err := tx.ClaimFulfillment(ctx, o.ID, now)
		if err != nil || !ok {
			return err
		}
		claimed = true
		cur, err := tx.Get(ctx, o.ID)
		if err != nil {
			return err
		}
		if reason == "" {
			settled = cur
			return nil
		}
		cur.Status = StatusFailed
		cur.FailureReason = reason
		cur.UpdatedAt = now
		settled = cur
		return s.transition(ctx, tx, cur, StatusProcessing)
	})
	if err != nil {
		return CallbackOutcome{}, err
	}
	if !claimed {
		cur, err := s.store.Get(ctx, o.ID)
		if err != nil {
			return CallbackOutcome{}, err
		}
		return orderOutcome(cur, false), nil
	}
	if reason != "" {
		s.observe(settled)
		log.Info("checkout rejected", "order_id", o.ID, "reason", reason)
		return orderOutcome(settled, true), nil
	}

	done, err := s.fulfill(ctx, settled)
	if err != nil {
		return CallbackOutcome{}, err
	}
	return orderOutcome(done, true), nil
}

// TopUp is a started wallet deposit awaiting gateway payment.
type TopUp struct {
	Reference        string          `json:"reference"`
	AuthorizationURL string          `json:"authorization_url"`
	Amount           decimal.Decimal `json:"amount"`
}

// InitiateTopUp records a pending deposit and opens a gateway charge for it.
func (s *Service) InitiateTopUp(ctx context.Context, userID string, amount decimal.Decimal, email string) (TopUp, error) {
	if userID == "" {
		return TopUp{}, ErrAuthRequired
	}
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return TopUp{}, ErrInvalidEmail
	}
	reference := wallet.NewDepositReference()
	if _, err := s.deposits.OpenDeposit(ctx, userID, amount, reference); err != nil {
		return TopUp{}, err
	}

	charge, x, err := s.payments.InitializeCharge(ctx, gateway.ChargeRequest{
		Email:       email,
		Amount:      amount,
		CallbackURL: s.callbackURL,
		Reference:   reference,
		Metadata:    map[string]string{"purpose": "wallet_topup", "user_id": userID},
	})
	s.record(ctx, "", reference, x)
	if err != nil {
		if _, ferr := s.deposits.FailDeposit(context.WithoutCancel(ctx), reference); ferr != nil {
			logger.From(ctx).Error("fail pending deposit", "reference", reference, "err", ferr)
		}
		return TopUp{}, err
	}
	return TopUp{Reference: reference, AuthorizationURL: charge.AuthorizationURL, Amount: amount}, nil
}

func (s *Service) completeTopUp(ctx context.Context, reference string) (CallbackOutcome, error) {
	log := logger.From(ctx)
	pending, err := s.deposits.GetDeposit(ctx, reference)
	if err != nil {
		return CallbackOutcome{}, depositErr(err)
	}
	out := CallbackOutcome{Reference: reference, Kind: "deposit", Status: string(pending.Status)}
	if pending.Status != wallet.TransactionStatusPending {
		return out, nil
	}

	v, x, verr := s.payments.VerifyCharge(ctx, reference)
	s.record(ctx, "", reference, x)
	if verr == nil && v.InFlight() {
		log.Info("top-up charge still in flight", "reference", reference, "gateway_status", v.GatewayStatus)
		return out, nil
	}

	if verr == nil && v.Verified && v.AmountPaid.Equal(pending.Amount) {
		t, applied, err := s.deposits.CompleteDeposit(ctx, reference)
		if err != nil {
			return CallbackOutcome{}, err
		}
		out.Status = string(t.Status)
		out.Applied = applied
		if applied {
			log.Info("wallet top-up credited", "user_id", t.UserID, "amount", t.Amount.StringFixed(2))
		}
		return out, nil
	}

	if verr != nil {
		log.Warn("top-up verification failed", "err", verr)
	} else if v.Verified {
		log.Warn("top-up amount mismatch", "paid", v.AmountPaid.StringFixed(2), "expected", pending.Amount.StringFixed(2))
	}
	failed, err := s.deposits.FailDeposit(ctx, reference)
	if err != nil {
		return CallbackOutcome{}, err
	}
	out.Applied = failed
	if failed {
		out.Status = string(wallet.TransactionStatusFailed)
	}
	return out, nil
}

// AdminCredit credits a wallet directly. reason is mandatory and is kept on
// the transaction together with the acting admin.
func (s *Service) AdminCredit(ctx context.Context, userID string, amount decimal.Decimal, reason, adminID string) (wallet.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if userID == "" || reason == "" {
		return wallet.Transaction{}, wallet.ErrInvalidArgument
	}
	meta, err := json.Marshal(map[string]string{"admin_id": adminID})
	if err != nil {
		return wallet.Transaction{}, err
	}
	t, err := s.deposits.Deposit(ctx, userID, wallet.DepositRequest{
		Amount:      amount,
		Method:      wallet.MethodAdmin,
		Description: reason,
		Metadata:    string(meta),
	})
	if err != nil {
		return wallet.Transaction{}, err
	}
	logger.From(ctx).Info("admin wallet credit", "user_id", userID, "admin_id", adminID, "amount", amount.StringFixed(2))
	return t, nil
}

func depositErr(err error) error {
	if errors.Is(err, wallet.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
