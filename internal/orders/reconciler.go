package orders

import (
	"context"
	"errors"
	"time"

	"bundle-platform/pkg/logger"
)

const reconcileBatch = 100

// Reconciler repairs orders whose callback never arrived, fulfillment claims
// that never settled, and wallet orders whose immediate refund failed.
type Reconciler struct {
	svc        *Service
	store      Store
	interval   time.Duration
	staleAfter time.Duration
	clock      func() time.Time
}

func NewReconciler(svc *Service, store Store, interval, staleAfter time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Reconciler{svc: svc, store: store, interval: interval, staleAfter: staleAfter, clock: time.Now}
}

// ReconcileReport counts what one pass did.
type ReconcileReport struct {
	CheckoutsResolved int
	ClaimsExpired     int
	Refunded          int
	Errors            int
}

// Start runs until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	log := logger.From(ctx).With("job", "order_reconciler")
	log.Info("order reconciler started", "interval", r.interval.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("order reconciler stopped")
			return
		case <-ticker.C:
			rep, err := r.RunOnce(ctx)
			if err != nil {
				log.Error("reconcile pass failed", "err", err)
				continue
			}
			if rep.CheckoutsResolved+rep.ClaimsExpired+rep.Refunded+rep.Errors > 0 {
				log.Info("reconcile pass", "checkouts", rep.CheckoutsResolved, "expired_claims", rep.ClaimsExpired,
					"refunds", rep.Refunded, "errors", rep.Errors)
			}
		}
	}
}

// RunOnce performs a single pass. Expired claims are failed before the refund
// sweep so wallet orders whose settlement never committed are refunded in the
// same pass. staleAfter must stay well above the fulfillment timeout.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport
	log := logger.From(ctx)
	cutoff := r.clock().UTC().Add(-r.staleAfter)

	stale, err := r.store.ListStaleCheckouts(ctx, cutoff, reconcileBatch)
	if err != nil {
		return rep, err
	}
	for _, o := range stale {
		out, err := r.svc.ResolveCallback(ctx, o.PaymentReference)
		if err != nil {
			rep.Errors++
			log.Warn("resolve stale checkout", "order_id", o.ID, "err", err)
			continue
		}
		if out.Applied {
			rep.CheckoutsResolved++
		}
	}

	claims, err := r.store.ListStaleClaims(ctx, cutoff, reconcileBatch)
	if err != nil {
		return rep, err
	}
	for _, o := range claims {
		out, applied, err := r.svc.ExpireClaim(ctx, o.ID, cutoff)
		if err != nil {
			rep.Errors++
			log.Error("expire fulfillment claim", "order_id", o.ID, "err", err)
			continue
		}
		if !applied {
			continue
		}
		rep.ClaimsExpired++
		if out.Status == StatusRefunded {
			rep.Refunded++
		}
	}

	unrefunded, err := r.store.ListUnrefunded(ctx, reconcileBatch)
	if err != nil {
		return rep, err
	}
	for _, o := range unrefunded {
		_, err := r.svc.Refund(ctx, o.ID)
		switch {
		case err == nil:
			rep.Refunded++
		case errors.Is(err, ErrAlreadyRefunded):
		default:
			rep.Errors++
			log.Error("sweep refund", "order_id", o.ID, "err", err)
		}
	}
	return rep, nil
}
