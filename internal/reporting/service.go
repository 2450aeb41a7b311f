package reporting

import (
	"context"
	"errors"
	"time"

	"bundle-platform/internal/orders"
	"bundle-platform/internal/wallet"

	"github.com/shopspring/decimal"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// maxRange bounds a single report to keep scans cheap.
const maxRange = 93 * 24 * time.Hour

// Repository abstracts data access for reporting.
// Implementations should read immutable or append-only sources where possible.
type Repository interface {
	ListOrders(ctx context.Context, from, to time.Time) ([]orders.Order, error)
	ListWalletTransactions(ctx context.Context, from, to time.Time) ([]wallet.Transaction, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func checkRange(r TimeRange) error {
	if !r.valid() || r.To.Sub(r.From) > maxRange {
		return ErrInvalidRequest
	}
	return nil
}

func (s *Service) SalesSummary(ctx context.Context, req SalesSummaryRequest) (SalesSummary, error) {
	if err := checkRange(req.Range); err != nil {
		return SalesSummary{}, err
	}
	if s.repo == nil {
		return SalesSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListOrders(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return SalesSummary{}, err
	}

	out := SalesSummary{
		Range:          req.Range,
		Revenue:        decimal.Zero,
		RefundedAmount: decimal.Zero,
		ByNetwork:      map[string]NetworkSales{},
	}
	for _, o := range rows {
		if req.Network != "" && o.Network != req.Network {
			continue
		}
		if req.PaymentMethod != "" && string(o.PaymentMethod) != req.PaymentMethod {
			continue
		}
		out.TotalOrders++
		switch o.Status {
		case orders.StatusSuccessful:
			out.SuccessfulOrders++
			out.Revenue = out.Revenue.Add(o.Amount)
			n := out.ByNetwork[o.Network]
			n.Orders++
			n.Revenue = n.Revenue.Add(o.Amount)
			out.ByNetwork[o.Network] = n
		case orders.StatusFailed:
			out.FailedOrders++
		case orders.StatusRefunded:
			out.RefundedOrders++
			if o.RefundAmount.Valid {
				out.RefundedAmount = out.RefundedAmount.Add(o.RefundAmount.Decimal)
			}
		case orders.StatusPending, orders.StatusProcessing:
			out.OpenOrders++
		}
	}
	if closed := out.SuccessfulOrders + out.FailedOrders + out.RefundedOrders; closed > 0 {
		out.SuccessRate = float64(out.SuccessfulOrders) / float64(closed)
	}
	return out, nil
}

func (s *Service) LedgerSummary(ctx context.Context, req LedgerSummaryRequest) (LedgerSummary, error) {
	if err := checkRange(req.Range); err != nil {
		return LedgerSummary{}, err
	}
	if s.repo == nil {
		return LedgerSummary{}, errors.New("reporting: repository not configured")
	}

	txs, err := s.repo.ListWalletTransactions(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return LedgerSummary{}, err
	}

	out := LedgerSummary{
		Range:        req.Range,
		UserID:       req.UserID,
		Deposits:     decimal.Zero,
		AdminCredits: decimal.Zero,
		Purchases:    decimal.Zero,
		Refunds:      decimal.Zero,
	}
	for _, t := range txs {
		if req.UserID != "" && t.UserID != req.UserID {
			continue
		}
		out.Transactions++
		switch t.Status {
		case wallet.TransactionStatusPending:
			out.PendingCount++
			continue
		case wallet.TransactionStatusFailed:
			out.FailedCount++
			continue
		}
		switch t.Type {
		case wallet.TransactionTypeDeposit:
			if t.PaymentMethod == wallet.MethodAdmin {
				out.AdminCredits = out.AdminCredits.Add(t.Amount)
			} else {
				out.Deposits = out.Deposits.Add(t.Amount)
			}
		case wallet.TransactionTypePurchase:
			out.Purchases = out.Purchases.Add(t.Amount)
		case wallet.TransactionTypeRefund:
			out.Refunds = out.Refunds.Add(t.Amount)
		}
	}
	out.NetDelta = out.Deposits.Add(out.AdminCredits).Add(out.Refunds).Sub(out.Purchases)
	return out, nil
}
