// Package loyalty quotes and commits point redemption and earning for a sale.
//
// Preview is pure and may be called any number of times before settlement.
// Finalize commits one preview inside the settlement's atomic unit and
// re-checks the balance under the customer row lock.
package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kasirledger/internal/domain"
	"kasirledger/internal/money"
	"kasirledger/internal/store"
	"kasirledger/internal/xid"
)

type Config struct {
	// CurrencyPerPoint is the currency value of one redeemed point. Zero disables redemption.
	CurrencyPerPoint decimal.Decimal
	// PointsPerCurrency is the earning rate on the net total. Zero disables earning.
	PointsPerCurrency       decimal.Decimal
	MinimumRedeemablePoints int64
	Rounding                money.PointsRounding
}

type Adjustment struct {
	CustomerID         string          `json:"customer_id,omitempty"`
	AvailablePoints    int64           `json:"available_points"`
	PreRedemptionTotal decimal.Decimal `json:"pre_redemption_total"`
	NetTotal           decimal.Decimal `json:"net_total"`
	PointsEarned       int64           `json:"points_earned"`
	PointsRedeemed     int64           `json:"points_redeemed"`
	RedemptionValue    decimal.Decimal `json:"redemption_value"`
}

func (a Adjustment) IsZero() bool {
	return a.PointsEarned == 0 && a.PointsRedeemed == 0
}

// Preview computes the redemption and earning for total without touching state.
func Preview(cfg Config, customer *domain.Customer, total decimal.Decimal, requestedPoints int64) Adjustment {
	total = money.Round(total)
	adj := Adjustment{
		PreRedemptionTotal: total,
		NetTotal:           total,
		RedemptionValue:    decimal.Zero,
	}
	if customer == nil {
		return adj
	}
	adj.CustomerID = customer.ID
	adj.AvailablePoints = customer.LoyaltyPoints

	points := redeemablePoints(cfg, customer.LoyaltyPoints, total, requestedPoints)
	if points > 0 {
		value := money.Round(decimal.NewFromInt(points).Mul(cfg.CurrencyPerPoint))
		adj.PointsRedeemed = points
		adj.RedemptionValue = money.Min(value, total)
		adj.NetTotal = money.Max(money.Round(total.Sub(adj.RedemptionValue)), decimal.Zero)
	}

	if cfg.PointsPerCurrency.IsPositive() {
		adj.PointsEarned = money.RoundPoints(cfg.Rounding, adj.NetTotal.Mul(cfg.PointsPerCurrency))
	}
	return adj
}

func redeemablePoints(cfg Config, available int64, total decimal.Decimal, requested int64) int64 {
	if requested <= 0 || available <= 0 || !cfg.CurrencyPerPoint.IsPositive() || !total.IsPositive() {
		return 0
	}
	byTotal := total.Div(cfg.CurrencyPerPoint).Floor().IntPart()
	points := min(requested, available, byTotal)
	if points < cfg.MinimumRedeemablePoints || points < 0 {
		return 0
	}
	return points
}

// Ledger is the part of an atomic unit that Finalize writes through.
type Ledger interface {
	LockCustomer(ctx context.Context, id string) (*domain.Customer, error)
	SetCustomerPoints(ctx context.Context, id string, points int64) error
	InsertLoyaltyEntry(ctx context.Context, entry domain.CustomerLoyaltyTransaction) error
}

// Finalize applies adj to the customer's balance and appends the ledger rows.
// A balance that no longer covers the redemption fails with ErrInvalidState.
func Finalize(ctx context.Context, ledger Ledger, customerID string, transactionID string, adj Adjustment, at time.Time) (int64, error) {
	if customerID == "" || adj.IsZero() {
		return 0, nil
	}

	customer, err := ledger.LockCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}
	balance := customer.LoyaltyPoints

	if adj.PointsRedeemed > 0 {
		if balance < adj.PointsRedeemed {
			return 0, fmt.Errorf("customer %s holds %d points, cannot redeem %d: %w", customerID, balance, adj.PointsRedeemed, store.ErrInvalidState)
		}
		balance -= adj.PointsRedeemed
		if err := ledger.InsertLoyaltyEntry(ctx, domain.CustomerLoyaltyTransaction{
			ID:            xid.New("lty"),
			CustomerID:    customerID,
			TransactionID: transactionID,
			Type:          domain.LoyaltyRedeem,
			PointsChange:  -adj.PointsRedeemed,
			PointsBalance: balance,
			Amount:        adj.RedemptionValue,
			CreatedAt:     at,
		}); err != nil {
			return 0, err
		}
	}

	if adj.PointsEarned > 0 {
		balance += adj.PointsEarned
		if err := ledger.InsertLoyaltyEntry(ctx, domain.CustomerLoyaltyTransaction{
			ID:            xid.New("lty"),
			CustomerID:    customerID,
			TransactionID: transactionID,
			Type:          domain.LoyaltyEarn,
			PointsChange:  adj.PointsEarned,
			PointsBalance: balance,
			Amount:        adj.NetTotal,
			CreatedAt:     at,
		}); err != nil {
			return 0, err
		}
	}

	if err := ledger.SetCustomerPoints(ctx, customerID, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// Reconcile replays entries in creation order. It returns the balance held
// before the first entry and whether every post-mutation snapshot, and the
// cached balance, agree with the replay.
func Reconcile(balance int64, entries []domain.CustomerLoyaltyTransaction) (int64, bool) {
	if len(entries) == 0 {
		return balance, true
	}
	opening := entries[0].PointsBalance - entries[0].PointsChange
	running := opening
	for _, entry := range entries {
		running += entry.PointsChange
		if running != entry.PointsBalance {
			return opening, false
		}
	}
	return opening, running == balance
}
