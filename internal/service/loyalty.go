package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"kasirledger/internal/domain"
	"kasirledger/internal/loyalty"
	"kasirledger/internal/store"
)

// PreviewLoyalty quotes a redemption against committed state. It writes nothing.
func (s *Service) PreviewLoyalty(ctx context.Context, customerID string, total decimal.Decimal, requestedPoints int64) (loyalty.Adjustment, error) {
	if total.IsNegative() {
		return loyalty.Adjustment{}, store.Invalid("total", "total cannot be negative")
	}
	if requestedPoints < 0 {
		return loyalty.Adjustment{}, store.Invalid("requested_points", "requested_points cannot be negative")
	}

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return loyalty.Preview(s.settings.Loyalty, nil, total, 0), nil
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return loyalty.Adjustment{}, err
	}
	return loyalty.Preview(s.settings.Loyalty, customer, total, requestedPoints), nil
}

func (s *Service) LoyaltyHistory(ctx context.Context, customerID string) (domain.LoyaltyHistory, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.LoyaltyHistory{}, store.Invalid("customer_id", "customer_id is required")
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.LoyaltyHistory{}, err
	}
	entries, err := s.repo.ListLoyaltyEntries(ctx, customerID)
	if err != nil {
		return domain.LoyaltyHistory{}, err
	}

	opening, consistent := loyalty.Reconcile(customer.LoyaltyPoints, entries)
	if !consistent {
		s.log.WithField("customer_id", customerID).Warn("loyalty ledger does not replay to cached balance")
	}
	return domain.LoyaltyHistory{
		CustomerID:     customerID,
		Balance:        customer.LoyaltyPoints,
		OpeningBalance: opening,
		Consistent:     consistent,
		Entries:        entries,
	}, nil
}
