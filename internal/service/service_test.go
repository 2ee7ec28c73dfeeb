package service

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasirledger/internal/domain"
	"kasirledger/internal/loyalty"
	"kasirledger/internal/money"
	"kasirledger/internal/store"
	"kasirledger/internal/store/memory"
)

func dec(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func decPtr(raw string) *decimal.Decimal {
	d := dec(raw)
	return &d
}

func int64Ptr(v int64) *int64 {
	return &v
}

func newTestRepo() *memory.Store {
	repo := memory.New()
	repo.PutLocation(domain.Location{ID: "loc-a", Name: "Store A"})
	repo.PutLocation(domain.Location{ID: "loc-b", Name: "Store B"})
	repo.PutProduct(domain.Product{ID: "p-coffee", Barcode: "899000001", Name: "Kopi Bubuk", Price: dec("100.00"), CostPrice: dec("60.00")})
	repo.PutProduct(domain.Product{ID: "p-sugar", Barcode: "899000002", Name: "Gula Pasir", Price: dec("19.99"), CostPrice: dec("15.50")})
	repo.PutStockLevel(domain.StockKey{ProductID: "p-coffee", LocationID: "loc-a"}, 10)
	repo.PutStockLevel(domain.StockKey{ProductID: "p-sugar", LocationID: "loc-a"}, 2)
	repo.PutCustomer(domain.Customer{ID: "cus-500", Name: "Budi", LoyaltyNumber: "LOY-500", LoyaltyPoints: 500})
	return repo
}

func testSettings() Settings {
	return Settings{
		DefaultLocationID: "loc-a",
		Loyalty: loyalty.Config{
			CurrencyPerPoint:        dec("1.0"),
			PointsPerCurrency:       dec("0.01"),
			MinimumRedeemablePoints: 50,
			Rounding:                money.PointsDown,
		},
	}
}

func newTestService() (*Service, *memory.Store) {
	repo := newTestRepo()
	return New(repo, testSettings(), nil), repo
}

func stockAt(t *testing.T, repo store.Repository, productID string, locationID string) int {
	t.Helper()
	levels, err := repo.ListStockLevels(context.Background(), productID)
	if err != nil {
		t.Fatalf("list stock levels: %v", err)
	}
	for _, level := range levels {
		if level.LocationID == locationID {
			return level.Quantity
		}
	}
	return 0
}

func cashSettle(items ...domain.CartLine) domain.SettleRequest {
	return domain.SettleRequest{
		Items:         items,
		TaxRate:       decPtr("11"),
		PaymentMethod: "cash",
		AmountPaid:    decPtr("100000"),
	}
}

func TestSettleComputesLineAndOrderTotals(t *testing.T) {
	svc, repo := newTestService()

	tx, err := svc.Settle(context.Background(), cashSettle(domain.CartLine{ProductID: "p-coffee", Quantity: 3}))
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	if len(tx.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(tx.Items))
	}
	item := tx.Items[0]
	if !item.LineSubtotal.Equal(dec("300.00")) || !item.TaxAmount.Equal(dec("33.00")) || !item.LineTotal.Equal(dec("333.00")) {
		t.Fatalf("unexpected line amounts: subtotal=%s tax=%s total=%s", item.LineSubtotal, item.TaxAmount, item.LineTotal)
	}
	if !item.LineCost.Equal(dec("180.00")) {
		t.Fatalf("expected line cost 180.00, got %s", item.LineCost)
	}
	if item.Name != "Kopi Bubuk" || item.Barcode != "899000001" {
		t.Fatalf("expected product snapshot on item, got %+v", item)
	}
	if !tx.Subtotal.Equal(dec("300.00")) || !tx.TaxTotal.Equal(dec("33.00")) || !tx.Total.Equal(dec("333.00")) {
		t.Fatalf("unexpected order totals: subtotal=%s tax=%s total=%s", tx.Subtotal, tx.TaxTotal, tx.Total)
	}
	if !tx.DiscountTotal.IsZero() {
		t.Fatalf("expected zero discount, got %s", tx.DiscountTotal)
	}
	if !tx.ChangeDue.Equal(dec("99667.00")) {
		t.Fatalf("expected change 99667.00, got %s", tx.ChangeDue)
	}
	if tx.ItemsCount != 3 || tx.LocationID != "loc-a" {
		t.Fatalf("unexpected items_count=%d location=%s", tx.ItemsCount, tx.LocationID)
	}
	if !regexp.MustCompile(`^TRX-\d{8}-\d{6}-[A-Z0-9]{4}$`).MatchString(tx.Number) {
		t.Fatalf("unexpected transaction number %q", tx.Number)
	}

	if got := stockAt(t, repo, "p-coffee", "loc-a"); got != 7 {
		t.Fatalf("expected ledger 7 after sale, got %d", got)
	}
	product, _ := repo.GetProduct(context.Background(), "p-coffee")
	if product.Stock != 7 {
		t.Fatalf("expected product stock 7, got %d", product.Stock)
	}

	stored, err := svc.GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("lookup transaction: %v", err)
	}
	if stored.Number != tx.Number {
		t.Fatalf("expected stored number %s, got %s", tx.Number, stored.Number)
	}
}

func TestSettleRecomputedLineTotalsMatchStoredValues(t *testing.T) {
	svc, _ := newTestService()
	req := cashSettle(domain.CartLine{ProductID: "p-sugar", Quantity: 1}, domain.CartLine{ProductID: "p-coffee", Quantity: 1})
	req.TaxRate = decPtr("11")

	tx, err := svc.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	for _, item := range tx.Items {
		subtotal := money.Times(item.UnitPrice, item.Quantity)
		tax := money.ApplyRate(subtotal, item.TaxRate)
		if !money.Round(subtotal.Add(tax)).Equal(item.LineTotal) {
			t.Fatalf("line total for %s not reproducible: stored %s", item.ProductID, item.LineTotal)
		}
	}
	// 19.99 * 11% = 2.1989 -> 2.20
	if !tx.TaxTotal.Equal(dec("13.20")) {
		t.Fatalf("expected tax total 13.20, got %s", tx.TaxTotal)
	}
}

func TestSettleRejectsInsufficientStockWithoutTouchingLedger(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.Settle(context.Background(), cashSettle(domain.CartLine{ProductID: "p-sugar", Quantity: 5}))
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Gula Pasir") {
		t.Fatalf("expected error to name the product, got %q", err.Error())
	}
	if got := stockAt(t, repo, "p-sugar", "loc-a"); got != 2 {
		t.Fatalf("expected ledger to remain 2, got %d", got)
	}
}

func TestSettleFailureOnLaterLineRollsBackEarlierLines(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.Settle(context.Background(), cashSettle(
		domain.CartLine{ProductID: "p-coffee", Quantity: 4},
		domain.CartLine{ProductID: "p-sugar", Quantity: 3},
	))
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := stockAt(t, repo, "p-coffee", "loc-a"); got != 10 {
		t.Fatalf("expected coffee ledger untouched at 10, got %d", got)
	}
	txs, err := repo.ListTransactions(context.Background(), time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no committed transactions, got %d", len(txs))
	}
}

func TestSettleMergesRepeatedLinesBeforeStockCheck(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.Settle(context.Background(), cashSettle(
		domain.CartLine{ProductID: "p-sugar", Quantity: 1},
		domain.CartLine{ProductID: "p-sugar", Quantity: 2},
	))
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected merged quantity 3 to exceed stock 2, got %v", err)
	}

	tx, err := svc.Settle(context.Background(), cashSettle(
		domain.CartLine{ProductID: "p-sugar", Quantity: 1},
		domain.CartLine{ProductID: "p-sugar", Quantity: 1},
	))
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if len(tx.Items) != 1 || tx.Items[0].Quantity != 2 {
		t.Fatalf("expected one merged line of 2, got %+v", tx.Items)
	}
	if got := stockAt(t, repo, "p-sugar", "loc-a"); got != 0 {
		t.Fatalf("expected ledger 0, got %d", got)
	}
}

func TestSettleValidatesRequestShape(t *testing.T) {
	cases := map[string]func(*domain.SettleRequest){
		"empty cart":             func(r *domain.SettleRequest) { r.Items = nil },
		"zero quantity":          func(r *domain.SettleRequest) { r.Items[0].Quantity = 0 },
		"missing tax rate":       func(r *domain.SettleRequest) { r.TaxRate = nil },
		"tax rate above 100":     func(r *domain.SettleRequest) { r.TaxRate = decPtr("100.01") },
		"tax rate precision":     func(r *domain.SettleRequest) { r.TaxRate = decPtr("11.005") },
		"value without type":     func(r *domain.SettleRequest) { r.DiscountValue = decPtr("10") },
		"type without value":     func(r *domain.SettleRequest) { r.DiscountType = "percentage" },
		"percentage above 100":   func(r *domain.SettleRequest) { r.DiscountType = "percentage"; r.DiscountValue = decPtr("101") },
		"unknown discount type":  func(r *domain.SettleRequest) { r.DiscountType = "bogo"; r.DiscountValue = decPtr("1") },
		"negative discount":      func(r *domain.SettleRequest) { r.DiscountType = "value"; r.DiscountValue = decPtr("-1") },
		"missing payment method": func(r *domain.SettleRequest) { r.PaymentMethod = "" },
		"unknown payment method": func(r *domain.SettleRequest) { r.PaymentMethod = "qris" },
		"missing amount paid":    func(r *domain.SettleRequest) { r.AmountPaid = nil },
		"redeem without customer": func(r *domain.SettleRequest) {
			r.RedeemPoints = int64Ptr(100)
		},
		"negative redeem": func(r *domain.SettleRequest) {
			r.CustomerID = "cus-500"
			r.RedeemPoints = int64Ptr(-1)
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			svc, repo := newTestService()
			req := cashSettle(domain.CartLine{ProductID: "p-coffee", Quantity: 1})
			mutate(&req)

			_, err := svc.Settle(context.Background(), req)
			var validation *store.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if validation.Field == "" {
				t.Fatalf("expected field-level error, got %q", err.Error())
			}
			if got := stockAt(t, repo, "p-coffee", "loc-a"); got != 10 {
				t.Fatalf("expected ledger untouched, got %d", got)
			}
		})
	}
}

func TestSettleUnknownReferencesAreNotFound(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Settle(context.Background(), cashSettle(domain.CartLine{ProductID: "p-missing", Quantity: 1}))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for product, got %v", err)
	}

	req := cashSettle(domain.CartLine{ProductID: "p-coffee", Quantity: 1})
	req.LocationID = "loc-zzz"
	if _, err := svc.Settle(context.Background(), req); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for location, got %v", err)
	}

	req = cashSettle(domain.CartLine{ProductID: "p-coffee", Quantity: 1})
	req.CustomerID = "cus-missing"
	if _, err := svc.Settle(context.Background(), req); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for customer, got %v", err)
	}
}

func TestSettleAppliesDiscounts(t *testing.T) {
	svc, _ := newTestService()

	req := cashSettle(domain.CartLine{ProductID: "p-coffee", Quantity: 3})
	req.DiscountType = "percentage"
	req.DiscountValue = decPtr("10")
	tx, err := svc.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if !tx.DiscountTotal.Equal(dec("30.00")) || !tx.Total.Equal(dec("303.00")) {
		t.Fatalf("expected discount 30.00 and total 303.00, got %s / %s", tx.DiscountTotal, tx.Total)
	}

	req = cashSettle(domain.CartLine{ProductID: "p-coffee", Quantity: 3})
	req.DiscountType = "value"
	req.DiscountValue = decPtr("500")
	tx, err = svc.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if !tx.DiscountTotal.Equal(dec("300.00")) || !tx.Total.Equal(dec("33.00")) {
		t.Fatalf("expected value discount capped at subtotal, got %s / %s", tx.DiscountTotal, tx.Total)
	}
}

func TestSettleRejectsUnderpayment(t *testing.T) {
	svc, repo := newTestService()
	req := cashSettle(domain.CartLine{ProductID: "p-coffee", Quantity: 3})
	req.AmountPaid = decPtr("332.99")

	_, err := svc.Settle(context.Background(), req)
	var validation *store.ValidationError
	if !errors.As(err, &validation) || validation.Field != "amount_paid" {
		t.Fatalf("expected amount_paid validation error, got %v", err)
	}
	if got := stockAt(t, repo, "p-coffee", "loc-a"); got != 10 {
		t.Fatalf("expected ledger untouched, got %d", got)
	}
}

func TestSettleRedeemsAndEarnsLoyalty(t *testing.T) {
	svc, repo := newTestService()
	req := cashSettle(domain.CartLine{ProductID: "p-coffee", Quantity: 10})
	req.TaxRate = decPtr("0")
	req.CustomerID = "cus-500"
	req.RedeemPoints = int64Ptr(600)
	req.AmountPaid = decPtr("500")

	tx, err := svc.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if tx.PointsRedeemed != 500 || !tx.LoyaltyRedemption.Equal(dec("500.00")) {
		t.Fatalf("expected 500 points worth 500.00 redeemed, got %d / %s", tx.PointsRedeemed, tx.LoyaltyRedemption)
	}
	if !tx.Total.Equal(dec("500.00")) || !tx.ChangeDue.IsZero() {
		t.Fatalf("expected net total 500.00 with no change, got %s / %s", tx.Total, tx.ChangeDue)
	}
	if tx.PointsEarned != 5 {
		t.Fatalf("expected 5 points earned, got %d", tx.PointsEarned)
	}

	history, err := svc.LoyaltyHistory(context.Background(), "cus-500")
	if err != nil {
		t.Fatalf("loyalty history: %v", err)
	}
	if history.Balance != 5 || !history.Consistent || history.OpeningBalance != 500 {
		t.Fatalf("unexpected history %+v", history)
	}
	if len(history.Entries) != 2 || history.Entries[0].Type != domain.LoyaltyRedeem || history.Entries[1].Type != domain.LoyaltyEarn {
		t.Fatalf("expected redeem then earn entries, got %+v", history.Entries)
	}
	if history.Entries[0].TransactionID != tx.ID {
		t.Fatalf("expected entries linked to %s, got %s", tx.ID, history.Entries[0].TransactionID)
	}
	if got := stockAt(t, repo, "p-coffee", "loc-a"); got != 0 {
		t.Fatalf("expected ledger 0, got %d", got)
	}
}

// racingRepo spends the customer's points inside the unit right before the
// finalizer locks the row, the way a concurrent sale would.
type racingRepo struct {
	*memory.Store
}

type racingTx struct {
	store.Tx
}

func (r racingRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return r.Store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, racingTx{Tx: tx})
	})
}

func (t racingTx) LockCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	if err := t.Tx.SetCustomerPoints(ctx, id, 10); err != nil {
		return nil, err
	}
	return t.Tx.LockCustomer(ctx, id)
}

func TestSettleAbortsWholeUnitOnLoyaltyRace(t *testing.T) {
	repo := newTestRepo()
	svc := New(racingRepo{Store: repo}, testSettings(), nil)

	req := cashSettle(domain.CartLine{ProductID: "p-coffee", Quantity: 2})
	req.CustomerID = "cus-500"
	req.RedeemPoints = int64Ptr(100)

	_, err := svc.Settle(context.Background(), req)
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if got := stockAt(t, repo, "p-coffee", "loc-a"); got != 10 {
		t.Fatalf("expected ledger rolled back to 10, got %d", got)
	}
	customer, _ := repo.GetCustomer(context.Background(), "cus-500")
	if customer.LoyaltyPoints != 500 {
		t.Fatalf("expected balance rolled back to 500, got %d", customer.LoyaltyPoints)
	}
	txs, _ := repo.ListTransactions(context.Background(), time.Time{}, time.Now().Add(time.Hour))
	if len(txs) != 0 {
		t.Fatalf("expected no transaction committed, got %d", len(txs))
	}
}

func TestPreviewLoyaltyIsReadOnly(t *testing.T) {
	svc, repo := newTestService()

	adj, err := svc.PreviewLoyalty(context.Background(), "cus-500", dec("1000.00"), 600)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if adj.PointsRedeemed != 500 || !adj.NetTotal.Equal(dec("500.00")) {
		t.Fatalf("unexpected preview %+v", adj)
	}
	customer, _ := repo.GetCustomer(context.Background(), "cus-500")
	if customer.LoyaltyPoints != 500 {
		t.Fatalf("preview must not change balance, got %d", customer.LoyaltyPoints)
	}

	anon, err := svc.PreviewLoyalty(context.Background(), "", dec("80.00"), 0)
	if err != nil {
		t.Fatalf("anonymous preview failed: %v", err)
	}
	if !anon.NetTotal.Equal(dec("80.00")) || anon.PointsEarned != 0 {
		t.Fatalf("unexpected anonymous preview %+v", anon)
	}

	if _, err := svc.PreviewLoyalty(context.Background(), "cus-missing", dec("10"), 0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransferMovesStockBetweenLocations(t *testing.T) {
	svc, repo := newTestService()

	transfer, err := svc.Transfer(context.Background(), domain.TransferRequest{
		ProductID:             "p-coffee",
		SourceLocationID:      "loc-a",
		DestinationLocationID: "loc-b",
		Quantity:              7,
		UserID:                "usr-1",
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if transfer.Quantity != 7 || transfer.UserID != "usr-1" {
		t.Fatalf("unexpected transfer record %+v", transfer)
	}
	if got := stockAt(t, repo, "p-coffee", "loc-a"); got != 3 {
		t.Fatalf("expected source 3, got %d", got)
	}
	if got := stockAt(t, repo, "p-coffee", "loc-b"); got != 7 {
		t.Fatalf("expected destination 7, got %d", got)
	}
	product, _ := repo.GetProduct(context.Background(), "p-coffee")
	if product.Stock != 10 {
		t.Fatalf("expected product stock unchanged at 10, got %d", product.Stock)
	}
	transfers, _ := svc.ListTransfers(context.Background(), "p-coffee", 10)
	if len(transfers) != 1 {
		t.Fatalf("expected one transfer row, got %d", len(transfers))
	}
}

func TestTransferRejectsBadRequests(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.TransferRequest
		want error
	}{
		{"same location", domain.TransferRequest{ProductID: "p-coffee", SourceLocationID: "loc-a", DestinationLocationID: "loc-a", Quantity: 1}, store.ErrValidation},
		{"zero quantity", domain.TransferRequest{ProductID: "p-coffee", SourceLocationID: "loc-a", DestinationLocationID: "loc-b", Quantity: 0}, store.ErrValidation},
		{"unknown product", domain.TransferRequest{ProductID: "p-none", SourceLocationID: "loc-a", DestinationLocationID: "loc-b", Quantity: 1}, store.ErrNotFound},
		{"unknown location", domain.TransferRequest{ProductID: "p-coffee", SourceLocationID: "loc-a", DestinationLocationID: "loc-z", Quantity: 1}, store.ErrNotFound},
		{"absent source row", domain.TransferRequest{ProductID: "p-coffee", SourceLocationID: "loc-b", DestinationLocationID: "loc-a", Quantity: 1}, store.ErrValidation},
		{"short source", domain.TransferRequest{ProductID: "p-coffee", SourceLocationID: "loc-a", DestinationLocationID: "loc-b", Quantity: 11}, store.ErrValidation},
	}
	for _, tc := range cases {
		if _, err := svc.Transfer(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	_, err := svc.Transfer(ctx, domain.TransferRequest{ProductID: "p-coffee", SourceLocationID: "loc-a", DestinationLocationID: "loc-b", Quantity: 11})
	if err == nil || !strings.Contains(err.Error(), "source location does not have enough on-hand quantity") {
		t.Fatalf("unexpected short-source error %v", err)
	}
	if got := stockAt(t, repo, "p-coffee", "loc-a"); got != 10 {
		t.Fatalf("expected source untouched, got %d", got)
	}
	levels, _ := repo.ListStockLevels(ctx, "p-coffee")
	if len(levels) != 1 {
		t.Fatalf("failed transfer must not leave a destination row, got %d rows", len(levels))
	}
}

func TestConcurrentTransfersDrainingSourceAllowOnlyOne(t *testing.T) {
	svc, repo := newTestService()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Transfer(context.Background(), domain.TransferRequest{
				ProductID:             "p-coffee",
				SourceLocationID:      "loc-a",
				DestinationLocationID: "loc-b",
				Quantity:              7,
			})
		}(i)
	}
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrValidation):
			rejected++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected one success and one validation error, got %d/%d", succeeded, rejected)
	}
	if got := stockAt(t, repo, "p-coffee", "loc-a"); got != 3 {
		t.Fatalf("expected source 3, got %d", got)
	}
}

func TestStockIsConservedAcrossSalesAndTransfers(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	steps := []func() error{
		func() error {
			_, err := svc.Transfer(ctx, domain.TransferRequest{ProductID: "p-coffee", SourceLocationID: "loc-a", DestinationLocationID: "loc-b", Quantity: 4})
			return err
		},
		func() error {
			_, err := svc.Settle(ctx, cashSettle(domain.CartLine{ProductID: "p-coffee", Quantity: 2}))
			return err
		},
		func() error {
			req := cashSettle(domain.CartLine{ProductID: "p-coffee", Quantity: 3})
			req.LocationID = "loc-b"
			_, err := svc.Settle(ctx, req)
			return err
		},
		func() error {
			_, err := svc.Transfer(ctx, domain.TransferRequest{ProductID: "p-coffee", SourceLocationID: "loc-b", DestinationLocationID: "loc-a", Quantity: 1})
			return err
		},
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	levels, _ := repo.ListStockLevels(ctx, "p-coffee")
	total := 0
	for _, level := range levels {
		if level.Quantity < 0 {
			t.Fatalf("negative ledger row %+v", level)
		}
		total += level.Quantity
	}
	if total != 10-5 {
		t.Fatalf("expected 5 units left across locations, got %d", total)
	}
	product, _ := repo.GetProduct(ctx, "p-coffee")
	if product.Stock != total {
		t.Fatalf("expected product stock %d to equal ledger sum %d", product.Stock, total)
	}
}

func TestStockOpnameSetsCountedQuantities(t *testing.T) {
	svc, repo := newTestService()

	resp, err := svc.StockOpname(context.Background(), domain.StockOpnameRequest{
		Notes: "monthly count",
		Items: []domain.StockOpnameItem{
			{ProductID: "p-coffee", CountedQty: 8},
			{ProductID: "p-sugar", CountedQty: 5},
		},
	})
	if err != nil {
		t.Fatalf("stock opname failed: %v", err)
	}
	if len(resp.Adjustments) != 2 || resp.Adjustments[0].DeltaQty != -2 || resp.Adjustments[1].DeltaQty != 3 {
		t.Fatalf("unexpected adjustments %+v", resp.Adjustments)
	}
	if resp.Adjustments[0].SystemQty != 10 {
		t.Fatalf("expected system qty 10, got %d", resp.Adjustments[0].SystemQty)
	}
	if got := stockAt(t, repo, "p-sugar", "loc-a"); got != 5 {
		t.Fatalf("expected sugar ledger 5, got %d", got)
	}
	product, _ := repo.GetProduct(context.Background(), "p-coffee")
	if product.Stock != 8 {
		t.Fatalf("expected product stock 8, got %d", product.Stock)
	}

	_, err = svc.StockOpname(context.Background(), domain.StockOpnameRequest{Items: []domain.StockOpnameItem{{ProductID: "p-coffee", CountedQty: -1}}})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for negative count, got %v", err)
	}
}

func TestPurchaseOrderReceiveLifecycle(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	supplier, err := svc.CreateSupplier(ctx, domain.SupplierCreateRequest{Name: "PT Sumber Rejeki", Phone: "021-555"})
	if err != nil {
		t.Fatalf("create supplier failed: %v", err)
	}

	po, err := svc.CreatePurchaseOrder(ctx, domain.PurchaseOrderCreateRequest{
		SupplierID:   supplier.ID,
		ExpectedDate: "2026-01-31",
		Items: []domain.PurchaseOrderCreateItem{
			{ProductID: "p-coffee", Quantity: 20, UnitCost: dec("58.00")},
			{ProductID: "p-sugar", Quantity: 10, UnitCost: dec("15.00")},
		},
	})
	if err != nil {
		t.Fatalf("create purchase order failed: %v", err)
	}
	if po.Status != domain.POStatusOrdered || po.LocationID != "loc-a" || po.ExpectedDate == nil {
		t.Fatalf("unexpected purchase order %+v", po)
	}

	partial, err := svc.ReceivePurchaseOrder(ctx, po.ID, domain.PurchaseOrderReceiveRequest{
		Items: []domain.PurchaseOrderReceiveItem{{ProductID: "p-coffee", Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("partial receive failed: %v", err)
	}
	if partial.Status != domain.POStatusPartial || partial.ReceivedAt != nil {
		t.Fatalf("expected partial status, got %+v", partial)
	}
	if got := stockAt(t, repo, "p-coffee", "loc-a"); got != 15 {
		t.Fatalf("expected coffee ledger 15, got %d", got)
	}

	_, err = svc.ReceivePurchaseOrder(ctx, po.ID, domain.PurchaseOrderReceiveRequest{
		Items: []domain.PurchaseOrderReceiveItem{{ProductID: "p-coffee", Quantity: 16}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected over-receive validation error, got %v", err)
	}

	done, err := svc.ReceivePurchaseOrder(ctx, po.ID, domain.PurchaseOrderReceiveRequest{})
	if err != nil {
		t.Fatalf("final receive failed: %v", err)
	}
	if done.Status != domain.POStatusReceived || done.ReceivedAt == nil || done.Outstanding() != 0 {
		t.Fatalf("expected fully received order, got %+v", done)
	}
	if got := stockAt(t, repo, "p-sugar", "loc-a"); got != 12 {
		t.Fatalf("expected sugar ledger 12, got %d", got)
	}
	product, _ := repo.GetProduct(ctx, "p-coffee")
	if product.Stock != 30 {
		t.Fatalf("expected coffee stock 30, got %d", product.Stock)
	}

	if _, err := svc.ReceivePurchaseOrder(ctx, po.ID, domain.PurchaseOrderReceiveRequest{}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on received order, got %v", err)
	}
}

func TestCreatePurchaseOrderValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreatePurchaseOrder(ctx, domain.PurchaseOrderCreateRequest{SupplierID: "sup-x"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for empty items, got %v", err)
	}
	_, err := svc.CreatePurchaseOrder(ctx, domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-missing",
		Items:      []domain.PurchaseOrderCreateItem{{ProductID: "p-coffee", Quantity: 1, UnitCost: dec("1")}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for supplier, got %v", err)
	}
	if _, err := svc.CreateSupplier(ctx, domain.SupplierCreateRequest{Name: "  "}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for blank supplier, got %v", err)
	}
}

func TestSettleRejectsRepeatedLinesWhoseSumOverflows(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	req := cashSettle(
		domain.CartLine{ProductID: "p-coffee", Quantity: math.MaxInt},
		domain.CartLine{ProductID: "p-coffee", Quantity: math.MaxInt},
	)
	req.AmountPaid = decPtr("1000000")

	_, err := svc.Settle(ctx, req)
	var validation *store.ValidationError
	if !errors.As(err, &validation) || validation.Field != "items" {
		t.Fatalf("expected items validation error, got %v", err)
	}
	if got := stockAt(t, repo, "p-coffee", "loc-a"); got != 10 {
		t.Fatalf("expected ledger untouched at 10, got %d", got)
	}
	product, _ := repo.GetProduct(ctx, "p-coffee")
	if product.Stock != 10 {
		t.Fatalf("expected product stock 10, got %d", product.Stock)
	}
	txs, err := repo.ListTransactions(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no committed transaction, got %d", len(txs))
	}
}

func TestReceivePurchaseOrderRejectsRepeatedLinesWhoseSumOverflows(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	supplier, err := svc.CreateSupplier(ctx, domain.SupplierCreateRequest{Name: "CV Maju"})
	if err != nil {
		t.Fatalf("create supplier failed: %v", err)
	}
	po, err := svc.CreatePurchaseOrder(ctx, domain.PurchaseOrderCreateRequest{
		SupplierID: supplier.ID,
		Items:      []domain.PurchaseOrderCreateItem{{ProductID: "p-coffee", Quantity: 20, UnitCost: dec("58.00")}},
	})
	if err != nil {
		t.Fatalf("create purchase order failed: %v", err)
	}

	_, err = svc.ReceivePurchaseOrder(ctx, po.ID, domain.PurchaseOrderReceiveRequest{
		Items: []domain.PurchaseOrderReceiveItem{
			{ProductID: "p-coffee", Quantity: math.MaxInt},
			{ProductID: "p-coffee", Quantity: math.MaxInt},
		},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := stockAt(t, repo, "p-coffee", "loc-a"); got != 10 {
		t.Fatalf("expected ledger untouched at 10, got %d", got)
	}
	stored, err := svc.GetPurchaseOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("get purchase order: %v", err)
	}
	if stored.Status != domain.POStatusOrdered || stored.Items[0].QuantityReceived != 0 {
		t.Fatalf("expected untouched order, got %+v", stored)
	}
}
