package service

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"kasirledger/internal/domain"
	"kasirledger/internal/loyalty"
	"kasirledger/internal/money"
	"kasirledger/internal/store"
	"kasirledger/internal/xid"
)

var hundred = decimal.NewFromInt(100)

// settlePlan is a SettleRequest that passed shape validation.
type settlePlan struct {
	lines         []domain.CartLine
	locationID    string
	taxRate       decimal.Decimal
	discountType  string
	discountValue *decimal.Decimal
	paymentMethod string
	amountPaid    decimal.Decimal
	customerID    string
	redeemPoints  int64
	userID        string
}

// Settle turns a cart into a committed transaction. Stock decrements, the
// transaction with its items and the loyalty mutation commit together or not
// at all.
func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (*domain.Transaction, error) {
	plan, err := s.planSettlement(req)
	if err != nil {
		return nil, err
	}

	var committed domain.Transaction
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		created, err := s.settleWithin(ctx, tx, plan)
		if err != nil {
			return err
		}
		committed = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"transaction_id": committed.ID,
		"number":         committed.Number,
		"location_id":    committed.LocationID,
		"items_count":    committed.ItemsCount,
		"total":          committed.Total.StringFixed(2),
		"payment_method": committed.PaymentMethod,
		"points_redeem":  committed.PointsRedeemed,
		"points_earn":    committed.PointsEarned,
	}).Info("settlement committed")

	return &committed, nil
}

// planSettlement checks the request shape before any lock is taken.
func (s *Service) planSettlement(req domain.SettleRequest) (settlePlan, error) {
	if len(req.Items) == 0 {
		return settlePlan{}, store.Invalid("items", "cart must contain at least one item")
	}
	lines, err := mergeCartLines(req.Items)
	if err != nil {
		return settlePlan{}, err
	}

	if req.TaxRate == nil {
		return settlePlan{}, store.Invalid("tax_rate", "tax_rate is required")
	}
	rate := *req.TaxRate
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return settlePlan{}, store.Invalid("tax_rate", "tax_rate must be between 0 and 100")
	}
	if !rate.Equal(money.NormalizeRate(rate)) {
		return settlePlan{}, store.Invalid("tax_rate", "tax_rate allows at most 2 decimal places")
	}

	discountType := strings.ToLower(strings.TrimSpace(req.DiscountType))
	switch {
	case discountType == "" && req.DiscountValue != nil:
		return settlePlan{}, store.Invalid("discount_type", "discount_type is required when discount_value is set")
	case discountType != "" && req.DiscountValue == nil:
		return settlePlan{}, store.Invalid("discount_value", "discount_value is required when discount_type is set")
	}
	if req.DiscountValue != nil {
		value := *req.DiscountValue
		if value.IsNegative() {
			return settlePlan{}, store.Invalid("discount_value", "discount_value cannot be negative")
		}
		switch discountType {
		case domain.DiscountPercentage:
			if value.GreaterThan(hundred) {
				return settlePlan{}, store.Invalid("discount_value", "percentage discount cannot exceed 100")
			}
		case domain.DiscountValue:
		default:
			return settlePlan{}, store.Invalid("discount_type", "unsupported discount_type %q", req.DiscountType)
		}
	}

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		return settlePlan{}, store.Invalid("payment_method", "payment_method is required")
	}
	if !isSupportedPaymentMethod(method) {
		return settlePlan{}, store.Invalid("payment_method", "unsupported payment_method %q", req.PaymentMethod)
	}

	if req.AmountPaid == nil {
		return settlePlan{}, store.Invalid("amount_paid", "amount_paid is required")
	}
	if req.AmountPaid.IsNegative() {
		return settlePlan{}, store.Invalid("amount_paid", "amount_paid cannot be negative")
	}

	customerID := strings.TrimSpace(req.CustomerID)
	var redeem int64
	if req.RedeemPoints != nil {
		redeem = *req.RedeemPoints
		if redeem < 0 {
			return settlePlan{}, store.Invalid("redeem_points", "redeem_points cannot be negative")
		}
		if redeem > 0 && customerID == "" {
			return settlePlan{}, store.Invalid("redeem_points", "redeeming points requires a customer")
		}
	}

	return settlePlan{
		lines:         lines,
		locationID:    s.locationOrDefault(req.LocationID),
		taxRate:       money.NormalizeRate(rate),
		discountType:  discountType,
		discountValue: req.DiscountValue,
		paymentMethod: method,
		amountPaid:    money.Round(*req.AmountPaid),
		customerID:    customerID,
		redeemPoints:  redeem,
		userID:        strings.TrimSpace(req.UserID),
	}, nil
}

func (s *Service) settleWithin(ctx context.Context, tx store.Tx, plan settlePlan) (domain.Transaction, error) {
	ids := make([]string, 0, len(plan.lines))
	for _, line := range plan.lines {
		ids = append(ids, line.ProductID)
	}
	products, err := tx.GetProducts(ctx, ids)
	if err != nil {
		return domain.Transaction{}, err
	}
	for _, line := range plan.lines {
		if _, ok := products[line.ProductID]; !ok {
			return domain.Transaction{}, store.NotFound("product", line.ProductID)
		}
	}
	if _, err := tx.GetLocation(ctx, plan.locationID); err != nil {
		return domain.Transaction{}, err
	}

	keys := make([]domain.StockKey, 0, len(plan.lines))
	for _, line := range plan.lines {
		keys = append(keys, domain.StockKey{ProductID: line.ProductID, LocationID: plan.locationID})
	}
	onHand, err := tx.LockStockLevels(ctx, keys)
	if err != nil {
		return domain.Transaction{}, err
	}

	items := make([]domain.TransactionItem, 0, len(plan.lines))
	itemsCount := 0
	lineSubtotals := make([]decimal.Decimal, 0, len(plan.lines))
	lineTaxes := make([]decimal.Decimal, 0, len(plan.lines))
	for _, line := range plan.lines {
		product := products[line.ProductID]
		available := onHand[domain.StockKey{ProductID: line.ProductID, LocationID: plan.locationID}]
		if line.Quantity > available {
			return domain.Transaction{}, store.Invalid("items", "insufficient stock for %s: requested %d, available %d", product.Name, line.Quantity, available)
		}

		item := computeLine(product, line.Quantity, plan.taxRate)
		items = append(items, item)
		itemsCount += line.Quantity
		lineSubtotals = append(lineSubtotals, item.LineSubtotal)
		lineTaxes = append(lineTaxes, item.TaxAmount)
	}

	subtotal := money.Sum(lineSubtotals...)
	taxTotal := money.Sum(lineTaxes...)
	discountTotal := computeDiscount(subtotal, plan.discountType, plan.discountValue)
	grossTotal := money.Round(subtotal.Add(taxTotal).Sub(discountTotal))

	var customer *domain.Customer
	if plan.customerID != "" {
		customer, err = tx.GetCustomer(ctx, plan.customerID)
		if err != nil {
			return domain.Transaction{}, err
		}
	}
	adj := loyalty.Preview(s.settings.Loyalty, customer, grossTotal, plan.redeemPoints)
	total := adj.NetTotal

	if plan.amountPaid.LessThan(total) {
		return domain.Transaction{}, store.Invalid("amount_paid", "amount_paid %s is less than total %s", plan.amountPaid.StringFixed(2), total.StringFixed(2))
	}

	for _, key := range store.SortKeys(keys) {
		line := quantityFor(plan.lines, key.ProductID)
		if err := tx.SetStockLevel(ctx, key, onHand[key]-line); err != nil {
			return domain.Transaction{}, err
		}
	}
	sortedIDs := append([]string(nil), ids...)
	sort.Strings(sortedIDs)
	for _, id := range sortedIDs {
		if err := tx.AdjustProductStock(ctx, id, -quantityFor(plan.lines, id)); err != nil {
			return domain.Transaction{}, err
		}
	}

	now := s.now()
	created := domain.Transaction{
		ID:                xid.New("tx"),
		Number:            xid.TransactionNumber(now),
		LocationID:        plan.locationID,
		PaymentMethod:     plan.paymentMethod,
		ItemsCount:        itemsCount,
		PPNRate:           plan.taxRate,
		Subtotal:          subtotal,
		TaxTotal:          taxTotal,
		DiscountType:      plan.discountType,
		DiscountValue:     plan.discountValue,
		DiscountTotal:     discountTotal,
		LoyaltyRedemption: adj.RedemptionValue,
		Total:             total,
		AmountPaid:        plan.amountPaid,
		ChangeDue:         money.Round(plan.amountPaid.Sub(total)),
		CustomerID:        plan.customerID,
		UserID:            plan.userID,
		PointsRedeemed:    adj.PointsRedeemed,
		PointsEarned:      adj.PointsEarned,
		CreatedAt:         now,
		Items:             items,
	}
	if err := tx.InsertTransaction(ctx, created); err != nil {
		return domain.Transaction{}, err
	}

	if _, err := loyalty.Finalize(ctx, tx, plan.customerID, created.ID, adj, now); err != nil {
		return domain.Transaction{}, err
	}
	return created, nil
}

// computeLine rounds after every step so stored values can be recomputed
// exactly from unit price, quantity and rate.
func computeLine(product domain.Product, quantity int, rate decimal.Decimal) domain.TransactionItem {
	lineSubtotal := money.Times(product.Price, quantity)
	lineTax := money.ApplyRate(lineSubtotal, rate)
	return domain.TransactionItem{
		ProductID:    product.ID,
		Barcode:      product.Barcode,
		Name:         product.Name,
		Quantity:     quantity,
		UnitPrice:    product.Price,
		UnitCost:     product.CostPrice,
		TaxRate:      rate,
		LineSubtotal: lineSubtotal,
		TaxAmount:    lineTax,
		LineTotal:    money.Round(lineSubtotal.Add(lineTax)),
		LineCost:     money.Times(product.CostPrice, quantity),
	}
}

func computeDiscount(subtotal decimal.Decimal, discountType string, value *decimal.Decimal) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	switch discountType {
	case domain.DiscountPercentage:
		return money.Min(money.ApplyRate(subtotal, *value), subtotal)
	case domain.DiscountValue:
		return money.Min(money.Round(*value), subtotal)
	default:
		return decimal.Zero
	}
}

// mergeCartLines folds repeated products into one line, keeping first-seen order.
func mergeCartLines(items []domain.CartLine) ([]domain.CartLine, error) {
	index := make(map[string]int, len(items))
	merged := make([]domain.CartLine, 0, len(items))
	for i, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, store.Invalid("items", "item %d is missing product_id", i)
		}
		if item.Quantity < 1 {
			return nil, store.Invalid("items", "quantity for %s must be at least 1", productID)
		}
		if pos, ok := index[productID]; ok {
			total, ok := addQuantity(merged[pos].Quantity, item.Quantity)
			if !ok {
				return nil, store.Invalid("items", "combined quantity for %s is too large", productID)
			}
			merged[pos].Quantity = total
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, domain.CartLine{ProductID: productID, Quantity: item.Quantity})
	}
	return merged, nil
}

// addQuantity sums two positive quantities, reporting false on overflow.
func addQuantity(a, b int) (int, bool) {
	if b > math.MaxInt-a {
		return 0, false
	}
	return a + b, true
}

func quantityFor(lines []domain.CartLine, productID string) int {
	for _, line := range lines {
		if line.ProductID == productID {
			return line.Quantity
		}
	}
	return 0
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentBankTransfer, domain.PaymentEWallet, domain.PaymentOther:
		return true
	default:
		return false
	}
}
