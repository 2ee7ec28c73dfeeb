// Package dashboard computes read-only business metrics over committed
// transactions, the product catalogue and purchase orders.
package dashboard

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasirledger/internal/domain"
	"kasirledger/internal/money"
)

const (
	DefaultDays = 30
	MaxDays     = 365

	topN = 5

	onTimeWeight      = 0.6
	fulfillmentWeight = 0.4
)

type Config struct {
	// LowStockThreshold applies to products without their own reorder point.
	LowStockThreshold int
	CacheTTL          time.Duration
}

// Input is everything Aggregate needs. Transactions and purchase orders are
// expected to fall inside [From, To] already.
type Input struct {
	From           time.Time
	To             time.Time
	Days           int
	Transactions   []domain.Transaction
	Products       []domain.Product
	PurchaseOrders []domain.PurchaseOrder
	Suppliers      []domain.Supplier
}

// NormalizeDays clamps a requested window to 1..MaxDays, defaulting to DefaultDays.
func NormalizeDays(days int) int {
	if days < 1 {
		return DefaultDays
	}
	if days > MaxDays {
		return MaxDays
	}
	return days
}

// Window returns the closed range covering days calendar days ending at now.
func Window(now time.Time, days int) (time.Time, time.Time) {
	now = now.UTC()
	start := startOfDay(now).AddDate(0, 0, -(NormalizeDays(days) - 1))
	return start, now
}

func Aggregate(in Input, cfg Config) domain.MetricsReport {
	report := domain.MetricsReport{
		From:      in.From,
		To:        in.To,
		Days:      in.Days,
		Revenue:   money.Zero,
		Cost:      money.Zero,
		Profit:    money.Zero,
		LowStock:  lowStock(in.Products, cfg.LowStockThreshold),
		Suppliers: supplierPerformance(in.PurchaseOrders, in.Suppliers, in.To),
	}

	daily, dayIndex := emptyDays(in.From, in.To)

	var (
		itemsSold    int
		totalValue   = money.Zero
		subtotalSum  = money.Zero
		taxCollected = money.Zero
		taxableSales = money.Zero
	)
	for _, tx := range in.Transactions {
		revenue := money.Round(tx.Subtotal.Sub(tx.DiscountTotal))
		cost := money.Zero
		for _, item := range tx.Items {
			cost = cost.Add(item.LineCost)
			if item.TaxRate.IsPositive() {
				taxableSales = taxableSales.Add(item.LineSubtotal)
			}
		}
		cost = money.Round(cost)
		profit := money.Round(revenue.Sub(cost))

		report.Revenue = report.Revenue.Add(revenue)
		report.Cost = report.Cost.Add(cost)
		report.TransactionCount++
		itemsSold += tx.ItemsCount
		totalValue = totalValue.Add(tx.Total)
		subtotalSum = subtotalSum.Add(tx.Subtotal)
		taxCollected = taxCollected.Add(tx.TaxTotal)

		if i, ok := dayIndex[tx.CreatedAt.UTC().Format(time.DateOnly)]; ok {
			daily[i].Revenue = daily[i].Revenue.Add(revenue)
			daily[i].Profit = daily[i].Profit.Add(profit)
			daily[i].Transactions++
		}
	}

	report.Revenue = money.Round(report.Revenue)
	report.Cost = money.Round(report.Cost)
	report.Profit = money.Round(report.Revenue.Sub(report.Cost))
	report.MarginPercent = money.Percent(report.Profit, report.Revenue)
	report.AverageBasketSize = average(decimal.NewFromInt(int64(itemsSold)), report.TransactionCount)
	report.AverageTransactionValue = average(totalValue, report.TransactionCount)
	report.Daily = daily
	report.Tax = domain.TaxSummary{
		TaxableSales:  money.Round(taxableSales),
		TaxCollected:  money.Round(taxCollected),
		EffectiveRate: money.Percent(taxCollected, subtotalSum),
	}
	return report
}

func average(sum decimal.Decimal, count int) decimal.Decimal {
	if count == 0 {
		return money.Zero
	}
	return sum.DivRound(decimal.NewFromInt(int64(count)), 2)
}

func emptyDays(from, to time.Time) ([]domain.DailyMetric, map[string]int) {
	daily := make([]domain.DailyMetric, 0, 31)
	index := make(map[string]int, 31)
	if to.Before(from) {
		return daily, index
	}
	for day := startOfDay(from.UTC()); !day.After(to.UTC()); day = day.AddDate(0, 0, 1) {
		key := day.Format(time.DateOnly)
		index[key] = len(daily)
		daily = append(daily, domain.DailyMetric{Date: key, Revenue: money.Zero, Profit: money.Zero})
	}
	return daily, index
}

func lowStock(products []domain.Product, threshold int) []domain.LowStockProduct {
	result := make([]domain.LowStockProduct, 0, 8)
	for _, product := range products {
		limit := threshold
		if product.ReorderPoint != nil {
			limit = *product.ReorderPoint
		}
		if product.Stock > limit {
			continue
		}
		result = append(result, domain.LowStockProduct{
			ProductID:       product.ID,
			Name:            product.Name,
			Stock:           product.Stock,
			ReorderPoint:    limit,
			ReorderQuantity: product.ReorderQuantity,
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Stock != result[j].Stock {
			return result[i].Stock < result[j].Stock
		}
		return result[i].Name < result[j].Name
	})
	return result
}

type supplierTally struct {
	completed int
	onTime    int
	ordered   int
	received  int
}

func supplierPerformance(orders []domain.PurchaseOrder, suppliers []domain.Supplier, now time.Time) domain.SupplierPerformance {
	names := make(map[string]string, len(suppliers))
	for _, supplier := range suppliers {
		names[supplier.ID] = supplier.Name
	}

	tallies := make(map[string]*supplierTally)
	late := make([]domain.LateDelivery, 0, 8)
	outstanding := make([]domain.OutstandingOrder, 0, 8)
	today := startOfDay(now.UTC())

	for _, po := range orders {
		if po.Status == domain.POStatusCancelled {
			continue
		}
		tally, ok := tallies[po.SupplierID]
		if !ok {
			tally = &supplierTally{}
			tallies[po.SupplierID] = tally
		}
		tally.ordered += po.TotalOrdered()
		tally.received += po.TotalReceived()

		if po.Status == domain.POStatusReceived && po.ReceivedAt != nil {
			tally.completed++
			if daysLate(po.ExpectedDate, startOfDay(po.ReceivedAt.UTC())) == 0 {
				tally.onTime++
			}
		}

		if po.ExpectedDate != nil {
			reference := today
			if po.Status == domain.POStatusReceived && po.ReceivedAt != nil {
				reference = startOfDay(po.ReceivedAt.UTC())
			}
			if n := daysLate(po.ExpectedDate, reference); n > 0 {
				late = append(late, domain.LateDelivery{
					PurchaseOrderID: po.ID,
					SupplierID:      po.SupplierID,
					SupplierName:    names[po.SupplierID],
					ExpectedDate:    *po.ExpectedDate,
					ReceivedAt:      po.ReceivedAt,
					DaysLate:        n,
				})
			}
		}

		if left := po.Outstanding(); left > 0 && (po.Status == domain.POStatusOrdered || po.Status == domain.POStatusPartial) {
			outstanding = append(outstanding, domain.OutstandingOrder{
				PurchaseOrderID:     po.ID,
				SupplierID:          po.SupplierID,
				SupplierName:        names[po.SupplierID],
				Status:              po.Status,
				OutstandingQuantity: left,
				ExpectedDate:        po.ExpectedDate,
			})
		}
	}

	scores := make([]domain.SupplierScore, 0, len(tallies))
	for supplierID, tally := range tallies {
		onTimeRate := ratio(tally.onTime, tally.completed)
		fulfillmentRate := ratio(tally.received, tally.ordered)
		scores = append(scores, domain.SupplierScore{
			SupplierID:      supplierID,
			SupplierName:    names[supplierID],
			CompletedOrders: tally.completed,
			OnTimeOrders:    tally.onTime,
			TotalOrdered:    tally.ordered,
			TotalReceived:   tally.received,
			OnTimeRate:      onTimeRate,
			FulfillmentRate: fulfillmentRate,
			Score:           round4(onTimeRate*onTimeWeight + fulfillmentRate*fulfillmentWeight),
		})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return strings.Compare(scores[i].SupplierID, scores[j].SupplierID) < 0
	})
	sort.SliceStable(late, func(i, j int) bool {
		if late[i].DaysLate != late[j].DaysLate {
			return late[i].DaysLate > late[j].DaysLate
		}
		return late[i].PurchaseOrderID < late[j].PurchaseOrderID
	})
	sort.SliceStable(outstanding, func(i, j int) bool {
		if outstanding[i].OutstandingQuantity != outstanding[j].OutstandingQuantity {
			return outstanding[i].OutstandingQuantity > outstanding[j].OutstandingQuantity
		}
		return outstanding[i].PurchaseOrderID < outstanding[j].PurchaseOrderID
	})

	return domain.SupplierPerformance{
		TopSuppliers:      head(scores, topN),
		LateDeliveries:    head(late, topN),
		OutstandingOrders: head(outstanding, topN),
	}
}

// daysLate counts whole days from expected to reference. No expected date is never late.
func daysLate(expected *time.Time, reference time.Time) int {
	if expected == nil {
		return 0
	}
	due := startOfDay(expected.UTC())
	if !reference.After(due) {
		return 0
	}
	return int(reference.Sub(due).Hours() / 24)
}

func ratio(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round4(float64(part) / float64(whole))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
