package store

import (
	"context"
	"sort"
	"time"

	"kasirledger/internal/domain"
)

// Repository is the transactional store shared by settlement, transfers,
// adjustments and reporting. Plain methods read committed state; every
// ledger mutation runs inside WithinTx.
type Repository interface {
	// WithinTx runs fn as one atomic unit. Any error from fn rolls back all
	// of its writes and is returned unchanged.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetLocation(ctx context.Context, id string) (*domain.Location, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListStockLevels(ctx context.Context, productID string) ([]domain.StockLevel, error)

	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error)
	ListLoyaltyEntries(ctx context.Context, customerID string) ([]domain.CustomerLoyaltyTransaction, error)
	ListTransfers(ctx context.Context, productID string, limit int) ([]domain.InventoryTransfer, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error)
	// ListPurchaseOrders returns orders created in [from, to].
	ListPurchaseOrders(ctx context.Context, from time.Time, to time.Time) ([]domain.PurchaseOrder, error)
}

// Tx is the handle of one atomic unit.
//
// Lock order across all units: stock level rows ascending by StockKey, then
// product rows ascending by id, then the customer row. Purchase order rows
// are locked first, but only by receiving, which never touches a customer.
type Tx interface {
	// GetProducts returns the requested products keyed by id; unknown ids are absent.
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	GetLocation(ctx context.Context, id string) (*domain.Location, error)

	// LockStockLevels takes an exclusive lock on every existing row in keys
	// and returns their quantities. Absent rows are absent from the result.
	LockStockLevels(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int, error)
	// EnsureStockLevel inserts a zero row for key when none exists.
	EnsureStockLevel(ctx context.Context, key domain.StockKey) error
	SetStockLevel(ctx context.Context, key domain.StockKey, quantity int) error
	// AdjustProductStock shifts the denormalized product total by delta.
	AdjustProductStock(ctx context.Context, productID string, delta int) error

	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	LockCustomer(ctx context.Context, id string) (*domain.Customer, error)
	SetCustomerPoints(ctx context.Context, id string, points int64) error
	InsertLoyaltyEntry(ctx context.Context, entry domain.CustomerLoyaltyTransaction) error

	// InsertTransaction writes the transaction with its items. A number
	// collision fails with a non-retryable StorageError wrapping ErrDuplicateNumber.
	InsertTransaction(ctx context.Context, tx domain.Transaction) error
	InsertTransfer(ctx context.Context, transfer domain.InventoryTransfer) error

	LockPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error)
	UpdatePurchaseOrderReceipt(ctx context.Context, po domain.PurchaseOrder) error
}

// SortKeys returns a sorted, de-duplicated copy of keys.
func SortKeys(keys []domain.StockKey) []domain.StockKey {
	seen := make(map[domain.StockKey]struct{}, len(keys))
	sorted := make([]domain.StockKey, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		sorted = append(sorted, key)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	return sorted
}
