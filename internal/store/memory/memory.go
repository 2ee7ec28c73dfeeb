package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kasirledger/internal/domain"
	"kasirledger/internal/store"
)

const DefaultLocationID = "main-store"

// Store keeps everything in maps behind one RWMutex. A unit of work holds the
// write lock from start to finish, which makes every ledger row exclusively
// locked for the whole unit; an undo log restores state when the unit fails.
type Store struct {
	mu                 sync.RWMutex
	products           map[string]domain.Product
	locations          map[string]domain.Location
	stockLevels        map[domain.StockKey]domain.StockLevel
	customers          map[string]domain.Customer
	loyaltyEntries     []domain.CustomerLoyaltyTransaction
	transactionsByID   map[string]*domain.Transaction
	transactionNumbers map[string]string
	transfers          []domain.InventoryTransfer
	suppliersByID      map[string]domain.Supplier
	purchaseOrdersByID map[string]domain.PurchaseOrder
}

func New() *Store {
	return &Store{
		products:           make(map[string]domain.Product),
		locations:          make(map[string]domain.Location),
		stockLevels:        make(map[domain.StockKey]domain.StockLevel),
		customers:          make(map[string]domain.Customer),
		loyaltyEntries:     make([]domain.CustomerLoyaltyTransaction, 0, 64),
		transactionsByID:   make(map[string]*domain.Transaction),
		transactionNumbers: make(map[string]string),
		transfers:          make([]domain.InventoryTransfer, 0, 32),
		suppliersByID:      make(map[string]domain.Supplier),
		purchaseOrdersByID: make(map[string]domain.PurchaseOrder),
	}
}

// NewSeeded returns a store with a demo catalogue stocked at two locations.
func NewSeeded() *Store {
	s := New()
	s.PutLocation(domain.Location{ID: DefaultLocationID, Name: "Toko Utama"})
	s.PutLocation(domain.Location{ID: "warehouse", Name: "Gudang"})

	reorder := func(n int) *int { return &n }
	products := []domain.Product{
		{ID: "prd-mie", Barcode: "8990001000011", Name: "Mie Goreng Instan", Price: decimal.RequireFromString("3500"), CostPrice: decimal.RequireFromString("2730")},
		{ID: "prd-telur", Barcode: "8990001000028", Name: "Telur 10 Butir", Price: decimal.RequireFromString("26500"), CostPrice: decimal.RequireFromString("23055"), ReorderPoint: reorder(20), ReorderQuantity: reorder(60)},
		{ID: "prd-susu", Barcode: "8990001000035", Name: "Susu UHT 1L", Price: decimal.RequireFromString("18900"), CostPrice: decimal.RequireFromString("13608")},
		{ID: "prd-roti", Barcode: "8990001000042", Name: "Roti Tawar", Price: decimal.RequireFromString("17800"), CostPrice: decimal.RequireFromString("12460")},
		{ID: "prd-kopi", Barcode: "8990001000059", Name: "Kopi Sachet", Price: decimal.RequireFromString("2600"), CostPrice: decimal.RequireFromString("1716")},
		{ID: "prd-gula", Barcode: "8990001000066", Name: "Gula 1kg", Price: decimal.RequireFromString("17400"), CostPrice: decimal.RequireFromString("15312"), ReorderPoint: reorder(25)},
		{ID: "prd-teh", Barcode: "8990001000073", Name: "Teh Celup", Price: decimal.RequireFromString("9800"), CostPrice: decimal.RequireFromString("7252")},
		{ID: "prd-air", Barcode: "8990001000080", Name: "Air Mineral 600ml", Price: decimal.RequireFromString("3900"), CostPrice: decimal.RequireFromString("3198")},
	}
	for _, p := range products {
		s.PutProduct(p)
		s.PutStockLevel(domain.StockKey{ProductID: p.ID, LocationID: DefaultLocationID}, 120)
		s.PutStockLevel(domain.StockKey{ProductID: p.ID, LocationID: "warehouse"}, 40)
	}

	s.PutCustomer(domain.Customer{ID: "cus-demo", Name: "Pelanggan Demo", LoyaltyNumber: "LOY-0001", LoyaltyPoints: 250})
	return s
}

// PutProduct inserts or replaces a product. Stock is recomputed from the ledger.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Stock = s.ledgerTotalLocked(p.ID)
	s.products[p.ID] = p
}

func (s *Store) PutLocation(loc domain.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[loc.ID] = loc
}

func (s *Store) PutCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.customers[c.ID] = c
}

// PutStockLevel sets a ledger row and keeps the product total equal to the
// sum of its rows.
func (s *Store) PutStockLevel(key domain.StockKey, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stockLevels[key] = domain.StockLevel{ProductID: key.ProductID, LocationID: key.LocationID, Quantity: quantity, UpdatedAt: time.Now().UTC()}
	if p, ok := s.products[key.ProductID]; ok {
		p.Stock = s.ledgerTotalLocked(key.ProductID)
		s.products[key.ProductID] = p
	}
}

// PutTransaction stores a committed transaction as-is; used to load history.
func (s *Store) PutTransaction(tx domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := cloneTransaction(tx)
	s.transactionsByID[tx.ID] = &copied
	s.transactionNumbers[tx.Number] = tx.ID
}

// PutPurchaseOrder stores a purchase order as-is; used to load history.
func (s *Store) PutPurchaseOrder(po domain.PurchaseOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchaseOrdersByID[po.ID] = clonePurchaseOrder(po)
}

func (s *Store) ledgerTotalLocked(productID string) int {
	total := 0
	for key, level := range s.stockLevels {
		if key.ProductID == productID {
			total += level.Quantity
		}
	}
	return total
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unit := &memTx{s: s}
	defer func() {
		if p := recover(); p != nil {
			unit.rollback()
			panic(p)
		}
	}()
	if err := fn(ctx, unit); err != nil {
		unit.rollback()
		return err
	}
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.NotFound("product", id)
	}
	return &p, nil
}

func (s *Store) GetLocation(_ context.Context, id string) (*domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.locations[id]
	if !ok {
		return nil, store.NotFound("location", id)
	}
	return &loc, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, store.NotFound("customer", id)
	}
	return &c, nil
}

func (s *Store) ListStockLevels(_ context.Context, productID string) ([]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := make([]domain.StockLevel, 0, 4)
	for key, level := range s.stockLevels {
		if key.ProductID == productID {
			levels = append(levels, level)
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].LocationID < levels[j].LocationID })
	return levels, nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.NotFound("transaction", id)
	}
	copied := cloneTransaction(*tx)
	return &copied, nil
}

func (s *Store) ListTransactions(_ context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.transactionsByID))
	for _, tx := range s.transactionsByID {
		if tx.CreatedAt.Before(from) || tx.CreatedAt.After(to) {
			continue
		}
		result = append(result, cloneTransaction(*tx))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListLoyaltyEntries(_ context.Context, customerID string) ([]domain.CustomerLoyaltyTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.customers[customerID]; !ok {
		return nil, store.NotFound("customer", customerID)
	}
	entries := make([]domain.CustomerLoyaltyTransaction, 0, 8)
	for _, entry := range s.loyaltyEntries {
		if entry.CustomerID == customerID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *Store) ListTransfers(_ context.Context, productID string, limit int) ([]domain.InventoryTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryTransfer, 0, 16)
	for i := len(s.transfers) - 1; i >= 0; i-- {
		transfer := s.transfers[i]
		if productID != "" && transfer.ProductID != productID {
			continue
		}
		result = append(result, transfer)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.ID) == "" || strings.TrimSpace(supplier.Name) == "" {
		return nil, store.Invalid("name", "supplier name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.suppliersByID[supplier.ID]; exists {
		return nil, store.Invalid("id", "supplier %s already exists", supplier.ID)
	}
	s.suppliersByID[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return suppliers, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suppliersByID[po.SupplierID]; !ok {
		return nil, store.NotFound("supplier", po.SupplierID)
	}
	if _, ok := s.locations[po.LocationID]; !ok {
		return nil, store.NotFound("location", po.LocationID)
	}
	for _, item := range po.Items {
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, store.NotFound("product", item.ProductID)
		}
	}

	s.purchaseOrdersByID[po.ID] = clonePurchaseOrder(po)
	created := clonePurchaseOrder(po)
	return &created, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, ok := s.purchaseOrdersByID[id]
	if !ok {
		return nil, store.NotFound("purchase order", id)
	}
	copied := clonePurchaseOrder(po)
	return &copied, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, from time.Time, to time.Time) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PurchaseOrder, 0, len(s.purchaseOrdersByID))
	for _, po := range s.purchaseOrdersByID {
		if po.CreatedAt.Before(from) || po.CreatedAt.After(to) {
			continue
		}
		result = append(result, clonePurchaseOrder(po))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// memTx runs with Store.mu held for writing.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (t *memTx) GetLocation(_ context.Context, id string) (*domain.Location, error) {
	loc, ok := t.s.locations[id]
	if !ok {
		return nil, store.NotFound("location", id)
	}
	return &loc, nil
}

func (t *memTx) LockStockLevels(_ context.Context, keys []domain.StockKey) (map[domain.StockKey]int, error) {
	result := make(map[domain.StockKey]int, len(keys))
	for _, key := range store.SortKeys(keys) {
		if level, ok := t.s.stockLevels[key]; ok {
			result[key] = level.Quantity
		}
	}
	return result, nil
}

func (t *memTx) EnsureStockLevel(_ context.Context, key domain.StockKey) error {
	if _, ok := t.s.stockLevels[key]; ok {
		return nil
	}
	t.s.stockLevels[key] = domain.StockLevel{ProductID: key.ProductID, LocationID: key.LocationID, UpdatedAt: time.Now().UTC()}
	t.undo = append(t.undo, func() { delete(t.s.stockLevels, key) })
	return nil
}

func (t *memTx) SetStockLevel(_ context.Context, key domain.StockKey, quantity int) error {
	prev, ok := t.s.stockLevels[key]
	if !ok {
		return store.NotFound("stock level", key.ProductID+"@"+key.LocationID)
	}
	if quantity < 0 {
		return store.Invalid("quantity", "stock level for %s at %s cannot go negative", key.ProductID, key.LocationID)
	}
	t.s.stockLevels[key] = domain.StockLevel{ProductID: key.ProductID, LocationID: key.LocationID, Quantity: quantity, UpdatedAt: time.Now().UTC()}
	t.undo = append(t.undo, func() { t.s.stockLevels[key] = prev })
	return nil
}

func (t *memTx) AdjustProductStock(_ context.Context, productID string, delta int) error {
	prev, ok := t.s.products[productID]
	if !ok {
		return store.NotFound("product", productID)
	}
	if prev.Stock+delta < 0 {
		return store.Invalid("stock", "stock for %s cannot go negative", prev.Name)
	}
	next := prev
	next.Stock += delta
	t.s.products[productID] = next
	t.undo = append(t.undo, func() { t.s.products[productID] = prev })
	return nil
}

func (t *memTx) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	c, ok := t.s.customers[id]
	if !ok {
		return nil, store.NotFound("customer", id)
	}
	return &c, nil
}

func (t *memTx) LockCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return t.GetCustomer(ctx, id)
}

func (t *memTx) SetCustomerPoints(_ context.Context, id string, points int64) error {
	prev, ok := t.s.customers[id]
	if !ok {
		return store.NotFound("customer", id)
	}
	next := prev
	next.LoyaltyPoints = points
	t.s.customers[id] = next
	t.undo = append(t.undo, func() { t.s.customers[id] = prev })
	return nil
}

func (t *memTx) InsertLoyaltyEntry(_ context.Context, entry domain.CustomerLoyaltyTransaction) error {
	n := len(t.s.loyaltyEntries)
	t.s.loyaltyEntries = append(t.s.loyaltyEntries, entry)
	t.undo = append(t.undo, func() { t.s.loyaltyEntries = t.s.loyaltyEntries[:n] })
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tx domain.Transaction) error {
	if _, exists := t.s.transactionNumbers[tx.Number]; exists {
		return &store.StorageError{Op: "insert transaction", Err: store.ErrDuplicateNumber}
	}
	if _, exists := t.s.transactionsByID[tx.ID]; exists {
		return &store.StorageError{Op: "insert transaction", Err: store.ErrDuplicateNumber}
	}
	copied := cloneTransaction(tx)
	t.s.transactionsByID[tx.ID] = &copied
	t.s.transactionNumbers[tx.Number] = tx.ID
	t.undo = append(t.undo, func() {
		delete(t.s.transactionsByID, tx.ID)
		delete(t.s.transactionNumbers, tx.Number)
	})
	return nil
}

func (t *memTx) InsertTransfer(_ context.Context, transfer domain.InventoryTransfer) error {
	n := len(t.s.transfers)
	t.s.transfers = append(t.s.transfers, transfer)
	t.undo = append(t.undo, func() { t.s.transfers = t.s.transfers[:n] })
	return nil
}

func (t *memTx) LockPurchaseOrder(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	po, ok := t.s.purchaseOrdersByID[id]
	if !ok {
		return nil, store.NotFound("purchase order", id)
	}
	copied := clonePurchaseOrder(po)
	return &copied, nil
}

func (t *memTx) UpdatePurchaseOrderReceipt(_ context.Context, po domain.PurchaseOrder) error {
	prev, ok := t.s.purchaseOrdersByID[po.ID]
	if !ok {
		return store.NotFound("purchase order", po.ID)
	}
	t.s.purchaseOrdersByID[po.ID] = clonePurchaseOrder(po)
	t.undo = append(t.undo, func() { t.s.purchaseOrdersByID[po.ID] = prev })
	return nil
}

func cloneTransaction(tx domain.Transaction) domain.Transaction {
	copied := tx
	copied.Items = slices.Clone(tx.Items)
	return copied
}

func clonePurchaseOrder(po domain.PurchaseOrder) domain.PurchaseOrder {
	copied := po
	copied.Items = slices.Clone(po.Items)
	return copied
}
