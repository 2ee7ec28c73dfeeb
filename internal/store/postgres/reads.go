package postgres

import (
	"context"
	"database/sql"
	"time"

	"kasirledger/internal/domain"
	"kasirledger/internal/store"
)

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, wrapErr("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, wrapErr("list products", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list products", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr("get", err, "product", id)
	}
	return &p, nil
}

func (s *Store) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	return getLocation(ctx, s.db, id)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr("get", err, "customer", id)
	}
	return &c, nil
}

func (s *Store) ListStockLevels(ctx context.Context, productID string) ([]domain.StockLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, location_id, quantity, updated_at
		FROM stock_levels
		WHERE product_id = $1
		ORDER BY location_id
	`, productID)
	if err != nil {
		return nil, wrapErr("list stock levels", err)
	}
	defer rows.Close()

	levels := make([]domain.StockLevel, 0, 4)
	for rows.Next() {
		var level domain.StockLevel
		if err := rows.Scan(&level.ProductID, &level.LocationID, &level.Quantity, &level.UpdatedAt); err != nil {
			return nil, wrapErr("list stock levels", err)
		}
		level.UpdatedAt = level.UpdatedAt.UTC()
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list stock levels", err)
	}
	return levels, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr("find", err, "transaction", id)
	}
	byID := map[string]*domain.Transaction{tx.ID: &tx}
	if err := s.loadItems(ctx, byID); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at, id
	`, from, to)
	if err != nil {
		return nil, wrapErr("list transactions", err)
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 256)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapErr("list transactions", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list transactions", err)
	}

	byID := make(map[string]*domain.Transaction, len(txs))
	for i := range txs {
		byID[txs[i].ID] = &txs[i]
	}
	if err := s.loadItems(ctx, byID); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *Store) loadItems(ctx context.Context, byID map[string]*domain.Transaction) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, product_id, barcode, name, quantity, unit_price, unit_cost, tax_rate,
			line_subtotal, tax_amount, line_total, line_cost
		FROM transaction_items
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, line_no
	`, ids)
	if err != nil {
		return wrapErr("load transaction items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			transactionID string
			item          domain.TransactionItem
		)
		if err := rows.Scan(&transactionID, &item.ProductID, &item.Barcode, &item.Name, &item.Quantity, &item.UnitPrice, &item.UnitCost,
			&item.TaxRate, &item.LineSubtotal, &item.TaxAmount, &item.LineTotal, &item.LineCost); err != nil {
			return wrapErr("load transaction items", err)
		}
		if tx, ok := byID[transactionID]; ok {
			tx.Items = append(tx.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return wrapErr("load transaction items", err)
	}
	return nil
}

func (s *Store) ListLoyaltyEntries(ctx context.Context, customerID string) ([]domain.CustomerLoyaltyTransaction, error) {
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, transaction_id, type, points_change, points_balance, amount, created_at
		FROM customer_loyalty_transactions
		WHERE customer_id = $1
		ORDER BY seq
	`, customerID)
	if err != nil {
		return nil, wrapErr("list loyalty entries", err)
	}
	defer rows.Close()

	entries := make([]domain.CustomerLoyaltyTransaction, 0, 16)
	for rows.Next() {
		var (
			entry         domain.CustomerLoyaltyTransaction
			transactionID sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.CustomerID, &transactionID, &entry.Type, &entry.PointsChange, &entry.PointsBalance, &entry.Amount, &entry.CreatedAt); err != nil {
			return nil, wrapErr("list loyalty entries", err)
		}
		entry.TransactionID = transactionID.String
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list loyalty entries", err)
	}
	return entries, nil
}

func (s *Store) ListTransfers(ctx context.Context, productID string, limit int) ([]domain.InventoryTransfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, source_location_id, destination_location_id, quantity, user_id, created_at
		FROM inventory_transfers
		WHERE ($1 = '' OR product_id = $1)
		ORDER BY seq DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, wrapErr("list transfers", err)
	}
	defer rows.Close()

	transfers := make([]domain.InventoryTransfer, 0, limit)
	for rows.Next() {
		var (
			transfer domain.InventoryTransfer
			userID   sql.NullString
		)
		if err := rows.Scan(&transfer.ID, &transfer.ProductID, &transfer.SourceLocationID, &transfer.DestinationLocationID, &transfer.Quantity, &userID, &transfer.CreatedAt); err != nil {
			return nil, wrapErr("list transfers", err)
		}
		transfer.UserID = userID.String
		transfer.CreatedAt = transfer.CreatedAt.UTC()
		transfers = append(transfers, transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list transfers", err)
	}
	return transfers, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.ID == "" || supplier.Name == "" {
		return nil, store.Invalid("name", "supplier name is required")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at)
		VALUES ($1, $2, $3, $4)
	`, supplier.ID, supplier.Name, nullIfEmpty(supplier.Phone), supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.Invalid("id", "supplier %s already exists", supplier.ID)
		}
		return nil, wrapErr("create supplier", err)
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, phone, created_at FROM suppliers ORDER BY lower(name), id`)
	if err != nil {
		return nil, wrapErr("list suppliers", err)
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var (
			supplier domain.Supplier
			phone    sql.NullString
		)
		if err := rows.Scan(&supplier.ID, &supplier.Name, &phone, &supplier.CreatedAt); err != nil {
			return nil, wrapErr("list suppliers", err)
		}
		supplier.Phone = phone.String
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list suppliers", err)
	}
	return suppliers, nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, wrapErr("begin", err)
	}
	defer func() { _ = pgTx.Rollback() }()

	var exists bool
	if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1)`, po.SupplierID).Scan(&exists); err != nil {
		return nil, wrapErr("create purchase order", err)
	}
	if !exists {
		return nil, store.NotFound("supplier", po.SupplierID)
	}
	if _, err := getLocation(ctx, pgTx, po.LocationID); err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, supplier_id, location_id, status, expected_date, received_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, po.ID, po.SupplierID, po.LocationID, po.Status, nullDate(po.ExpectedDate), nullTime(po.ReceivedAt), po.CreatedAt)
	if err != nil {
		return nil, wrapErr("create purchase order", err)
	}

	for _, item := range po.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (purchase_order_id, product_id, quantity_ordered, quantity_received, unit_cost)
			VALUES ($1, $2, $3, $4, $5)
		`, po.ID, item.ProductID, item.QuantityOrdered, item.QuantityReceived, item.UnitCost)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, store.NotFound("product", item.ProductID)
			}
			return nil, wrapErr("create purchase order item", err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, wrapErr("commit", err)
	}
	return &po, nil
}

func (s *Store) GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(s.db.QueryRowContext(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr("get", err, "purchase order", id)
	}
	if err := loadPurchaseOrderItems(ctx, s.db, map[string]*domain.PurchaseOrder{po.ID: &po}); err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, from time.Time, to time.Time) ([]domain.PurchaseOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseOrderColumns+`
		FROM purchase_orders
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC, id
	`, from, to)
	if err != nil {
		return nil, wrapErr("list purchase orders", err)
	}
	defer rows.Close()

	orders := make([]domain.PurchaseOrder, 0, 32)
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, wrapErr("list purchase orders", err)
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list purchase orders", err)
	}

	byID := make(map[string]*domain.PurchaseOrder, len(orders))
	for i := range orders {
		byID[orders[i].ID] = &orders[i]
	}
	if err := loadPurchaseOrderItems(ctx, s.db, byID); err != nil {
		return nil, err
	}
	return orders, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getLocation(ctx context.Context, q querier, id string) (*domain.Location, error) {
	var loc domain.Location
	err := q.QueryRowContext(ctx, `SELECT id, name FROM locations WHERE id = $1`, id).Scan(&loc.ID, &loc.Name)
	if err != nil {
		return nil, notFoundOr("get", err, "location", id)
	}
	return &loc, nil
}

func loadPurchaseOrderItems(ctx context.Context, q querier, byID map[string]*domain.PurchaseOrder) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT purchase_order_id, product_id, quantity_ordered, quantity_received, unit_cost
		FROM purchase_order_items
		WHERE purchase_order_id = ANY($1)
		ORDER BY purchase_order_id, product_id
	`, ids)
	if err != nil {
		return wrapErr("load purchase order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			purchaseOrderID string
			item            domain.PurchaseOrderItem
		)
		if err := rows.Scan(&purchaseOrderID, &item.ProductID, &item.QuantityOrdered, &item.QuantityReceived, &item.UnitCost); err != nil {
			return wrapErr("load purchase order items", err)
		}
		if po, ok := byID[purchaseOrderID]; ok {
			po.Items = append(po.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return wrapErr("load purchase order items", err)
	}
	return nil
}
