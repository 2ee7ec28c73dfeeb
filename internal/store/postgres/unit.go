package postgres

import (
	"context"
	"database/sql"

	"kasirledger/internal/domain"
	"kasirledger/internal/store"
)

// unit implements store.Tx over one database transaction.
type unit struct {
	tx *sql.Tx
}

func (u *unit) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}
	rows, err := u.tx.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, wrapErr("get products", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, wrapErr("get products", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("get products", err)
	}
	return products, nil
}

func (u *unit) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	return getLocation(ctx, u.tx, id)
}

// LockStockLevels locks rows in (product, location) byte order so that every
// unit acquires them in the same sequence.
func (u *unit) LockStockLevels(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int, error) {
	keys = store.SortKeys(keys)
	levels := make(map[domain.StockKey]int, len(keys))
	if len(keys) == 0 {
		return levels, nil
	}
	productIDs := make([]string, len(keys))
	locationIDs := make([]string, len(keys))
	for i, key := range keys {
		productIDs[i] = key.ProductID
		locationIDs[i] = key.LocationID
	}

	rows, err := u.tx.QueryContext(ctx, `
		SELECT sl.product_id, sl.location_id, sl.quantity
		FROM stock_levels sl
		JOIN unnest($1::text[], $2::text[]) AS k (product_id, location_id)
			ON sl.product_id = k.product_id AND sl.location_id = k.location_id
		ORDER BY sl.product_id COLLATE "C", sl.location_id COLLATE "C"
		FOR UPDATE OF sl
	`, productIDs, locationIDs)
	if err != nil {
		return nil, wrapErr("lock stock levels", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key domain.StockKey
			qty int
		)
		if err := rows.Scan(&key.ProductID, &key.LocationID, &qty); err != nil {
			return nil, wrapErr("lock stock levels", err)
		}
		levels[key] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("lock stock levels", err)
	}
	return levels, nil
}

func (u *unit) EnsureStockLevel(ctx context.Context, key domain.StockKey) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO stock_levels (product_id, location_id, quantity, updated_at)
		VALUES ($1, $2, 0, now())
		ON CONFLICT (product_id, location_id) DO NOTHING
	`, key.ProductID, key.LocationID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.NotFound("stock level", key.ProductID+"@"+key.LocationID)
		}
		return wrapErr("ensure stock level", err)
	}
	return nil
}

func (u *unit) SetStockLevel(ctx context.Context, key domain.StockKey, quantity int) error {
	if quantity < 0 {
		return store.Invalid("quantity", "stock for %s at %s cannot go negative", key.ProductID, key.LocationID)
	}
	res, err := u.tx.ExecContext(ctx, `
		UPDATE stock_levels
		SET quantity = $3, updated_at = now()
		WHERE product_id = $1 AND location_id = $2
	`, key.ProductID, key.LocationID, quantity)
	if err != nil {
		return wrapErr("set stock level", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("set stock level", err)
	}
	if affected == 0 {
		return store.NotFound("stock level", key.ProductID+"@"+key.LocationID)
	}
	return nil
}

func (u *unit) AdjustProductStock(ctx context.Context, productID string, delta int) error {
	var stock int
	err := u.tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
		RETURNING stock
	`, productID, delta).Scan(&stock)
	if err != nil {
		if isCheckViolation(err) {
			return store.Invalid("stock", "stock for %s cannot go negative", productID)
		}
		return notFoundOr("adjust stock", err, "product", productID)
	}
	return nil
}

func (u *unit) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(u.tx.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr("get", err, "customer", id)
	}
	return &c, nil
}

func (u *unit) LockCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(u.tx.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFoundOr("lock", err, "customer", id)
	}
	return &c, nil
}

func (u *unit) SetCustomerPoints(ctx context.Context, id string, points int64) error {
	res, err := u.tx.ExecContext(ctx, `UPDATE customers SET loyalty_points = $2 WHERE id = $1`, id, points)
	if err != nil {
		return wrapErr("set customer points", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("set customer points", err)
	}
	if affected == 0 {
		return store.NotFound("customer", id)
	}
	return nil
}

func (u *unit) InsertLoyaltyEntry(ctx context.Context, entry domain.CustomerLoyaltyTransaction) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO customer_loyalty_transactions (id, customer_id, transaction_id, type, points_change, points_balance, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.CustomerID, nullIfEmpty(entry.TransactionID), entry.Type, entry.PointsChange, entry.PointsBalance, entry.Amount, entry.CreatedAt)
	return wrapErr("insert loyalty entry", err)
}

func (u *unit) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, number, location_id, payment_method, items_count, ppn_rate, subtotal, tax_total,
			discount_type, discount_value, discount_total, loyalty_redemption, total, amount_paid, change_due,
			customer_id, user_id, points_redeemed, points_earned, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		tx.ID, tx.Number, tx.LocationID, tx.PaymentMethod, tx.ItemsCount, tx.PPNRate, tx.Subtotal, tx.TaxTotal,
		nullIfEmpty(tx.DiscountType), nullDecimal(tx.DiscountValue), tx.DiscountTotal, tx.LoyaltyRedemption, tx.Total, tx.AmountPaid, tx.ChangeDue,
		nullIfEmpty(tx.CustomerID), nullIfEmpty(tx.UserID), tx.PointsRedeemed, tx.PointsEarned, tx.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &store.StorageError{Op: "insert transaction", Err: store.ErrDuplicateNumber}
		}
		return wrapErr("insert transaction", err)
	}

	for i, item := range tx.Items {
		_, err := u.tx.ExecContext(ctx, `
			INSERT INTO transaction_items (
				transaction_id, line_no, product_id, barcode, name, quantity, unit_price, unit_cost, tax_rate,
				line_subtotal, tax_amount, line_total, line_cost
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, tx.ID, i+1, item.ProductID, item.Barcode, item.Name, item.Quantity, item.UnitPrice, item.UnitCost, item.TaxRate,
			item.LineSubtotal, item.TaxAmount, item.LineTotal, item.LineCost)
		if err != nil {
			return wrapErr("insert transaction item", err)
		}
	}
	return nil
}

func (u *unit) InsertTransfer(ctx context.Context, transfer domain.InventoryTransfer) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO inventory_transfers (id, product_id, source_location_id, destination_location_id, quantity, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, transfer.ID, transfer.ProductID, transfer.SourceLocationID, transfer.DestinationLocationID, transfer.Quantity, nullIfEmpty(transfer.UserID), transfer.CreatedAt)
	return wrapErr("insert transfer", err)
}

func (u *unit) LockPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(u.tx.QueryRowContext(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFoundOr("lock", err, "purchase order", id)
	}
	if err := loadPurchaseOrderItems(ctx, u.tx, map[string]*domain.PurchaseOrder{po.ID: &po}); err != nil {
		return nil, err
	}
	return &po, nil
}

func (u *unit) UpdatePurchaseOrderReceipt(ctx context.Context, po domain.PurchaseOrder) error {
	res, err := u.tx.ExecContext(ctx, `
		UPDATE purchase_orders SET status = $2, received_at = $3 WHERE id = $1
	`, po.ID, po.Status, nullTime(po.ReceivedAt))
	if err != nil {
		return wrapErr("update purchase order", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("update purchase order", err)
	}
	if affected == 0 {
		return store.NotFound("purchase order", po.ID)
	}

	for _, item := range po.Items {
		if _, err := u.tx.ExecContext(ctx, `
			UPDATE purchase_order_items
			SET quantity_received = $3
			WHERE purchase_order_id = $1 AND product_id = $2
		`, po.ID, item.ProductID, item.QuantityReceived); err != nil {
			return wrapErr("update purchase order item", err)
		}
	}
	return nil
}
