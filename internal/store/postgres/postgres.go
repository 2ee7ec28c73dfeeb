package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"kasirledger/internal/domain"
	"kasirledger/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store is the PostgreSQL Repository. Units of work run at READ COMMITTED
// and take explicit row locks, so a unit that loses a race re-reads the
// committed quantity instead of failing with a serialization error.
type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return wrapErr("migrate", err)
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return wrapErr("begin", err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(ctx, &unit{tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(); err != nil {
		return wrapErr("commit", err)
	}
	return nil
}

// wrapErr turns a driver error into a StorageError. Lock conflicts and
// dropped connections are retryable.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &store.StorageError{Op: op, Err: err}
	}
	return &store.StorageError{Op: op, Retryable: isRetryable(err), Err: err}
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01", "40001":
			return true
		}
		return false
	}
	return errors.Is(err, driver.ErrBadConn) || pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

type scanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, barcode, name, supplier_id, stock, price, cost_price, reorder_point, reorder_quantity`

func scanProduct(row scanner) (domain.Product, error) {
	var (
		p                        domain.Product
		barcode, supplierID      sql.NullString
		reorderPoint, reorderQty sql.NullInt64
	)
	if err := row.Scan(&p.ID, &barcode, &p.Name, &supplierID, &p.Stock, &p.Price, &p.CostPrice, &reorderPoint, &reorderQty); err != nil {
		return domain.Product{}, err
	}
	p.Barcode = barcode.String
	p.SupplierID = supplierID.String
	p.ReorderPoint = intPtr(reorderPoint)
	p.ReorderQuantity = intPtr(reorderQty)
	return p, nil
}

const customerColumns = `id, name, loyalty_number, loyalty_points, created_at`

func scanCustomer(row scanner) (domain.Customer, error) {
	var (
		c             domain.Customer
		loyaltyNumber sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &loyaltyNumber, &c.LoyaltyPoints, &c.CreatedAt); err != nil {
		return domain.Customer{}, err
	}
	c.LoyaltyNumber = loyaltyNumber.String
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

const transactionColumns = `id, number, location_id, payment_method, items_count, ppn_rate, subtotal, tax_total,
	discount_type, discount_value, discount_total, loyalty_redemption, total, amount_paid, change_due,
	customer_id, user_id, points_redeemed, points_earned, created_at`

func scanTransaction(row scanner) (domain.Transaction, error) {
	var (
		tx                               domain.Transaction
		discountType, customerID, userID sql.NullString
		discountValue                    decimal.NullDecimal
	)
	err := row.Scan(
		&tx.ID, &tx.Number, &tx.LocationID, &tx.PaymentMethod, &tx.ItemsCount, &tx.PPNRate, &tx.Subtotal, &tx.TaxTotal,
		&discountType, &discountValue, &tx.DiscountTotal, &tx.LoyaltyRedemption, &tx.Total, &tx.AmountPaid, &tx.ChangeDue,
		&customerID, &userID, &tx.PointsRedeemed, &tx.PointsEarned, &tx.CreatedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.DiscountType = discountType.String
	if discountValue.Valid {
		v := discountValue.Decimal
		tx.DiscountValue = &v
	}
	tx.CustomerID = customerID.String
	tx.UserID = userID.String
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.Items = []domain.TransactionItem{}
	return tx, nil
}

const purchaseOrderColumns = `id, supplier_id, location_id, status, expected_date, received_at, created_at`

func scanPurchaseOrder(row scanner) (domain.PurchaseOrder, error) {
	var (
		po                   domain.PurchaseOrder
		expected, receivedAt sql.NullTime
	)
	if err := row.Scan(&po.ID, &po.SupplierID, &po.LocationID, &po.Status, &expected, &receivedAt, &po.CreatedAt); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if expected.Valid {
		d := nowDateUTC(expected.Time)
		po.ExpectedDate = &d
	}
	if receivedAt.Valid {
		t := receivedAt.Time.UTC()
		po.ReceivedAt = &t
	}
	po.CreatedAt = po.CreatedAt.UTC()
	po.Items = []domain.PurchaseOrderItem{}
	return po, nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return nowDateUTC(*val)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}

func notFoundOr(op string, err error, entity string, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.NotFound(entity, id)
	}
	return wrapErr(fmt.Sprintf("%s %s", op, entity), err)
}
