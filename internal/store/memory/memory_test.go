package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/internal/domain"
	"kasirledger/internal/store"
)

func TestWithinTxRollsBackEveryWriteOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	key := domain.StockKey{ProductID: "prd-mie", LocationID: DefaultLocationID}
	newKey := domain.StockKey{ProductID: "prd-mie", LocationID: "kiosk"}
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.SetStockLevel(ctx, key, 100))
		require.NoError(t, tx.AdjustProductStock(ctx, "prd-mie", -20))
		require.NoError(t, tx.EnsureStockLevel(ctx, newKey))
		require.NoError(t, tx.SetCustomerPoints(ctx, "cus-demo", 9))
		require.NoError(t, tx.InsertTransfer(ctx, domain.InventoryTransfer{ID: "trf-x", ProductID: "prd-mie", Quantity: 1}))
		require.NoError(t, tx.InsertTransaction(ctx, domain.Transaction{ID: "tx-x", Number: "TRX-X"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	levels, err := s.ListStockLevels(ctx, "prd-mie")
	require.NoError(t, err)
	require.Len(t, levels, 2)
	for _, level := range levels {
		if level.LocationID == DefaultLocationID {
			assert.Equal(t, 120, level.Quantity)
		}
	}

	product, err := s.GetProduct(ctx, "prd-mie")
	require.NoError(t, err)
	assert.Equal(t, 160, product.Stock)

	customer, err := s.GetCustomer(ctx, "cus-demo")
	require.NoError(t, err)
	assert.Equal(t, int64(250), customer.LoyaltyPoints)

	transfers, err := s.ListTransfers(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, transfers)

	_, err = s.FindTransactionByID(ctx, "tx-x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertTransactionRejectsDuplicateNumber(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTransaction(ctx, domain.Transaction{ID: "tx-1", Number: "TRX-20260101-000000-AAAA"})
	}))

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTransaction(ctx, domain.Transaction{ID: "tx-2", Number: "TRX-20260101-000000-AAAA"})
	})
	require.ErrorIs(t, err, store.ErrDuplicateNumber)
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.False(t, store.IsRetryable(err))
}

func TestLockStockLevelsOmitsAbsentRows(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		levels, err := tx.LockStockLevels(ctx, []domain.StockKey{
			{ProductID: "prd-kopi", LocationID: "warehouse"},
			{ProductID: "prd-kopi", LocationID: "nowhere"},
		})
		require.NoError(t, err)
		assert.Equal(t, map[domain.StockKey]int{{ProductID: "prd-kopi", LocationID: "warehouse"}: 40}, levels)
		return nil
	})
	require.NoError(t, err)
}

func TestSetStockLevelRejectsNegative(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetStockLevel(ctx, domain.StockKey{ProductID: "prd-teh", LocationID: "warehouse"}, -1)
	})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestWithinTxRollsBackWhenUnitPanics(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	key := domain.StockKey{ProductID: "prd-mie", LocationID: DefaultLocationID}

	assert.Panics(t, func() {
		_ = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			require.NoError(t, tx.SetStockLevel(ctx, key, 7))
			require.NoError(t, tx.AdjustProductStock(ctx, "prd-mie", -113))
			panic("handler bug")
		})
	})

	levels, err := s.ListStockLevels(ctx, "prd-mie")
	require.NoError(t, err)
	for _, level := range levels {
		if level.LocationID == DefaultLocationID {
			assert.Equal(t, 120, level.Quantity)
		}
	}
	product, err := s.GetProduct(ctx, "prd-mie")
	require.NoError(t, err)
	assert.Equal(t, 160, product.Stock)

	// The store lock must be released after the panic.
	require.NoError(t, s.WithinTx(ctx, func(context.Context, store.Tx) error { return nil }))
}
