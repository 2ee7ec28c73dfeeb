package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"kasirledger/internal/domain"
	"kasirledger/internal/store"
	"kasirledger/internal/xid"
)

// Transfer moves quantity of one product between two locations. Both ledger
// rows are locked in key order; the product total does not change.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.InventoryTransfer, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.SourceLocationID = strings.TrimSpace(req.SourceLocationID)
	req.DestinationLocationID = strings.TrimSpace(req.DestinationLocationID)
	if req.ProductID == "" {
		return nil, store.Invalid("product_id", "product_id is required")
	}
	if req.SourceLocationID == "" {
		return nil, store.Invalid("source_location_id", "source_location_id is required")
	}
	if req.DestinationLocationID == "" {
		return nil, store.Invalid("destination_location_id", "destination_location_id is required")
	}
	if req.Quantity < 1 {
		return nil, store.Invalid("quantity", "quantity must be at least 1")
	}
	if req.SourceLocationID == req.DestinationLocationID {
		return nil, store.Invalid("destination_location_id", "destination must differ from source location")
	}

	var transfer domain.InventoryTransfer
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		products, err := tx.GetProducts(ctx, []string{req.ProductID})
		if err != nil {
			return err
		}
		if _, ok := products[req.ProductID]; !ok {
			return store.NotFound("product", req.ProductID)
		}
		if _, err := tx.GetLocation(ctx, req.SourceLocationID); err != nil {
			return err
		}
		if _, err := tx.GetLocation(ctx, req.DestinationLocationID); err != nil {
			return err
		}

		source := domain.StockKey{ProductID: req.ProductID, LocationID: req.SourceLocationID}
		destination := domain.StockKey{ProductID: req.ProductID, LocationID: req.DestinationLocationID}
		if err := tx.EnsureStockLevel(ctx, destination); err != nil {
			return err
		}
		levels, err := tx.LockStockLevels(ctx, []domain.StockKey{source, destination})
		if err != nil {
			return err
		}

		available, ok := levels[source]
		if !ok || available < req.Quantity {
			return store.Invalid("quantity", "source location does not have enough on-hand quantity")
		}

		if err := tx.SetStockLevel(ctx, source, available-req.Quantity); err != nil {
			return err
		}
		if err := tx.SetStockLevel(ctx, destination, levels[destination]+req.Quantity); err != nil {
			return err
		}

		transfer = domain.InventoryTransfer{
			ID:                    xid.New("trf"),
			ProductID:             req.ProductID,
			SourceLocationID:      req.SourceLocationID,
			DestinationLocationID: req.DestinationLocationID,
			Quantity:              req.Quantity,
			UserID:                strings.TrimSpace(req.UserID),
			CreatedAt:             s.now(),
		}
		return tx.InsertTransfer(ctx, transfer)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"transfer_id": transfer.ID,
		"product_id":  transfer.ProductID,
		"from":        transfer.SourceLocationID,
		"to":          transfer.DestinationLocationID,
		"quantity":    transfer.Quantity,
		"user_id":     defaultString(transfer.UserID, "system"),
	}).Info("inventory transferred")

	return &transfer, nil
}

func (s *Service) ListTransfers(ctx context.Context, productID string, limit int) ([]domain.InventoryTransfer, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListTransfers(ctx, strings.TrimSpace(productID), limit)
}
