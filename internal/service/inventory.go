package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"kasirledger/internal/domain"
	"kasirledger/internal/store"
	"kasirledger/internal/xid"
)

// StockOpname records a physical count at one location. Each counted row is
// set to the counted quantity and the product total shifts by the delta.
func (s *Service) StockOpname(ctx context.Context, req domain.StockOpnameRequest) (domain.StockOpnameResponse, error) {
	locationID := s.locationOrDefault(req.LocationID)
	if len(req.Items) == 0 {
		return domain.StockOpnameResponse{}, store.Invalid("items", "at least one counted item is required")
	}

	counted := make(map[string]int, len(req.Items))
	order := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return domain.StockOpnameResponse{}, store.Invalid("items", "product_id is required")
		}
		if item.CountedQty < 0 {
			return domain.StockOpnameResponse{}, store.Invalid("items", "counted_qty for %s cannot be negative", productID)
		}
		if _, dup := counted[productID]; dup {
			return domain.StockOpnameResponse{}, store.Invalid("items", "product %s counted twice", productID)
		}
		counted[productID] = item.CountedQty
		order = append(order, productID)
	}

	adjustments := make([]domain.StockOpnameAdjustment, 0, len(order))
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		adjustments = adjustments[:0]
		if _, err := tx.GetLocation(ctx, locationID); err != nil {
			return err
		}
		products, err := tx.GetProducts(ctx, order)
		if err != nil {
			return err
		}
		keys := make([]domain.StockKey, 0, len(order))
		for _, productID := range order {
			if _, ok := products[productID]; !ok {
				return store.NotFound("product", productID)
			}
			keys = append(keys, domain.StockKey{ProductID: productID, LocationID: locationID})
		}

		for _, key := range store.SortKeys(keys) {
			if err := tx.EnsureStockLevel(ctx, key); err != nil {
				return err
			}
		}
		levels, err := tx.LockStockLevels(ctx, keys)
		if err != nil {
			return err
		}

		deltas := make(map[string]int, len(keys))
		for _, key := range store.SortKeys(keys) {
			systemQty := levels[key]
			countedQty := counted[key.ProductID]
			if systemQty != countedQty {
				if err := tx.SetStockLevel(ctx, key, countedQty); err != nil {
					return err
				}
			}
			deltas[key.ProductID] = countedQty - systemQty
		}

		sortedIDs := append([]string(nil), order...)
		sort.Strings(sortedIDs)
		for _, productID := range sortedIDs {
			if deltas[productID] == 0 {
				continue
			}
			if err := tx.AdjustProductStock(ctx, productID, deltas[productID]); err != nil {
				return err
			}
		}

		for _, productID := range order {
			countedQty := counted[productID]
			adjustments = append(adjustments, domain.StockOpnameAdjustment{
				ProductID:  productID,
				SystemQty:  countedQty - deltas[productID],
				CountedQty: countedQty,
				DeltaQty:   deltas[productID],
			})
		}
		return nil
	})
	if err != nil {
		return domain.StockOpnameResponse{}, err
	}

	opnameID := xid.New("opname")
	s.log.WithFields(logrus.Fields{
		"opname_id":   opnameID,
		"location_id": locationID,
		"items":       len(adjustments),
		"user_id":     defaultString(req.UserID, "system"),
		"notes":       req.Notes,
	}).Info("stock opname applied")

	return domain.StockOpnameResponse{
		OpnameID:    opnameID,
		LocationID:  locationID,
		Notes:       req.Notes,
		Adjustments: adjustments,
		CreatedAt:   s.now().Format(time.RFC3339),
	}, nil
}
