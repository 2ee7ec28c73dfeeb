package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"kasirledger/internal/domain"
	"kasirledger/internal/store"
	"kasirledger/internal/xid"
)

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.Supplier{}, store.Invalid("name", "supplier name is required")
	}

	supplier := domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: s.now(),
	}

	saved, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return domain.Supplier{}, err
	}

	s.log.WithFields(logrus.Fields{"supplier_id": saved.ID, "name": saved.Name}).Info("supplier created")
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrder, error) {
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	if req.SupplierID == "" {
		return domain.PurchaseOrder{}, store.Invalid("supplier_id", "supplier_id is required")
	}
	if len(req.Items) == 0 {
		return domain.PurchaseOrder{}, store.Invalid("items", "at least one item is required")
	}

	var expected *time.Time
	if raw := strings.TrimSpace(req.ExpectedDate); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return domain.PurchaseOrder{}, store.Invalid("expected_date", "expected_date must be YYYY-MM-DD")
		}
		parsed = parsed.UTC()
		expected = &parsed
	}

	seen := make(map[string]struct{}, len(req.Items))
	items := make([]domain.PurchaseOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" || item.Quantity < 1 {
			return domain.PurchaseOrder{}, store.Invalid("items", "each item needs product_id and quantity of at least 1")
		}
		if item.UnitCost.IsNegative() {
			return domain.PurchaseOrder{}, store.Invalid("items", "unit_cost for %s cannot be negative", productID)
		}
		if _, dup := seen[productID]; dup {
			return domain.PurchaseOrder{}, store.Invalid("items", "product %s listed twice", productID)
		}
		seen[productID] = struct{}{}
		items = append(items, domain.PurchaseOrderItem{
			ProductID:       productID,
			QuantityOrdered: item.Quantity,
			UnitCost:        item.UnitCost.Round(2),
		})
	}

	po := domain.PurchaseOrder{
		ID:           xid.New("po"),
		SupplierID:   req.SupplierID,
		LocationID:   s.locationOrDefault(req.LocationID),
		Status:       domain.POStatusOrdered,
		ExpectedDate: expected,
		CreatedAt:    s.now(),
		Items:        items,
	}

	saved, err := s.repo.CreatePurchaseOrder(ctx, po)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.log.WithFields(logrus.Fields{"purchase_order_id": saved.ID, "supplier_id": saved.SupplierID, "items": len(saved.Items)}).Info("purchase order created")
	return *saved, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	po, err := s.repo.GetPurchaseOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *po, nil
}

// ReceivePurchaseOrder books delivered quantities into the order's location.
// With no items in the request, everything still outstanding is received.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, purchaseOrderID string, req domain.PurchaseOrderReceiveRequest) (domain.PurchaseOrder, error) {
	purchaseOrderID = strings.TrimSpace(purchaseOrderID)
	if purchaseOrderID == "" {
		return domain.PurchaseOrder{}, store.Invalid("id", "purchase order id is required")
	}

	requested := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" || item.Quantity < 1 {
			return domain.PurchaseOrder{}, store.Invalid("items", "each item needs product_id and quantity of at least 1")
		}
		total, ok := addQuantity(requested[productID], item.Quantity)
		if !ok {
			return domain.PurchaseOrder{}, store.Invalid("items", "combined quantity for %s is too large", productID)
		}
		requested[productID] = total
	}

	var received domain.PurchaseOrder
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		po, err := tx.LockPurchaseOrder(ctx, purchaseOrderID)
		if err != nil {
			return err
		}
		if po.Status == domain.POStatusReceived || po.Status == domain.POStatusCancelled {
			return fmt.Errorf("purchase order %s is %s: %w", po.ID, po.Status, store.ErrInvalidState)
		}

		quantities, err := receiptQuantities(*po, requested)
		if err != nil {
			return err
		}

		keys := make([]domain.StockKey, 0, len(quantities))
		for productID := range quantities {
			keys = append(keys, domain.StockKey{ProductID: productID, LocationID: po.LocationID})
		}
		keys = store.SortKeys(keys)
		for _, key := range keys {
			if err := tx.EnsureStockLevel(ctx, key); err != nil {
				return err
			}
		}
		levels, err := tx.LockStockLevels(ctx, keys)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := tx.SetStockLevel(ctx, key, levels[key]+quantities[key.ProductID]); err != nil {
				return err
			}
		}

		productIDs := make([]string, 0, len(quantities))
		for productID := range quantities {
			productIDs = append(productIDs, productID)
		}
		sort.Strings(productIDs)
		for _, productID := range productIDs {
			if err := tx.AdjustProductStock(ctx, productID, quantities[productID]); err != nil {
				return err
			}
		}

		for i := range po.Items {
			po.Items[i].QuantityReceived += quantities[po.Items[i].ProductID]
		}
		if po.Outstanding() == 0 {
			now := s.now()
			po.Status = domain.POStatusReceived
			po.ReceivedAt = &now
		} else {
			po.Status = domain.POStatusPartial
		}
		if err := tx.UpdatePurchaseOrderReceipt(ctx, *po); err != nil {
			return err
		}
		received = *po
		return nil
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.log.WithFields(logrus.Fields{
		"purchase_order_id": received.ID,
		"status":            received.Status,
		"location_id":       received.LocationID,
		"user_id":           defaultString(req.UserID, "system"),
	}).Info("purchase order received")
	return received, nil
}

func receiptQuantities(po domain.PurchaseOrder, requested map[string]int) (map[string]int, error) {
	outstanding := make(map[string]int, len(po.Items))
	for _, item := range po.Items {
		outstanding[item.ProductID] = item.Outstanding()
	}

	quantities := make(map[string]int, len(po.Items))
	if len(requested) == 0 {
		for productID, qty := range outstanding {
			if qty > 0 {
				quantities[productID] = qty
			}
		}
	} else {
		for productID, qty := range requested {
			left, ok := outstanding[productID]
			if !ok {
				return nil, store.Invalid("items", "product %s is not on purchase order %s", productID, po.ID)
			}
			if qty > left {
				return nil, store.Invalid("items", "receiving %d of %s exceeds outstanding %d", qty, productID, left)
			}
			quantities[productID] = qty
		}
	}
	if len(quantities) == 0 {
		return nil, fmt.Errorf("purchase order %s has nothing outstanding: %w", po.ID, store.ErrInvalidState)
	}
	return quantities, nil
}
