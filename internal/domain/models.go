package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID              string          `json:"id"`
	Barcode         string          `json:"barcode"`
	Name            string          `json:"name"`
	SupplierID      string          `json:"supplier_id,omitempty"`
	Stock           int             `json:"stock"`
	Price           decimal.Decimal `json:"price"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	ReorderPoint    *int            `json:"reorder_point,omitempty"`
	ReorderQuantity *int            `json:"reorder_quantity,omitempty"`
}

type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StockKey identifies one ledger row. Rows are always locked in Less order.
type StockKey struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
}

func (k StockKey) Less(other StockKey) bool {
	if k.ProductID != other.ProductID {
		return k.ProductID < other.ProductID
	}
	return k.LocationID < other.LocationID
}

type StockLevel struct {
	ProductID  string    `json:"product_id"`
	LocationID string    `json:"location_id"`
	Quantity   int       `json:"quantity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const (
	PaymentCash         = "cash"
	PaymentCard         = "card"
	PaymentBankTransfer = "bank_transfer"
	PaymentEWallet      = "e_wallet"
	PaymentOther        = "other"
)

const (
	DiscountPercentage = "percentage"
	DiscountValue      = "value"
)

type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type SettleRequest struct {
	Items         []CartLine       `json:"items"`
	LocationID    string           `json:"location_id,omitempty"`
	TaxRate       *decimal.Decimal `json:"tax_rate"`
	DiscountType  string           `json:"discount_type,omitempty"`
	DiscountValue *decimal.Decimal `json:"discount_value,omitempty"`
	PaymentMethod string           `json:"payment_method"`
	AmountPaid    *decimal.Decimal `json:"amount_paid"`
	CustomerID    string           `json:"customer_id,omitempty"`
	RedeemPoints  *int64           `json:"redeem_points,omitempty"`
	UserID        string           `json:"user_id,omitempty"`
}

type Transaction struct {
	ID                string            `json:"id"`
	Number            string            `json:"number"`
	LocationID        string            `json:"location_id"`
	PaymentMethod     string            `json:"payment_method"`
	ItemsCount        int               `json:"items_count"`
	PPNRate           decimal.Decimal   `json:"ppn_rate"`
	Subtotal          decimal.Decimal   `json:"subtotal"`
	TaxTotal          decimal.Decimal   `json:"tax_total"`
	DiscountType      string            `json:"discount_type,omitempty"`
	DiscountValue     *decimal.Decimal  `json:"discount_value,omitempty"`
	DiscountTotal     decimal.Decimal   `json:"discount_total"`
	LoyaltyRedemption decimal.Decimal   `json:"loyalty_redemption"`
	Total             decimal.Decimal   `json:"total"`
	AmountPaid        decimal.Decimal   `json:"amount_paid"`
	ChangeDue         decimal.Decimal   `json:"change_due"`
	CustomerID        string            `json:"customer_id,omitempty"`
	UserID            string            `json:"user_id,omitempty"`
	PointsRedeemed    int64             `json:"points_redeemed"`
	PointsEarned      int64             `json:"points_earned"`
	CreatedAt         time.Time         `json:"created_at"`
	Items             []TransactionItem `json:"items"`
}

// TransactionItem carries a snapshot of the product as sold.
type TransactionItem struct {
	ProductID    string          `json:"product_id"`
	Barcode      string          `json:"barcode"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	LineSubtotal decimal.Decimal `json:"line_subtotal"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	LineTotal    decimal.Decimal `json:"line_total"`
	LineCost     decimal.Decimal `json:"line_cost"`
}

type Customer struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	LoyaltyNumber string    `json:"loyalty_number,omitempty"`
	LoyaltyPoints int64     `json:"loyalty_points"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	LoyaltyEarn   = "earn"
	LoyaltyRedeem = "redeem"
)

type CustomerLoyaltyTransaction struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Type          string          `json:"type"`
	PointsChange  int64           `json:"points_change"`
	PointsBalance int64           `json:"points_balance"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

type LoyaltyPreviewRequest struct {
	CustomerID      string           `json:"customer_id,omitempty"`
	Total           *decimal.Decimal `json:"total"`
	RequestedPoints *int64           `json:"requested_points,omitempty"`
}

type LoyaltyHistory struct {
	CustomerID     string                       `json:"customer_id"`
	Balance        int64                        `json:"balance"`
	OpeningBalance int64                        `json:"opening_balance"`
	Consistent     bool                         `json:"consistent"`
	Entries        []CustomerLoyaltyTransaction `json:"entries"`
}

type InventoryTransfer struct {
	ID                    string    `json:"id"`
	ProductID             string    `json:"product_id"`
	SourceLocationID      string    `json:"source_location_id"`
	DestinationLocationID string    `json:"destination_location_id"`
	Quantity              int       `json:"quantity"`
	UserID                string    `json:"user_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

type TransferRequest struct {
	ProductID             string `json:"product_id"`
	SourceLocationID      string `json:"source_location_id"`
	DestinationLocationID string `json:"destination_location_id"`
	Quantity              int    `json:"quantity"`
	UserID                string `json:"user_id,omitempty"`
}

type StockOpnameItem struct {
	ProductID  string `json:"product_id"`
	CountedQty int    `json:"counted_qty"`
}

type StockOpnameRequest struct {
	LocationID string            `json:"location_id,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	Items      []StockOpnameItem `json:"items"`
	UserID     string            `json:"user_id,omitempty"`
}

type StockOpnameAdjustment struct {
	ProductID  string `json:"product_id"`
	SystemQty  int    `json:"system_qty"`
	CountedQty int    `json:"counted_qty"`
	DeltaQty   int    `json:"delta_qty"`
}

type StockOpnameResponse struct {
	OpnameID    string                  `json:"opname_id"`
	LocationID  string                  `json:"location_id"`
	Notes       string                  `json:"notes,omitempty"`
	Adjustments []StockOpnameAdjustment `json:"adjustments"`
	CreatedAt   string                  `json:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

const (
	POStatusOrdered   = "ordered"
	POStatusPartial   = "partial"
	POStatusReceived  = "received"
	POStatusCancelled = "cancelled"
)

type PurchaseOrderItem struct {
	ProductID        string          `json:"product_id"`
	QuantityOrdered  int             `json:"quantity_ordered"`
	QuantityReceived int             `json:"quantity_received"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
}

func (i PurchaseOrderItem) Outstanding() int {
	if i.QuantityReceived >= i.QuantityOrdered {
		return 0
	}
	return i.QuantityOrdered - i.QuantityReceived
}

type PurchaseOrder struct {
	ID           string              `json:"id"`
	SupplierID   string              `json:"supplier_id"`
	LocationID   string              `json:"location_id"`
	Status       string              `json:"status"`
	ExpectedDate *time.Time          `json:"expected_date,omitempty"`
	ReceivedAt   *time.Time          `json:"received_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	Items        []PurchaseOrderItem `json:"items"`
}

func (po PurchaseOrder) TotalOrdered() int {
	total := 0
	for _, item := range po.Items {
		total += item.QuantityOrdered
	}
	return total
}

func (po PurchaseOrder) TotalReceived() int {
	total := 0
	for _, item := range po.Items {
		total += item.QuantityReceived
	}
	return total
}

func (po PurchaseOrder) Outstanding() int {
	total := 0
	for _, item := range po.Items {
		total += item.Outstanding()
	}
	return total
}

type PurchaseOrderCreateItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type PurchaseOrderCreateRequest struct {
	SupplierID   string                    `json:"supplier_id"`
	LocationID   string                    `json:"location_id,omitempty"`
	ExpectedDate string                    `json:"expected_date,omitempty"`
	Items        []PurchaseOrderCreateItem `json:"items"`
}

type PurchaseOrderReceiveItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// PurchaseOrderReceiveRequest with no items receives everything outstanding.
type PurchaseOrderReceiveRequest struct {
	Items  []PurchaseOrderReceiveItem `json:"items,omitempty"`
	UserID string                     `json:"user_id,omitempty"`
}

type DailyMetric struct {
	Date         string          `json:"date"`
	Revenue      decimal.Decimal `json:"revenue"`
	Profit       decimal.Decimal `json:"profit"`
	Transactions int             `json:"transactions"`
}

type TaxSummary struct {
	TaxableSales  decimal.Decimal `json:"taxable_sales"`
	TaxCollected  decimal.Decimal `json:"tax_collected"`
	EffectiveRate decimal.Decimal `json:"effective_rate"`
}

type LowStockProduct struct {
	ProductID       string `json:"product_id"`
	Name            string `json:"name"`
	Stock           int    `json:"stock"`
	ReorderPoint    int    `json:"reorder_point"`
	ReorderQuantity *int   `json:"reorder_quantity,omitempty"`
}

type SupplierScore struct {
	SupplierID      string  `json:"supplier_id"`
	SupplierName    string  `json:"supplier_name"`
	CompletedOrders int     `json:"completed_orders"`
	OnTimeOrders    int     `json:"on_time_orders"`
	TotalOrdered    int     `json:"total_ordered"`
	TotalReceived   int     `json:"total_received"`
	OnTimeRate      float64 `json:"on_time_rate"`
	FulfillmentRate float64 `json:"fulfillment_rate"`
	Score           float64 `json:"score"`
}

type LateDelivery struct {
	PurchaseOrderID string     `json:"purchase_order_id"`
	SupplierID      string     `json:"supplier_id"`
	SupplierName    string     `json:"supplier_name"`
	ExpectedDate    time.Time  `json:"expected_date"`
	ReceivedAt      *time.Time `json:"received_at,omitempty"`
	DaysLate        int        `json:"days_late"`
}

type OutstandingOrder struct {
	PurchaseOrderID     string     `json:"purchase_order_id"`
	SupplierID          string     `json:"supplier_id"`
	SupplierName        string     `json:"supplier_name"`
	Status              string     `json:"status"`
	OutstandingQuantity int        `json:"outstanding_quantity"`
	ExpectedDate        *time.Time `json:"expected_date,omitempty"`
}

type SupplierPerformance struct {
	TopSuppliers      []SupplierScore    `json:"top_suppliers"`
	LateDeliveries    []LateDelivery     `json:"late_deliveries"`
	OutstandingOrders []OutstandingOrder `json:"outstanding_orders"`
}

type MetricsReport struct {
	From                    time.Time           `json:"from"`
	To                      time.Time           `json:"to"`
	Days                    int                 `json:"days"`
	Revenue                 decimal.Decimal     `json:"revenue"`
	Cost                    decimal.Decimal     `json:"cost"`
	Profit                  decimal.Decimal     `json:"profit"`
	MarginPercent           decimal.Decimal     `json:"margin_percent"`
	TransactionCount        int                 `json:"transaction_count"`
	AverageBasketSize       decimal.Decimal     `json:"average_basket_size"`
	AverageTransactionValue decimal.Decimal     `json:"average_transaction_value"`
	Daily                   []DailyMetric       `json:"daily"`
	Tax                     TaxSummary          `json:"tax"`
	LowStock                []LowStockProduct   `json:"low_stock"`
	Suppliers               SupplierPerformance `json:"suppliers"`
	GeneratedAt             time.Time           `json:"generated_at"`
}
