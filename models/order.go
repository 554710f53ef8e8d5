package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
	OrderDisputed   OrderStatus = "disputed"
)

// orderTransitions is the full transition graph. Every status must have an
// entry, terminal ones map to nil.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled, OrderDisputed},
	OrderShipped:    {OrderDelivered, OrderCancelled, OrderDisputed},
	OrderDelivered:  {OrderCompleted, OrderDisputed},
	OrderDisputed:   {OrderCompleted, OrderCancelled},
	OrderCompleted:  nil,
	OrderCancelled:  nil,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

// CanTransition reports whether to is directly reachable from s.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type OrderKind string

const (
	OrderKindSale     OrderKind = "sale"
	OrderKindBarter   OrderKind = "barter"
	OrderKindGiveaway OrderKind = "giveaway"
)

type ShippingInfo struct {
	Name       string `json:"name" validate:"required,max=120"`
	Address    string `json:"address" validate:"required,max=500"`
	City       string `json:"city" validate:"required,max=120"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Phone      string `json:"phone" validate:"max=40"`
}

type Order struct {
	ID             string          `json:"id"`
	BuyerID        string          `json:"buyer_id"`
	Kind           OrderKind       `json:"kind"`
	Items          []OrderItem     `json:"items"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Status         OrderStatus     `json:"status"`
	Shipping       ShippingInfo    `json:"shipping"`
	BarterID       string          `json:"barter_id,omitempty"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	CourierName    string          `json:"courier_name,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
	ShippedAt      *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	DisputedAt     *time.Time      `json:"disputed_at,omitempty"`
}

// OrderItem is a line item snapshotted at order time.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	SellerID  string          `json:"seller_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// SumItems returns Σ price*quantity.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// SellerIDs returns the distinct sellers on the order in item order.
func (o *Order) SellerIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	out := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		out = append(out, item.SellerID)
	}
	return out
}

func (o *Order) HasSeller(userID string) bool {
	for _, item := range o.Items {
		if item.SellerID == userID {
			return true
		}
	}
	return false
}

// RequiresEscrow is false for zero-cash orders (barter, giveaway).
func (o *Order) RequiresEscrow() bool {
	return o.TotalAmount.IsPositive()
}

// SetStatus moves the order to status and stamps the matching timestamp.
// It does not check the transition graph.
func (o *Order) SetStatus(status OrderStatus, at time.Time) {
	o.Status = status
	o.UpdatedAt = at
	stamp := at
	switch status {
	case OrderProcessing:
		o.ConfirmedAt = &stamp
	case OrderShipped:
		o.ShippedAt = &stamp
	case OrderDelivered:
		o.DeliveredAt = &stamp
	case OrderCompleted:
		o.CompletedAt = &stamp
	case OrderCancelled:
		o.CancelledAt = &stamp
	case OrderDisputed:
		o.DisputedAt = &stamp
	}
}

// OrderEvent is a timer message on the order queue.
type OrderEvent struct {
	OrderID  string    `json:"order_id"`
	Type     string    `json:"type"` // payment_check or auto_release
	Occurred time.Time `json:"occurred"`
}
