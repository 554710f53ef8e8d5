package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"settlement-service/ledger"
	"settlement-service/models"
)

type CartItem struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"min=1,max=10000"`
}

type CreateOrderInput struct {
	Items    []CartItem          `json:"items" validate:"required,min=1,max=100,dive"`
	Shipping models.ShippingInfo `json:"shipping"`
}

// StatusChange is a requested order transition.
type StatusChange struct {
	Status         models.OrderStatus `json:"status"`
	TrackingNumber string             `json:"tracking_number,omitempty"`
	CourierName    string             `json:"courier_name,omitempty"`
}

// OrderService owns the order lifecycle. Completion and cancellation settle
// the escrow in the same commit as the order change.
type OrderService struct {
	base
	escrow           *EscrowService
	paymentTimeout   time.Duration
	autoReleaseAfter time.Duration
}

func NewOrderService(store ledger.Store, escrow *EscrowService, opts Options) *OrderService {
	return &OrderService{
		base:             newBase(store, opts, "orders"),
		escrow:           escrow,
		paymentTimeout:   opts.PaymentTimeout,
		autoReleaseAfter: opts.AutoReleaseAfter,
	}
}

// Create places an order for the caller from a cart. Item prices and titles
// are snapshotted, stock is reserved in the same commit.
func (s *OrderService) Create(ctx context.Context, caller models.Caller, in CreateOrderInput) (*models.Order, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	// A product appears once per order; repeats add up.
	qty := make(map[string]int, len(in.Items))
	firstIndex := make(map[string]int, len(in.Items))
	var productIDs []string
	for i, item := range in.Items {
		id := strings.TrimSpace(item.ProductID)
		if _, seen := qty[id]; !seen {
			productIDs = append(productIDs, id)
			firstIndex[id] = i
		}
		qty[id] += item.Quantity
	}

	var fields []FieldError
	items := make([]models.OrderItem, 0, len(productIDs))
	products := make(map[string]*models.Product, len(productIDs))
	for _, id := range productIDs {
		field := "items[" + strconv.Itoa(firstIndex[id]) + "].product_id"
		p, err := s.store.Product(ctx, id)
		if errors.Is(err, ledger.ErrNotFound) {
			fields = append(fields, FieldError{Field: field, Message: "product does not exist"})
			continue
		}
		if err != nil {
			return nil, errInternal(err)
		}
		if p.SellerID == caller.UserID {
			fields = append(fields, FieldError{Field: field, Message: "cannot order your own product"})
			continue
		}
		if p.Price.IsNegative() {
			fields = append(fields, FieldError{Field: field, Message: "product has an invalid price"})
			continue
		}
		products[id] = p
		items = append(items, models.OrderItem{
			ProductID: p.ID,
			SellerID:  p.SellerID,
			Title:     p.Title,
			Quantity:  qty[id],
			Price:     p.Price,
		})
	}
	if len(fields) > 0 {
		return nil, ErrValidation(fields...)
	}
	for _, item := range items {
		if item.Quantity > products[item.ProductID].QuantityAvailable {
			return nil, ErrOutOfStock(item.ProductID)
		}
	}

	now := s.now()
	order := &models.Order{
		ID:          newID(),
		BuyerID:     caller.UserID,
		Kind:        models.OrderKindSale,
		Items:       items,
		TotalAmount: models.SumItems(items),
		Status:      models.OrderPending,
		Shipping:    in.Shipping,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !order.RequiresEscrow() {
		order.Kind = models.OrderKindGiveaway
		order.SetStatus(models.OrderProcessing, now)
	}

	ops := []ledger.Op{ledger.InsertOrder{Order: order}}
	for _, item := range items {
		ops = append(ops, ledger.AdjustStock{ProductID: item.ProductID, Delta: -item.Quantity})
	}
	if err := s.store.Commit(ctx, ops...); err != nil {
		return nil, stockError(err)
	}
	s.log.Info("order created", zap.String("order_id", order.ID),
		zap.String("total", order.TotalAmount.StringFixed(2)), zap.Int("items", len(items)))

	notes := make([]models.Notification, 0)
	for _, seller := range order.SellerIDs() {
		notes = append(notes, s.note(seller, models.NotifyOrderCreated,
			"New order", "You have a new order "+order.ID+".", orderLink(order.ID)))
	}
	s.notify(ctx, notes...)
	if order.Status == models.OrderPending {
		s.schedule(ctx, order.ID, EventPaymentCheck, s.paymentTimeout)
	}
	return order, nil
}

// Get returns an order to its buyer, its sellers and admins.
func (s *OrderService) Get(ctx context.Context, id string, caller models.Caller) (*models.Order, error) {
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isParty(order, caller) && !caller.Privileged() {
		return nil, ErrUnauthorized("view this order")
	}
	return order, nil
}

func (s *OrderService) ListForBuyer(ctx context.Context, caller models.Caller) ([]models.Order, error) {
	orders, err := s.store.OrdersByBuyer(ctx, caller.UserID)
	if err != nil {
		return nil, errInternal(err)
	}
	return orders, nil
}

// UpdateStatus applies one transition of the order graph on behalf of caller.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, change StatusChange, caller models.Caller) (*models.Order, error) {
	if !change.Status.Valid() {
		return nil, ErrValidation(FieldError{Field: "status", Message: "unknown status"})
	}
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isParty(order, caller) && !caller.Privileged() {
		return nil, ErrUnauthorized("change this order")
	}
	if order.Status == change.Status && caller.IsSystem() {
		// Timers may fire more than once.
		return order, nil
	}
	// Only escrow funding moves an order to processing.
	if !order.Status.CanTransition(change.Status) || change.Status == models.OrderProcessing {
		return nil, ErrInvalidTransition(order.Status, change.Status)
	}
	if !mayTransition(order, change.Status, caller) {
		return nil, ErrUnauthorized("move this order to " + string(change.Status))
	}

	switch change.Status {
	case models.OrderCompleted:
		return s.complete(ctx, order, caller)
	case models.OrderCancelled:
		return s.cancel(ctx, order, caller, "order cancelled")
	case models.OrderDisputed:
		return s.dispute(ctx, order, caller)
	}

	now := s.now()
	op := ledger.TransitionOrder{OrderID: order.ID, From: order.Status, To: change.Status, At: now}
	if change.Status == models.OrderShipped {
		op.TrackingNumber = strings.TrimSpace(change.TrackingNumber)
		op.CourierName = strings.TrimSpace(change.CourierName)
	}
	if err := s.store.Commit(ctx, op); err != nil {
		return nil, commitError(err)
	}
	order.SetStatus(change.Status, now)
	if op.TrackingNumber != "" {
		order.TrackingNumber = op.TrackingNumber
	}
	if op.CourierName != "" {
		order.CourierName = op.CourierName
	}
	s.log.Info("order status changed", zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)), zap.String("by", caller.UserID))

	s.notifyStatus(ctx, order, caller)
	if order.Status == models.OrderDelivered {
		s.schedule(ctx, order.ID, EventAutoRelease, s.autoReleaseAfter)
	}
	return order, nil
}

// CancelOrder cancels before delivery; a funded escrow is refunded.
func (s *OrderService) CancelOrder(ctx context.Context, id string, caller models.Caller) (*models.Order, error) {
	return s.UpdateStatus(ctx, id, StatusChange{Status: models.OrderCancelled}, caller)
}

// ConfirmReceipt is the buyer's confirmation that completes the order and
// releases its escrow. Confirming a shipped order records the delivery too.
// Confirming a completed order again returns it.
func (s *OrderService) ConfirmReceipt(ctx context.Context, id string, caller models.Caller) (*models.Order, error) {
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != caller.UserID {
		return nil, ErrUnauthorized("confirm receipt of this order")
	}
	switch order.Status {
	case models.OrderCompleted:
		return order, nil
	case models.OrderShipped, models.OrderDelivered:
		return s.complete(ctx, order, caller)
	}
	return nil, ErrInvalidTransition(order.Status, models.OrderCompleted)
}

// Dispute freezes the order and its escrow until an admin resolves it.
func (s *OrderService) Dispute(ctx context.Context, id string, caller models.Caller) (*models.Order, error) {
	return s.UpdateStatus(ctx, id, StatusChange{Status: models.OrderDisputed}, caller)
}

// AutoComplete is the delivery timeout: a delivered order the buyer never
// confirmed is completed by the system. Orders in any other state are left
// alone.
func (s *OrderService) AutoComplete(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderDelivered && order.Status != models.OrderCompleted {
		return order, nil
	}
	return s.UpdateStatus(ctx, id, StatusChange{Status: models.OrderCompleted}, models.SystemCaller())
}

// ExpireUnpaid cancels an order whose payment never arrived.
func (s *OrderService) ExpireUnpaid(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPending {
		return order, nil
	}
	return s.UpdateStatus(ctx, id, StatusChange{Status: models.OrderCancelled}, models.SystemCaller())
}

// mayTransition encodes who may drive each edge of the graph.
func mayTransition(o *models.Order, to models.OrderStatus, caller models.Caller) bool {
	if caller.Privileged() {
		return true
	}
	buyer := o.BuyerID == caller.UserID
	seller := o.HasSeller(caller.UserID)
	switch to {
	case models.OrderShipped:
		return seller
	case models.OrderDelivered:
		return buyer || seller
	case models.OrderCompleted:
		return buyer && o.Status == models.OrderDelivered
	case models.OrderCancelled:
		return (buyer || seller) && o.Status != models.OrderDisputed
	case models.OrderDisputed:
		return buyer || seller
	}
	return false
}

func (s *OrderService) complete(ctx context.Context, order *models.Order, caller models.Caller) (*models.Order, error) {
	ops := completionOps(order, s.now())
	if order.RequiresEscrow() {
		_, changed, err := s.escrow.release(ctx, order, caller, ops)
		if err != nil {
			return nil, err
		}
		if !changed {
			return s.loadOrder(ctx, order.ID)
		}
	} else if err := s.store.Commit(ctx, ops...); err != nil {
		if current, cerr := s.store.Order(ctx, order.ID); cerr == nil && current.Status == models.OrderCompleted {
			return current, nil
		}
		return nil, commitError(err)
	}
	return s.reloadAndNotify(ctx, order, caller)
}

func (s *OrderService) cancel(ctx context.Context, order *models.Order, caller models.Caller, reason string) (*models.Order, error) {
	ops := cancelOps(order, s.now())
	if order.RequiresEscrow() && order.Status != models.OrderPending {
		escrow, err := s.loadEscrow(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if _, err := s.escrow.refund(ctx, order, escrow, caller, reason, ops...); err != nil {
			return nil, err
		}
	} else if err := s.store.Commit(ctx, ops...); err != nil {
		if current, cerr := s.store.Order(ctx, order.ID); cerr == nil && current.Status == models.OrderCancelled {
			return current, nil
		}
		return nil, commitError(err)
	}
	return s.reloadAndNotify(ctx, order, caller)
}

func (s *OrderService) dispute(ctx context.Context, order *models.Order, caller models.Caller) (*models.Order, error) {
	now := s.now()
	ops := []ledger.Op{ledger.TransitionOrder{OrderID: order.ID, From: order.Status, To: models.OrderDisputed, At: now}}
	if order.RequiresEscrow() {
		escrow, err := s.loadEscrow(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		switch escrow.Status {
		case models.EscrowFunded:
			ops = append(ops, ledger.TransitionEscrow{
				EscrowID: escrow.ID, From: models.EscrowFunded, To: models.EscrowDisputed, At: now,
			})
		case models.EscrowDisputed:
		default:
			return nil, ErrInvalidState("escrow is %s and cannot be disputed", escrow.Status)
		}
	}
	if err := s.store.Commit(ctx, ops...); err != nil {
		return nil, commitError(err)
	}
	s.log.Warn("order disputed", zap.String("order_id", order.ID), zap.String("by", caller.UserID))
	return s.reloadAndNotify(ctx, order, caller)
}

func (s *OrderService) reloadAndNotify(ctx context.Context, order *models.Order, caller models.Caller) (*models.Order, error) {
	updated, err := s.loadOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("order status changed", zap.String("order_id", updated.ID),
		zap.String("status", string(updated.Status)), zap.String("by", caller.UserID))
	s.notifyStatus(ctx, updated, caller)
	return updated, nil
}

// notifyStatus tells every party except the one who made the change.
func (s *OrderService) notifyStatus(ctx context.Context, order *models.Order, caller models.Caller) {
	recipients := append([]string{order.BuyerID}, order.SellerIDs()...)
	notes := make([]models.Notification, 0, len(recipients))
	for _, uid := range recipients {
		if uid == caller.UserID {
			continue
		}
		notes = append(notes, s.note(uid, models.NotifyOrderStatus,
			"Order "+string(order.Status), "Order "+order.ID+" is now "+string(order.Status)+".",
			orderLink(order.ID)))
	}
	s.notify(ctx, notes...)
}

// barterOrders builds the two zero-cash orders of an accepted barter: each
// party receives the other's product.
func (s *OrderService) barterOrders(ctx context.Context, p *models.BarterProposal, at time.Time) ([]*models.Order, []ledger.Op, error) {
	offered, err := s.loadProduct(ctx, p.ProposerProductID)
	if err != nil {
		return nil, nil, err
	}
	wanted, err := s.loadProduct(ctx, p.RecipientProductID)
	if err != nil {
		return nil, nil, err
	}
	if offered.SellerID != p.ProposerID || wanted.SellerID != p.RecipientID {
		return nil, nil, ErrInvalidState("a product in this proposal changed owner")
	}

	build := func(buyer string, product *models.Product) *models.Order {
		o := &models.Order{
			ID:      newID(),
			BuyerID: buyer,
			Kind:    models.OrderKindBarter,
			Items: []models.OrderItem{{
				ProductID: product.ID,
				SellerID:  product.SellerID,
				Title:     product.Title,
				Quantity:  1,
				Price:     decimal.Zero,
			}},
			TotalAmount: decimal.Zero,
			BarterID:    p.ID,
			CreatedAt:   at,
		}
		o.SetStatus(models.OrderProcessing, at)
		return o
	}
	orders := []*models.Order{build(p.ProposerID, wanted), build(p.RecipientID, offered)}
	ops := make([]ledger.Op, 0, 4)
	for _, o := range orders {
		ops = append(ops,
			ledger.InsertOrder{Order: o},
			ledger.AdjustStock{ProductID: o.Items[0].ProductID, Delta: -1},
		)
	}
	return orders, ops, nil
}

// stockError maps a failed Commit that reserved stock.
func stockError(err error) error {
	if errors.Is(err, ledger.ErrInsufficientStock) {
		if op, ok := ledger.FailedOp(err).(ledger.AdjustStock); ok {
			return ErrOutOfStock(op.ProductID)
		}
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return ErrNotFound("product")
	}
	return commitError(err)
}

