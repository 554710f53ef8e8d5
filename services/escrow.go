package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"settlement-service/ledger"
	"settlement-service/models"
)

// EscrowService holds buyer funds for an order between payment and
// fulfilment. Every status change is a compare-and-set on the escrow record,
// committed in the same batch as the order change it belongs to.
type EscrowService struct {
	base
}

func NewEscrowService(store ledger.Store, opts Options) *EscrowService {
	return &EscrowService{base: newBase(store, opts, "escrow")}
}

// Fund records the buyer's captured payment for orderID and moves the order
// from pending to processing.
func (s *EscrowService) Fund(ctx context.Context, orderID string, amount decimal.Decimal, caller models.Caller) (*models.EscrowTransaction, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != caller.UserID {
		return nil, ErrUnauthorized("fund this order")
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount("amount must be greater than zero")
	}
	if !amount.Equal(order.TotalAmount) {
		return nil, ErrInvalidAmount("amount %s does not match order total %s",
			amount.StringFixed(2), order.TotalAmount.StringFixed(2))
	}

	existing, err := s.store.EscrowForOrder(ctx, orderID)
	switch {
	case err == nil && !existing.Status.Terminal():
		return nil, ErrConflict("order already has an active escrow")
	case err != nil && !errors.Is(err, ledger.ErrNotFound):
		return nil, errInternal(err)
	}
	if order.Status != models.OrderPending {
		return nil, ErrInvalidState("order is %s and not awaiting payment", order.Status)
	}

	now := s.now()
	escrow := &models.EscrowTransaction{
		ID:        newID(),
		OrderID:   order.ID,
		Amount:    order.TotalAmount,
		Status:    models.EscrowFunded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.Commit(ctx,
		ledger.TransitionOrder{OrderID: order.ID, From: models.OrderPending, To: models.OrderProcessing, At: now},
		ledger.InsertEscrow{Escrow: escrow},
	)
	if err != nil {
		if errors.Is(err, ledger.ErrConditionFailed) || errors.Is(err, ledger.ErrDuplicate) {
			return nil, ErrConflict("order was funded or changed concurrently")
		}
		return nil, errInternal(err)
	}
	s.log.Info("escrow funded", zap.String("order_id", order.ID), zap.String("escrow_id", escrow.ID))

	notes := make([]models.Notification, 0)
	for _, seller := range order.SellerIDs() {
		notes = append(notes, s.note(seller, models.NotifyEscrowFunded,
			"Payment secured", "Payment for order "+order.ID+" is held in escrow. You can ship now.",
			orderLink(order.ID)))
	}
	s.notify(ctx, notes...)
	return escrow, nil
}

// Release pays the escrow out to the sellers and completes the order in the
// same commit. The buyer releases by confirming receipt; the system and admins
// release on timeout or dispute resolution. Releasing an already released
// escrow returns it unchanged.
func (s *EscrowService) Release(ctx context.Context, orderID string, caller models.Caller) (*models.EscrowTransaction, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != caller.UserID && !caller.Privileged() {
		return nil, ErrUnauthorized("release escrow for this order")
	}
	if order.Status == models.OrderProcessing || order.Status == models.OrderPending {
		return nil, ErrInvalidState("order is %s and has not shipped", order.Status)
	}
	escrow, _, err := s.release(ctx, order, caller, completionOps(order, s.now()))
	return escrow, err
}

// release moves the escrow to released together with orderOps, so the order
// change and the payout are never visible without each other. changed is
// false when a concurrent or earlier call already did the work.
func (s *EscrowService) release(ctx context.Context, order *models.Order, caller models.Caller, orderOps []ledger.Op) (escrow *models.EscrowTransaction, changed bool, err error) {
	escrow, err = s.loadEscrow(ctx, order.ID)
	if err != nil {
		return nil, false, err
	}
	completes := len(orderOps) > 0

	switch escrow.Status {
	case models.EscrowReleased:
		if !completes {
			return escrow, false, nil
		}
		if err := s.store.Commit(ctx, orderOps...); err != nil {
			if s.orderCompleted(ctx, order.ID, err) {
				return escrow, false, nil
			}
			return nil, false, commitError(err)
		}
		return escrow, true, nil
	case models.EscrowRefunded:
		return nil, false, ErrInvalidState("escrow has been refunded")
	case models.EscrowDisputed:
		if !caller.Privileged() {
			return nil, false, ErrInvalidState("escrow is frozen by a dispute")
		}
	}

	now := s.now()
	ops := append([]ledger.Op{ledger.TransitionEscrow{
		EscrowID: escrow.ID, From: escrow.Status, To: models.EscrowReleased, At: now,
	}}, orderOps...)
	if err := s.store.Commit(ctx, ops...); err != nil {
		if current := s.releasedAfterRace(ctx, order.ID, completes, err); current != nil {
			return current, false, nil
		}
		return nil, false, commitError(err)
	}
	escrow.Status = models.EscrowReleased
	escrow.UpdatedAt = now
	s.log.Info("escrow released", zap.String("order_id", order.ID),
		zap.String("escrow_id", escrow.ID), zap.String("by", caller.UserID))

	notes := make([]models.Notification, 0)
	for _, seller := range order.SellerIDs() {
		notes = append(notes, s.note(seller, models.NotifyEscrowReleased,
			"Funds released", "Escrow for order "+order.ID+" has been released to you.",
			orderLink(order.ID)))
	}
	s.notify(ctx, notes...)
	return escrow, true, nil
}

// releasedAfterRace returns the escrow when the commit lost against a
// concurrent request that already performed the same release. The loser then
// answers with the existing record and sends no notifications.
func (s *EscrowService) releasedAfterRace(ctx context.Context, orderID string, needCompleted bool, err error) *models.EscrowTransaction {
	if !errors.Is(err, ledger.ErrConditionFailed) {
		return nil
	}
	current, cerr := s.store.EscrowForOrder(ctx, orderID)
	if cerr != nil || current.Status != models.EscrowReleased {
		return nil
	}
	if needCompleted && !s.orderCompleted(ctx, orderID, err) {
		return nil
	}
	return current
}

func (s *EscrowService) orderCompleted(ctx context.Context, orderID string, err error) bool {
	if !errors.Is(err, ledger.ErrConditionFailed) {
		return false
	}
	o, oerr := s.store.Order(ctx, orderID)
	return oerr == nil && o.Status == models.OrderCompleted
}

// Refund returns the escrowed funds to the buyer and cancels the order.
// Sellers of the order, admins and the system may refund.
func (s *EscrowService) Refund(ctx context.Context, orderID string, caller models.Caller, reason string) (*models.EscrowTransaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrValidation(FieldError{Field: "reason", Message: "is required"})
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.HasSeller(caller.UserID) && !caller.Privileged() {
		return nil, ErrUnauthorized("refund this order")
	}
	escrow, err := s.loadEscrow(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if escrow.Status == models.EscrowRefunded {
		return escrow, nil
	}
	if !order.Status.CanTransition(models.OrderCancelled) {
		return nil, ErrInvalidState("order is %s and can no longer be refunded", order.Status)
	}
	return s.refund(ctx, order, escrow, caller, reason, cancelOps(order, s.now())...)
}

// refund moves escrow to refunded together with extra.
func (s *EscrowService) refund(ctx context.Context, order *models.Order, escrow *models.EscrowTransaction, caller models.Caller, reason string, extra ...ledger.Op) (*models.EscrowTransaction, error) {
	switch escrow.Status {
	case models.EscrowReleased:
		return nil, ErrInvalidState("escrow has already been released")
	case models.EscrowRefunded:
		return nil, ErrInvalidState("escrow has already been refunded")
	case models.EscrowDisputed:
		if !caller.Privileged() {
			return nil, ErrInvalidState("escrow is frozen by a dispute")
		}
	}
	now := s.now()
	ops := append([]ledger.Op{ledger.TransitionEscrow{
		EscrowID: escrow.ID, From: escrow.Status, To: models.EscrowRefunded, At: now, Reason: reason,
	}}, extra...)
	if err := s.store.Commit(ctx, ops...); err != nil {
		return nil, commitError(err)
	}
	escrow.Status = models.EscrowRefunded
	escrow.RefundReason = reason
	escrow.UpdatedAt = now
	s.log.Info("escrow refunded", zap.String("order_id", order.ID),
		zap.String("escrow_id", escrow.ID), zap.String("by", caller.UserID))

	s.notify(ctx, s.note(order.BuyerID, models.NotifyEscrowRefunded,
		"Payment refunded", "Your payment for order "+order.ID+" has been refunded: "+reason,
		orderLink(order.ID)))
	return escrow, nil
}

// Get returns the escrow of an order to its parties.
func (s *EscrowService) Get(ctx context.Context, orderID string, caller models.Caller) (*models.EscrowTransaction, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isParty(order, caller) && !caller.Privileged() {
		return nil, ErrUnauthorized("view this escrow")
	}
	return s.loadEscrow(ctx, orderID)
}

// completionOps moves an order to completed. A shipped order passes through
// delivered, which is what the buyer's confirmation of receipt implies.
func completionOps(order *models.Order, at time.Time) []ledger.Op {
	switch order.Status {
	case models.OrderShipped:
		return []ledger.Op{
			ledger.TransitionOrder{OrderID: order.ID, From: models.OrderShipped, To: models.OrderDelivered, At: at},
			ledger.TransitionOrder{OrderID: order.ID, From: models.OrderDelivered, To: models.OrderCompleted, At: at},
		}
	case models.OrderDelivered, models.OrderDisputed:
		return []ledger.Op{
			ledger.TransitionOrder{OrderID: order.ID, From: order.Status, To: models.OrderCompleted, At: at},
		}
	}
	return nil
}

// cancelOps moves an order to cancelled and puts its items back in stock.
func cancelOps(order *models.Order, at time.Time) []ledger.Op {
	ops := []ledger.Op{ledger.TransitionOrder{
		OrderID: order.ID, From: order.Status, To: models.OrderCancelled, At: at,
	}}
	for _, item := range order.Items {
		ops = append(ops, ledger.AdjustStock{ProductID: item.ProductID, Delta: item.Quantity})
	}
	return ops
}

func orderLink(id string) string { return "/orders/" + id }
