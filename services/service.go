package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"settlement-service/ledger"
	"settlement-service/models"
)

// Notifier accepts notification intents. Implementations must not block the
// caller and must not report delivery failures back to it.
type Notifier interface {
	Notify(ctx context.Context, notes ...models.Notification)
}

// Scheduler delivers an order event back to the service after delay.
type Scheduler interface {
	PublishDelayedEvent(ctx context.Context, event models.OrderEvent, delay time.Duration) error
}

type Options struct {
	Notifier  Notifier
	Scheduler Scheduler
	Logger    *zap.Logger
	Clock     func() time.Time

	// PaymentTimeout cancels orders that are still pending after it elapses.
	PaymentTimeout time.Duration
	// AutoReleaseAfter completes delivered orders the buyer never confirmed.
	AutoReleaseAfter time.Duration
}

// base carries the collaborators every engine shares.
type base struct {
	store     ledger.Store
	notifier  Notifier
	scheduler Scheduler
	log       *zap.Logger
	clock     func() time.Time
}

func newBase(store ledger.Store, opts Options, name string) base {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return base{
		store:     store,
		notifier:  opts.Notifier,
		scheduler: opts.Scheduler,
		log:       logger.Named(name),
		clock:     clock,
	}
}

func (b *base) now() time.Time {
	return b.clock().Truncate(time.Millisecond)
}

func newID() string {
	return uuid.NewString()
}

func (b *base) notify(ctx context.Context, notes ...models.Notification) {
	if b.notifier == nil || len(notes) == 0 {
		return
	}
	b.notifier.Notify(ctx, notes...)
}

func (b *base) note(userID string, typ models.NotificationType, title, message, link string) models.Notification {
	return models.Notification{
		ID:        newID(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Link:      link,
		CreatedAt: b.now(),
	}
}

// schedule publishes a delayed event; failures are logged only.
func (b *base) schedule(ctx context.Context, orderID, eventType string, delay time.Duration) {
	if b.scheduler == nil || delay <= 0 {
		return
	}
	ev := models.OrderEvent{OrderID: orderID, Type: eventType, Occurred: b.now()}
	if err := b.scheduler.PublishDelayedEvent(ctx, ev, delay); err != nil {
		b.log.Warn("schedule order event failed",
			zap.String("order_id", orderID), zap.String("event", eventType), zap.Error(err))
	}
}

// loadOrder maps a missing order to NotFound.
func (b *base) loadOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := b.store.Order(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrNotFound("order")
	}
	if err != nil {
		return nil, errInternal(err)
	}
	return o, nil
}

func (b *base) loadEscrow(ctx context.Context, orderID string) (*models.EscrowTransaction, error) {
	e, err := b.store.EscrowForOrder(ctx, orderID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrNotFound("escrow")
	}
	if err != nil {
		return nil, errInternal(err)
	}
	return e, nil
}

func (b *base) loadProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := b.store.Product(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrNotFound("product")
	}
	if err != nil {
		return nil, errInternal(err)
	}
	return p, nil
}

// commitError maps a failed Commit to a caller-visible error.
func commitError(err error) error {
	if errors.Is(err, ledger.ErrConditionFailed) || errors.Is(err, ledger.ErrDuplicate) {
		return ErrConflict("record changed concurrently, reload and retry")
	}
	return errInternal(err)
}

// isParty reports whether the caller is the buyer or one of the sellers.
func isParty(o *models.Order, caller models.Caller) bool {
	return o.BuyerID == caller.UserID || o.HasSeller(caller.UserID)
}

const (
	EventPaymentCheck = "payment_check"
	EventAutoRelease  = "auto_release"
)
