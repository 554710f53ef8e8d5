package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"settlement-service/ledger"
	"settlement-service/models"
)

type recorder struct {
	mu    sync.Mutex
	notes []models.Notification
}

func (r *recorder) Notify(_ context.Context, notes ...models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notes...)
}

func (r *recorder) all() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.notes...)
}

func (r *recorder) ofType(typ models.NotificationType) []models.Notification {
	var out []models.Notification
	for _, n := range r.all() {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) recipients() []string {
	var out []string
	for _, n := range r.all() {
		out = append(out, n.UserID)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = nil
}

type scheduled struct {
	event models.OrderEvent
	delay time.Duration
}

type fakeScheduler struct {
	mu     sync.Mutex
	events []scheduled
	err    error
}

func (f *fakeScheduler) PublishDelayedEvent(_ context.Context, ev models.OrderEvent, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, scheduled{event: ev, delay: delay})
	return nil
}

func (f *fakeScheduler) ofType(typ string) []scheduled {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []scheduled
	for _, s := range f.events {
		if s.event.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

type testEnv struct {
	store    *ledger.MemoryStore
	notes    *recorder
	sched    *fakeScheduler
	products *ProductService
	orders   *OrderService
	escrow   *EscrowService
	barters  *BarterService
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	var tick int64
	opts := Options{
		Notifier:  &recorder{},
		Scheduler: &fakeScheduler{},
		Clock: func() time.Time {
			return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Millisecond)
		},
		PaymentTimeout:   15 * time.Minute,
		AutoReleaseAfter: 72 * time.Hour,
	}
	store := ledger.NewMemoryStore()
	escrow := NewEscrowService(store, opts)
	orders := NewOrderService(store, escrow, opts)
	return &testEnv{
		store:    store,
		notes:    opts.Notifier.(*recorder),
		sched:    opts.Scheduler.(*fakeScheduler),
		products: NewProductService(store, opts),
		orders:   orders,
		escrow:   escrow,
		barters:  NewBarterService(store, orders, opts),
	}
}

func buyer(id string) models.Caller {
	return models.Caller{UserID: id, Roles: []string{models.RoleBuyer}}
}

func seller(id string) models.Caller {
	return models.Caller{UserID: id, Roles: []string{models.RoleSeller, models.RoleBuyer}}
}

var admin = models.Caller{UserID: "admin", Roles: []string{models.RoleAdmin}}

var testShipping = models.ShippingInfo{Name: "Ada Obi", Address: "1 Marina Rd", City: "Lagos"}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (e *testEnv) list(t *testing.T, id, sellerID, price string, qty int) {
	t.Helper()
	_, err := e.products.Put(context.Background(), id, seller(sellerID), ProductInput{
		Title: "Item " + id, Price: dec(price), QuantityAvailable: qty,
	})
	require.NoError(t, err)
}

func (e *testEnv) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := e.store.Product(context.Background(), id)
	require.NoError(t, err)
	return p.QuantityAvailable
}

func (e *testEnv) create(t *testing.T, buyerID string, items ...CartItem) *models.Order {
	t.Helper()
	o, err := e.orders.Create(context.Background(), buyer(buyerID), CreateOrderInput{Items: items, Shipping: testShipping})
	require.NoError(t, err)
	return o
}

// fundedOrder lists p1 ($10) and p2 ($5) for s1 and places a funded
// $25 order for b1.
func (e *testEnv) fundedOrder(t *testing.T) *models.Order {
	t.Helper()
	e.list(t, "p1", "s1", "10.00", 10)
	e.list(t, "p2", "s1", "5.00", 10)
	o := e.create(t, "b1", CartItem{ProductID: "p1", Quantity: 2}, CartItem{ProductID: "p2", Quantity: 1})
	_, err := e.escrow.Fund(context.Background(), o.ID, dec("25.00"), buyer("b1"))
	require.NoError(t, err)
	return o
}

func (e *testEnv) advance(t *testing.T, orderID string, caller models.Caller, to ...models.OrderStatus) {
	t.Helper()
	for _, status := range to {
		_, err := e.orders.UpdateStatus(context.Background(), orderID, StatusChange{Status: status}, caller)
		require.NoError(t, err, "to %s", status)
	}
}

func (e *testEnv) order(t *testing.T, id string) *models.Order {
	t.Helper()
	o, err := e.store.Order(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (e *testEnv) escrowOf(t *testing.T, orderID string) *models.EscrowTransaction {
	t.Helper()
	esc, err := e.store.EscrowForOrder(context.Background(), orderID)
	require.NoError(t, err)
	return esc
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "error: %v", err)
}
