package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"settlement-service/ledger"
	"settlement-service/models"
)

func TestSaleHappyPath(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.list(t, "p1", "s1", "10.00", 10)
	e.list(t, "p2", "s1", "5.00", 10)

	o := e.create(t, "b1", CartItem{ProductID: "p1", Quantity: 2}, CartItem{ProductID: "p2", Quantity: 1})
	assert.True(t, dec("25.00").Equal(o.TotalAmount))
	assert.Equal(t, models.OrderPending, o.Status)

	esc, err := e.escrow.Fund(ctx, o.ID, dec("25.00"), buyer("b1"))
	require.NoError(t, err)
	assert.Equal(t, models.EscrowFunded, esc.Status)
	assert.True(t, dec("25").Equal(esc.Amount))
	assert.Equal(t, models.OrderProcessing, e.order(t, o.ID).Status)

	shipped, err := e.orders.UpdateStatus(ctx, o.ID, StatusChange{
		Status: models.OrderShipped, TrackingNumber: "TRK1", CourierName: "GIG",
	}, seller("s1"))
	require.NoError(t, err)
	assert.Equal(t, "TRK1", shipped.TrackingNumber)

	done, err := e.orders.ConfirmReceipt(ctx, o.ID, buyer("b1"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, done.Status)
	assert.NotNil(t, done.DeliveredAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, models.EscrowReleased, e.escrowOf(t, o.ID).Status)
	assert.Len(t, e.notes.ofType(models.NotifyEscrowReleased), 1)
}

func TestFundWrongAmount(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.list(t, "p1", "s1", "10.00", 10)
	e.list(t, "p2", "s1", "5.00", 10)
	o := e.create(t, "b1", CartItem{ProductID: "p1", Quantity: 2}, CartItem{ProductID: "p2", Quantity: 1})

	_, err := e.escrow.Fund(ctx, o.ID, dec("24.00"), buyer("b1"))
	requireKind(t, err, KindInvalidAmount)
	_, err = e.escrow.Fund(ctx, o.ID, dec("0"), buyer("b1"))
	requireKind(t, err, KindInvalidAmount)
	_, err = e.escrow.Fund(ctx, o.ID, dec("-25"), buyer("b1"))
	requireKind(t, err, KindInvalidAmount)

	_, err = e.store.EscrowForOrder(ctx, o.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, models.OrderPending, e.order(t, o.ID).Status)
}

func TestFundErrors(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.fundedOrder(t)

	_, err := e.escrow.Fund(ctx, "missing", dec("25"), buyer("b1"))
	requireKind(t, err, KindNotFound)
	_, err = e.escrow.Fund(ctx, o.ID, dec("25"), buyer("b2"))
	requireKind(t, err, KindUnauthorized)
	_, err = e.escrow.Fund(ctx, o.ID, dec("25"), buyer("b1"))
	requireKind(t, err, KindConflict)
}

func TestFundAfterCancelIsInvalidState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.list(t, "p1", "s1", "10.00", 10)
	o := e.create(t, "b1", CartItem{ProductID: "p1", Quantity: 1})
	_, err := e.orders.CancelOrder(ctx, o.ID, buyer("b1"))
	require.NoError(t, err)

	_, err = e.escrow.Fund(ctx, o.ID, dec("10"), buyer("b1"))
	requireKind(t, err, KindInvalidState)
}

func TestConcurrentFundCreatesOneEscrow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.list(t, "p1", "s1", "10.00", 10)
	o := e.create(t, "b1", CartItem{ProductID: "p1", Quantity: 1})

	const n = 8
	errs := make([]error, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, errs[i] = e.escrow.Fund(ctx, o.ID, dec("10"), buyer("b1"))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.Contains(t, []Kind{KindConflict, KindInvalidState}, KindOf(err))
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, e.notes.ofType(models.NotifyEscrowFunded), 1)
}

func TestConcurrentReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.fundedOrder(t)
	e.advance(t, o.ID, seller("s1"), models.OrderShipped, models.OrderDelivered)
	e.notes.reset()

	const n = 10
	results := make([]*models.EscrowTransaction, n)
	errs := make([]error, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		caller := buyer("b1")
		if i%2 == 1 {
			caller = models.SystemCaller()
		}
		g.Go(func() error {
			results[i], errs[i] = e.escrow.Release(ctx, o.ID, caller)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, models.EscrowReleased, results[i].Status)
		assert.True(t, dec("25").Equal(results[i].Amount))
	}
	assert.Len(t, e.notes.ofType(models.NotifyEscrowReleased), 1)
	assert.Equal(t, models.OrderCompleted, e.order(t, o.ID).Status)
	assert.True(t, dec("25").Equal(e.escrowOf(t, o.ID).Amount))
}

func TestConcurrentConfirmReceiptNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.fundedOrder(t)
	e.advance(t, o.ID, seller("s1"), models.OrderShipped, models.OrderDelivered)
	e.notes.reset()

	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			_, err := e.orders.ConfirmReceipt(ctx, o.ID, buyer("b1"))
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, e.notes.ofType(models.NotifyEscrowReleased), 1)
	assert.Len(t, e.notes.ofType(models.NotifyOrderStatus), 1)
}

func TestReleaseRules(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.fundedOrder(t)

	_, err := e.escrow.Release(ctx, o.ID, seller("s1"))
	requireKind(t, err, KindUnauthorized)
	_, err = e.escrow.Release(ctx, o.ID, buyer("b1"))
	requireKind(t, err, KindInvalidState)

	e.advance(t, o.ID, seller("s1"), models.OrderShipped)
	esc, err := e.escrow.Release(ctx, o.ID, buyer("b1"))
	require.NoError(t, err)
	assert.Equal(t, models.EscrowReleased, esc.Status)
	assert.Equal(t, models.OrderCompleted, e.order(t, o.ID).Status)

	again, err := e.escrow.Release(ctx, o.ID, buyer("b1"))
	require.NoError(t, err)
	assert.Equal(t, esc.ID, again.ID)
	assert.Len(t, e.notes.ofType(models.NotifyEscrowReleased), 1)

	_, err = e.escrow.Refund(ctx, o.ID, seller("s1"), "changed my mind")
	requireKind(t, err, KindInvalidState)
}

func TestReleaseWithoutEscrow(t *testing.T) {
	e := newEnv(t)
	e.list(t, "p1", "s1", "10.00", 10)
	o := e.create(t, "b1", CartItem{ProductID: "p1", Quantity: 1})
	_, err := e.escrow.Release(context.Background(), o.ID, buyer("b1"))
	requireKind(t, err, KindInvalidState)

	_, err = e.escrow.Get(context.Background(), o.ID, buyer("b1"))
	requireKind(t, err, KindNotFound)
}

func TestRefundCancelsAndRestocks(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.fundedOrder(t)
	require.Equal(t, 8, e.stock(t, "p1"))

	_, err := e.escrow.Refund(ctx, o.ID, seller("s1"), "  ")
	requireKind(t, err, KindValidation)
	_, err = e.escrow.Refund(ctx, o.ID, buyer("b1"), "want it back")
	requireKind(t, err, KindUnauthorized)

	esc, err := e.escrow.Refund(ctx, o.ID, seller("s1"), "out of stock in warehouse")
	require.NoError(t, err)
	assert.Equal(t, models.EscrowRefunded, esc.Status)
	assert.Equal(t, "out of stock in warehouse", esc.RefundReason)
	assert.Equal(t, models.OrderCancelled, e.order(t, o.ID).Status)
	assert.Equal(t, 10, e.stock(t, "p1"))
	assert.Equal(t, 10, e.stock(t, "p2"))

	refunds := e.notes.ofType(models.NotifyEscrowRefunded)
	require.Len(t, refunds, 1)
	assert.Equal(t, "b1", refunds[0].UserID)

	again, err := e.escrow.Refund(ctx, o.ID, seller("s1"), "again")
	require.NoError(t, err)
	assert.Equal(t, models.EscrowRefunded, again.Status)
	assert.Len(t, e.notes.ofType(models.NotifyEscrowRefunded), 1)

	_, err = e.escrow.Release(ctx, o.ID, models.SystemCaller())
	requireKind(t, err, KindInvalidState)
}

func TestRefundAfterDeliveryIsInvalidState(t *testing.T) {
	e := newEnv(t)
	o := e.fundedOrder(t)
	e.advance(t, o.ID, seller("s1"), models.OrderShipped, models.OrderDelivered)

	_, err := e.escrow.Refund(context.Background(), o.ID, seller("s1"), "late")
	requireKind(t, err, KindInvalidState)
	assert.Equal(t, models.EscrowFunded, e.escrowOf(t, o.ID).Status)
}

func TestGetEscrowVisibility(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	o := e.fundedOrder(t)

	for _, c := range []models.Caller{buyer("b1"), seller("s1"), admin} {
		esc, err := e.escrow.Get(ctx, o.ID, c)
		require.NoError(t, err, c.UserID)
		assert.Equal(t, o.ID, esc.OrderID)
	}
	_, err := e.escrow.Get(ctx, o.ID, buyer("stranger"))
	requireKind(t, err, KindUnauthorized)
}
