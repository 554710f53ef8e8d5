// Package ledgertest holds the behaviour every ledger.Store must share.
package ledgertest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-service/ledger"
	"settlement-service/models"
)

// Run executes the store suite against stores built by newStore. Each subtest
// gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Run("ProductRoundTrip", func(t *testing.T) { testProductRoundTrip(t, newStore(t)) })
	t.Run("OrderRoundTrip", func(t *testing.T) { testOrderRoundTrip(t, newStore(t)) })
	t.Run("TransitionCompareAndSet", func(t *testing.T) { testTransitionCAS(t, newStore(t)) })
	t.Run("BatchIsAtomic", func(t *testing.T) { testBatchAtomic(t, newStore(t)) })
	t.Run("SingleActiveEscrow", func(t *testing.T) { testSingleActiveEscrow(t, newStore(t)) })
	t.Run("StockNeverNegative", func(t *testing.T) { testStock(t, newStore(t)) })
	t.Run("Proposals", func(t *testing.T) { testProposals(t, newStore(t)) })
}

var epoch = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func Product(id, seller, price string, qty int) models.Product {
	return models.Product{
		ID:                id,
		SellerID:          seller,
		Title:             "Item " + id,
		Price:             decimal.RequireFromString(price),
		QuantityAvailable: qty,
	}
}

func pendingOrder(id, buyer string, p models.Product, qty int) *models.Order {
	items := []models.OrderItem{{
		ProductID: p.ID, SellerID: p.SellerID, Title: p.Title, Quantity: qty, Price: p.Price,
	}}
	return &models.Order{
		ID:          id,
		BuyerID:     buyer,
		Kind:        models.OrderKindSale,
		Items:       items,
		TotalAmount: models.SumItems(items),
		Status:      models.OrderPending,
		Shipping:    models.ShippingInfo{Name: "Ada", Address: "1 Main St", City: "Lagos"},
		CreatedAt:   epoch,
		UpdatedAt:   epoch,
	}
}

func escrow(id, orderID string, amount decimal.Decimal) *models.EscrowTransaction {
	return &models.EscrowTransaction{
		ID: id, OrderID: orderID, Amount: amount, Status: models.EscrowFunded,
		CreatedAt: epoch, UpdatedAt: epoch,
	}
}

func testProductRoundTrip(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	p := Product("p1", "seller", "19.99", 3)
	require.NoError(t, s.Commit(ctx, ledger.PutProduct{Product: p}))

	got, err := s.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "seller", got.SellerID)
	assert.True(t, p.Price.Equal(got.Price))
	assert.Equal(t, 3, got.QuantityAvailable)

	p.QuantityAvailable = 5
	require.NoError(t, s.Commit(ctx, ledger.PutProduct{Product: p}))
	got, err = s.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.QuantityAvailable)

	_, err = s.Product(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testOrderRoundTrip(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	p := Product("p1", "seller", "12.50", 5)
	require.NoError(t, s.Commit(ctx, ledger.PutProduct{Product: p}))

	o := pendingOrder("o1", "buyer", p, 2)
	require.NoError(t, s.Commit(ctx, ledger.InsertOrder{Order: o}))

	got, err := s.Order(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "buyer", got.BuyerID)
	assert.Equal(t, models.OrderPending, got.Status)
	assert.True(t, decimal.RequireFromString("25.00").Equal(got.TotalAmount))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "seller", got.Items[0].SellerID)
	assert.Equal(t, "Lagos", got.Shipping.City)
	assert.True(t, epoch.Equal(got.CreatedAt))

	list, err := s.OrdersByBuyer(ctx, "buyer")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = s.OrdersByBuyer(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)

	err = s.Commit(ctx, ledger.InsertOrder{Order: o})
	assert.ErrorIs(t, err, ledger.ErrDuplicate)
}

func testTransitionCAS(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	p := Product("p1", "seller", "10", 5)
	o := pendingOrder("o1", "buyer", p, 1)
	require.NoError(t, s.Commit(ctx, ledger.PutProduct{Product: p}, ledger.InsertOrder{Order: o}))

	at := epoch.Add(time.Minute)
	require.NoError(t, s.Commit(ctx, ledger.TransitionOrder{
		OrderID: "o1", From: models.OrderPending, To: models.OrderProcessing, At: at,
	}))
	err := s.Commit(ctx, ledger.TransitionOrder{
		OrderID: "o1", From: models.OrderPending, To: models.OrderCancelled, At: at,
	})
	assert.ErrorIs(t, err, ledger.ErrConditionFailed)

	var opErr *ledger.OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, 0, opErr.Index)

	err = s.Commit(ctx, ledger.TransitionOrder{
		OrderID: "missing", From: models.OrderPending, To: models.OrderCancelled, At: at,
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	shipped := epoch.Add(2 * time.Minute)
	require.NoError(t, s.Commit(ctx, ledger.TransitionOrder{
		OrderID: "o1", From: models.OrderProcessing, To: models.OrderShipped, At: shipped,
		TrackingNumber: "TRK1", CourierName: "DHL",
	}))
	got, err := s.Order(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderShipped, got.Status)
	assert.Equal(t, "TRK1", got.TrackingNumber)
	assert.Equal(t, "DHL", got.CourierName)
	require.NotNil(t, got.ConfirmedAt)
	require.NotNil(t, got.ShippedAt)
	assert.True(t, shipped.Equal(*got.ShippedAt))
	assert.True(t, shipped.Equal(got.UpdatedAt))
}

func testBatchAtomic(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	p := Product("p1", "seller", "10", 5)
	o := pendingOrder("o1", "buyer", p, 1)
	require.NoError(t, s.Commit(ctx, ledger.PutProduct{Product: p}, ledger.InsertOrder{Order: o}))

	// The second op fails, so the first must not be visible.
	err := s.Commit(ctx,
		ledger.TransitionOrder{OrderID: "o1", From: models.OrderPending, To: models.OrderProcessing, At: epoch},
		ledger.InsertEscrow{Escrow: escrow("e1", "o1", o.TotalAmount)},
		ledger.AdjustStock{ProductID: "p1", Delta: -10},
	)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	assert.Equal(t, ledger.AdjustStock{ProductID: "p1", Delta: -10}, ledger.FailedOp(err))

	got, err := s.Order(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status)
	_, err = s.EscrowForOrder(ctx, "o1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	prod, err := s.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, prod.QuantityAvailable)
}

func testSingleActiveEscrow(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	p := Product("p1", "seller", "10", 5)
	o := pendingOrder("o1", "buyer", p, 1)
	require.NoError(t, s.Commit(ctx, ledger.PutProduct{Product: p}, ledger.InsertOrder{Order: o}))
	require.NoError(t, s.Commit(ctx, ledger.InsertEscrow{Escrow: escrow("e1", "o1", o.TotalAmount)}))

	err := s.Commit(ctx, ledger.InsertEscrow{Escrow: escrow("e2", "o1", o.TotalAmount)})
	assert.ErrorIs(t, err, ledger.ErrDuplicate)

	at := epoch.Add(time.Hour)
	require.NoError(t, s.Commit(ctx, ledger.TransitionEscrow{
		EscrowID: "e1", From: models.EscrowFunded, To: models.EscrowRefunded, At: at, Reason: "damaged",
	}))
	got, err := s.EscrowForOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.EscrowRefunded, got.Status)
	assert.Equal(t, "damaged", got.RefundReason)
	assert.True(t, at.Equal(got.UpdatedAt))

	err = s.Commit(ctx, ledger.TransitionEscrow{
		EscrowID: "e1", From: models.EscrowFunded, To: models.EscrowReleased, At: at,
	})
	assert.ErrorIs(t, err, ledger.ErrConditionFailed)

	// A terminal escrow no longer blocks a new one.
	e3 := escrow("e3", "o1", o.TotalAmount)
	e3.CreatedAt = at.Add(time.Minute)
	require.NoError(t, s.Commit(ctx, ledger.InsertEscrow{Escrow: e3}))
	got, err = s.EscrowForOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "e3", got.ID)
}

func testStock(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, ledger.PutProduct{Product: Product("p1", "seller", "1", 2)}))

	require.NoError(t, s.Commit(ctx, ledger.AdjustStock{ProductID: "p1", Delta: -2}))
	err := s.Commit(ctx, ledger.AdjustStock{ProductID: "p1", Delta: -1})
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
	require.NoError(t, s.Commit(ctx, ledger.AdjustStock{ProductID: "p1", Delta: 3}))

	p, err := s.Product(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.QuantityAvailable)

	err = s.Commit(ctx, ledger.AdjustStock{ProductID: "missing", Delta: -1})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testProposals(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	prop := &models.BarterProposal{
		ID: "b1", ProposerID: "alice", RecipientID: "bob",
		ProposerProductID: "pa", RecipientProductID: "pb",
		Notes: "swap?", Status: models.BarterPending,
		CreatedAt: epoch, UpdatedAt: epoch,
	}
	require.NoError(t, s.Commit(ctx, ledger.InsertProposal{Proposal: prop}))

	at := epoch.Add(time.Minute)
	require.NoError(t, s.Commit(ctx, ledger.TransitionProposal{
		ProposalID: "b1", From: models.BarterPending, To: models.BarterCancelled, At: at,
	}))
	err := s.Commit(ctx, ledger.TransitionProposal{
		ProposalID: "b1", From: models.BarterPending, To: models.BarterAccepted, At: at,
	})
	assert.ErrorIs(t, err, ledger.ErrConditionFailed)

	got, err := s.Proposal(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.BarterCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	assert.True(t, at.Equal(*got.CancelledAt))

	for _, user := range []string{"alice", "bob"} {
		list, err := s.ProposalsByUser(ctx, user)
		require.NoError(t, err)
		assert.Len(t, list, 1, user)
	}
	list, err := s.ProposalsByUser(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, list)
}
