package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTransitions(t *testing.T) {
	edges := [][2]OrderStatus{
		{OrderPending, OrderProcessing},
		{OrderPending, OrderCancelled},
		{OrderProcessing, OrderShipped},
		{OrderProcessing, OrderCancelled},
		{OrderProcessing, OrderDisputed},
		{OrderShipped, OrderDelivered},
		{OrderShipped, OrderCancelled},
		{OrderShipped, OrderDisputed},
		{OrderDelivered, OrderCompleted},
		{OrderDelivered, OrderDisputed},
		{OrderDisputed, OrderCompleted},
		{OrderDisputed, OrderCancelled},
	}
	allowed := make(map[[2]OrderStatus]bool, len(edges))
	for _, e := range edges {
		allowed[e] = true
	}
	all := []OrderStatus{OrderPending, OrderProcessing, OrderShipped, OrderDelivered,
		OrderCompleted, OrderCancelled, OrderDisputed}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]OrderStatus{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, OrderCompleted.Terminal())
	assert.True(t, OrderCancelled.Terminal())
	assert.False(t, OrderDisputed.Terminal())
	assert.False(t, OrderStatus("lost").Valid())
	assert.False(t, OrderStatus("lost").Terminal())
}

func TestEscrowTransitions(t *testing.T) {
	assert.True(t, EscrowFunded.CanTransition(EscrowReleased))
	assert.True(t, EscrowFunded.CanTransition(EscrowDisputed))
	assert.True(t, EscrowDisputed.CanTransition(EscrowRefunded))
	assert.False(t, EscrowReleased.CanTransition(EscrowRefunded))
	assert.False(t, EscrowRefunded.CanTransition(EscrowFunded))
	assert.True(t, EscrowReleased.Terminal())
	assert.False(t, EscrowDisputed.Terminal())
}

func TestBarterTerminal(t *testing.T) {
	assert.False(t, BarterPending.Terminal())
	for _, s := range []BarterStatus{BarterAccepted, BarterRejected, BarterCancelled} {
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, BarterStatus("maybe").Valid())
}

func TestSumItems(t *testing.T) {
	items := []OrderItem{
		{ProductID: "a", SellerID: "s1", Quantity: 2, Price: decimal.RequireFromString("10.00")},
		{ProductID: "b", SellerID: "s2", Quantity: 1, Price: decimal.RequireFromString("5.00")},
		{ProductID: "c", SellerID: "s1", Quantity: 3, Price: decimal.RequireFromString("0.10")},
	}
	assert.True(t, decimal.RequireFromString("25.30").Equal(SumItems(items)))
	assert.True(t, SumItems(nil).IsZero())

	o := &Order{Items: items, TotalAmount: SumItems(items)}
	assert.Equal(t, []string{"s1", "s2"}, o.SellerIDs())
	assert.True(t, o.HasSeller("s2"))
	assert.False(t, o.HasSeller("s3"))
	assert.True(t, o.RequiresEscrow())
	assert.False(t, (&Order{TotalAmount: decimal.Zero}).RequiresEscrow())
}

func TestSetStatusStampsTimestamp(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	o := &Order{Status: OrderProcessing}

	o.SetStatus(OrderShipped, at)
	require.NotNil(t, o.ShippedAt)
	assert.Equal(t, at, *o.ShippedAt)
	assert.Equal(t, at, o.UpdatedAt)
	assert.Nil(t, o.DeliveredAt)

	later := at.Add(time.Hour)
	o.SetStatus(OrderDelivered, later)
	require.NotNil(t, o.DeliveredAt)
	assert.Equal(t, later, *o.DeliveredAt)
	assert.Equal(t, at, *o.ShippedAt)
}

func TestCallerRoles(t *testing.T) {
	c := Caller{UserID: "u1", Roles: []string{RoleBuyer}}
	assert.False(t, c.Privileged())
	assert.True(t, Caller{UserID: "a", Roles: []string{RoleAdmin}}.Privileged())
	assert.True(t, SystemCaller().IsSystem())
	assert.True(t, SystemCaller().Privileged())
}
