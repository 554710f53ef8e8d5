package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-service/models"
)

func TestProductPut(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	p, err := e.products.Put(ctx, " lamp ", seller("s1"), ProductInput{
		SellerID: "someone-else", Title: " Desk lamp ", Price: dec("19.99"), QuantityAvailable: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, "lamp", p.ID)
	assert.Equal(t, "s1", p.SellerID)
	assert.Equal(t, "Desk lamp", p.Title)

	got, err := e.products.Get(ctx, "lamp")
	require.NoError(t, err)
	assert.True(t, dec("19.99").Equal(got.Price))
	assert.Equal(t, 4, got.QuantityAvailable)

	_, err = e.products.Put(ctx, "lamp", seller("s2"), ProductInput{Title: "Mine now", Price: dec("1")})
	requireKind(t, err, KindUnauthorized)
	_, err = e.products.Put(ctx, "rug", buyer("b1"), ProductInput{Title: "Rug", Price: dec("1")})
	requireKind(t, err, KindUnauthorized)

	edited, err := e.products.Put(ctx, "lamp", admin, ProductInput{Title: "Brass desk lamp", Price: dec("21"), QuantityAvailable: 4})
	require.NoError(t, err)
	assert.Equal(t, "s1", edited.SellerID)
	assert.Equal(t, "Brass desk lamp", edited.Title)
	got, err = e.products.Get(ctx, "lamp")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SellerID)

	created, err := e.products.Put(ctx, "stool", admin, ProductInput{Title: "Stool", Price: dec("5")})
	require.NoError(t, err)
	assert.Equal(t, "admin", created.SellerID)

	moved, err := e.products.Put(ctx, "lamp", admin, ProductInput{SellerID: "s2", Title: "Desk lamp", Price: dec("18")})
	require.NoError(t, err)
	assert.Equal(t, "s2", moved.SellerID)

	_, err = e.products.Get(ctx, "missing")
	requireKind(t, err, KindNotFound)
}

func TestProductPutValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.products.Put(ctx, "x", seller("s1"), ProductInput{Title: "  ", Price: dec("1")})
	requireKind(t, err, KindValidation)
	assert.Equal(t, "title", err.(*Error).Fields[0].Field)

	_, err = e.products.Put(ctx, "x", seller("s1"), ProductInput{Title: "Thing", QuantityAvailable: -1})
	requireKind(t, err, KindValidation)
	assert.Equal(t, "quantity_available", err.(*Error).Fields[0].Field)

	_, err = e.products.Put(ctx, strings.Repeat("a", 65), seller("s1"), ProductInput{Title: "Thing"})
	requireKind(t, err, KindValidation)

	_, err = e.products.Put(ctx, "x", seller("s1"), ProductInput{Title: "Thing", Price: dec("-0.01")})
	requireKind(t, err, KindInvalidAmount)
}

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindOutOfStock, KindOf(ErrOutOfStock("p1")))
	assert.True(t, IsKind(ErrSelfBarter(), KindSelfBarter))
	assert.False(t, IsKind(nil, KindInternal))

	cause := errors.New("disk full")
	err := errInternal(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal: internal error", err.Error())

	v := ErrValidation(FieldError{Field: "items", Message: "is required"})
	assert.Equal(t, "validation_error: request is invalid (items: is required)", v.Error())

	assert.Contains(t, ErrInvalidTransition(models.OrderPending, models.OrderShipped).Error(), "pending to shipped")
}
