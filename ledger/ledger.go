// Package ledger defines the record store the settlement engines run on:
// point reads plus Commit, which applies a batch of conditional writes
// atomically or not at all.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/models"
)

var (
	ErrNotFound          = errors.New("ledger: record not found")
	ErrConditionFailed   = errors.New("ledger: precondition failed")
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	ErrDuplicate         = errors.New("ledger: duplicate record")
)

// OpError reports which operation of a batch failed. Unwrap yields one of the
// sentinel errors above or a driver error.
type OpError struct {
	Index int
	Op    Op
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("ledger: op %d (%s): %v", e.Index, e.Op.opName(), e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Op is one write in a batch. The set of implementations is closed.
type Op interface {
	opName() string
}

// InsertOrder stores a new order with its embedded items.
type InsertOrder struct {
	Order *models.Order
}

// TransitionOrder moves an order From -> To. It fails with
// ErrConditionFailed when the stored status is not From.
type TransitionOrder struct {
	OrderID        string
	From, To       models.OrderStatus
	At             time.Time
	TrackingNumber string
	CourierName    string
}

// InsertEscrow stores a funded escrow. A second non-terminal escrow for the
// same order fails with ErrDuplicate.
type InsertEscrow struct {
	Escrow *models.EscrowTransaction
}

type TransitionEscrow struct {
	EscrowID string
	From, To models.EscrowStatus
	At       time.Time
	Reason   string
}

type InsertProposal struct {
	Proposal *models.BarterProposal
}

type TransitionProposal struct {
	ProposalID string
	From, To   models.BarterStatus
	At         time.Time
}

// AdjustStock adds Delta to a product's available quantity. A negative delta
// fails with ErrInsufficientStock when it would go below zero.
type AdjustStock struct {
	ProductID string
	Delta     int
}

type InsertNotification struct {
	Notification models.Notification
}

// PutProduct inserts or replaces a catalog product.
type PutProduct struct {
	Product models.Product
}

func (InsertOrder) opName() string        { return "insert order" }
func (TransitionOrder) opName() string    { return "transition order" }
func (InsertEscrow) opName() string       { return "insert escrow" }
func (TransitionEscrow) opName() string   { return "transition escrow" }
func (InsertProposal) opName() string     { return "insert proposal" }
func (TransitionProposal) opName() string { return "transition proposal" }
func (AdjustStock) opName() string        { return "adjust stock" }
func (InsertNotification) opName() string { return "insert notification" }
func (PutProduct) opName() string         { return "put product" }

// Store is implemented by the in-memory store in this package and by the SQL
// store in package database.
type Store interface {
	Product(ctx context.Context, id string) (*models.Product, error)
	Order(ctx context.Context, id string) (*models.Order, error)
	OrdersByBuyer(ctx context.Context, buyerID string) ([]models.Order, error)
	// EscrowForOrder returns the most recent escrow of the order.
	EscrowForOrder(ctx context.Context, orderID string) (*models.EscrowTransaction, error)
	Proposal(ctx context.Context, id string) (*models.BarterProposal, error)
	ProposalsByUser(ctx context.Context, userID string) ([]models.BarterProposal, error)
	Commit(ctx context.Context, ops ...Op) error
}

// NotificationReader lists the notification records a store keeps.
type NotificationReader interface {
	NotificationsFor(ctx context.Context, userID string) ([]models.Notification, error)
}

// FailedOp returns the op that made a Commit fail, or nil.
func FailedOp(err error) Op {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Op
	}
	return nil
}
