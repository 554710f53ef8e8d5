package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EscrowStatus string

const (
	EscrowFunded   EscrowStatus = "funded"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
	EscrowDisputed EscrowStatus = "disputed"
)

var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowFunded:   {EscrowReleased, EscrowRefunded, EscrowDisputed},
	EscrowDisputed: {EscrowReleased, EscrowRefunded},
	EscrowReleased: nil,
	EscrowRefunded: nil,
}

func (s EscrowStatus) Valid() bool {
	_, ok := escrowTransitions[s]
	return ok
}

func (s EscrowStatus) Terminal() bool {
	return s.Valid() && len(escrowTransitions[s]) == 0
}

func (s EscrowStatus) CanTransition(to EscrowStatus) bool {
	for _, next := range escrowTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// EscrowTransaction holds a buyer's funds for one order until release or refund.
type EscrowTransaction struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	Amount       decimal.Decimal `json:"amount"`
	Status       EscrowStatus    `json:"status"`
	RefundReason string          `json:"refund_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
