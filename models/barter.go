package models

import "time"

type BarterStatus string

const (
	BarterPending   BarterStatus = "pending"
	BarterAccepted  BarterStatus = "accepted"
	BarterRejected  BarterStatus = "rejected"
	BarterCancelled BarterStatus = "cancelled"
)

func (s BarterStatus) Valid() bool {
	switch s {
	case BarterPending, BarterAccepted, BarterRejected, BarterCancelled:
		return true
	}
	return false
}

// Terminal is true for every status but pending.
func (s BarterStatus) Terminal() bool {
	return s.Valid() && s != BarterPending
}

type BarterProposal struct {
	ID                 string       `json:"id"`
	ProposerID         string       `json:"proposer_id"`
	RecipientID        string       `json:"recipient_id"`
	ProposerProductID  string       `json:"proposer_product_id"`
	RecipientProductID string       `json:"recipient_product_id"`
	Notes              string       `json:"notes,omitempty"`
	Status             BarterStatus `json:"status"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	CancelledAt        *time.Time   `json:"cancelled_at,omitempty"`
}
