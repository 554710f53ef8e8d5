package models

import "time"

type NotificationType string

const (
	NotifyOrderCreated    NotificationType = "order_created"
	NotifyOrderStatus     NotificationType = "order_status"
	NotifyEscrowFunded    NotificationType = "escrow_funded"
	NotifyEscrowReleased  NotificationType = "escrow_released"
	NotifyEscrowRefunded  NotificationType = "escrow_refunded"
	NotifyBarterProposed  NotificationType = "barter_proposed"
	NotifyBarterAccepted  NotificationType = "barter_accepted"
	NotifyBarterRejected  NotificationType = "barter_rejected"
	NotifyBarterCancelled NotificationType = "barter_cancelled"
)

// Notification is an intent to tell a user something. Delivery and read state
// belong to the notification channel.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Link      string           `json:"link"`
	CreatedAt time.Time        `json:"created_at"`
	Read      bool             `json:"read"`
}
