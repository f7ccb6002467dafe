package model

import "time"

// WebhookEvent records every billing event the server accepted, with the
// processing outcome. Reconciliation is keyed on subscription state, not
// on these rows; they exist for operators chasing a delivery.
type WebhookEvent struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	StripeEventID   string    `json:"stripe_event_id" gorm:"index"`
	EventType       string    `json:"event_type" gorm:"index"`
	ProcessingError string    `json:"processing_error"`
	CreatedAt       time.Time `json:"created_at"`
}
