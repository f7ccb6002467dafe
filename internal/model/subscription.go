package model

import "time"

// Subscription mirrors the Stripe subscription object. Written only by
// the webhook reconciler; read to decide license expiry.
type Subscription struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	CustomerID       string    `json:"customer_id" gorm:"index;not null"`
	StripeSubID      string    `json:"stripe_sub_id" gorm:"uniqueIndex;not null"`
	Status           string    `json:"status" gorm:"not null"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
