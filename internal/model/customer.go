package model

import "time"

// Customer is the identity record a license hangs off. Created on first
// billing signup; never deleted. Tier here is advisory, the authoritative
// tier lives on the License.
type Customer struct {
	ID               string    `json:"id" gorm:"primaryKey"`
	Email            string    `json:"email" gorm:"uniqueIndex;not null"`
	Company          string    `json:"company"`
	StripeCustomerID string    `json:"stripe_customer_id" gorm:"index"`
	Tier             string    `json:"tier" gorm:"default:'free'"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
