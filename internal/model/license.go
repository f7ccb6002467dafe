package model

import "time"

// License statuses. Transitions are monotonic except cancelled to active
// via explicit reactivation from the billing reconciler.
const (
	LicenseStatusActive    = "active"
	LicenseStatusSuspended = "suspended"
	LicenseStatusCancelled = "cancelled"
	LicenseStatusExpired   = "expired"
)

// License is the entitlement unit: one secret key, a tier, and a seat
// budget. UsedSeats is a denormalized counter kept consistent with the
// seat rows by the store; handlers never write it directly.
type License struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	CustomerID string     `json:"customer_id" gorm:"index;not null"`
	Key        string     `json:"key" gorm:"uniqueIndex;not null"`
	Tier       string     `json:"tier" gorm:"not null"`
	Status     string     `json:"status" gorm:"not null;default:'active'"`
	MaxSeats   int        `json:"max_seats" gorm:"not null"`
	UsedSeats  int        `json:"used_seats" gorm:"not null;default:0"`
	ExpiresAt  *time.Time `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (l *License) TierEnum() Tier {
	return ParseTier(l.Tier)
}

// Expired reports whether the license itself is past its expiry.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}
