package model

import "time"

// AuditEntry is the append-only record of every mutating action. Rows
// are never updated or deleted. ActorCustomerID is empty for anonymous
// or system actions (webhook deliveries, failed ownership checks).
type AuditEntry struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	ActorCustomerID string    `json:"actor_customer_id" gorm:"index"`
	Action          string    `json:"action" gorm:"index;not null"`
	ResourceType    string    `json:"resource_type"`
	ResourceID      string    `json:"resource_id" gorm:"index"`
	IPAddress       string    `json:"ip_address"`
	UserAgent       string    `json:"user_agent"`
	Details         string    `json:"details"`
	CreatedAt       time.Time `json:"created_at"`
}
