package model

import "time"

// Seat binds one machine to a license. Uniqueness on (license_id,
// machine_id) makes re-activation idempotent: the same machine can
// validate any number of times without consuming another seat.
// Revocation soft-deletes (IsActive=false) so history survives.
type Seat struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	LicenseID string    `json:"license_id" gorm:"uniqueIndex:idx_license_machine;not null"`
	MachineID string    `json:"machine_id" gorm:"uniqueIndex:idx_license_machine;not null"`
	Hostname  string    `json:"hostname"`
	OS        string    `json:"os"`
	Arch      string    `json:"arch"`
	IsActive  bool      `json:"is_active" gorm:"not null;default:true"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// SeatMetadata is the informational device description a client sends
// along with its machine id. Never used for enforcement.
type SeatMetadata struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
}
