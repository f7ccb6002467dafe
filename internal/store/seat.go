package store

import (
	"errors"
	"fmt"
	"time"

	"omg-license-server/internal/model"

	"gorm.io/gorm"
)

// TryAllocateSeat binds a machine to a license, consuming one seat.
//
// The seat budget is enforced by a single conditional UPDATE
// ("used_seats = used_seats + 1 WHERE used_seats < max_seats") evaluated
// by the database, so concurrent activations against a near-full license
// cannot together exceed max_seats. Re-activating an already bound
// machine only touches last_seen and reports SeatAlreadyBound. The
// unique (license_id, machine_id) index backs up the insert if two
// first-time activations of the same machine race each other.
//
// The optional audit entry is written in the same transaction as the
// seat change, so the counter and the trail never diverge.
func (s *Store) TryAllocateSeat(licenseID, machineID string, meta model.SeatMetadata, audit *model.AuditEntry) (SeatAllocation, error) {
	var result SeatAllocation
	now := time.Now()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var seat model.Seat
		err := tx.Where("license_id = ? AND machine_id = ?", licenseID, machineID).First(&seat).Error

		switch {
		case err == nil && seat.IsActive:
			// Idempotent re-activation: no seat consumed.
			if err := tx.Model(&seat).Updates(map[string]interface{}{
				"last_seen": now,
				"hostname":  meta.Hostname,
				"os":        meta.OS,
				"arch":      meta.Arch,
			}).Error; err != nil {
				return err
			}
			result = SeatAlreadyBound
			return nil

		case err == nil:
			// Previously revoked machine coming back: costs a seat again.
			if err := incrementSeatCounter(tx, licenseID); err != nil {
				return err
			}
			if err := tx.Model(&seat).Updates(map[string]interface{}{
				"is_active": true,
				"last_seen": now,
				"hostname":  meta.Hostname,
				"os":        meta.OS,
				"arch":      meta.Arch,
			}).Error; err != nil {
				return err
			}
			result = SeatNewlyBound

		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := incrementSeatCounter(tx, licenseID); err != nil {
				return err
			}
			seat = model.Seat{
				LicenseID: licenseID,
				MachineID: machineID,
				Hostname:  meta.Hostname,
				OS:        meta.OS,
				Arch:      meta.Arch,
				IsActive:  true,
				FirstSeen: now,
				LastSeen:  now,
			}
			if err := tx.Create(&seat).Error; err != nil {
				return err
			}
			result = SeatNewlyBound

		default:
			return err
		}

		return appendAuditTx(tx, audit)
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

func incrementSeatCounter(tx *gorm.DB, licenseID string) error {
	res := tx.Model(&model.License{}).
		Where("id = ? AND used_seats < max_seats", licenseID).
		UpdateColumn("used_seats", gorm.Expr("used_seats + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSeatLimitExceeded
	}
	return nil
}

// ReleaseSeat deactivates a machine's seat and returns how many rows
// changed (0 or 1). The counter is decremented only when a row actually
// flipped from active to inactive, which makes revocation idempotent.
func (s *Store) ReleaseSeat(licenseID, machineID string, audit *model.AuditEntry) (int, error) {
	var released int

	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Seat{}).
			Where("license_id = ? AND machine_id = ? AND is_active = ?", licenseID, machineID, true).
			Update("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		released = int(res.RowsAffected)
		if released == 0 {
			return appendAuditTx(tx, audit)
		}

		if err := tx.Model(&model.License{}).
			Where("id = ? AND used_seats > 0", licenseID).
			UpdateColumn("used_seats", gorm.Expr("used_seats - 1")).Error; err != nil {
			return err
		}
		return appendAuditTx(tx, audit)
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// ActiveSeats lists the machines currently bound to a license.
func (s *Store) ActiveSeats(licenseID string) ([]model.Seat, error) {
	var seats []model.Seat
	err := s.db.Where("license_id = ? AND is_active = ?", licenseID, true).
		Order("first_seen asc").Find(&seats).Error
	return seats, err
}

// RotateKey replaces a license's key and resets every seat binding in
// one transaction. Tokens reference the key they were minted under, so
// once the old key no longer resolves, every outstanding token is dead
// at its next server consult.
func (s *Store) RotateKey(oldKey string, audit *model.AuditEntry) (string, error) {
	newKey := GenerateLicenseKey()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var license model.License
		err := tx.Where("key = ?", oldKey).First(&license).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&license).Updates(map[string]interface{}{
			"key":        newKey,
			"used_seats": 0,
			"updated_at": time.Now(),
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Seat{}).
			Where("license_id = ? AND is_active = ?", license.ID, true).
			Update("is_active", false).Error; err != nil {
			return err
		}

		if audit != nil {
			audit.ResourceType = "license"
			audit.ResourceID = license.ID
		}
		return appendAuditTx(tx, audit)
	})
	if err != nil {
		return "", fmt.Errorf("rotate key: %w", err)
	}
	return newKey, nil
}
