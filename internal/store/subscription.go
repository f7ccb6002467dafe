package store

import (
	"errors"
	"time"

	"omg-license-server/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UpsertSubscriptionFromWebhook converges the local subscription mirror
// on the billing provider's state. Keyed on the external subscription
// id, so redelivering the same event is a no-op beyond rewriting the
// same values.
func (s *Store) UpsertSubscriptionFromWebhook(stripeSubID, status string, periodEnd time.Time, customerID string) error {
	var sub model.Subscription
	err := s.db.Where("stripe_sub_id = ?", stripeSubID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sub = model.Subscription{
			CustomerID:       customerID,
			StripeSubID:      stripeSubID,
			Status:           status,
			CurrentPeriodEnd: periodEnd,
			CreatedAt:        time.Now(),
			UpdatedAt:        time.Now(),
		}
		return s.db.Create(&sub).Error
	}
	if err != nil {
		return err
	}

	return s.db.Model(&sub).Updates(map[string]interface{}{
		"customer_id":        customerID,
		"status":             status,
		"current_period_end": periodEnd,
		"updated_at":         time.Now(),
	}).Error
}

// UpsertLicenseForSubscription creates the customer's license on first
// activation or converges an existing one: status back to active, tier
// and expiry set to what the subscription says. Setting expires_at (as
// opposed to adding to it) is what makes event redelivery safe.
func (s *Store) UpsertLicenseForSubscription(customerID string, tier model.Tier, periodEnd time.Time, audit *model.AuditEntry) (*model.License, error) {
	var license model.License

	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("customer_id = ?", customerID).First(&license).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			license = model.License{
				ID:         uuid.NewString(),
				CustomerID: customerID,
				Key:        GenerateLicenseKey(),
				Tier:       tier.String(),
				Status:     model.LicenseStatusActive,
				MaxSeats:   tier.DefaultMaxSeats(),
				ExpiresAt:  &periodEnd,
				CreatedAt:  time.Now(),
				UpdatedAt:  time.Now(),
			}
			if err := tx.Create(&license).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else {
			updates := map[string]interface{}{
				"status":     model.LicenseStatusActive,
				"expires_at": periodEnd,
				"updated_at": time.Now(),
			}
			if license.TierEnum() != tier {
				updates["tier"] = tier.String()
				// A tier change only widens the budget; a shrunken budget
				// would strand seats already handed out.
				if tier.DefaultMaxSeats() > license.MaxSeats {
					updates["max_seats"] = tier.DefaultMaxSeats()
				}
			}
			if err := tx.Model(&license).Updates(updates).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&model.Customer{}).Where("id = ?", customerID).
			Updates(map[string]interface{}{"tier": tier.String(), "updated_at": time.Now()}).Error; err != nil {
			return err
		}

		if audit != nil {
			audit.ResourceType = "license"
			audit.ResourceID = license.ID
		}
		return appendAuditTx(tx, audit)
	})
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// CancelCustomerLicenses marks every license of the customer cancelled
// and drops the customer back to the free tier. Seats stay as they are:
// history is preserved and re-activation restores them.
func (s *Store) CancelCustomerLicenses(customerID string, audit *model.AuditEntry) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.License{}).Where("customer_id = ?", customerID).
			Updates(map[string]interface{}{
				"status":     model.LicenseStatusCancelled,
				"updated_at": time.Now(),
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Customer{}).Where("id = ?", customerID).
			Updates(map[string]interface{}{
				"tier":       model.TierFree.String(),
				"updated_at": time.Now(),
			}).Error; err != nil {
			return err
		}
		return appendAuditTx(tx, audit)
	})
}

// RecordWebhookEvent keeps a processing record per accepted delivery.
func (s *Store) RecordWebhookEvent(eventID, eventType string, processingErr error) {
	record := model.WebhookEvent{
		StripeEventID: eventID,
		EventType:     eventType,
		CreatedAt:     time.Now(),
	}
	if processingErr != nil {
		record.ProcessingError = processingErr.Error()
	}
	// Best effort; the reconciliation itself does not depend on this row.
	s.db.Create(&record)
}
