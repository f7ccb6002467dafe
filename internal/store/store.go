// Package store is the sole authority over license, seat, and
// subscription state. Every mutation goes through it so the seat
// invariant (used_seats <= max_seats) is enforced in one place, inside
// the database, not by read-then-write code in handlers.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"omg-license-server/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrSeatLimitExceeded = errors.New("store: seat limit exceeded")
)

// SeatAllocation distinguishes a first-time binding from an idempotent
// re-activation of an already bound machine.
type SeatAllocation int

const (
	SeatAlreadyBound SeatAllocation = iota
	SeatNewlyBound
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GenerateLicenseKey returns a fresh opaque license key. 32 random
// bytes, hex encoded, product prefixed.
func GenerateLicenseKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("store: crypto/rand failed: %v", err))
	}
	return "OMG-" + hex.EncodeToString(buf)
}

// GetLicenseByKey resolves a license by its secret key.
func (s *Store) GetLicenseByKey(key string) (*model.License, error) {
	var license model.License
	err := s.db.Where("key = ?", key).First(&license).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// GetCustomer resolves a customer by id.
func (s *Store) GetCustomer(id string) (*model.Customer, error) {
	var customer model.Customer
	err := s.db.Where("id = ?", id).First(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetOrCreateCustomer finds a customer by email or creates one.
// Idempotent on email: a redelivered webhook never makes a second row.
func (s *Store) GetOrCreateCustomer(email, company, stripeCustomerID string) (*model.Customer, error) {
	var customer model.Customer
	err := s.db.Where("email = ?", email).First(&customer).Error
	if err == nil {
		if stripeCustomerID != "" && customer.StripeCustomerID != stripeCustomerID {
			customer.StripeCustomerID = stripeCustomerID
			if err := s.db.Save(&customer).Error; err != nil {
				return nil, err
			}
		}
		return &customer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	customer = model.Customer{
		ID:               uuid.NewString(),
		Email:            email,
		Company:          company,
		StripeCustomerID: stripeCustomerID,
		Tier:             model.TierFree.String(),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if err := s.db.Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// FindCustomerByStripeID resolves a customer by the billing provider's
// customer reference.
func (s *Store) FindCustomerByStripeID(stripeCustomerID string) (*model.Customer, error) {
	var customer model.Customer
	err := s.db.Where("stripe_customer_id = ?", stripeCustomerID).First(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// AppendAudit writes a standalone audit entry, outside any mutation
// transaction. Mutating store methods append their own entries inside
// their transactions instead.
func (s *Store) AppendAudit(entry *model.AuditEntry) error {
	entry.CreatedAt = time.Now()
	return s.db.Create(entry).Error
}

func appendAuditTx(tx *gorm.DB, entry *model.AuditEntry) error {
	if entry == nil {
		return nil
	}
	entry.CreatedAt = time.Now()
	return tx.Create(entry).Error
}
