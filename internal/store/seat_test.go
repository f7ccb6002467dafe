package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"omg-license-server/internal/database"
	"omg-license-server/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database.InitTestDB()
	t.Cleanup(database.CleanTestDB)
	return New(database.DB)
}

func seedLicense(t *testing.T, s *Store, tier model.Tier, maxSeats, usedSeats int) *model.License {
	t.Helper()
	customer, err := s.GetOrCreateCustomer(fmt.Sprintf("%s@example.com", uuid.NewString()), "", "")
	require.NoError(t, err)

	license := &model.License{
		ID:         uuid.NewString(),
		CustomerID: customer.ID,
		Key:        GenerateLicenseKey(),
		Tier:       tier.String(),
		Status:     model.LicenseStatusActive,
		MaxSeats:   maxSeats,
		UsedSeats:  usedSeats,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, s.db.Create(license).Error)

	// Seed seat rows matching the pre-set counter.
	for i := 0; i < usedSeats; i++ {
		require.NoError(t, s.db.Create(&model.Seat{
			LicenseID: license.ID,
			MachineID: fmt.Sprintf("preseeded-%d", i),
			IsActive:  true,
			FirstSeen: time.Now(),
			LastSeen:  time.Now(),
		}).Error)
	}
	return license
}

func TestTryAllocateSeatBindsAndIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	license := seedLicense(t, s, model.TierTeam, 3, 0)

	alloc, err := s.TryAllocateSeat(license.ID, "m1", model.SeatMetadata{Hostname: "dev-box"}, nil)
	require.NoError(t, err)
	assert.Equal(t, SeatNewlyBound, alloc)

	// Re-activating the same machine never consumes another seat.
	for i := 0; i < 5; i++ {
		alloc, err = s.TryAllocateSeat(license.ID, "m1", model.SeatMetadata{}, nil)
		require.NoError(t, err)
		assert.Equal(t, SeatAlreadyBound, alloc)
	}

	got, err := s.GetLicenseByKey(license.Key)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedSeats)
}

func TestTryAllocateSeatEnforcesLimit(t *testing.T) {
	s := newTestStore(t)
	license := seedLicense(t, s, model.TierTeam, 2, 0)

	_, err := s.TryAllocateSeat(license.ID, "m1", model.SeatMetadata{}, nil)
	require.NoError(t, err)
	_, err = s.TryAllocateSeat(license.ID, "m2", model.SeatMetadata{}, nil)
	require.NoError(t, err)

	_, err = s.TryAllocateSeat(license.ID, "m3", model.SeatMetadata{}, nil)
	assert.ErrorIs(t, err, ErrSeatLimitExceeded)

	got, err := s.GetLicenseByKey(license.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsedSeats)
}

// Two new machines racing for the last seat of a 3-seat license with 2
// in use: exactly one wins, final used_seats is 3.
func TestTryAllocateSeatConcurrentLastSeat(t *testing.T) {
	s := newTestStore(t)
	license := seedLicense(t, s, model.TierTeam, 3, 2)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, machine := range []string{"M1", "M2"} {
		wg.Add(1)
		go func(idx int, machineID string) {
			defer wg.Done()
			_, err := s.TryAllocateSeat(license.ID, machineID, model.SeatMetadata{}, nil)
			results[idx] = err
		}(i, machine)
	}
	wg.Wait()

	var successes, limited int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrSeatLimitExceeded):
			limited++
		default:
			t.Fatalf("unexpected allocation error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, limited)

	got, err := s.GetLicenseByKey(license.Key)
	require.NoError(t, err)
	assert.Equal(t, 3, got.UsedSeats)
}

// The invariant used_seats <= max_seats holds under a pile of
// concurrent activations from distinct machines.
func TestSeatInvariantUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	license := seedLicense(t, s, model.TierEnterprise, 4, 0)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.TryAllocateSeat(license.ID, fmt.Sprintf("machine-%d", n), model.SeatMetadata{}, nil)
		}(i)
	}
	wg.Wait()

	got, err := s.GetLicenseByKey(license.Key)
	require.NoError(t, err)
	assert.LessOrEqual(t, got.UsedSeats, got.MaxSeats)
	assert.Equal(t, 4, got.UsedSeats)

	seats, err := s.ActiveSeats(license.ID)
	require.NoError(t, err)
	assert.Len(t, seats, 4)
}

func TestReleaseSeatIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	license := seedLicense(t, s, model.TierTeam, 3, 0)

	_, err := s.TryAllocateSeat(license.ID, "m1", model.SeatMetadata{}, nil)
	require.NoError(t, err)

	released, err := s.ReleaseSeat(license.ID, "m1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	// Second revocation and a never-bound machine both report no change.
	released, err = s.ReleaseSeat(license.ID, "m1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, released)

	released, err = s.ReleaseSeat(license.ID, "never-bound", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, released)

	got, err := s.GetLicenseByKey(license.Key)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UsedSeats)
}

func TestReactivationAfterReleaseConsumesSeat(t *testing.T) {
	s := newTestStore(t)
	license := seedLicense(t, s, model.TierTeam, 1, 0)

	_, err := s.TryAllocateSeat(license.ID, "m1", model.SeatMetadata{}, nil)
	require.NoError(t, err)

	released, err := s.ReleaseSeat(license.ID, "m1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	// Same machine comes back: it costs a seat again but fits.
	alloc, err := s.TryAllocateSeat(license.ID, "m1", model.SeatMetadata{}, nil)
	require.NoError(t, err)
	assert.Equal(t, SeatNewlyBound, alloc)

	got, err := s.GetLicenseByKey(license.Key)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedSeats)
}

func TestRotateKeyResetsSeatsAndInvalidatesOldKey(t *testing.T) {
	s := newTestStore(t)
	license := seedLicense(t, s, model.TierTeam, 3, 0)

	_, err := s.TryAllocateSeat(license.ID, "m1", model.SeatMetadata{}, nil)
	require.NoError(t, err)
	_, err = s.TryAllocateSeat(license.ID, "m2", model.SeatMetadata{}, nil)
	require.NoError(t, err)

	newKey, err := s.RotateKey(license.Key, &model.AuditEntry{Action: "license.regenerate"})
	require.NoError(t, err)
	assert.NotEqual(t, license.Key, newKey)

	// The old key no longer resolves; that is what kills outstanding tokens.
	_, err = s.GetLicenseByKey(license.Key)
	assert.ErrorIs(t, err, ErrNotFound)

	rotated, err := s.GetLicenseByKey(newKey)
	require.NoError(t, err)
	assert.Equal(t, 0, rotated.UsedSeats)

	seats, err := s.ActiveSeats(rotated.ID)
	require.NoError(t, err)
	assert.Empty(t, seats)
}

func TestRotateKeyUnknownKey(t *testing.T) {
	s := newTestStore(t)

	_, err := s.RotateKey("OMG-does-not-exist", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
