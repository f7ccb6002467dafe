package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"omg-license-server/internal/model"
	"omg-license-server/internal/service"
	"omg-license-server/internal/store"
	"omg-license-server/internal/token"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Deny reasons the CLI branches on. Never collapse these: seat_limit
// renders an upgrade prompt, expired/invalid_key a re-auth prompt, and
// machine_mismatch "already bound" guidance.
const (
	ReasonInvalidKey      = "invalid_key"
	ReasonExpired         = "expired"
	ReasonSeatLimit       = "seat_limit"
	ReasonMachineMismatch = "machine_mismatch"
)

// denial is a typed deny verdict; it is a normal outcome, not an error.
type denial struct {
	Reason  string
	Message string
}

type LicenseHandler struct {
	store         *store.Store
	secret        []byte
	tokenLifetime time.Duration
	sheetSync     *service.SheetSyncService
	log           zerolog.Logger
}

func NewLicenseHandler(st *store.Store, licenseSecret string, tokenLifetime time.Duration, sheetSync *service.SheetSyncService, log zerolog.Logger) *LicenseHandler {
	return &LicenseHandler{
		store:         st,
		secret:        []byte(licenseSecret),
		tokenLifetime: tokenLifetime,
		sheetSync:     sheetSync,
		log:           log,
	}
}

func writeDenial(c *fiber.Ctx, d *denial) error {
	return c.JSON(fiber.Map{
		"valid":  false,
		"reason": d.Reason,
		"error":  d.Message,
	})
}

// HandleValidateLicense is the activation endpoint the CLI calls:
// GET /api/validate-license?key=...&machine_id=...
//
// Checks the license, allocates a seat when a machine id is supplied,
// and mints the offline token. The audit entry rides in the seat
// allocation transaction so the counter and the trail never diverge.
func (h *LicenseHandler) HandleValidateLicense(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"valid": false,
			"error": "license key is required",
		})
	}
	machineID := c.Query("machine_id")

	license, err := h.store.GetLicenseByKey(key)
	if errors.Is(err, store.ErrNotFound) {
		return writeDenial(c, &denial{ReasonInvalidKey, "Invalid license key"})
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}

	if d := checkLifecycle(license); d != nil {
		return writeDenial(c, d)
	}

	if machineID != "" {
		d, err := h.allocateSeat(c, license, machineID)
		if err != nil {
			return fiber.ErrInternalServerError
		}
		if d != nil {
			return writeDenial(c, d)
		}
		// Seat counters moved; re-read for the roster export.
		if refreshed, err := h.store.GetLicenseByKey(key); err == nil {
			license = refreshed
		}
	} else {
		h.store.AppendAudit(&model.AuditEntry{
			ActorCustomerID: license.CustomerID,
			Action:          "license.validate",
			ResourceType:    "license",
			ResourceID:      license.ID,
			IPAddress:       c.IP(),
			UserAgent:       c.Get("User-Agent"),
		})
	}

	if h.sheetSync != nil {
		go h.sheetSync.SyncLicense(license)
	}

	return h.mintAndRespond(c, license, machineID)
}

// HandleRefreshLicense re-mints a token for an already activated
// machine: POST /api/refresh-license {license_key, machine_id?}.
// Never consumes a seat.
func (h *LicenseHandler) HandleRefreshLicense(c *fiber.Ctx) error {
	input := new(struct {
		LicenseKey string `json:"license_key"`
		MachineID  string `json:"machine_id"`
	})
	if err := c.BodyParser(input); err != nil || input.LicenseKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"valid": false,
			"error": "license_key is required",
		})
	}

	license, err := h.store.GetLicenseByKey(input.LicenseKey)
	if errors.Is(err, store.ErrNotFound) {
		return writeDenial(c, &denial{ReasonInvalidKey, "Invalid license key"})
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}

	if d := checkLifecycle(license); d != nil {
		return writeDenial(c, d)
	}

	h.store.AppendAudit(&model.AuditEntry{
		ActorCustomerID: license.CustomerID,
		Action:          "license.refresh",
		ResourceType:    "license",
		ResourceID:      license.ID,
		IPAddress:       c.IP(),
		UserAgent:       c.Get("User-Agent"),
	})

	return h.mintAndRespond(c, license, input.MachineID)
}

// HandleRegenerateLicense rotates a license key:
// POST /api/regenerate-license {email, old_license_key}.
//
// Rotation resets every seat and invalidates all outstanding tokens,
// so it demands an ownership check first. Audited on every outcome.
func (h *LicenseHandler) HandleRegenerateLicense(c *fiber.Ctx) error {
	input := new(struct {
		Email         string `json:"email"`
		OldLicenseKey string `json:"old_license_key"`
	})
	if err := c.BodyParser(input); err != nil || input.Email == "" || input.OldLicenseKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "email and old_license_key are required",
		})
	}

	license, err := h.store.GetLicenseByKey(input.OldLicenseKey)
	if errors.Is(err, store.ErrNotFound) {
		h.auditRegenerateDenied(c, input.Email, "unknown key")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid license key",
		})
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}

	customer, err := h.store.GetCustomer(license.CustomerID)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	if !strings.EqualFold(customer.Email, input.Email) {
		h.auditRegenerateDenied(c, input.Email, "ownership check failed")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "License key does not belong to this email",
		})
	}

	newKey, err := h.store.RotateKey(input.OldLicenseKey, &model.AuditEntry{
		ActorCustomerID: customer.ID,
		Action:          "license.regenerate",
		IPAddress:       c.IP(),
		UserAgent:       c.Get("User-Agent"),
	})
	if err != nil {
		return fiber.ErrInternalServerError
	}

	h.log.Info().Str("license", license.ID).Msg("license key rotated")

	if h.sheetSync != nil {
		if refreshed, err := h.store.GetLicenseByKey(newKey); err == nil {
			go h.sheetSync.SyncLicense(refreshed)
		}
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"new_license_key": newKey,
	})
}

// HandleRevokeMachine releases one seat:
// POST /api/revoke-machine {license_key, machine_id}.
//
// Idempotent: revoking an unknown or already revoked machine succeeds
// and reports that nothing changed. For single-seat tiers this clears
// the binding, so the next activation is treated as first use.
func (h *LicenseHandler) HandleRevokeMachine(c *fiber.Ctx) error {
	input := new(struct {
		LicenseKey string `json:"license_key"`
		MachineID  string `json:"machine_id"`
	})
	if err := c.BodyParser(input); err != nil || input.LicenseKey == "" || input.MachineID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "license_key and machine_id are required",
		})
	}

	license, err := h.store.GetLicenseByKey(input.LicenseKey)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid license key",
		})
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}

	released, err := h.store.ReleaseSeat(license.ID, input.MachineID, &model.AuditEntry{
		ActorCustomerID: license.CustomerID,
		Action:          "seat.revoke",
		ResourceType:    "license",
		ResourceID:      license.ID,
		IPAddress:       c.IP(),
		UserAgent:       c.Get("User-Agent"),
		Details:         fmt.Sprintf(`{"machine_id":%q}`, input.MachineID),
	})
	if err != nil {
		return fiber.ErrInternalServerError
	}

	message := "machine revoked"
	if released == 0 {
		message = "no change"
	}

	if h.sheetSync != nil {
		if refreshed, err := h.store.GetLicenseByKey(input.LicenseKey); err == nil {
			go h.sheetSync.SyncLicense(refreshed)
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"changed": released == 1,
		"message": message,
	})
}

// checkLifecycle returns a denial for non-active status or past expiry.
func checkLifecycle(license *model.License) *denial {
	if license.Status != model.LicenseStatusActive {
		return &denial{ReasonExpired, fmt.Sprintf("License is not active (status: %s)", license.Status)}
	}
	if license.Expired(time.Now()) {
		return &denial{ReasonExpired, fmt.Sprintf("License expired on %s", license.ExpiresAt.Format("2006-01-02"))}
	}
	return nil
}

// allocateSeat runs the per-tier seat rules. A nil denial means the
// machine holds a seat when it returns.
func (h *LicenseHandler) allocateSeat(c *fiber.Ctx, license *model.License, machineID string) (*denial, error) {
	meta := model.SeatMetadata{
		Hostname: c.Query("hostname"),
		OS:       c.Query("os"),
		Arch:     c.Query("arch"),
	}
	audit := &model.AuditEntry{
		ActorCustomerID: license.CustomerID,
		Action:          "license.validate",
		ResourceType:    "license",
		ResourceID:      license.ID,
		IPAddress:       c.IP(),
		UserAgent:       c.Get("User-Agent"),
		Details:         fmt.Sprintf(`{"machine_id":%q}`, machineID),
	}

	if license.TierEnum().MultiSeat() {
		_, err := h.store.TryAllocateSeat(license.ID, machineID, meta, audit)
		if errors.Is(err, store.ErrSeatLimitExceeded) {
			current, lookupErr := h.store.GetLicenseByKey(license.Key)
			if lookupErr != nil {
				current = license
			}
			return &denial{ReasonSeatLimit, fmt.Sprintf(
				"Seat limit reached (%d/%d). Revoke a machine or upgrade your plan.",
				current.UsedSeats, current.MaxSeats)}, nil
		}
		if err != nil {
			return nil, err
		}
		return nil, nil
	}

	// Single-seat tier: one machine owns the license. A different
	// machine holding the seat is a mismatch, not a capacity problem.
	seats, err := h.store.ActiveSeats(license.ID)
	if err != nil {
		return nil, err
	}
	if len(seats) > 0 && seats[0].MachineID != machineID {
		return &denial{ReasonMachineMismatch, "License is already bound to a different machine"}, nil
	}

	_, err = h.store.TryAllocateSeat(license.ID, machineID, meta, audit)
	if errors.Is(err, store.ErrSeatLimitExceeded) {
		// Lost a race with another machine binding first use.
		return &denial{ReasonMachineMismatch, "License is already bound to a different machine"}, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *LicenseHandler) mintAndRespond(c *fiber.Ctx, license *model.License, machineID string) error {
	customer, err := h.store.GetCustomer(license.CustomerID)
	if err != nil {
		return fiber.ErrInternalServerError
	}

	now := time.Now()
	exp := now.Add(h.tokenLifetime)
	if license.ExpiresAt != nil && license.ExpiresAt.Before(exp) {
		exp = *license.ExpiresAt
	}

	claims := &token.Claims{
		Subject:    license.CustomerID,
		Tier:       license.Tier,
		Features:   model.FeaturesForTier(license.TierEnum()),
		IssuedAt:   now.Unix(),
		ExpiresAt:  exp.Unix(),
		MachineID:  machineID,
		LicenseKey: license.Key,
	}
	signed, err := token.Mint(claims, h.secret)
	if err != nil {
		h.log.Error().Err(err).Str("license", license.ID).Msg("token mint failed")
		return fiber.ErrInternalServerError
	}

	expires := ""
	if license.ExpiresAt != nil {
		expires = license.ExpiresAt.Format(time.RFC3339)
	}
	return c.JSON(fiber.Map{
		"valid":      true,
		"tier":       license.Tier,
		"features":   model.FeaturesForTier(license.TierEnum()),
		"customer":   customer.Email,
		"expires_at": expires,
		"token":      signed,
	})
}

func (h *LicenseHandler) auditRegenerateDenied(c *fiber.Ctx, email, why string) {
	h.store.AppendAudit(&model.AuditEntry{
		Action:       "license.regenerate.denied",
		ResourceType: "license",
		IPAddress:    c.IP(),
		UserAgent:    c.Get("User-Agent"),
		Details:      fmt.Sprintf(`{"email":%q,"reason":%q}`, email, why),
	})
}
