package store

import (
	"time"

	"omg-license-server/internal/model"
)

// Read-side queries for the ops dashboard. The dashboard never mutates
// licensing state through these.

// ListLicenses returns a page of licenses, newest first.
func (s *Store) ListLicenses(page, pageSize int) ([]model.License, int64, error) {
	var licenses []model.License
	var total int64

	if err := s.db.Model(&model.License{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := s.db.Order("created_at desc").Offset(offset).Limit(pageSize).Find(&licenses).Error
	return licenses, total, err
}

// AuditEntries returns a page of the audit trail, newest first,
// optionally filtered by action.
func (s *Store) AuditEntries(action string, page, pageSize int) ([]model.AuditEntry, int64, error) {
	var entries []model.AuditEntry
	var total int64

	db := s.db.Model(&model.AuditEntry{})
	if action != "" {
		db = db.Where("action = ?", action)
	}
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := db.Order("created_at desc").Offset(offset).Limit(pageSize).Find(&entries).Error
	return entries, total, err
}

// LicenseStatistics is the aggregate view the dashboard's overview page
// renders.
type LicenseStatistics struct {
	TotalLicenses     int64            `json:"total_licenses"`
	ActiveLicenses    int64            `json:"active_licenses"`
	CancelledLicenses int64            `json:"cancelled_licenses"`
	ExpiringLicenses  int64            `json:"expiring_licenses"`
	LicensesByTier    map[string]int64 `json:"licenses_by_tier"`
	SeatsInUse        int64            `json:"seats_in_use"`
}

// Statistics aggregates license counts by status and tier.
func (s *Store) Statistics() (*LicenseStatistics, error) {
	stats := &LicenseStatistics{LicensesByTier: make(map[string]int64)}

	if err := s.db.Model(&model.License{}).Count(&stats.TotalLicenses).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&model.License{}).Where("status = ?", model.LicenseStatusActive).
		Count(&stats.ActiveLicenses).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&model.License{}).Where("status = ?", model.LicenseStatusCancelled).
		Count(&stats.CancelledLicenses).Error; err != nil {
		return nil, err
	}

	thirtyDays := time.Now().AddDate(0, 0, 30)
	if err := s.db.Model(&model.License{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", model.LicenseStatusActive, thirtyDays).
		Count(&stats.ExpiringLicenses).Error; err != nil {
		return nil, err
	}

	var tierCounts []struct {
		Tier  string
		Count int64
	}
	if err := s.db.Model(&model.License{}).
		Select("tier, count(*) as count").Group("tier").Scan(&tierCounts).Error; err != nil {
		return nil, err
	}
	for _, tc := range tierCounts {
		stats.LicensesByTier[tc.Tier] = tc.Count
	}

	if err := s.db.Model(&model.Seat{}).Where("is_active = ?", true).
		Count(&stats.SeatsInUse).Error; err != nil {
		return nil, err
	}

	return stats, nil
}
