package repository

import (
	"context"
	"errors"
	"time"

	"github.com/quantumfx/ea-license-service/internal/domain"
	"github.com/quantumfx/ea-license-service/internal/observability"

	"gorm.io/gorm"
)

var ErrLicenseNotFound = errors.New("license not found")

// LicenseRepository owns every mutation this service is allowed to
// perform on a license row: fingerprint binding, rate-limit counters,
// the lazy expiry transition, and validation bookkeeping. All
// mutations are single conditional UPDATEs so concurrent validators
// converge without cross-request locking.
type LicenseRepository interface {
	FindByKey(ctx context.Context, key string) (*domain.License, error)
	FindByID(ctx context.Context, id uint) (*domain.License, error)
	MarkExpired(ctx context.Context, id uint) error
	BindFingerprint(ctx context.Context, id uint, fingerprint string) (bool, error)
	ConsumeValidationSlot(ctx context.Context, id uint, now time.Time, window time.Duration) (bool, error)
	RecordValidation(ctx context.Context, id uint, at time.Time) error
}

type GormLicenseRepository struct{ db *gorm.DB }

func NewLicenseRepository(db *gorm.DB) LicenseRepository { return &GormLicenseRepository{db: db} }

func (r *GormLicenseRepository) FindByKey(ctx context.Context, key string) (*domain.License, error) {
	var lic domain.License
	err := r.db.WithContext(ctx).
		Preload("Product").
		Preload("Tier").
		Where("license_key = ?", key).
		First(&lic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "license", "find_by_key", "not_found")
			return nil, ErrLicenseNotFound
		}
		observability.RecordRepositoryOperation(ctx, "license", "find_by_key", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "license", "find_by_key", "success")
	return &lic, nil
}

func (r *GormLicenseRepository) FindByID(ctx context.Context, id uint) (*domain.License, error) {
	var lic domain.License
	err := r.db.WithContext(ctx).First(&lic, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "license", "find_by_id", "not_found")
			return nil, ErrLicenseNotFound
		}
		observability.RecordRepositoryOperation(ctx, "license", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "license", "find_by_id", "success")
	return &lic, nil
}

// MarkExpired applies the lazy active->expired transition. The status
// guard keeps a race between two validators from clobbering an
// administrative status change in between.
func (r *GormLicenseRepository) MarkExpired(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Model(&domain.License{}).
		Where("id = ? AND status = ?", id, domain.LicenseStatusActive).
		Update("status", domain.LicenseStatusExpired).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "license", "mark_expired", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "license", "mark_expired", "success")
	return nil
}

// BindFingerprint sets the fingerprint only while the column is still
// empty. It reports whether this call performed the bind; false means
// another request bound first (or the license was already bound) and
// the caller must re-read and compare.
func (r *GormLicenseRepository) BindFingerprint(ctx context.Context, id uint, fingerprint string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.License{}).
		Where("id = ? AND (hardware_fingerprint IS NULL OR hardware_fingerprint = '')", id).
		Update("hardware_fingerprint", fingerprint)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "license", "bind_fingerprint", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "license", "bind_fingerprint", "success")
	return res.RowsAffected > 0, nil
}

// ConsumeValidationSlot implements the per-license fixed-window rate
// limit as two conditional updates: reset the window if it has lapsed,
// otherwise increment while under the ceiling. Either update either
// lands atomically or affects no rows, so concurrent heartbeats never
// overcount past the limit.
func (r *GormLicenseRepository) ConsumeValidationSlot(ctx context.Context, id uint, now time.Time, window time.Duration) (bool, error) {
	reset := r.db.WithContext(ctx).Model(&domain.License{}).
		Where("id = ? AND last_hour_reset <= ?", id, now.Add(-window)).
		Updates(map[string]any{
			"last_hour_validations": 1,
			"last_hour_reset":       now,
		})
	if reset.Error != nil {
		observability.RecordRepositoryOperation(ctx, "license", "consume_validation_slot", "error")
		return false, reset.Error
	}
	if reset.RowsAffected > 0 {
		observability.RecordRepositoryOperation(ctx, "license", "consume_validation_slot", "reset")
		return true, nil
	}

	inc := r.db.WithContext(ctx).Model(&domain.License{}).
		Where("id = ? AND last_hour_validations < max_validations_per_hour", id).
		Update("last_hour_validations", gorm.Expr("last_hour_validations + 1"))
	if inc.Error != nil {
		observability.RecordRepositoryOperation(ctx, "license", "consume_validation_slot", "error")
		return false, inc.Error
	}
	if inc.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "license", "consume_validation_slot", "denied")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "license", "consume_validation_slot", "success")
	return true, nil
}

func (r *GormLicenseRepository) RecordValidation(ctx context.Context, id uint, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.License{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_validated_at": at,
			"validation_count":  gorm.Expr("validation_count + 1"),
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "license", "record_validation", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "license", "record_validation", "success")
	return nil
}
