package repository

import (
	"context"

	"github.com/quantumfx/ea-license-service/internal/domain"
	"github.com/quantumfx/ea-license-service/internal/observability"

	"gorm.io/gorm"
)

// ValidationRepository appends to the audit ledger. Nothing in the
// decision path reads it back; the ops API may list recent entries
// for forensics.
type ValidationRepository interface {
	Append(ctx context.Context, record *domain.LicenseValidation) error
	ListRecentByLicense(ctx context.Context, licenseID uint, limit int) ([]domain.LicenseValidation, error)
}

type GormValidationRepository struct{ db *gorm.DB }

func NewValidationRepository(db *gorm.DB) ValidationRepository {
	return &GormValidationRepository{db: db}
}

func (r *GormValidationRepository) Append(ctx context.Context, record *domain.LicenseValidation) error {
	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "validation", "append", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "validation", "append", "success")
	return nil
}

func (r *GormValidationRepository) ListRecentByLicense(ctx context.Context, licenseID uint, limit int) ([]domain.LicenseValidation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var records []domain.LicenseValidation
	err := r.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("validated_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "validation", "list_recent_by_license", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "validation", "list_recent_by_license", "success")
	return records, nil
}
