package repository

import (
	"context"
	"errors"
	"time"

	"github.com/quantumfx/ea-license-service/internal/domain"
	"github.com/quantumfx/ea-license-service/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRepository maintains the live-session ledger. Rows are
// upserted on the (license_id, ea_instance_id) composite key so a
// reconnecting EA instance always lands on its own row.
type SessionRepository interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	CountActive(ctx context.Context, licenseID uint) (int64, error)
	FindActiveByInstance(ctx context.Context, licenseID uint, instanceID string) (*domain.LicenseSession, error)
	FindActiveByToken(ctx context.Context, token, instanceID string) (*domain.LicenseSession, error)
	Upsert(ctx context.Context, session *domain.LicenseSession) error
	Renew(ctx context.Context, id uint, heartbeatAt, expiresAt time.Time) error
	Deactivate(ctx context.Context, id uint) error
	ListActiveByLicense(ctx context.Context, licenseID uint) ([]domain.LicenseSession, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

// SweepExpired marks lapsed sessions inactive. It runs inline on
// every validation call instead of on a timer.
func (r *GormSessionRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.LicenseSession{}).
		Where("is_active = ? AND expires_at <= ?", true, now).
		Update("is_active", false)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "sweep_expired", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "sweep_expired", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) CountActive(ctx context.Context, licenseID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.LicenseSession{}).
		Where("license_id = ? AND is_active = ?", licenseID, true).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "count_active", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "count_active", "success")
	return count, nil
}

func (r *GormSessionRepository) FindActiveByInstance(ctx context.Context, licenseID uint, instanceID string) (*domain.LicenseSession, error) {
	var s domain.LicenseSession
	err := r.db.WithContext(ctx).
		Where("license_id = ? AND ea_instance_id = ? AND is_active = ?", licenseID, instanceID, true).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active_by_instance", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active_by_instance", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active_by_instance", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindActiveByToken(ctx context.Context, token, instanceID string) (*domain.LicenseSession, error) {
	var s domain.LicenseSession
	err := r.db.WithContext(ctx).
		Where("session_token = ? AND ea_instance_id = ? AND is_active = ?", token, instanceID, true).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active_by_token", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active_by_token", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active_by_token", "success")
	return &s, nil
}

// Upsert inserts or replaces the row keyed by (license_id,
// ea_instance_id). Two racing heartbeats from the same instance
// converge on one row rather than producing duplicates.
func (r *GormSessionRepository) Upsert(ctx context.Context, session *domain.LicenseSession) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "license_id"}, {Name: "ea_instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"session_token",
			"hardware_fingerprint",
			"ip_address",
			"user_agent",
			"mt5_account",
			"last_heartbeat",
			"expires_at",
			"is_active",
			"updated_at",
		}),
	}).Create(session).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "upsert", "success")
	return nil
}

func (r *GormSessionRepository) Renew(ctx context.Context, id uint, heartbeatAt, expiresAt time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.LicenseSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_heartbeat": heartbeatAt,
			"expires_at":     expiresAt,
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "renew", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "renew", "success")
	return nil
}

func (r *GormSessionRepository) Deactivate(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Model(&domain.LicenseSession{}).
		Where("id = ?", id).
		Update("is_active", false).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "deactivate", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "deactivate", "success")
	return nil
}

func (r *GormSessionRepository) ListActiveByLicense(ctx context.Context, licenseID uint) ([]domain.LicenseSession, error) {
	var sessions []domain.LicenseSession
	err := r.db.WithContext(ctx).
		Where("license_id = ? AND is_active = ?", licenseID, true).
		Order("last_heartbeat DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_by_license", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_license", "success")
	return sessions, nil
}
