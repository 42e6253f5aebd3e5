package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantumfx/ea-license-service/internal/domain"
	"github.com/quantumfx/ea-license-service/internal/fingerprint"
	"github.com/quantumfx/ea-license-service/internal/observability"
	"github.com/quantumfx/ea-license-service/internal/repository"
)

// DenialCode classifies validation outcomes for the transport layer.
// It is distinct from domain.ValidationResult, which is the closed
// audit vocabulary.
type DenialCode string

const (
	DenialNone                DenialCode = ""
	DenialRateLimited         DenialCode = "rate_limited"
	DenialLicenseNotFound     DenialCode = "license_not_found"
	DenialLicenseInactive     DenialCode = "license_inactive"
	DenialLicenseExpired      DenialCode = "license_expired"
	DenialProductUnauthorized DenialCode = "product_unauthorized"
	DenialHardwareMismatch    DenialCode = "hardware_mismatch"
	DenialConcurrencyLimit    DenialCode = "concurrency_limit"
)

type ValidationRequest struct {
	LicenseKey   string
	Hardware     fingerprint.HardwareInfo
	MT5Account   string
	ProductCode  string
	EAInstanceID string
	IPAddress    string
	UserAgent    string
}

type ValidationOutcome struct {
	Valid           bool
	Denial          DenialCode
	Reason          string
	SessionToken    string
	ExpiresAt       time.Time
	MaxSessions     int
	CurrentSessions int64
}

// ValidationService runs the admission pipeline for every startup and
// heartbeat call an EA instance makes: lookup, status and expiry
// gates, per-license rate limit, product authorization, hardware
// binding, session admission, bookkeeping, and the audit append.
type ValidationService struct {
	licenses      repository.LicenseRepository
	sessions      repository.SessionRepository
	validations   repository.ValidationRepository
	keyMissCache  KeyMissCache
	keyMissTTL    time.Duration
	sessionWindow time.Duration
	now           func() time.Time
}

func NewValidationService(
	licenses repository.LicenseRepository,
	sessions repository.SessionRepository,
	validations repository.ValidationRepository,
	keyMissCache KeyMissCache,
	keyMissTTL time.Duration,
	sessionWindow time.Duration,
) *ValidationService {
	if keyMissCache == nil {
		keyMissCache = NewNoopKeyMissCache()
	}
	if sessionWindow <= 0 {
		sessionWindow = 24 * time.Hour
	}
	return &ValidationService{
		licenses:      licenses,
		sessions:      sessions,
		validations:   validations,
		keyMissCache:  keyMissCache,
		keyMissTTL:    keyMissTTL,
		sessionWindow: sessionWindow,
		now:           time.Now,
	}
}

// Validate decides whether one EA instance may keep trading. Every
// path except a rate-limit denial appends exactly one audit row.
func (s *ValidationService) Validate(ctx context.Context, req ValidationRequest) (*ValidationOutcome, error) {
	now := s.now().UTC()
	fp := fingerprint.Generate(req.Hardware)

	lic, outcome, err := s.lookupLicense(ctx, req, fp, now)
	if err != nil || outcome != nil {
		return outcome, err
	}

	// Status gate. The stored status may be stale relative to
	// expires_at; the explicit expiry check below handles that.
	if lic.Status != domain.LicenseStatusActive {
		result := domain.ResultRevoked
		if lic.Status == domain.LicenseStatusExpired {
			result = domain.ResultExpired
		}
		s.audit(ctx, req, fp, &lic.ID, nil, result, fmt.Sprintf("license status: %s", lic.Status), false, now)
		return &ValidationOutcome{
			Denial: DenialLicenseInactive,
			Reason: fmt.Sprintf("license is %s", lic.Status),
		}, nil
	}

	// Lazy expiry transition: observed here, applied here.
	if lic.ExpiresAt != nil && lic.ExpiresAt.Before(now) {
		if err := s.licenses.MarkExpired(ctx, lic.ID); err != nil {
			return nil, fmt.Errorf("mark license expired: %w", err)
		}
		s.audit(ctx, req, fp, &lic.ID, nil, domain.ResultExpired, "license expired", false, now)
		return &ValidationOutcome{Denial: DenialLicenseExpired, Reason: "license has expired"}, nil
	}

	// Fixed-window rate limit on the license row. Denials return
	// before the audit append; they are counted out-of-band instead
	// so the ledger's one-row-per-decision shape stays intact.
	allowed, err := s.licenses.ConsumeValidationSlot(ctx, lic.ID, now, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("consume validation slot: %w", err)
	}
	if !allowed {
		observability.RecordRateLimitDenial(ctx)
		slog.WarnContext(ctx, "validation rate limit exceeded",
			"license_id", lic.ID,
			"ea_instance_id", req.EAInstanceID,
			"ip", req.IPAddress,
		)
		return &ValidationOutcome{Denial: DenialRateLimited, Reason: "rate limit exceeded"}, nil
	}

	if !authorized(lic, req.ProductCode) {
		s.audit(ctx, req, fp, &lic.ID, nil, domain.ResultRevoked,
			fmt.Sprintf("EA %s not authorized for this license", req.ProductCode), true, now)
		return &ValidationOutcome{
			Denial: DenialProductUnauthorized,
			Reason: "EA not authorized for this license",
		}, nil
	}

	mismatch, err := s.enforceHardwareBinding(ctx, lic, fp)
	if err != nil {
		return nil, err
	}
	if mismatch {
		s.audit(ctx, req, fp, &lic.ID, nil, domain.ResultHardwareMismatch,
			"hardware fingerprint mismatch", true, now)
		return &ValidationOutcome{
			Denial: DenialHardwareMismatch,
			Reason: "hardware mismatch - license bound to different machine",
		}, nil
	}

	return s.admitSession(ctx, req, lic, fp, now)
}

func (s *ValidationService) lookupLicense(ctx context.Context, req ValidationRequest, fp string, now time.Time) (*domain.License, *ValidationOutcome, error) {
	notFound := func() *ValidationOutcome {
		s.audit(ctx, req, fp, nil, nil, domain.ResultRevoked, "license key not found", true, now)
		return &ValidationOutcome{Denial: DenialLicenseNotFound, Reason: "invalid license key"}
	}

	cached, err := s.keyMissCache.Get(ctx, req.LicenseKey)
	if err != nil {
		slog.WarnContext(ctx, "key miss cache read failed", "error", err)
	} else if cached {
		observability.RecordKeyMissCacheEvent(ctx, "hit")
		return nil, notFound(), nil
	}

	lic, err := s.licenses.FindByKey(ctx, req.LicenseKey)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			observability.RecordKeyMissCacheEvent(ctx, "miss_stored")
			if cacheErr := s.keyMissCache.Set(ctx, req.LicenseKey, s.keyMissTTL); cacheErr != nil {
				slog.WarnContext(ctx, "key miss cache write failed", "error", cacheErr)
			}
			return nil, notFound(), nil
		}
		return nil, nil, fmt.Errorf("find license: %w", err)
	}
	return lic, nil, nil
}

// enforceHardwareBinding binds on first use and reports a mismatch
// otherwise. A lost bind race re-reads the stored value so two
// first-activation calls from the same machine both pass.
func (s *ValidationService) enforceHardwareBinding(ctx context.Context, lic *domain.License, fp string) (bool, error) {
	if lic.HardwareFingerprint != "" {
		return lic.HardwareFingerprint != fp, nil
	}
	bound, err := s.licenses.BindFingerprint(ctx, lic.ID, fp)
	if err != nil {
		return false, fmt.Errorf("bind fingerprint: %w", err)
	}
	if bound {
		lic.HardwareFingerprint = fp
		return false, nil
	}
	stored, err := s.licenses.FindByID(ctx, lic.ID)
	if err != nil {
		return false, fmt.Errorf("reload license after bind race: %w", err)
	}
	lic.HardwareFingerprint = stored.HardwareFingerprint
	return stored.HardwareFingerprint != fp, nil
}

func (s *ValidationService) admitSession(ctx context.Context, req ValidationRequest, lic *domain.License, fp string, now time.Time) (*ValidationOutcome, error) {
	if _, err := s.sessions.SweepExpired(ctx, now); err != nil {
		return nil, fmt.Errorf("sweep expired sessions: %w", err)
	}

	active, err := s.sessions.CountActive(ctx, lic.ID)
	if err != nil {
		return nil, fmt.Errorf("count active sessions: %w", err)
	}

	ceiling := sessionCeiling(lic)
	admissionMode := "new"
	if active >= int64(ceiling) {
		_, err := s.sessions.FindActiveByInstance(ctx, lic.ID, req.EAInstanceID)
		if errors.Is(err, repository.ErrSessionNotFound) {
			s.audit(ctx, req, fp, &lic.ID, nil, domain.ResultConcurrentViolation,
				fmt.Sprintf("max concurrent sessions (%d) exceeded", ceiling), false, now)
			return &ValidationOutcome{
				Denial: DenialConcurrencyLimit,
				Reason: fmt.Sprintf("maximum concurrent sessions (%d) exceeded", ceiling),
			}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("find session by instance: %w", err)
		}
		admissionMode = "renewal"
	}

	session := &domain.LicenseSession{
		LicenseID:           lic.ID,
		EAInstanceID:        req.EAInstanceID,
		SessionToken:        uuid.NewString(),
		HardwareFingerprint: fp,
		IPAddress:           req.IPAddress,
		UserAgent:           req.UserAgent,
		MT5Account:          req.MT5Account,
		StartedAt:           now,
		LastHeartbeat:       now,
		ExpiresAt:           now.Add(s.sessionWindow),
		IsActive:            true,
	}
	if err := s.sessions.Upsert(ctx, session); err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}
	observability.RecordSessionAdmission(ctx, admissionMode)

	if err := s.licenses.RecordValidation(ctx, lic.ID, now); err != nil {
		return nil, fmt.Errorf("record validation bookkeeping: %w", err)
	}

	current, err := s.sessions.CountActive(ctx, lic.ID)
	if err != nil {
		return nil, fmt.Errorf("recount active sessions: %w", err)
	}

	s.audit(ctx, req, fp, &lic.ID, &session.ID, domain.ResultValid, "", false, now)
	return &ValidationOutcome{
		Valid:           true,
		SessionToken:    session.SessionToken,
		ExpiresAt:       session.ExpiresAt,
		MaxSessions:     ceiling,
		CurrentSessions: current,
	}, nil
}

// audit appends the one-per-call ledger row. Best effort: a failed
// write is logged and counted, never surfaced to the caller.
func (s *ValidationService) audit(ctx context.Context, req ValidationRequest, fp string, licenseID, sessionID *uint, result domain.ValidationResult, reason string, suspicious bool, at time.Time) {
	record := &domain.LicenseValidation{
		LicenseID:           licenseID,
		SessionID:           sessionID,
		Result:              result,
		HardwareFingerprint: fp,
		IPAddress:           req.IPAddress,
		UserAgent:           req.UserAgent,
		MT5Account:          req.MT5Account,
		EAInstanceID:        req.EAInstanceID,
		FailureReason:       reason,
		Suspicious:          suspicious,
		ValidatedAt:         at,
	}
	if err := s.validations.Append(ctx, record); err != nil {
		observability.RecordAuditWriteFailure(ctx)
		slog.ErrorContext(ctx, "audit append failed",
			"result", string(result),
			"error", err,
		)
	}
	observability.RecordValidationAttempt(ctx, string(result), suspicious)
}

func authorized(lic *domain.License, productCode string) bool {
	switch lic.LicenseType {
	case domain.LicenseTypeIndividualEA:
		return lic.Product != nil && lic.Product.ProductCode == productCode
	case domain.LicenseTypeTierSubscription:
		return lic.Tier != nil && lic.Tier.IncludedEAs.Contains(productCode)
	default:
		return false
	}
}

func sessionCeiling(lic *domain.License) int {
	ceiling := 1
	switch lic.LicenseType {
	case domain.LicenseTypeIndividualEA:
		if lic.Product != nil && lic.Product.MaxConcurrentSessions > 0 {
			ceiling = lic.Product.MaxConcurrentSessions
		}
	case domain.LicenseTypeTierSubscription:
		if lic.Tier != nil && lic.Tier.MaxConcurrentSessions > 0 {
			ceiling = lic.Tier.MaxConcurrentSessions
		}
	}
	return ceiling
}
