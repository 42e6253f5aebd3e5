package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantumfx/ea-license-service/internal/domain"
	"github.com/quantumfx/ea-license-service/internal/repository"
)

type HeartbeatResult struct {
	OK            bool
	Terminate     bool
	Reason        string
	ExpiresAt     time.Time
	LicenseStatus domain.LicenseStatus
}

// Heartbeat renews an admitted session by its token and instance id,
// sliding the expiry window forward, then re-checks the owning
// license. A license that has gone non-active (or past its expiry)
// deactivates the session and tells the EA to stop trading.
func (s *ValidationService) Heartbeat(ctx context.Context, token, instanceID string) (*HeartbeatResult, error) {
	now := s.now().UTC()

	session, err := s.sessions.FindActiveByToken(ctx, token, instanceID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return &HeartbeatResult{Reason: "invalid session token"}, nil
		}
		return nil, fmt.Errorf("find session: %w", err)
	}

	expiresAt := now.Add(s.sessionWindow)
	if err := s.sessions.Renew(ctx, session.ID, now, expiresAt); err != nil {
		return nil, fmt.Errorf("renew session: %w", err)
	}

	lic, err := s.licenses.FindByID(ctx, session.LicenseID)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			// License row deleted out from under the session; the
			// session must not outlive it.
			_ = s.sessions.Deactivate(ctx, session.ID)
			return &HeartbeatResult{Terminate: true, Reason: "license no longer exists"}, nil
		}
		return nil, fmt.Errorf("find license: %w", err)
	}

	if lic.Status != domain.LicenseStatusActive {
		if err := s.sessions.Deactivate(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("deactivate session: %w", err)
		}
		return &HeartbeatResult{
			Terminate:     true,
			Reason:        fmt.Sprintf("license is %s", lic.Status),
			LicenseStatus: lic.Status,
		}, nil
	}

	if lic.ExpiresAt != nil && lic.ExpiresAt.Before(now) {
		if err := s.licenses.MarkExpired(ctx, lic.ID); err != nil {
			return nil, fmt.Errorf("mark license expired: %w", err)
		}
		if err := s.sessions.Deactivate(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("deactivate session: %w", err)
		}
		return &HeartbeatResult{
			Terminate:     true,
			Reason:        "license has expired",
			LicenseStatus: domain.LicenseStatusExpired,
		}, nil
	}

	if _, err := s.sessions.SweepExpired(ctx, now); err != nil {
		return nil, fmt.Errorf("sweep expired sessions: %w", err)
	}

	return &HeartbeatResult{
		OK:            true,
		ExpiresAt:     expiresAt,
		LicenseStatus: lic.Status,
	}, nil
}
