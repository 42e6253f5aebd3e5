package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type LicenseStatus string

const (
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusExpired   LicenseStatus = "expired"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusRevoked   LicenseStatus = "revoked"
)

type LicenseType string

const (
	LicenseTypeIndividualEA     LicenseType = "individual_ea"
	LicenseTypeTierSubscription LicenseType = "tier_subscription"
)

// ValidationResult is the closed outcome set recorded in the audit
// table. Free-text failure reasons are annotations only and never
// extend this set.
type ValidationResult string

const (
	ResultValid               ValidationResult = "valid"
	ResultExpired             ValidationResult = "expired"
	ResultRevoked             ValidationResult = "revoked"
	ResultHardwareMismatch    ValidationResult = "hardware_mismatch"
	ResultConcurrentViolation ValidationResult = "concurrent_violation"
)

// ProductCodes stores a tier's included EA product codes as a JSON
// array in a single column.
type ProductCodes []string

func (p ProductCodes) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *ProductCodes) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("product codes: unsupported column type")
	}
	if len(raw) == 0 {
		*p = nil
		return nil
	}
	return json.Unmarshal(raw, p)
}

func (p ProductCodes) Contains(code string) bool {
	for _, c := range p {
		if c == code {
			return true
		}
	}
	return false
}

// EAProduct is read-only catalog data for one Expert Advisor.
type EAProduct struct {
	ID                      uint      `gorm:"primaryKey" json:"id"`
	ProductCode             string    `gorm:"size:64;uniqueIndex;not null" json:"product_code"`
	Name                    string    `gorm:"size:255;not null" json:"name"`
	MaxConcurrentSessions   int       `gorm:"not null;default:1" json:"max_concurrent_sessions"`
	RequiresHardwareBinding bool      `gorm:"not null;default:true" json:"requires_hardware_binding"`
	IsActive                bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// SubscriptionTier is read-only catalog data for a bundle of EAs
// sharing one session ceiling.
type SubscriptionTier struct {
	ID                    uint         `gorm:"primaryKey" json:"id"`
	TierCode              string       `gorm:"size:64;uniqueIndex;not null" json:"tier_code"`
	Name                  string       `gorm:"size:255;not null" json:"name"`
	IncludedEAs           ProductCodes `gorm:"type:text" json:"included_eas"`
	MaxConcurrentSessions int          `gorm:"not null;default:1" json:"max_concurrent_sessions"`
	IsActive              bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// License is the central entity. It is created by the billing/admin
// subsystem; this service only mutates fingerprint binding, rate-limit
// counters, the lazy active->expired transition, and validation
// bookkeeping.
type License struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	LicenseKey  string        `gorm:"size:128;uniqueIndex;not null" json:"-"`
	Status      LicenseStatus `gorm:"size:16;index;not null;default:active" json:"status"`
	LicenseType LicenseType   `gorm:"size:32;not null" json:"license_type"`

	ProductID *uint             `gorm:"index" json:"product_id,omitempty"`
	Product   *EAProduct        `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	TierID    *uint             `gorm:"index" json:"tier_id,omitempty"`
	Tier      *SubscriptionTier `gorm:"foreignKey:TierID" json:"tier,omitempty"`

	// At most one bound fingerprint; once set only an administrative
	// reset (external) may clear it.
	HardwareFingerprint string `gorm:"size:64;index" json:"hardware_fingerprint,omitempty"`

	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	IssuedAt  time.Time  `json:"issued_at"`

	LastHourValidations   int       `gorm:"not null;default:0" json:"last_hour_validations"`
	LastHourReset         time.Time `json:"last_hour_reset"`
	MaxValidationsPerHour int       `gorm:"not null;default:60" json:"max_validations_per_hour"`

	ValidationCount int64      `gorm:"not null;default:0" json:"validation_count"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LicenseSession is one live EA process under a license. Rows are
// keyed by (license_id, ea_instance_id) so a reconnecting instance
// updates its own row instead of creating a duplicate.
type LicenseSession struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	LicenseID           uint      `gorm:"uniqueIndex:idx_sessions_license_instance;not null" json:"license_id"`
	EAInstanceID        string    `gorm:"size:128;uniqueIndex:idx_sessions_license_instance;not null" json:"ea_instance_id"`
	SessionToken        string    `gorm:"size:64;index;not null" json:"-"`
	HardwareFingerprint string    `gorm:"size:64;not null" json:"hardware_fingerprint"`
	IPAddress           string    `gorm:"size:64" json:"ip_address"`
	UserAgent           string    `gorm:"size:512" json:"user_agent"`
	MT5Account          string    `gorm:"size:64" json:"mt5_account"`
	StartedAt           time.Time `json:"started_at"`
	LastHeartbeat       time.Time `gorm:"index" json:"last_heartbeat"`
	ExpiresAt           time.Time `gorm:"index" json:"expires_at"`
	IsActive            bool      `gorm:"index;not null;default:true" json:"is_active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// LicenseValidation is an append-only audit row. Exactly one is
// written per validation attempt; nothing in the decision path reads
// it back.
type LicenseValidation struct {
	ID                  uint             `gorm:"primaryKey" json:"id"`
	LicenseID           *uint            `gorm:"index" json:"license_id,omitempty"`
	SessionID           *uint            `gorm:"index" json:"session_id,omitempty"`
	Result              ValidationResult `gorm:"size:32;not null" json:"result"`
	HardwareFingerprint string           `gorm:"size:64" json:"hardware_fingerprint"`
	IPAddress           string           `gorm:"size:64" json:"ip_address"`
	UserAgent           string           `gorm:"size:512" json:"user_agent"`
	MT5Account          string           `gorm:"size:64" json:"mt5_account"`
	EAInstanceID        string           `gorm:"size:128" json:"ea_instance_id"`
	FailureReason       string           `gorm:"size:255" json:"failure_reason,omitempty"`
	Suspicious          bool             `gorm:"index;not null;default:false" json:"suspicious"`
	ValidatedAt         time.Time        `gorm:"index" json:"validated_at"`
}
