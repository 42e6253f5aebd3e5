package handler

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/quantumfx/ea-license-service/internal/fingerprint"
	"github.com/quantumfx/ea-license-service/internal/http/response"
	"github.com/quantumfx/ea-license-service/internal/observability"
	"github.com/quantumfx/ea-license-service/internal/service"
)

// LicenseHandler serves the EA-facing endpoints. EA clients parse a
// flat JSON shape ("valid", "error" at the top level), so these
// handlers bypass the envelope used by the ops API.
type LicenseHandler struct {
	svc *service.ValidationService
}

func NewLicenseHandler(svc *service.ValidationService) *LicenseHandler {
	return &LicenseHandler{svc: svc}
}

type hardwareInfoPayload struct {
	CPUID         string `json:"cpu_id"`
	MotherboardID string `json:"motherboard_id"`
	DiskSerial    string `json:"disk_serial"`
	MACAddress    string `json:"mac_address"`
	SystemUUID    string `json:"system_uuid"`
}

type validateRequest struct {
	LicenseKey    string               `json:"license_key"`
	HardwareInfo  *hardwareInfoPayload `json:"hardware_info"`
	MT5Account    string               `json:"mt5_account"`
	EAProductCode string               `json:"ea_product_code"`
	EAInstanceID  string               `json:"ea_instance_id"`
}

type validateSuccess struct {
	Valid           bool      `json:"valid"`
	SessionToken    string    `json:"session_token"`
	ExpiresAt       time.Time `json:"expires_at"`
	MaxSessions     int       `json:"max_sessions"`
	CurrentSessions int64     `json:"current_sessions"`
}

type validateFailure struct {
	Valid bool   `json:"valid"`
	Error string `json:"error"`
}

func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Flat(w, http.StatusBadRequest, validateFailure{Error: "invalid request body"})
		return
	}
	// hardware_info must be present, or a zero fingerprint would be
	// derived and could bind to a fresh license.
	if req.LicenseKey == "" || req.EAProductCode == "" || req.EAInstanceID == "" || req.HardwareInfo == nil {
		response.Flat(w, http.StatusBadRequest, validateFailure{Error: "missing required parameters"})
		return
	}

	outcome, err := h.svc.Validate(r.Context(), service.ValidationRequest{
		LicenseKey: req.LicenseKey,
		Hardware: fingerprint.HardwareInfo{
			CPUID:         req.HardwareInfo.CPUID,
			MotherboardID: req.HardwareInfo.MotherboardID,
			DiskSerial:    req.HardwareInfo.DiskSerial,
			MACAddress:    req.HardwareInfo.MACAddress,
			SystemUUID:    req.HardwareInfo.SystemUUID,
		},
		MT5Account:   req.MT5Account,
		ProductCode:  req.EAProductCode,
		EAInstanceID: req.EAInstanceID,
		IPAddress:    requestIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "validation pipeline failed", "error", err)
		response.Flat(w, http.StatusInternalServerError, validateFailure{Error: "internal error"})
		return
	}

	if !outcome.Valid {
		observability.Audit(r, "license.validation.denied",
			"code", string(outcome.Denial),
			"ea_instance_id", req.EAInstanceID,
			"product_code", req.EAProductCode,
		)
	}

	if outcome.Valid {
		response.Flat(w, http.StatusOK, validateSuccess{
			Valid:           true,
			SessionToken:    outcome.SessionToken,
			ExpiresAt:       outcome.ExpiresAt,
			MaxSessions:     outcome.MaxSessions,
			CurrentSessions: outcome.CurrentSessions,
		})
		return
	}
	response.Flat(w, denialStatus(outcome.Denial), validateFailure{Error: outcome.Reason})
}

// denialStatuses maps every denial code to its HTTP status. All
// license-level rejections are 403 so callers cannot distinguish an
// unknown key from a revoked one.
var denialStatuses = map[service.DenialCode]int{
	service.DenialRateLimited:         http.StatusTooManyRequests,
	service.DenialLicenseNotFound:     http.StatusForbidden,
	service.DenialLicenseInactive:     http.StatusForbidden,
	service.DenialLicenseExpired:      http.StatusForbidden,
	service.DenialProductUnauthorized: http.StatusForbidden,
	service.DenialHardwareMismatch:    http.StatusForbidden,
	service.DenialConcurrencyLimit:    http.StatusForbidden,
}

func denialStatus(code service.DenialCode) int {
	if status, ok := denialStatuses[code]; ok {
		return status
	}
	return http.StatusForbidden
}

func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
