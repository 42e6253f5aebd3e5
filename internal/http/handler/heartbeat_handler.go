package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantumfx/ea-license-service/internal/http/response"
)

type heartbeatRequest struct {
	SessionToken string `json:"session_token"`
	EAInstanceID string `json:"ea_instance_id"`
}

type heartbeatSuccess struct {
	Success       bool      `json:"success"`
	ExpiresAt     time.Time `json:"expires_at"`
	LicenseStatus string    `json:"license_status"`
}

type heartbeatFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Action  string `json:"action,omitempty"`
}

// Heartbeat renews a session between validations. A terminate action
// tells the EA the owning license is no longer valid and it must stop.
func (h *LicenseHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Flat(w, http.StatusBadRequest, heartbeatFailure{Error: "invalid request body"})
		return
	}
	if req.SessionToken == "" || req.EAInstanceID == "" {
		response.Flat(w, http.StatusBadRequest, heartbeatFailure{Error: "missing required parameters"})
		return
	}

	result, err := h.svc.Heartbeat(r.Context(), req.SessionToken, req.EAInstanceID)
	if err != nil {
		slog.ErrorContext(r.Context(), "heartbeat failed", "error", err)
		response.Flat(w, http.StatusInternalServerError, heartbeatFailure{Error: "internal error"})
		return
	}

	if result.OK {
		response.Flat(w, http.StatusOK, heartbeatSuccess{
			Success:       true,
			ExpiresAt:     result.ExpiresAt,
			LicenseStatus: string(result.LicenseStatus),
		})
		return
	}
	if result.Terminate {
		response.Flat(w, http.StatusForbidden, heartbeatFailure{Error: result.Reason, Action: "terminate"})
		return
	}
	// Unknown tokens also get 403 so the token space cannot be probed.
	response.Flat(w, http.StatusForbidden, heartbeatFailure{Error: result.Reason})
}
