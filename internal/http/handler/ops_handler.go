package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quantumfx/ea-license-service/internal/http/response"
	"github.com/quantumfx/ea-license-service/internal/observability"
	"github.com/quantumfx/ea-license-service/internal/repository"
)

// OpsHandler exposes read-only forensics for operators. Nothing in the
// validation decision path depends on these endpoints.
type OpsHandler struct {
	licenses    repository.LicenseRepository
	sessions    repository.SessionRepository
	validations repository.ValidationRepository
}

func NewOpsHandler(
	licenses repository.LicenseRepository,
	sessions repository.SessionRepository,
	validations repository.ValidationRepository,
) *OpsHandler {
	return &OpsHandler{licenses: licenses, sessions: sessions, validations: validations}
}

func (h *OpsHandler) LicenseSessions(w http.ResponseWriter, r *http.Request) {
	lic, ok := h.lookupLicense(w, r)
	if !ok {
		return
	}
	observability.Audit(r, "ops.license.sessions", "license_id", lic.ID)
	sessions, err := h.sessions.ListActiveByLicense(r.Context(), lic.ID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to list sessions", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"license_status": lic.Status,
		"sessions":       sessions,
		"count":          len(sessions),
	})
}

func (h *OpsHandler) LicenseValidations(w http.ResponseWriter, r *http.Request) {
	lic, ok := h.lookupLicense(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}
	observability.Audit(r, "ops.license.validations", "license_id", lic.ID, "limit", limit)
	validations, err := h.validations.ListRecentByLicense(r.Context(), lic.ID, limit)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to list validations", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"validations": validations,
		"count":       len(validations),
	})
}

func (h *OpsHandler) lookupLicense(w http.ResponseWriter, r *http.Request) (*licenseRef, bool) {
	key := chi.URLParam(r, "key")
	if key == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing license key", nil)
		return nil, false
	}
	lic, err := h.licenses.FindByKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "license not found", nil)
			return nil, false
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to load license", nil)
		return nil, false
	}
	return &licenseRef{ID: lic.ID, Status: string(lic.Status)}, true
}

type licenseRef struct {
	ID     uint
	Status string
}
