package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quantumfx/ea-license-service/internal/service"
)

func TestDenialStatusMapping(t *testing.T) {
	cases := map[service.DenialCode]int{
		service.DenialRateLimited:         http.StatusTooManyRequests,
		service.DenialLicenseNotFound:     http.StatusForbidden,
		service.DenialLicenseInactive:     http.StatusForbidden,
		service.DenialLicenseExpired:      http.StatusForbidden,
		service.DenialProductUnauthorized: http.StatusForbidden,
		service.DenialHardwareMismatch:    http.StatusForbidden,
		service.DenialConcurrencyLimit:    http.StatusForbidden,
	}
	for code, want := range cases {
		if got := denialStatus(code); got != want {
			t.Fatalf("denialStatus(%s)=%d want %d", code, got, want)
		}
	}
	if got := denialStatus(service.DenialCode("unmapped")); got != http.StatusForbidden {
		t.Fatalf("denialStatus(unmapped)=%d want %d", got, http.StatusForbidden)
	}
}

func TestRequestIPStripsPort(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "192.0.2.7:4444"
	if got := requestIP(r); got != "192.0.2.7" {
		t.Fatalf("requestIP=%q", got)
	}
	r.RemoteAddr = "192.0.2.8"
	if got := requestIP(r); got != "192.0.2.8" {
		t.Fatalf("requestIP without port=%q", got)
	}
}
