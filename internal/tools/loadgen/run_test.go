package loadgen

import "testing"

func TestClassifyStatusClass(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		302: "3xx",
		404: "4xx",
		500: "5xx",
		100: "other",
	}
	for status, want := range cases {
		if got := classifyStatusClass(status); got != want {
			t.Fatalf("classifyStatusClass(%d)=%q want %q", status, got, want)
		}
	}
}

func TestNormalizeProfile(t *testing.T) {
	if got := normalizeProfile(""); got != "mixed" {
		t.Fatalf("normalizeProfile empty=%q want mixed", got)
	}
	if got := normalizeProfile("  VALIDATE  "); got != "validate" {
		t.Fatalf("normalizeProfile validate=%q want validate", got)
	}
	if got := normalizeProfile("unknown"); got != "mixed" {
		t.Fatalf("normalizeProfile unknown=%q want mixed", got)
	}
}

func TestRunRequiresTarget(t *testing.T) {
	if _, err := Run(t.Context(), Config{LicenseKey: "k"}); err == nil {
		t.Fatal("expected error without base url")
	}
	if _, err := Run(t.Context(), Config{BaseURL: "http://localhost"}); err == nil {
		t.Fatal("expected error without license key")
	}
}
