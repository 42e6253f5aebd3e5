package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/quantumfx/ea-license-service/internal/config"
	"github.com/quantumfx/ea-license-service/internal/health"
)

func TestNewAssignsDependencies(t *testing.T) {
	cfg := &config.Config{ShutdownTimeout: 10 * time.Second}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: ":8080", ReadHeaderTimeout: time.Second}
	readiness := health.NewProbeRunner(100*time.Millisecond, 50*time.Millisecond)

	a := New(cfg, logger, server, nil, readiness)
	if a.Config != cfg || a.Logger != logger || a.Server != server || a.Readiness != readiness {
		t.Fatal("expected app dependencies to be assigned")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := &config.Config{ShutdownTimeout: time.Second}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: "127.0.0.1:0", ReadHeaderTimeout: time.Second}

	a := New(cfg, logger, server, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
