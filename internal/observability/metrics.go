package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quantumfx/ea-license-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type appMetrics struct {
	validationAttempts metric.Int64Counter
	rateLimitDenials   metric.Int64Counter
	sessionAdmissions  metric.Int64Counter
	auditWriteFailures metric.Int64Counter
	repositoryOps      metric.Int64Counter
	keyMissCacheEvents metric.Int64Counter
	httpRateLimits     metric.Int64Counter
	opsTokenChecks     metric.Int64Counter
}

var (
	metricsMu sync.RWMutex
	metrics   *appMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("ea-license-service")
	m := &appMetrics{}
	if m.validationAttempts, err = meter.Int64Counter("license.validation.attempts"); err != nil {
		return nil, err
	}
	if m.rateLimitDenials, err = meter.Int64Counter("license.validation.rate_limited"); err != nil {
		return nil, err
	}
	if m.sessionAdmissions, err = meter.Int64Counter("license.session.admissions"); err != nil {
		return nil, err
	}
	if m.auditWriteFailures, err = meter.Int64Counter("license.audit.write_failures"); err != nil {
		return nil, err
	}
	if m.repositoryOps, err = meter.Int64Counter("repository.operations"); err != nil {
		return nil, err
	}
	if m.keyMissCacheEvents, err = meter.Int64Counter("license.key_miss_cache.events"); err != nil {
		return nil, err
	}
	if m.httpRateLimits, err = meter.Int64Counter("http.rate_limit.decisions"); err != nil {
		return nil, err
	}
	if m.opsTokenChecks, err = meter.Int64Counter("ops.token.validations"); err != nil {
		return nil, err
	}

	metricsMu.Lock()
	metrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *appMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return metrics
}

// RecordValidationAttempt counts one completed validation decision by
// its closed-set result and suspicious flag.
func RecordValidationAttempt(ctx context.Context, result string, suspicious bool) {
	m := current()
	if m == nil {
		return
	}
	m.validationAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.Bool("suspicious", suspicious),
	))
}

// RecordRateLimitDenial counts per-license fixed-window denials, which
// intentionally produce no audit row.
func RecordRateLimitDenial(ctx context.Context) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitDenials.Add(ctx, 1)
}

func RecordSessionAdmission(ctx context.Context, mode string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionAdmissions.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func RecordAuditWriteFailure(ctx context.Context) {
	m := current()
	if m == nil {
		return
	}
	m.auditWriteFailures.Add(ctx, 1)
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordKeyMissCacheEvent(ctx context.Context, event string) {
	m := current()
	if m == nil {
		return
	}
	m.keyMissCacheEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func RecordHTTPRateLimitDecision(ctx context.Context, scope, decision string) {
	m := current()
	if m == nil {
		return
	}
	m.httpRateLimits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
	))
}

func RecordOpsTokenValidation(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.opsTokenChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
