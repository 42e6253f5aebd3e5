package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Environment string
	HTTPAddr    string

	DatabaseURL string

	// RedisAddr is optional; empty disables the negative key cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyMissTTL    time.Duration

	// SessionWindow is the sliding validity window granted on every
	// successful validation or heartbeat.
	SessionWindow time.Duration

	// IPRateLimitRPM bounds requests per client IP at the HTTP edge,
	// independent of the per-license fixed-window limiter.
	IPRateLimitRPM int

	OpsJWTSecret   string
	OpsJWTIssuer   string
	OpsJWTAudience string

	ShutdownTimeout time.Duration

	LogLevel string

	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELHTTPEnabled           bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration
}

// Load reads configuration from the environment, applying defaults.
// DATABASE_URL is the only required setting.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{
		Environment:               getEnv("APP_ENV", "development"),
		HTTPAddr:                  getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   getInt("REDIS_DB", 0),
		KeyMissTTL:                getDuration("LICENSE_KEY_MISS_TTL", 5*time.Minute),
		SessionWindow:             getDuration("SESSION_WINDOW", 24*time.Hour),
		IPRateLimitRPM:            getInt("IP_RATE_LIMIT_RPM", 300),
		OpsJWTSecret:              os.Getenv("OPS_JWT_SECRET"),
		OpsJWTIssuer:              getEnv("OPS_JWT_ISSUER", "ea-license-service"),
		OpsJWTAudience:            getEnv("OPS_JWT_AUDIENCE", "ea-license-ops"),
		ShutdownTimeout:           getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		OTELMetricsEnabled:        getBool("OTEL_METRICS_ENABLED", false),
		OTELTracesEnabled:         getBool("OTEL_TRACES_ENABLED", false),
		OTELLogsEnabled:           getBool("OTEL_LOGS_ENABLED", false),
		OTELHTTPEnabled:           getBool("OTEL_HTTP_ENABLED", false),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "ea-license-service"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", "development"),
		OTELMetricsExportInterval: getDuration("OTEL_METRICS_EXPORT_INTERVAL", 30*time.Second),
	}

	if err := cfg.validate(); err != nil {
		recordConfigLoadEvent(ctx, cfg.Environment, "invalid", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigLoadEvent(ctx, cfg.Environment, "valid", "none")
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("validate config: DATABASE_URL is required")
	}
	if c.SessionWindow <= 0 {
		return fmt.Errorf("validate config: SESSION_WINDOW must be positive")
	}
	if c.IPRateLimitRPM <= 0 {
		return fmt.Errorf("validate config: IP_RATE_LIMIT_RPM must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
