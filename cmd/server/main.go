package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quantumfx/ea-license-service/internal/app"
	"github.com/quantumfx/ea-license-service/internal/config"
	"github.com/quantumfx/ea-license-service/internal/domain"
	"github.com/quantumfx/ea-license-service/internal/health"
	"github.com/quantumfx/ea-license-service/internal/http/handler"
	"github.com/quantumfx/ea-license-service/internal/http/router"
	"github.com/quantumfx/ea-license-service/internal/observability"
	"github.com/quantumfx/ea-license-service/internal/repository"
	"github.com/quantumfx/ea-license-service/internal/security"
	"github.com/quantumfx/ea-license-service/internal/service"
	"github.com/quantumfx/ea-license-service/internal/tools/loadgen"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "ea-license-service",
		Short: "License authority for Expert Advisor trading bots",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile == "" {
				return nil
			}
			return config.LoadEnvFile(envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "optional env file loaded before configuration")
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newOpsTokenCommand())
	cmd.AddCommand(newLoadgenCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the license validation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	logger, loggerProvider, err := observability.InitLogger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	runtime.LoggerProvider = loggerProvider

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(
		&domain.EAProduct{},
		&domain.SubscriptionTier{},
		&domain.License{},
		&domain.LicenseSession{},
		&domain.LicenseValidation{},
	); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var keyMissCache service.KeyMissCache
	checkers := []health.Checker{health.NewDatabaseChecker(db)}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		keyMissCache = service.NewRedisKeyMissCache(redisClient, "")
		checkers = append(checkers, health.NewRedisChecker(redisClient))
	}

	licenses := repository.NewLicenseRepository(db)
	sessions := repository.NewSessionRepository(db)
	validations := repository.NewValidationRepository(db)
	svc := service.NewValidationService(licenses, sessions, validations, keyMissCache, cfg.KeyMissTTL, cfg.SessionWindow)

	jwtMgr := security.NewJWTManager(cfg.OpsJWTIssuer, cfg.OpsJWTAudience, cfg.OpsJWTSecret)
	readiness := health.NewProbeRunner(2*time.Second, 5*time.Second, checkers...)

	h := router.NewRouter(router.Dependencies{
		LicenseHandler: handler.NewLicenseHandler(svc),
		OpsHandler:     handler.NewOpsHandler(licenses, sessions, validations),
		JWTManager:     jwtMgr,
		IPRateLimitRPM: cfg.IPRateLimitRPM,
		Readiness:      readiness,
		EnableOTelHTTP: cfg.OTELHTTPEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app.New(cfg, logger, server, runtime, readiness).Run(ctx)
}

func newOpsTokenCommand() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ops-token",
		Short: "Mint a bearer token for the ops inspection API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			mgr := security.NewJWTManager(cfg.OpsJWTIssuer, cfg.OpsJWTAudience, cfg.OpsJWTSecret)
			token, err := mgr.SignOpsToken(subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, usually the operator's email")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{"licenses:read"}, "scopes granted to the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newLoadgenCommand() *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate synthetic validation traffic against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := loadgen.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requests=%d failures=%d", result.TotalRequests, result.Failures)
			for class, count := range result.StatusClasses {
				fmt.Fprintf(cmd.OutOrStdout(), " %s=%d", class, count)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "license server base URL")
	cmd.Flags().StringVar(&cfg.LicenseKey, "license-key", "", "license key to validate against")
	cmd.Flags().StringVar(&cfg.ProductCode, "product-code", "", "EA product code sent with each request")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: validate, heartbeat or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to run")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 10, "requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "concurrent workers")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 42, "rng seed")
	_ = cmd.MarkFlagRequired("license-key")
	return cmd
}
