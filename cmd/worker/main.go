// Package main is the entry point for the CF Progress Hub worker.
//
// The worker owns the full sync pipeline:
//   - The schedule controller, which fires the sync job on a cron schedule
//     that administrators can change at runtime
//   - The sync job itself: per-student inactivity detection, reminder mail
//     and refresh of profile plus contest history from the Codeforces API
//   - The REST API for roster management and sync administration
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cf-progress-hub/cf-progress-hub/config"
	"github.com/cf-progress-hub/cf-progress-hub/internal/infrastructure/email"
	"github.com/cf-progress-hub/cf-progress-hub/internal/infrastructure/external/codeforces"
	"github.com/cf-progress-hub/cf-progress-hub/internal/infrastructure/persistence/postgres"
	"github.com/cf-progress-hub/cf-progress-hub/internal/infrastructure/persistence/redis"
	"github.com/cf-progress-hub/cf-progress-hub/internal/infrastructure/scheduler"
	"github.com/cf-progress-hub/cf-progress-hub/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/cf-progress-hub/cf-progress-hub/internal/interface/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	// A missing .env file is fine; the environment may be set externally.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting CF Progress Hub worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var profileCache *redis.ProfileCache
	var redisCache *redis.Cache

	if !cfg.Redis.Disabled && cfg.Features.IsEnabled(config.FeatureSyncProfileCache) {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
		} else {
			defer redisCache.Close()
			profileCache = redis.NewProfileCache(redisCache, log)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	studentRepo := postgres.NewStudentRepository(dbConn)
	scheduleStore := postgres.NewScheduleRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. CODEFORCES CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	clientCfg := codeforces.DefaultClientConfig(cfg.Codeforces.BaseURL)
	clientCfg.Timeout = cfg.Codeforces.RequestTimeout
	clientCfg.Logger = log
	clientCfg.Debug = cfg.App.Debug
	clientCfg.RateLimiterConfig.RequestsPerSecond = cfg.Codeforces.RequestsPerSecond
	clientCfg.RateLimiterConfig.BurstSize = cfg.Codeforces.BurstSize
	clientCfg.RateLimiterConfig.MinInterval = cfg.Codeforces.MinInterval
	clientCfg.RetryConfig.MaxRetries = cfg.Codeforces.MaxRetries
	clientCfg.RetryConfig.InitialBackoff = cfg.Codeforces.RetryBaseDelay
	clientCfg.RetryConfig.MaxBackoff = cfg.Codeforces.RetryMaxDelay
	clientCfg.CircuitBreakerConfig.FailureThreshold = cfg.Codeforces.CircuitBreakerThreshold
	clientCfg.CircuitBreakerConfig.Timeout = cfg.Codeforces.CircuitBreakerTimeout
	clientCfg.CircuitBreakerConfig.HalfOpenMaxRetries = cfg.Codeforces.CircuitBreakerHalfOpenMax
	cfClient := codeforces.NewClient(clientCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. MAILER
	// ─────────────────────────────────────────────────────────────────────────
	var mailer email.Mailer
	switch cfg.Email.Provider {
	case "sendgrid":
		mailer = email.NewSendGridMailer(email.SendGridConfig{
			APIKey:      cfg.Email.APIKey,
			FromName:    cfg.Email.FromName,
			FromAddress: cfg.Email.FromAddress,
		}, log)
		log.Info("using SendGrid mailer", "from", cfg.Email.FromAddress)
	default:
		mailer = email.NewConsoleMailer(log)
		log.Info("using console mailer")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SYNC JOB AND SCHEDULE CONTROLLER
	// ─────────────────────────────────────────────────────────────────────────
	jobCfg := jobs.SyncStudentsConfig{
		InterStudentDelay:    cfg.Scheduler.InterStudentDelay,
		SubmissionFetchCount: cfg.Scheduler.SubmissionFetchCount,
		Timeout:              cfg.Scheduler.JobTimeout,
		DisableReminders:     !cfg.Features.IsEnabled(config.FeatureSyncInactivityMail),
	}

	// The interface value stays nil-checkable inside the job only when the
	// cache pointer is actually set.
	var cacheDep jobs.ProfileCache
	if profileCache != nil {
		cacheDep = profileCache
	}

	syncJob := jobs.NewSyncStudentsJob(studentRepo, cfClient, mailer, cacheDep, log, jobCfg)

	controller := scheduler.NewController(syncJob, scheduleStore, scheduler.ControllerConfig{
		DefaultExpression: cfg.Scheduler.CronExpression,
		Location:          cfg.App.Location,
		Logger:            log,
	})

	if cfg.Scheduler.Enabled {
		if err := controller.Start(ctx); err != nil {
			return fmt.Errorf("failed to start schedule controller: %w", err)
		}
	} else {
		log.Warn("scheduler disabled, sync runs only on manual trigger")
	}
	// Stop waits for manual runs too, so it applies even with the timer off.
	defer controller.Stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpserver.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.JWTSecret = cfg.HTTP.JWTSecret
	serverCfg.EnableCORS = cfg.HTTP.EnableCORS
	serverCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	serverCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute

	healthCheckers := map[string]httpserver.HealthChecker{
		"postgres": healthCheckFunc(dbConn.Ping),
	}
	if redisCache != nil {
		healthCheckers["redis"] = healthCheckFunc(redisCache.Ping)
	}

	var profilesDep httpserver.ProfileCache
	if profileCache != nil {
		profilesDep = profileCache
	}

	server := httpserver.NewServer(serverCfg, httpserver.Dependencies{
		Students:       studentRepo,
		Syncer:         syncJob,
		Controller:     controller,
		Profiles:       profilesDep,
		Features:       cfg.Features,
		Logger:         log,
		HealthCheckers: healthCheckers,
	})

	serverErr := server.StartAsync()
	log.Info("CF Progress Hub worker is running",
		"address", serverCfg.Address(),
		"schedule", controller.Expression(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("http server shutdown failed", "error", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}

// setupLogger configures structured logging per the observability settings.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Observability.LogLevel),
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" || cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// healthCheckFunc adapts a plain ping function to the HealthChecker interface.
type healthCheckFunc func(ctx context.Context) error

func (f healthCheckFunc) Check(ctx context.Context) error {
	return f(ctx)
}
