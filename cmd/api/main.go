// cmd/api/main.go
// Main entry point for the notification service
// This file bootstraps all components and starts the server

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ispoon/ispoon-backend/internal/auth"
	"github.com/ispoon/ispoon-backend/internal/common/database"
	"github.com/ispoon/ispoon-backend/internal/common/logger"
	"github.com/ispoon/ispoon-backend/internal/common/utils"
	"github.com/ispoon/ispoon-backend/internal/config"
	"github.com/ispoon/ispoon-backend/internal/notification"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Logger().Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	log := logger.WithModule("main")
	ctx := context.Background()

	// 3. Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// 4. Connect to PostgreSQL
	db, err := database.NewPostgresDBFromURL(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("connected to PostgreSQL")

	// 5. Run database migrations
	if err := runMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database migrations completed")

	// 6. Connect to Redis when it backs the throttle counters
	var redisClient *redis.Client
	if cfg.Notification.ThrottleBackend == "redis" {
		redisClient, err = database.NewRedisClientFromURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		log.Info("connected to Redis")
	}

	// 7. Notification stores
	repo := notification.NewPostgresRepository(db)
	seeded, err := notification.SeedDefaultTemplates(ctx, repo)
	if err != nil {
		return err
	}
	log.Info("notification templates ready", zap.Int("seeded", seeded))

	var counters notification.ThrottleStore
	if redisClient != nil {
		counters = notification.NewRedisThrottleStore(redisClient, cfg.Notification.ThrottleDays)
	} else {
		counters = notification.NewPostgresThrottleStore(db)
	}
	log.Info("throttle counters configured", zap.String("backend", cfg.Notification.ThrottleBackend))

	// 8. Push provider
	var push notification.PushProvider = notification.DisabledPushProvider{}
	if cfg.EnablePushNotifications {
		fcm, err := notification.NewFCMPushProvider(ctx, cfg.FirebaseCredentialsPath, cfg.FirebaseCredentialsJSON)
		if err != nil {
			return err
		}
		push = fcm
		log.Info("push delivery enabled via FCM")
	} else if cfg.IsDevelopment() {
		log.Info("push delivery disabled in development")
	} else {
		log.Warn("push delivery disabled, notifications will be recorded as failed")
	}

	// 9. Service
	gate := notification.NewThrottleGate(repo, counters, notification.WithGateLocation(loc))
	dispatcher := notification.NewDispatcher(repo, repo, push)
	service := notification.NewService(repo, repo, repo, gate, dispatcher)

	// 10. Scheduler
	var scheduler *notification.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = notification.NewScheduler(service, notification.NewPostgresActivitySource(db),
			notification.WithLocation(loc),
			notification.WithJobTimeout(cfg.Scheduler.JobTimeout),
			notification.WithSweepBatch(cfg.Notification.SweepBatch),
			notification.WithRetention(cfg.Notification.RetentionDays, cfg.Notification.ThrottleDays),
			notification.WithInactivityDays(cfg.Notification.InactivityDays),
			notification.WithDefaultDailyGoal(cfg.Notification.DefaultDailyGoal),
			notification.WithSchedules(notification.Schedules{
				Sweep:         cfg.Scheduler.SweepSpec,
				DailyGoal:     cfg.Scheduler.DailyGoalSpec,
				WeeklyDigest:  cfg.Scheduler.WeeklyDigestSpec,
				Inactivity:    cfg.Scheduler.InactivitySpec,
				LedgerPurge:   cfg.Scheduler.LedgerPurgeSpec,
				ThrottlePurge: cfg.Scheduler.ThrottlePurgeSpec,
			}),
		)
		if err := scheduler.Start(); err != nil {
			return err
		}
	} else {
		log.Info("notification scheduler disabled on this instance")
	}

	// 11. Routes
	authMiddleware := auth.NewMiddleware(utils.JWTOptions{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}, cfg.InternalAPIKey)

	router := newRouter(notification.NewHandler(service), authMiddleware, &healthChecker{db: db, redis: redisClient})

	// 12. Create and start HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		stopScheduler(scheduler, log)
		return fmt.Errorf("failed to start server: %w", err)
	case sig := <-quit:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	stopSchedulerWithin(shutdownCtx, scheduler, log)

	log.Info("server exited gracefully")
	return nil
}

func stopScheduler(s *notification.Scheduler, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	stopSchedulerWithin(ctx, s, log)
}

// stopSchedulerWithin lets running rules finish, up to ctx's deadline
func stopSchedulerWithin(ctx context.Context, s *notification.Scheduler, log *zap.Logger) {
	if s == nil {
		return
	}
	select {
	case <-s.Stop().Done():
		log.Info("notification scheduler stopped")
	case <-ctx.Done():
		log.Warn("notification scheduler did not stop in time")
	}
}
