package main

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/voice-appointment-booking/internal/appointment"
	"github.com/hackgods/voice-appointment-booking/internal/config"
	"github.com/hackgods/voice-appointment-booking/internal/db"
	"github.com/hackgods/voice-appointment-booking/internal/metrics"
	"github.com/hackgods/voice-appointment-booking/internal/profile"
	"github.com/hackgods/voice-appointment-booking/internal/profilesync"
	redisclient "github.com/hackgods/voice-appointment-booking/internal/redis"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

// profile-worker drains profile:refresh tasks enqueued by the api-server when
// PROFILE_SYNC_MODE=queue.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("config load error", zap.Error(err))
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("profile-worker starting up", zap.String("env", cfg.Env))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pgPool, err := db.ConnectPostgres(ctx, cfg)
	if err != nil {
		cancel()
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(ctx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	repo := appointment.NewPgRepository(pgPool)
	resolver := profile.NewResolver(profile.NewCache(rdb, cfg.ProfileTTL), repo, logger)
	m := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)

	srv := asynq.NewServer(redisclient.AsynqOpt(cfg), asynq.Config{
		Concurrency: 5,
		Queues:      map[string]int{profilesync.Queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn("task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(profilesync.TypeProfileRefresh, profilesync.HandleRefresh(resolver, logger, m))

	// Run blocks until SIGINT or SIGTERM.
	if err := srv.Run(mux); err != nil {
		logger.Fatal("asynq server stopped", zap.Error(err))
	}
	logger.Info("profile-worker stopped")
}
