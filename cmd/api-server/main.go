package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hackgods/voice-appointment-booking/internal/api"
	"github.com/hackgods/voice-appointment-booking/internal/appointment"
	"github.com/hackgods/voice-appointment-booking/internal/booking"
	"github.com/hackgods/voice-appointment-booking/internal/config"
	"github.com/hackgods/voice-appointment-booking/internal/dashboard"
	"github.com/hackgods/voice-appointment-booking/internal/db"
	"github.com/hackgods/voice-appointment-booking/internal/events"
	"github.com/hackgods/voice-appointment-booking/internal/metrics"
	"github.com/hackgods/voice-appointment-booking/internal/profile"
	"github.com/hackgods/voice-appointment-booking/internal/profilesync"
	redisclient "github.com/hackgods/voice-appointment-booking/internal/redis"
	"github.com/hackgods/voice-appointment-booking/internal/session"
	"github.com/hackgods/voice-appointment-booking/internal/tools"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("config load error", zap.Error(err))
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("clinic", cfg.ClinicName),
		zap.String("profile_sync", cfg.ProfileSyncMode),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewBookingMetrics(reg)

	repo := appointment.NewPgRepository(pgPool)
	sessions := session.NewStore(rdb, cfg.SessionTTL)
	resolver := profile.NewResolver(profile.NewCache(rdb, cfg.ProfileTTL), repo, logger)

	var refresh profilesync.Scheduler
	switch cfg.ProfileSyncMode {
	case config.ProfileSyncQueue:
		client := asynq.NewClient(redisclient.AsynqOpt(cfg))
		defer func() { _ = client.Close() }()
		refresh = profilesync.NewQueueScheduler(client, logger)
	default:
		inline := profilesync.NewInlineScheduler(resolver, logger, m)
		defer inline.Wait()
		refresh = inline
	}

	var publisher appointment.Publisher = appointment.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Warn("error closing kafka writer", zap.Error(err))
			}
		}()
		publisher = kp
		logger.Info("publishing appointment events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	svc := booking.NewService(booking.Deps{
		Repo:     repo,
		Sessions: sessions,
		Profiles: resolver,
		Locker:   redisclient.NewRedisLocker(rdb, cfg.LockTTL),
		Refresh:  refresh,
		Events:   publisher,
		Metrics:  m,
		Logger:   logger,
	}, booking.Options{
		ClinicName: cfg.ClinicName,
		Location:   cfg.Location(),
		WindowDays: cfg.BookingWindowDays,
	})
	// runs before the kafka writer is closed
	defer svc.Wait()

	dispatcher := tools.NewDispatcher(svc, tools.DispatcherConfig{
		RatePerSec: cfg.ToolRatePerSec,
		Burst:      cfg.ToolRateBurst,
	}, logger, m)

	router := api.NewRouter(api.RouterConfig{
		Calls:          svc,
		Tools:          dispatcher,
		Participants:   sessions,
		Dashboard:      dashboard.NewService(repo, sessions, cfg.Location(), logger),
		PostgresPing:   pgPool.Ping,
		RedisPing:      func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		Gatherer:       reg,
		AdminJWTSecret: cfg.AdminJWTSecret,
		Logger:         logger,
		Env:            cfg.Env,
		Version:        version,
	})
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET is empty, dashboard routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
