package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/hackgods/voice-appointment-booking/internal/config"
	"github.com/hackgods/voice-appointment-booking/migrations"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

// Usage: migrate [up|down|force <version>]
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("load config", zap.Error(err))
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Fatal("ping db", zap.Error(err))
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Fatal("db driver", zap.Error(err))
	}

	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Fatal("source driver", zap.Error(err))
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Fatal("create migrator", zap.Error(err))
	}
	defer func() { _, _ = m.Close() }()

	cmd := "up"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "force":
		if len(os.Args) < 3 {
			logger.Fatal("force needs a version")
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Fatal("invalid version", zap.Error(err))
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("force version", zap.Error(err))
		}
		logger.Info("forced migration version", zap.Int("version", version))
		return
	case "down":
		err = m.Down()
	case "up":
		err = m.Up()
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migrate", zap.String("command", cmd), zap.Error(err))
	}

	logger.Info("migrations complete", zap.String("command", cmd))
}
