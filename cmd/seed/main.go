package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hackgods/voice-appointment-booking/internal/booking"
	"github.com/hackgods/voice-appointment-booking/internal/config"
	"github.com/hackgods/voice-appointment-booking/internal/db"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

const batchSize = 500

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("load config", zap.Error(err))
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SEED_PATIENTS", 500)
	v.SetDefault("SEED_BOOKED_SHARE", 0.4)
	v.SetDefault("SEED_DAYS", 14)
	patients := v.GetInt("SEED_PATIENTS")
	share := v.GetFloat64("SEED_BOOKED_SHARE")
	days := v.GetInt("SEED_DAYS")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	ids, err := seedPatients(context.Background(), pool, logger, patients)
	if err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}
	today := time.Now().In(cfg.Location())
	if err := seedAppointments(context.Background(), pool, logger, ids, share, today, days); err != nil {
		logger.Fatal("seed appointments", zap.Error(err))
	}

	logger.Info("seed complete")
}

// fakePhone returns an 11-digit local mobile number, already canonical.
func fakePhone() string {
	return fmt.Sprintf("03%02d%07d", gofakeit.Number(0, 49), gofakeit.Number(0, 9_999_999))
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, log *logging.Logger, count int) ([]uuid.UUID, error) {
	log.Info("seeding patients", zap.Int("count", count))
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			var id uuid.UUID
			email := gofakeit.Email()
			// phone collisions are skipped rather than retried
			err := tx.QueryRow(ctx, `
				INSERT INTO patients (id, name, phone, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
				ON CONFLICT (phone) DO NOTHING
				RETURNING id
			`, uuid.New(), gofakeit.FirstName()+" "+gofakeit.LastName(), fakePhone(), email).Scan(&id)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					continue
				}
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return ids, nil
}

// seedAppointments books a share of the patients into free template slots
// over the coming days, one appointment per patient.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, log *logging.Logger, patients []uuid.UUID, share float64, today time.Time, days int) error {
	taken := map[string]bool{}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booked := 0
	for _, patientID := range patients {
		if gofakeit.Float64() >= share {
			continue
		}
		date := today.AddDate(0, 0, gofakeit.Number(1, max(days, 1))).Format("2006-01-02")
		slot := booking.Template[gofakeit.Number(0, len(booking.Template)-1)]
		if taken[date+" "+slot] {
			continue
		}
		taken[date+" "+slot] = true

		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (id, patient_id, date, time, status, created_at, updated_at)
			VALUES ($1, $2, $3::date, $4, 'booked', now(), now())
		`, uuid.New(), patientID, date, slot)
		if err != nil {
			return err
		}
		booked++
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Info("appointments seeded", zap.Int("count", booked))
	return nil
}
