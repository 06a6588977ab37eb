// Package profilesync refreshes a caller's cached profile after a booking
// transition, either in-process or through the asynq job queue.
package profilesync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/hackgods/voice-appointment-booking/internal/metrics"
	"github.com/hackgods/voice-appointment-booking/internal/profile"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

const (
	TypeProfileRefresh = "profile:refresh"
	// Queue is the asynq queue refresh tasks are enqueued on.
	Queue = "profiles"
)

type RefreshPayload struct {
	Phone string `json:"phone"`
}

// Refresher re-derives and caches one caller profile.
type Refresher interface {
	Refresh(ctx context.Context, phone string) (profile.CallerProfile, error)
}

func NewRefreshTask(phone string) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(RefreshPayload{Phone: phone})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeProfileRefresh, b)
	opts := []asynq.Option{
		asynq.Queue(Queue),
		asynq.MaxRetry(3),
		asynq.Timeout(10 * time.Second),
	}
	return task, opts, nil
}

// HandleRefresh processes profile:refresh tasks on the worker.
func HandleRefresh(r Refresher, log *logging.Logger, m *metrics.BookingMetrics) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p RefreshPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			log.Error("invalid profile refresh payload", zap.Error(err))
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		if p.Phone == "" {
			return fmt.Errorf("empty phone: %w", asynq.SkipRetry)
		}

		if _, err := r.Refresh(ctx, p.Phone); err != nil {
			m.ObserveProfileRefresh(false)
			log.Warn("profile refresh failed", zap.String("phone", p.Phone), zap.Error(err))
			return err
		}
		m.ObserveProfileRefresh(true)
		log.Debug("profile refreshed", zap.String("phone", p.Phone))
		return nil
	}
}
