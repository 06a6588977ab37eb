package profilesync

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/hackgods/voice-appointment-booking/internal/metrics"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

// Scheduler queues a profile refresh without making the caller wait for it.
// A lost refresh is tolerable: the appointment store stays authoritative.
type Scheduler interface {
	Schedule(ctx context.Context, phone string)
}

// InlineScheduler refreshes in a background goroutine of this process.
type InlineScheduler struct {
	refresher Refresher
	log       *logging.Logger
	metrics   *metrics.BookingMetrics
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewInlineScheduler(r Refresher, log *logging.Logger, m *metrics.BookingMetrics) *InlineScheduler {
	if log == nil {
		log = logging.Nop()
	}
	return &InlineScheduler{refresher: r, log: log, metrics: m, timeout: 5 * time.Second}
}

func (s *InlineScheduler) Schedule(ctx context.Context, phone string) {
	// detach from the request so the refresh outlives the tool call
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if _, err := s.refresher.Refresh(ctx, phone); err != nil {
			s.metrics.ObserveProfileRefresh(false)
			s.log.Warn("profile refresh failed", zap.String("phone", phone), zap.Error(err))
			return
		}
		s.metrics.ObserveProfileRefresh(true)
	}()
}

// Wait blocks until every scheduled refresh finished.
func (s *InlineScheduler) Wait() {
	s.wg.Wait()
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueScheduler hands the refresh to cmd/profile-worker through asynq.
type QueueScheduler struct {
	client enqueuer
	log    *logging.Logger
}

func NewQueueScheduler(client *asynq.Client, log *logging.Logger) *QueueScheduler {
	if log == nil {
		log = logging.Nop()
	}
	return &QueueScheduler{client: client, log: log}
}

func (s *QueueScheduler) Schedule(ctx context.Context, phone string) {
	task, opts, err := NewRefreshTask(phone)
	if err != nil {
		s.log.Warn("build profile refresh task", zap.Error(err))
		return
	}
	info, err := s.client.EnqueueContext(context.WithoutCancel(ctx), task, opts...)
	if err != nil {
		s.log.Warn("enqueue profile refresh", zap.String("phone", phone), zap.Error(err))
		return
	}
	s.log.Debug("profile refresh enqueued", zap.String("phone", phone), zap.String("task_id", info.ID))
}
