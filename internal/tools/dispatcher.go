package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/voice-appointment-booking/internal/metrics"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

var toolsTracer = otel.Tracer("voice.internal.tools")

const (
	Apology     = "Sorry, something went wrong on my side. Could you please say that again?"
	Unsupported = "Sorry, I can't help with that. I can book, move or cancel an appointment for you."
	SlowDown    = "One moment please, I'm still working on your last request."

	limiterIdle = 10 * time.Minute
)

// Booker is the booking service as seen by the dispatcher.
type Booker interface {
	SaveName(ctx context.Context, callID, name string) (string, error)
	SavePhone(ctx context.Context, callID, phone string) (string, error)
	AvailableSlot(ctx context.Context, callID, day, date, timeHint string) (string, error)
	Book(ctx context.Context, callID, rawTime string) (string, error)
	StartReschedule(ctx context.Context, callID string) (string, error)
	ConfirmReschedule(ctx context.Context, callID, rawTime string) (string, error)
	StartCancel(ctx context.Context, callID string) (string, error)
	ConfirmCancel(ctx context.Context, callID string) (string, error)
	UpdateCallerProfile(ctx context.Context, callID, name, phone string) (string, error)
	GetDate(ctx context.Context) string
	EndCall(ctx context.Context) string
}

type callLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Dispatcher runs tools for live calls. It never lets an error or a panic
// reach the engine.
type Dispatcher struct {
	booker  Booker
	log     *logging.Logger
	metrics *metrics.BookingMetrics

	perSec float64
	burst  int
	now    func() time.Time

	mu        sync.Mutex
	limiters  map[string]*callLimiter
	lastPrune time.Time
}

type DispatcherConfig struct {
	RatePerSec float64 // <= 0 disables limiting
	Burst      int
}

func NewDispatcher(b Booker, cfg DispatcherConfig, log *logging.Logger, m *metrics.BookingMetrics) *Dispatcher {
	if log == nil {
		log = logging.Default()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Dispatcher{
		booker:   b,
		log:      log,
		metrics:  m,
		perSec:   cfg.RatePerSec,
		burst:    cfg.Burst,
		now:      time.Now,
		limiters: make(map[string]*callLimiter),
	}
}

// Invoke runs one tool for call. Unknown tools and failures come back as
// polite text rather than errors.
func (d *Dispatcher) Invoke(ctx context.Context, call Call, name Name, args Args) (res Result) {
	start := d.now()
	outcome := "ok"

	ctx, span := toolsTracer.Start(ctx, "tools.invoke")
	span.SetAttributes(
		attribute.String("tool.name", string(name)),
		attribute.String("call.id", call.ID),
	)

	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			res = Result{Text: Apology}
			span.SetStatus(codes.Error, "panic")
			d.log.Error("tool panicked",
				zap.String("tool", string(name)),
				zap.String("call_id", call.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
		span.End()
		d.metrics.ObserveTool(string(name), outcome, d.now().Sub(start).Seconds())
	}()

	if !name.Valid() {
		outcome = "unknown"
		d.log.Warn("unknown tool", zap.String("tool", string(name)), zap.String("call_id", call.ID))
		return Result{Text: Unsupported}
	}
	if call.ID == "" {
		outcome = "error"
		d.log.Warn("tool invoked without a call", zap.String("tool", string(name)))
		return Result{Text: Apology}
	}
	if !d.allow(call.ID) {
		outcome = "rate_limited"
		d.metrics.ObserveRateLimited()
		return Result{Text: SlowDown}
	}

	res, err := d.run(ctx, call, name, args)
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool failed")
		d.log.Error("tool failed",
			zap.String("tool", string(name)),
			zap.String("call_id", call.ID),
			zap.Error(err),
		)
		return Result{Text: Apology}
	}

	d.log.Debug("tool done",
		zap.String("tool", string(name)),
		zap.String("call_id", call.ID),
		zap.Duration("took", d.now().Sub(start)),
	)
	return res
}

func (d *Dispatcher) run(ctx context.Context, call Call, name Name, a Args) (Result, error) {
	var (
		text string
		err  error
	)
	switch name {
	case SaveName:
		text, err = d.booker.SaveName(ctx, call.ID, str(a.Name))
	case SavePhone:
		text, err = d.booker.SavePhone(ctx, call.ID, str(a.Phone))
	case AvailableSlot:
		text, err = d.booker.AvailableSlot(ctx, call.ID, str(a.Day), str(a.Date), str(a.Time))
	case BookAppointment:
		text, err = d.booker.Book(ctx, call.ID, str(a.Time))
	case StartReschedule:
		text, err = d.booker.StartReschedule(ctx, call.ID)
	case ConfirmReschedule:
		text, err = d.booker.ConfirmReschedule(ctx, call.ID, str(a.Time))
	case StartCancel:
		text, err = d.booker.StartCancel(ctx, call.ID)
	case ConfirmCancel:
		text, err = d.booker.ConfirmCancel(ctx, call.ID)
	case UpdateCallerProfile:
		text, err = d.booker.UpdateCallerProfile(ctx, call.ID, str(a.Name), str(a.Phone))
	case GetDate:
		text = d.booker.GetDate(ctx)
	case EndCall:
		return Result{Text: d.booker.EndCall(ctx), EndCall: true}, nil
	default:
		return Result{}, fmt.Errorf("tool %q has no handler", name)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text}, nil
}

// allow applies the per-call token bucket. Limiters of calls that went quiet
// are dropped so the map does not grow with every call ever seen.
func (d *Dispatcher) allow(callID string) bool {
	if d.perSec <= 0 {
		return true
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if now.Sub(d.lastPrune) > limiterIdle {
		for id, cl := range d.limiters {
			if now.Sub(cl.lastSeen) > limiterIdle {
				delete(d.limiters, id)
			}
		}
		d.lastPrune = now
	}

	cl, ok := d.limiters[callID]
	if !ok {
		cl = &callLimiter{lim: rate.NewLimiter(rate.Limit(d.perSec), d.burst)}
		d.limiters[callID] = cl
	}
	cl.lastSeen = now
	return cl.lim.AllowN(now, 1)
}
