// Package scheduling owns slot lookup, booking, cancellation, rescheduling and
// provider-side status changes. Every write re-validates against the ledger
// inside a locked transaction.
package scheduling

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
)

var tracer = otel.Tracer("booking-service/scheduling")

type Notifier interface {
	Emit(ctx context.Context, userID, appointmentID string, kind model.NotificationKind, message string)
}

// SlotCache holds slot listings. Get hands out a version on a miss; Set with that
// version must not store anything if Invalidate ran since.
type SlotCache interface {
	Get(ctx context.Context, providerID, date string) ([]model.Slot, int64, bool)
	Set(ctx context.Context, providerID, date string, version int64, slots []model.Slot)
	Invalidate(ctx context.Context, providerID string, dates ...string)
}

type Config struct {
	// Grain is the slot width.
	Grain time.Duration
	// LeadTime is the minimum gap between now and the start of an explicit-range
	// booking or any reschedule target.
	LeadTime time.Duration
	// MissedGrace is how long after its end an approved appointment becomes missed.
	MissedGrace time.Duration
	SweepBatch  int
}

func (c Config) withDefaults() Config {
	if c.Grain <= 0 {
		c.Grain = time.Hour
	}
	if c.LeadTime < 0 {
		c.LeadTime = 0
	}
	if c.MissedGrace <= 0 {
		c.MissedGrace = 15 * time.Minute
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 100
	}
	return c
}

// DefaultConfig is one-hour slots with a 30 minute lead time.
func DefaultConfig() Config {
	return Config{Grain: time.Hour, LeadTime: 30 * time.Minute, MissedGrace: 15 * time.Minute, SweepBatch: 100}
}

type Engine struct {
	ledger    storage.Ledger
	providers storage.Providers
	clock     clock.Clock
	notifier  Notifier
	cache     SlotCache
	metrics   *metrics.Booking
	logger    *slog.Logger
	cfg       Config
}

type Option func(*Engine)

func WithCache(c SlotCache) Option { return func(e *Engine) { e.cache = c } }

func WithMetrics(m *metrics.Booking) Option { return func(e *Engine) { e.metrics = m } }

func New(ledger storage.Ledger, providers storage.Providers, clk clock.Clock, notifier Notifier, logger *slog.Logger, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		ledger:    ledger,
		providers: providers,
		clock:     clk,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Grain() time.Duration { return e.cfg.Grain }

// begin opens a span for op and returns the func that closes it and records the outcome.
func (e *Engine) begin(ctx context.Context, op string) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, "scheduling."+op)
	started := time.Now()
	return ctx, func(errp *error) {
		if err := *errp; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome(err))
		}
		span.End()
		e.metrics.ObserveOperation(op, outcome(*errp), time.Since(started).Seconds())
	}
}

func (e *Engine) emit(ctx context.Context, a model.Appointment, kind model.NotificationKind, message string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Emit(ctx, a.UserID, a.ID, kind, message)
}

func (e *Engine) invalidate(ctx context.Context, providerID string, dates ...string) {
	if e.cache == nil {
		return
	}
	e.cache.Invalidate(context.WithoutCancel(ctx), providerID, dates...)
}

func (e *Engine) provider(ctx context.Context, id string) (model.Provider, *time.Location, error) {
	if id == "" {
		return model.Provider{}, nil, ErrInvalidRequest
	}
	p, err := e.providers.Get(ctx, id)
	if err != nil {
		return model.Provider{}, nil, translate(err)
	}
	loc, err := p.Location()
	if err != nil {
		return model.Provider{}, nil, err
	}
	return p, loc, nil
}

// localDates lists every provider-local calendar date touched by [start,end).
func localDates(start, end time.Time, loc *time.Location) []string {
	var out []string
	last := end.Add(-time.Nanosecond).In(loc).Format(model.DateLayout)
	for d := start.In(loc); ; d = d.AddDate(0, 0, 1) {
		s := d.Format(model.DateLayout)
		out = append(out, s)
		if s >= last {
			return out
		}
	}
}

func slotKeys(providerID string, dates []string) []string {
	keys := make([]string, len(dates))
	for i, d := range dates {
		keys[i] = storage.SlotKey(providerID, d)
	}
	return keys
}

func describe(a model.Appointment, loc *time.Location) string {
	return a.Date + " at " + model.SlotLabel(a.StartTime, a.EndTime, loc)
}
