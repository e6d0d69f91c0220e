package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	"github.com/naiaprojects/naia-sub001/internal/platform/observability"
	"github.com/naiaprojects/naia-sub001/internal/repositories"
)

const (
	outboxMeterName = "github.com/naiaprojects/naia-sub001/internal/services/outbox"

	defaultOutboxLease       = 2 * time.Minute
	defaultOutboxBatchSize   = 25
	defaultOutboxMaxAttempts = 8
	defaultOutboxBaseBackoff = 5 * time.Second
	defaultOutboxMaxBackoff  = 30 * time.Minute
)

var errNoOutboxHandler = errors.New("outbox: no handler registered for effect")

// OutboxHandler performs one side effect. Handlers must tolerate repeated delivery of the
// same task.
type OutboxHandler interface {
	HandleOutboxTask(ctx context.Context, task OutboxTask) error
}

// OutboxHandlerFunc adapts a function to OutboxHandler.
type OutboxHandlerFunc func(ctx context.Context, task OutboxTask) error

func (f OutboxHandlerFunc) HandleOutboxTask(ctx context.Context, task OutboxTask) error {
	return f(ctx, task)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a handler failure that retrying cannot fix; the task goes straight to dead.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// OutboxDispatcherDeps bundles collaborators for the dispatcher.
type OutboxDispatcherDeps struct {
	Outbox      repositories.OutboxRepository
	Handlers    map[domain.OutboxEffect]OutboxHandler
	Lease       time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Meter       metric.Meter
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type outboxDispatcher struct {
	outbox      repositories.OutboxRepository
	handlers    map[domain.OutboxEffect]OutboxHandler
	lease       time.Duration
	batchSize   int
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
	wake        chan struct{}
	mu          sync.Mutex

	outcomes metric.Int64Counter
	duration metric.Float64Histogram
}

// NewOutboxDispatcher constructs the dispatcher. Zero tuning values take the defaults.
func NewOutboxDispatcher(deps OutboxDispatcherDeps) (OutboxDispatcher, error) {
	if deps.Outbox == nil {
		return nil, errors.New("outbox dispatcher: outbox repository is required")
	}
	d := &outboxDispatcher{
		outbox:      deps.Outbox,
		handlers:    make(map[domain.OutboxEffect]OutboxHandler, len(deps.Handlers)),
		lease:       orDuration(deps.Lease, defaultOutboxLease),
		batchSize:   deps.BatchSize,
		maxAttempts: deps.MaxAttempts,
		baseBackoff: orDuration(deps.BaseBackoff, defaultOutboxBaseBackoff),
		maxBackoff:  orDuration(deps.MaxBackoff, defaultOutboxMaxBackoff),
		clock:       ensureClock(deps.Clock),
		logger:      ensureLogger(deps.Logger),
		wake:        make(chan struct{}, 1),
	}
	if d.batchSize <= 0 {
		d.batchSize = defaultOutboxBatchSize
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultOutboxMaxAttempts
	}
	for effect, handler := range deps.Handlers {
		if handler != nil {
			d.handlers[effect] = handler
		}
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(outboxMeterName)
	}
	var err error
	if d.outcomes, err = meter.Int64Counter("outbox.tasks",
		metric.WithDescription("Outbox task attempts by effect and outcome")); err != nil {
		return nil, fmt.Errorf("outbox dispatcher: register counter: %w", err)
	}
	if d.duration, err = meter.Float64Histogram("outbox.task.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Outbox handler latency in milliseconds")); err != nil {
		return nil, fmt.Errorf("outbox dispatcher: register histogram: %w", err)
	}
	return d, nil
}

func (d *outboxDispatcher) Kick() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run dispatches on every tick and on every Kick until ctx is done.
func (d *outboxDispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchDue(ctx); err != nil && ctx.Err() == nil {
			d.logger(ctx, "outbox_dispatch_failed", map[string]any{"error": err})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// DispatchDue runs one pass. Passes are serialised within the process; across processes the
// lease keeps a task with a single dispatcher.
func (d *outboxDispatcher) DispatchDue(ctx context.Context) (DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "outbox.dispatch")
	defer span.End()

	tasks, err := d.outbox.ClaimDue(ctx, d.clock(), d.lease, d.batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return DispatchResult{}, err
	}
	result := DispatchResult{Claimed: len(tasks)}
	span.SetAttributes(attribute.Int("outbox.claimed", len(tasks)))

	for _, task := range tasks {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		outcome, err := d.deliver(ctx, task)
		if err != nil {
			return result, err
		}
		switch outcome {
		case "delivered":
			result.Delivered++
		case "dead":
			result.Dead++
		default:
			result.Rescheduled++
		}
	}
	return result, nil
}

// deliver runs the handler and records the outcome. Only bookkeeping failures are returned.
func (d *outboxDispatcher) deliver(ctx context.Context, task OutboxTask) (string, error) {
	ctx, span := observability.StartSpan(ctx, "outbox.deliver",
		attribute.String("outbox.effect", string(task.Effect)),
		attribute.String("outbox.task_id", task.ID),
	)
	defer span.End()

	started := d.clock()
	var handlerErr error
	if handler, ok := d.handlers[task.Effect]; ok {
		taskCtx, cancel := context.WithTimeout(ctx, d.lease/2)
		handlerErr = handler.HandleOutboxTask(taskCtx, task)
		cancel()
	} else {
		handlerErr = Permanent(fmt.Errorf("%w: %s", errNoOutboxHandler, task.Effect))
	}
	now := d.clock()
	d.duration.Record(ctx, float64(now.Sub(started).Milliseconds()),
		metric.WithAttributes(attribute.String("effect", string(task.Effect))))

	fields := map[string]any{
		"taskId":      task.ID,
		"effect":      string(task.Effect),
		"aggregateId": task.AggregateID,
	}

	if handlerErr == nil {
		if err := d.outbox.MarkDelivered(ctx, task.ID, now); err != nil {
			return "", fmt.Errorf("mark outbox task %s delivered: %w", task.ID, err)
		}
		d.record(ctx, task, "delivered")
		d.logger(ctx, "outbox_task_delivered", fields)
		return "delivered", nil
	}

	span.RecordError(handlerErr)
	attempts := task.Attempts + 1
	fields["attempts"] = attempts
	fields["error"] = handlerErr

	if IsPermanent(handlerErr) || attempts >= d.maxAttempts {
		span.SetStatus(codes.Error, "dead")
		if err := d.outbox.Reschedule(ctx, task.ID, attempts, time.Time{}, handlerErr.Error(), now); err != nil {
			return "", fmt.Errorf("mark outbox task %s dead: %w", task.ID, err)
		}
		d.record(ctx, task, "dead")
		d.logger(ctx, "outbox_task_dead", fields)
		return "dead", nil
	}

	next := now.Add(d.backoff(attempts))
	fields["nextAttemptAt"] = next
	if err := d.outbox.Reschedule(ctx, task.ID, attempts, next, handlerErr.Error(), now); err != nil {
		return "", fmt.Errorf("reschedule outbox task %s: %w", task.ID, err)
	}
	d.record(ctx, task, "retry")
	d.logger(ctx, "outbox_task_retry", fields)
	return "retry", nil
}

// backoff doubles from the base for every attempt already made, capped at the maximum.
func (d *outboxDispatcher) backoff(attempts int) time.Duration {
	delay := d.baseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.maxBackoff {
			return d.maxBackoff
		}
	}
	return min(delay, d.maxBackoff)
}

func (d *outboxDispatcher) record(ctx context.Context, task OutboxTask, outcome string) {
	d.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("effect", string(task.Effect)),
		attribute.String("outcome", outcome),
	))
}

func orDuration(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
