package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/onlinebank/onlinebank/internal/telemetry"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 5 * time.Second

// ErrClosed is logged for messages submitted after Close.
var ErrClosed = errors.New("dispatcher closed")

// Dispatcher delivers notifications in the background. Failures are logged
// and never reach the caller; a circuit breaker stops hammering a broken
// downstream.
type Dispatcher struct {
	notifier Notifier
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration
	tel      telemetry.Handle
	sent     metric.Int64Counter

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher wraps notifier. A non-positive timeout uses DefaultTimeout.
func NewDispatcher(notifier Notifier, timeout time.Duration, tel telemetry.Handle) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Dispatcher{
		notifier: notifier,
		timeout:  timeout,
		tel:      tel,
		sent:     tel.Counter("notifications.sent", "Notification deliveries by kind and outcome"),
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notifications",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			tel.Logger.Warn("notification breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return d
}

// Notify schedules message for delivery and returns immediately. The
// request context only contributes its values; delivery outlives it.
func (d *Dispatcher) Notify(ctx context.Context, message Message) {
	if d == nil || d.notifier == nil {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.tel.Logger.Warn("notification dropped", slog.String("kind", message.Kind), slog.Any("error", ErrClosed))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.deliver(context.WithoutCancel(ctx), message)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, message Message) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, d.notifier.Send(ctx, message)
	})

	outcome := "sent"
	if err != nil {
		outcome = "failed"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "rejected"
		}
		d.tel.Logger.Warn("notification delivery failed",
			slog.String("kind", message.Kind),
			slog.String("destination", message.Destination),
			slog.String("reference", message.Reference),
			slog.Any("error", err),
		)
	}
	d.sent.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", message.Kind),
		attribute.String("outcome", outcome),
	))
}

// Wait blocks until every scheduled delivery has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// Close stops accepting messages and waits for in-flight deliveries until ctx
// is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
