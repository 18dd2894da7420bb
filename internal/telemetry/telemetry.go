// Package telemetry bundles the logger, tracer and meter handed to every
// component at construction time.
package telemetry

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/onlinebank/onlinebank/internal/logging"
)

const instrumentationName = "github.com/onlinebank/onlinebank"

// Handle is the injected observability surface.
type Handle struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// New builds a Handle from explicit providers. Nil providers fall back to the
// otel globals, which are no-ops until an SDK is installed.
func New(logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) Handle {
	if logger == nil {
		logger = logging.Discard()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	return Handle{
		Logger: logger,
		Tracer: tp.Tracer(instrumentationName),
		Meter:  mp.Meter(instrumentationName),
	}
}

// Discard returns a Handle that drops logs, spans and measurements.
func Discard() Handle {
	return New(logging.Discard(), tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
}

// Counter creates an Int64Counter, degrading to a no-op instrument when the
// meter rejects the definition.
func (h Handle) Counter(name, description string) metric.Int64Counter {
	c, err := h.Meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		h.Logger.Warn("create counter", slog.String("name", name), slog.Any("error", err))
		c, _ = metricnoop.NewMeterProvider().Meter(instrumentationName).Int64Counter(name)
	}
	return c
}

// Fail marks span as failed with err.
func Fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
