package shm

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/shmem/pkg/shm"

var (
	lockAcquisitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shmem",
		Name:      "lock_acquisitions_total",
		Help:      "Lock acquisitions by mode and result.",
	}, []string{"mode", "result"})

	eventWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shmem",
		Name:      "event_waits_total",
		Help:      "Event waits by result.",
	}, []string{"result"})

	eventSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shmem",
		Name:      "event_signals_total",
		Help:      "Event state changes by target state.",
	}, []string{"state"})

	mappingOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shmem",
		Name:      "mapping_operations_total",
		Help:      "Mapping create, open and close operations by result.",
	}, []string{"op", "result"})

	activeMappings = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shmem",
		Name:      "active_mappings",
		Help:      "Mappings currently held by this process.",
	})
)

// RegisterMetrics registers the package collectors with reg. Collectors that
// are already registered are left alone.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{lockAcquisitions, eventWaits, eventSignals, mappingOps, activeMappings} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// telemetry wraps the optional tracer and meter of a mapping.
type telemetry struct {
	tracer trace.Tracer
	ops    metric.Int64Counter
}

func newTelemetry(t trace.Tracer, m metric.Meter) telemetry {
	if t == nil {
		t = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	if m == nil {
		m = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	ops, err := m.Int64Counter("shmem.mapping.operations",
		metric.WithDescription("Mapping create, open and close operations."))
	if err != nil {
		internalLogger.warnf("creating operation counter: %v", err)
		ops, _ = metricnoop.NewMeterProvider().Meter(instrumentationName).Int64Counter("shmem.mapping.operations")
	}
	return telemetry{tracer: t, ops: ops}
}

// start opens a span for op on the mapping id.
func (t telemetry) start(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "shm."+op, trace.WithAttributes(attribute.String("shm.os_id", id)))
}

// finish records the outcome of op on span and in both metric backends.
func (t telemetry) finish(ctx context.Context, span trace.Span, op string, err error) {
	res := result(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	t.ops.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op), attribute.String("result", res)))
	mappingOps.WithLabelValues(op, res).Inc()
}
