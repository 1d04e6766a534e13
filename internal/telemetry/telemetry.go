// Package telemetry generalizes the teacher's common/telemetry package into
// a handle forked once per function instance, which records each
// invocation's duration (spec.md §4.5's "emit a telemetry event recording
// the duration"),
// mirroring edgeless_telemetry::TelemetryHandleAPI::fork from
// original_source/edgeless_telemetry/src/control_plane_tracer.rs.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"edgeless/internal/logger"
)

// Record is one emitted telemetry event.
type Record struct {
	Target string // e.g. "cast", "call", "exit"
	Fields map[string]any
}

// Sink receives emitted telemetry records. The log sink is always present;
// a Prometheus sink may additionally be registered.
type Sink interface {
	Emit(r Record)
}

// Handle is forked per function instance and carries a base field set
// (instance id) into every emitted record.
type Handle struct {
	log   *logger.Logger
	sinks []Sink
	base  map[string]any
	mu    sync.Mutex
}

// NewHandle creates a root telemetry handle.
func NewHandle(log *logger.Logger, sinks ...Sink) *Handle {
	return &Handle{log: log, sinks: sinks, base: map[string]any{}}
}

// Fork returns a child handle that adds extraFields to every emitted
// record, without mutating the parent.
func (h *Handle) Fork(extraFields map[string]any) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	base := make(map[string]any, len(h.base)+len(extraFields))
	for k, v := range h.base {
		base[k] = v
	}
	for k, v := range extraFields {
		base[k] = v
	}
	return &Handle{log: h.log, sinks: h.sinks, base: base}
}

// Log emits a host-routed log record at the given level (guest API
// telemetry_log, spec.md §4.5).
func (h *Handle) Log(level, target, message string) {
	args := h.argsFor(target, message)
	switch level {
	case "debug":
		h.log.Debug(message, args...)
	case "warn":
		h.log.Warn(message, args...)
	case "error":
		h.log.Error(message, args...)
	default:
		h.log.Info(message, args...)
	}
	h.emit(Record{Target: target, Fields: map[string]any{"level": level, "message": message}})
}

// Duration emits a telemetry event recording how long a cast/call handler
// ran (spec.md §4.5 per-event procedure).
func (h *Handle) Duration(target string, d time.Duration) {
	h.emit(Record{Target: target, Fields: map[string]any{"duration_ms": d.Milliseconds()}})
}

func (h *Handle) argsFor(target, message string) []any {
	args := make([]any, 0, len(h.base)*2+2)
	for k, v := range h.base {
		args = append(args, k, v)
	}
	args = append(args, "telemetry_target", target)
	return args
}

func (h *Handle) emit(r Record) {
	for k, v := range h.base {
		if r.Fields == nil {
			r.Fields = map[string]any{}
		}
		if _, exists := r.Fields[k]; !exists {
			r.Fields[k] = v
		}
	}
	for _, s := range h.sinks {
		s.Emit(r)
	}
}

// PrometheusSink exports instance duration telemetry as a histogram,
// wired optionally (DESIGN.md) — never required by core orchestration
// logic.
type PrometheusSink struct {
	durations *prometheus.HistogramVec
}

// NewPrometheusSink registers the handle's metrics with reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "edgeless",
		Subsystem: "runtime",
		Name:      "instance_event_duration_seconds",
		Help:      "Duration of cast/call handler invocations.",
	}, []string{"telemetry_target"})
	reg.MustRegister(durations)
	return &PrometheusSink{durations: durations}
}

func (s *PrometheusSink) Emit(r Record) {
	if ms, ok := r.Fields["duration_ms"].(int64); ok {
		s.durations.WithLabelValues(r.Target).Observe(float64(ms) / 1000.0)
	}
}
