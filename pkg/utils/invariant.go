// Invariants are conditions that must hold unless there is a bug in dlist itself, e.g. a list whose size disagrees
// with its chain, or a shard count that callers promised to be positive. Think of what you'd `panic()` on, but a
// server holding many lists shouldn't go down because of one of them.
//
// A violation is logged at error level and counted in the `invariants_total` metric so it can be alerted on. The
// caller is still responsible for handling the erroneous case, usually by falling back to a safe value or returning.
//
// Don't raise invariants for conditions caused by the outside world: a client sending a malformed command is an
// error reply, not an invariant.

package utils

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	promclient "github.com/prometheus/client_model/go"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "invariants_total",
	Help: "The total number of invariant violations",
}, []string{
	"module", // The module in which this invariant occurred.
	"type",   // The type of the invariant that occurred.
})

// RaiseInvariant records a violated invariant of `invariantType` in `module`. Panics in test builds.
func RaiseInvariant(module, invariantType, msg string, args ...any) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()
	slog.With("invariant", invariantType, "module", module).Error(msg, args...)
	if IsTestMode {
		panic("invariant violated: " + invariantType)
	}
}

// GetMetricValue returns how many times the invariant with labels `module` and `invariantType` was raised.
func GetMetricValue(module, invariantType string) int {
	var metric = &promclient.Metric{}
	if err := invariantsMetric.WithLabelValues(module, invariantType).Write(metric); err != nil {
		slog.Error("Failed to read invariant metric.", "error", err)
		return 0
	}
	return int(metric.Counter.GetValue())
}
