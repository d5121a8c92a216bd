// Package metrics records engine counters and histograms on a private
// Prometheus registry and snapshots them to the session directory in text
// exposition format. There is no scrape endpoint; the snapshot file is the
// interface.
package metrics

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// SnapshotFileName is written into the session directory at turn end.
const SnapshotFileName = "metrics.prom"

// Recorder owns one registry. Each session gets its own so concurrent
// sessions in one process never share counters.
type Recorder struct {
	registry *prometheus.Registry

	turnsTotal           *prometheus.CounterVec
	stepsTotal           prometheus.Counter
	providerRetriesTotal prometheus.Counter
	toolExecutionsTotal  *prometheus.CounterVec
	compactionsTotal     prometheus.Counter
	providerLatency      prometheus.Histogram
}

// NewRecorder creates a recorder with a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turns_total",
				Help: "Total turns finished, by outcome",
			},
			[]string{"outcome"},
		),
		stepsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "steps_total",
				Help: "Total engine steps executed",
			},
		),
		providerRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "provider_retries_total",
				Help: "Total provider call retries",
			},
		),
		toolExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_executions_total",
				Help: "Total tool executions, by tool and terminal status",
			},
			[]string{"tool", "status"},
		),
		compactionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "compactions_total",
				Help: "Total context compactions",
			},
		),
		providerLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "provider_latency_seconds",
				Help:    "Latency of provider completion calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// ObserveTurn counts a finished turn by outcome (completed, failed,
// interrupted).
func (r *Recorder) ObserveTurn(outcome string) {
	r.turnsTotal.WithLabelValues(outcome).Inc()
}

// IncStep counts one engine step.
func (r *Recorder) IncStep() {
	r.stepsTotal.Inc()
}

// IncProviderRetry counts one retried provider call.
func (r *Recorder) IncProviderRetry() {
	r.providerRetriesTotal.Inc()
}

// ObserveToolExecution counts a tool call reaching a terminal status.
func (r *Recorder) ObserveToolExecution(tool, status string) {
	r.toolExecutionsTotal.WithLabelValues(tool, status).Inc()
}

// IncCompaction counts one context compaction.
func (r *Recorder) IncCompaction() {
	r.compactionsTotal.Inc()
}

// ObserveProviderLatency records the wall time of one provider call.
func (r *Recorder) ObserveProviderLatency(d time.Duration) {
	r.providerLatency.Observe(d.Seconds())
}

// Render returns the current metrics in Prometheus text exposition format.
func (r *Recorder) Render() (string, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}

	var sb strings.Builder
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&sb, family); err != nil {
			return "", fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	return sb.String(), nil
}

// WriteSnapshot writes the current metrics to path, replacing any previous
// snapshot.
func (r *Recorder) WriteSnapshot(path string) error {
	text, err := r.Render()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write metrics snapshot: %w", err)
	}
	return nil
}
