// Package metrics exposes Prometheus counters for model calls, pipeline
// stages and tool invocations. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "structflow"

type Metrics struct {
	registry        *prometheus.Registry
	modelCalls      *prometheus.CounterVec
	modelLatency    *prometheus.HistogramVec
	stageOutcomes   *prometheus.CounterVec
	toolInvocations *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model completion calls by model and outcome.",
		}, []string{"model", "outcome"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Latency of model completion calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"model"}),
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_outcomes_total",
			Help:      "Pipeline stage results by pipeline, stage and outcome.",
		}, []string{"pipeline", "stage", "outcome"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool handler invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
	}
	m.registry.MustRegister(m.modelCalls, m.modelLatency, m.stageOutcomes, m.toolInvocations)
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveModelCall(model string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(model, outcome(err)).Inc()
	m.modelLatency.WithLabelValues(model).Observe(elapsed.Seconds())
}

// ObserveStage records a stage result; outcome is "advance", "accept" or
// "reject".
func (m *Metrics) ObserveStage(pipeline, stage, outcome string) {
	if m == nil {
		return
	}
	m.stageOutcomes.WithLabelValues(pipeline, stage, outcome).Inc()
}

func (m *Metrics) ObserveTool(tool string, err error) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool, outcome(err)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
