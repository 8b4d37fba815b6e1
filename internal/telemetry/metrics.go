// Package telemetry exports run progress as Prometheus metrics.
package telemetry

import (
	"context"
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grevo/internal/evo"
)

const namespace = "grevo"

// Metrics is an evo.Observer backed by its own registry, so several
// clients in one process do not collide on the default registerer.
type Metrics struct {
	registry *prometheus.Registry

	generations        prometheus.Counter
	operations         *prometheus.CounterVec
	reversions         *prometheus.CounterVec
	runs               *prometheus.CounterVec
	bestFitness        prometheus.Gauge
	generationDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		generations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "generations_total",
			Help:      "Committed generations, including generation zero",
		}),
		// Labels: operation (seed, elite, crossover, mutation, reproduction)
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "operations_total",
			Help:      "Programs that entered a committed generation, by operation",
		}, []string{"operation"}),
		// Labels: scope (initialisation, pool, crossover, mutation, ...)
		reversions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "reversions_total",
			Help:      "Discarded attempts, by scope",
		}, []string{"scope"}),
		// Labels: outcome (success, exhausted)
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "runs_total",
			Help:      "Finished runs, by outcome",
		}, []string{"outcome"}),
		bestFitness: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "best_fitness",
			Help:      "Best finite fitness of the latest committed generation",
		}),
		generationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "generation_duration_seconds",
			Help:      "Wall time to breed and evaluate a generation",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OnOperation(_ context.Context, record evo.OperationRecord) {
	m.operations.WithLabelValues(record.Operation).Inc()
}

func (m *Metrics) OnGeneration(_ context.Context, report evo.GenerationReport) {
	m.generations.Inc()
	m.generationDuration.Observe(report.Duration.Seconds())
	if !math.IsInf(report.BestFitness, 0) && !math.IsNaN(report.BestFitness) {
		m.bestFitness.Set(report.BestFitness)
	}
	r := report.Reversions
	for scope, n := range map[string]int{
		"initialisation":     r.Initialisation,
		"pool":               r.Pool,
		"crossover":          r.Crossover,
		"mutation":           r.Mutation,
		"reproduction":       r.Reproduction,
		"generation":         r.Generation,
		"crossover_no_point": r.CrossoverNoPoint,
		"invalid_offspring":  r.InvalidOffspring,
	} {
		if n > 0 {
			m.reversions.WithLabelValues(scope).Add(float64(n))
		}
	}
}

func (m *Metrics) OnRunEnd(_ context.Context, result evo.RunResult) {
	outcome := "exhausted"
	if result.Success {
		outcome = "success"
	}
	m.runs.WithLabelValues(outcome).Inc()
}
