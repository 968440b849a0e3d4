package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the pipeline's Prometheus collectors on a dedicated
// registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	RunsTotal       *prometheus.CounterVec
	CategoriesTotal *prometheus.CounterVec
	ItemsSaved      *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankpool_runs_total",
			Help: "Source runs by terminal status.",
		},
		[]string{"source", "status"},
	)
	categories := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankpool_categories_total",
			Help: "Category fetches by outcome.",
		},
		[]string{"source", "outcome"},
	)
	saved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankpool_items_saved_total",
			Help: "Products written to the store.",
		},
		[]string{"source"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankpool_errors_total",
			Help: "Pipeline errors by type.",
		},
		[]string{"source", "type"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rankpool_run_duration_seconds",
			Help:    "Wall time of a source run including retries.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"source"},
	)

	registry.MustRegister(runs, categories, saved, errorsTotal, duration)

	return &Metrics{
		Registry:        registry,
		RunsTotal:       runs,
		CategoriesTotal: categories,
		ItemsSaved:      saved,
		ErrorsTotal:     errorsTotal,
		RunDuration:     duration,
	}
}

func (m *Metrics) IncRun(source, status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(source, status).Inc()
}

func (m *Metrics) IncCategory(source, outcome string) {
	if m == nil {
		return
	}
	m.CategoriesTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) AddSaved(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsSaved.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) IncError(source, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(source, errorType).Inc()
}

func (m *Metrics) ObserveRun(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(source).Observe(d.Seconds())
}
