// Package metrics exposes bootstrap run counters.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines counters for bootstrap runs.
type Metrics interface {
	IncRuns(outcome string)
	IncPasswordRejected(reason string)
	AddFilesExtracted(engine string, files int)
	ObserveRunDuration(outcome string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncRuns(string)                     {}
func (Noop) IncPasswordRejected(string)         {}
func (Noop) AddFilesExtracted(string, int)      {}
func (Noop) ObserveRunDuration(string, float64) {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	runs             *prometheus.CounterVec
	passwordRejected *prometheus.CounterVec
	filesExtracted   *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	once             sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Bootstrap runs by outcome",
		}, []string{"outcome"}),
		passwordRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_rejected_total",
			Help:      "Rejected password submissions by reason",
		}, []string{"reason"}),
		filesExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_extracted_total",
			Help:      "Installer files extracted by engine",
		}, []string{"engine"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Bootstrap run duration by outcome",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"outcome"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.runs, p.passwordRejected, p.filesExtracted, p.runDuration)
	})
}

func (p *Prom) IncRuns(outcome string) {
	p.runs.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncPasswordRejected(reason string) {
	p.passwordRejected.WithLabelValues(reason).Inc()
}

func (p *Prom) AddFilesExtracted(engine string, files int) {
	if files > 0 {
		p.filesExtracted.WithLabelValues(engine).Add(float64(files))
	}
}

func (p *Prom) ObserveRunDuration(outcome string, durationSeconds float64) {
	p.runDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
