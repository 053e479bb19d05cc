// Package metrics exposes install, deploy and overlay counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is what installers, the patch engine and the deploy orchestrator
// report to.
type Metrics interface {
	ObserveInstall(source, status string, seconds float64)
	IncDeploy(result string)
	AddOverlayFiles(n int)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveInstall(string, string, float64) {}
func (Noop) IncDeploy(string)                       {}
func (Noop) AddOverlayFiles(int)                    {}

// Prom implements Metrics on a private Prometheus registry.
type Prom struct {
	registry     *prometheus.Registry
	installs     *prometheus.CounterVec
	installTime  *prometheus.HistogramVec
	deploys      *prometheus.CounterVec
	overlayFiles prometheus.Counter
}

// NewProm builds the collectors under namespace and registers them, along
// with the Go and process collectors.
func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Package installations by source and status",
		}, []string{"source", "status"}),
		installTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "install_duration_seconds",
			Help:      "Package installation latency by source",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploys_total",
			Help:      "Deploy runs by result",
		}, []string{"result"}),
		overlayFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlay_files_written_total",
			Help:      "Patched files flushed to the overlay tree",
		}),
	}
	p.registry.MustRegister(
		p.installs, p.installTime, p.deploys, p.overlayFiles,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prom) ObserveInstall(source, status string, seconds float64) {
	p.installs.WithLabelValues(source, status).Inc()
	p.installTime.WithLabelValues(source).Observe(seconds)
}

func (p *Prom) IncDeploy(result string) {
	p.deploys.WithLabelValues(result).Inc()
}

func (p *Prom) AddOverlayFiles(n int) {
	if n > 0 {
		p.overlayFiles.Add(float64(n))
	}
}

// Handler returns an HTTP handler for /metrics over this registry.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry returns the underlying registry.
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}
