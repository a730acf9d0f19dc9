package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsup",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of service launch attempts, by outcome.",
		}, []string{"name", "outcome"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsup",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stop sequences, by phase that ended them (noop, graceful, forced, survived).",
		}, []string{"name", "phase"},
	)
	portFrees = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsup",
			Subsystem: "port",
			Name:      "frees_total",
			Help:      "Number of port reap attempts, by outcome (freed, occupied).",
		}, []string{"outcome"},
	)
	healthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsup",
			Subsystem: "probe",
			Name:      "health_total",
			Help:      "Health probe results (healthy, unhealthy, unknown).",
		}, []string{"name", "state"},
	)
	serviceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "devsup",
			Subsystem: "service",
			Name:      "up",
			Help:      "Last observed overall state per service (1 = running healthy).",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, portFrees, healthProbes, serviceUp}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called, so the plain CLI path
// pays nothing for metrics it does not expose.

func IncStart(name, outcome string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name, outcome).Inc()
	}
}

func IncStop(name, phase string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name, phase).Inc()
	}
}

func IncPortFree(outcome string) {
	if regOK.Load() {
		portFrees.WithLabelValues(outcome).Inc()
	}
}

func IncHealthProbe(name, state string) {
	if regOK.Load() {
		healthProbes.WithLabelValues(name, state).Inc()
	}
}

func SetServiceUp(name string, up bool) {
	if regOK.Load() {
		var v float64
		if up {
			v = 1
		}
		serviceUp.WithLabelValues(name).Set(v)
	}
}
