// Package metric provides prometheus instrumentation for the center.
package metric

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric holds the center collectors. Each instance owns its registry.
type Metric struct {
	registry      *prometheus.Registry
	serviceTiming *prometheus.SummaryVec
	errorCounter  *prometheus.CounterVec
	cmdCounter    *prometheus.CounterVec
}

// New creates and registers the collectors for the given app.
func New(appID string) *Metric {
	r := strings.NewReplacer(
		"-", "_",
		" ", "_")
	serviceName := r.Replace(appID)

	m := &Metric{
		registry: prometheus.NewRegistry(),
		serviceTiming: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name: "service_timing",
				Help: fmt.Sprintf("%s timing", serviceName),
			},
			[]string{fmt.Sprintf("%s_service", serviceName)},
		),
		errorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "error_counter",
				Help: fmt.Sprintf("%s error counter", serviceName),
			},
			[]string{fmt.Sprintf("%s_error", serviceName)},
		),
		cmdCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "command_counter",
				Help: fmt.Sprintf("%s dispatched device commands", serviceName),
			},
			[]string{"command", "outcome"},
		),
	}

	m.registry.MustRegister(m.serviceTiming)
	m.registry.MustRegister(m.errorCounter)
	m.registry.MustRegister(m.cmdCounter)

	return m
}

// ErrorCounter increments the error counter for the label.
func (m *Metric) ErrorCounter(label string) {
	m.errorCounter.
		WithLabelValues(label).
		Inc()
}

// Timing observes the time elapsed since start.
func (m *Metric) Timing(start time.Time, label string) {
	m.serviceTiming.
		WithLabelValues(label).
		Observe(time.Since(start).Seconds())
}

// CommandCounter counts a dispatched command by its outcome.
func (m *Metric) CommandCounter(cmd, outcome string) {
	m.cmdCounter.
		WithLabelValues(cmd, outcome).
		Inc()
}

// TimeTracker wraps an http handler with Timing.
func (m *Metric) TimeTracker(next http.HandlerFunc, label string) http.HandlerFunc {
	return func(response http.ResponseWriter, request *http.Request) {
		start := time.Now()
		next(response, request)
		m.Timing(start, label)
	}
}

// HandlerHTTP exposes the registry for scraping.
func (m *Metric) HandlerHTTP() http.HandlerFunc {
	return m.stdToHTTPRouterMiddleware(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func (m *Metric) stdToHTTPRouterMiddleware(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
	}
}
