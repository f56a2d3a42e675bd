// Package metrics exposes booking counters and HTTP latency to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	admissions *prometheus.CounterVec
	emails     *prometheus.CounterVec
	requests   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bookwell",
				Subsystem: "booking",
				Name:      "admissions_total",
				Help:      "Booking attempts by source and result.",
			},
			[]string{"source", "result"},
		),
		emails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bookwell",
				Subsystem: "booking",
				Name:      "emails_total",
				Help:      "Customer emails by kind and result.",
			},
			[]string{"kind", "result"},
		),
		requests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bookwell",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route and status.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
	reg.MustRegister(m.admissions, m.emails, m.requests)
	return m
}

func (m *Metrics) Admission(source model.Source, result string) {
	m.admissions.WithLabelValues(string(source), result).Inc()
}

func (m *Metrics) Email(kind string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.emails.WithLabelValues(kind, result).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware records request latency labelled by the chi route pattern, so
// ids in paths do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Observe(time.Since(start).Seconds())
	})
}
