// Package metrics exposes the loot engine's Prometheus instruments. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "raidloot"

type Metrics struct {
	registry *prometheus.Registry

	assignmentsCreated     *prometheus.CounterVec
	assignmentsRemoved     prometheus.Counter
	assignmentConflicts    prometheus.Counter
	acquisitionChanges     *prometheus.CounterVec
	notificationsPublished prometheus.Counter
	notificationsDropped   prometheus.Counter
	notificationErrors     prometheus.Counter
	httpRequests           *prometheus.CounterVec

	members     prometheus.Gauge
	weeks       prometheus.Gauge
	assignments prometheus.Gauge
}

// New registers every instrument on a fresh registry, plus the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		assignmentsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_created_total",
			Help:      "number of loot assignments committed, by bucket",
		}, []string{"bucket"}),
		assignmentsRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_removed_total",
			Help:      "number of loot assignments undone or cascaded away",
		}),
		assignmentConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignment_conflicts_total",
			Help:      "number of assignment writes rejected because the drop was taken",
		}),
		acquisitionChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisition_changes_total",
			Help:      "number of acquisition flag flips, by spec",
		}, []string{"spec"}),
		notificationsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "number of change events handed to the pubsub channel",
		}),
		notificationsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "number of change events dropped because the queue was full",
		}),
		notificationErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_errors_total",
			Help:      "number of failed change event deliveries",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "number of HTTP requests, by method, route and status",
		}, []string{"method", "route", "status"}),
		members: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members",
			Help:      "number of roster members",
		}),
		weeks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "weeks",
			Help:      "number of raid weeks",
		}),
		assignments: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assignments",
			Help:      "number of stored loot assignments",
		}),
	}
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) AssignmentCreated(bucket string) {
	if m != nil {
		m.assignmentsCreated.WithLabelValues(bucket).Inc()
	}
}

func (m *Metrics) AssignmentRemoved(n int) {
	if m != nil {
		m.assignmentsRemoved.Add(float64(n))
	}
}

func (m *Metrics) AssignmentConflict() {
	if m != nil {
		m.assignmentConflicts.Inc()
	}
}

func (m *Metrics) AcquisitionChanged(spec string) {
	if m != nil {
		m.acquisitionChanges.WithLabelValues(spec).Inc()
	}
}

func (m *Metrics) NotificationPublished() {
	if m != nil {
		m.notificationsPublished.Inc()
	}
}

func (m *Metrics) NotificationDropped() {
	if m != nil {
		m.notificationsDropped.Inc()
	}
}

func (m *Metrics) NotificationFailed() {
	if m != nil {
		m.notificationErrors.Inc()
	}
}

func (m *Metrics) HTTPRequest(method, route, status string) {
	if m != nil {
		m.httpRequests.WithLabelValues(method, route, status).Inc()
	}
}

// SetTotals updates the entity gauges.
func (m *Metrics) SetTotals(members, weeks, assignments int64) {
	if m == nil {
		return
	}
	m.members.Set(float64(members))
	m.weeks.Set(float64(weeks))
	m.assignments.Set(float64(assignments))
}
