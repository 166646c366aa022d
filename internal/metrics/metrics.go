// Package metrics exports engine and API counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
)

const namespace = "roleinvite"

// Metrics implements autorole.Observer and records API command results.
type Metrics struct {
	registry *prometheus.Registry

	joins           *prometheus.CounterVec
	rolesGranted    *prometheus.CounterVec
	linksPruned     *prometheus.CounterVec
	refreshFailures prometheus.Counter
	commands        *prometheus.CounterVec
	commandLatency  *prometheus.HistogramVec
}

var _ autorole.Observer = (*Metrics)(nil)

// New registers all collectors, plus the Go and process collectors, on a
// private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Member joins handled, by outcome.",
		}, []string{"outcome"}),
		rolesGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roles_granted_total",
			Help:      "Roles granted on join, by link kind.",
		}, []string{"kind"}),
		linksPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_pruned_total",
			Help:      "Stale links or link roles removed, by reason.",
		}, []string{"reason"}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_refresh_failures_total",
			Help:      "Failed background refreshes of invite usage.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Moderator commands, by command and HTTP status.",
		}, []string{"command", "status"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Moderator command latency, confirmation wait included.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 15, 30, 60},
		}, []string{"command"}),
	}
	m.registry.MustRegister(
		m.joins, m.rolesGranted, m.linksPruned, m.refreshFailures,
		m.commands, m.commandLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) JoinHandled(outcome string) {
	m.joins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RolesGranted(kind autorole.KeyKind, n int) {
	m.rolesGranted.WithLabelValues(kind.String()).Add(float64(n))
}

func (m *Metrics) LinksPruned(reason string, n int) {
	m.linksPruned.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) RefreshFailed() {
	m.refreshFailures.Inc()
}

// CommandDone records one API command.
func (m *Metrics) CommandDone(command string, status int, took time.Duration) {
	m.commands.WithLabelValues(command, strconv.Itoa(status)).Inc()
	m.commandLatency.WithLabelValues(command).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
