package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for relayed messages.
const (
	DropUnknownRecipient = "unknown_recipient"
	DropBufferFull       = "buffer_full"
	DropSessionClosed    = "session_closed"
	DropUnknownSession   = "unknown_session"
	DropNotParty         = "not_party"
	DropRateLimited      = "rate_limited"
)

// Metrics holds the signaling server collectors. Each instance owns its
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	PeersRegistered     prometheus.Gauge
	RegistrationsFailed *prometheus.CounterVec
	MessagesRelayed     *prometheus.CounterVec
	MessagesDropped     *prometheus.CounterVec
	SessionsOpened      prometheus.Counter
	SessionTransitions  *prometheus.CounterVec
	SessionsClosed      *prometheus.CounterVec
	SessionsOpen        *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PeersRegistered: f.NewGauge(prometheus.GaugeOpts{
			Name: "peercam_peers_registered",
			Help: "Number of peers currently holding an identity.",
		}),
		RegistrationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercam_registrations_failed_total",
			Help: "Registrations rejected, by error code.",
		}, []string{"code"}),
		MessagesRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercam_messages_relayed_total",
			Help: "Signaling messages delivered to a recipient queue, by type.",
		}, []string{"type"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercam_messages_dropped_total",
			Help: "Signaling messages dropped, by reason.",
		}, []string{"reason"}),
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "peercam_sessions_opened_total",
			Help: "Sessions admitted by the coordinator.",
		}),
		SessionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercam_session_transitions_total",
			Help: "Session state transitions, by target state.",
		}, []string{"state"}),
		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "peercam_sessions_closed_total",
			Help: "Sessions closed, by reason.",
		}, []string{"reason"}),
		SessionsOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peercam_sessions_open",
			Help: "Sessions not yet closed, by state.",
		}, []string{"state"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
