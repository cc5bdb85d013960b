package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	UsersCreated    prometheus.Counter
	SessionsCreated prometheus.Counter
	SessionsRotated prometheus.Counter
	SessionsRevoked prometheus.Counter
	TokensMinted    prometheus.Counter
	AuthFailures    prometheus.Counter
	EndpointLatency *prometheus.HistogramVec

	// Provider credential metrics
	CredentialRefreshes *prometheus.CounterVec
	CredentialStale     *prometheus.CounterVec

	// Push / scheduler metrics
	PushSends         *prometheus.CounterVec
	ReminderPolls     prometheus.Counter
	ReminderDispatch  prometheus.Counter
	ReminderPollError prometheus.Counter
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		UsersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perroquet_users_created_total",
			Help: "Total number of users created",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perroquet_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsRotated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perroquet_sessions_rotated_total",
			Help: "Total number of refresh secret rotations",
		}),
		SessionsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perroquet_sessions_revoked_total",
			Help: "Total number of sessions revoked",
		}),
		TokensMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perroquet_tokens_minted_total",
			Help: "Total number of access tokens minted",
		}),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perroquet_auth_failures_total",
			Help: "Total number of authentication failures",
		}),
		EndpointLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perroquet_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		CredentialRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perroquet_credential_refreshes_total",
			Help: "Total number of provider credential refresh attempts, labeled by provider and outcome",
		}, []string{"provider", "outcome"}),
		CredentialStale: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perroquet_credential_stale_serves_total",
			Help: "Total number of accesses served a stale credential bundle after a failed refresh",
		}, []string{"provider"}),
		PushSends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perroquet_push_sends_total",
			Help: "Total number of push notification sends, labeled by outcome",
		}, []string{"outcome"}),
		ReminderPolls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perroquet_reminder_polls_total",
			Help: "Total number of reminder poll ticks",
		}),
		ReminderDispatch: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perroquet_reminder_dispatches_total",
			Help: "Total number of reminders dispatched to devices",
		}),
		ReminderPollError: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perroquet_reminder_poll_errors_total",
			Help: "Total number of reminder poll ticks aborted by an error",
		}),
	}
}

// IncrementUsersCreated increments the users created counter by 1
func (m *Metrics) IncrementUsersCreated() {
	m.UsersCreated.Inc()
}

func (m *Metrics) IncrementSessionsCreated() {
	m.SessionsCreated.Inc()
}
func (m *Metrics) IncrementSessionsRotated() {
	m.SessionsRotated.Inc()
}
func (m *Metrics) IncrementSessionsRevoked() {
	m.SessionsRevoked.Inc()
}
func (m *Metrics) IncrementTokensMinted() {
	m.TokensMinted.Inc()
}
func (m *Metrics) IncrementAuthFailures() {
	m.AuthFailures.Inc()
}

// ObserveEndpointLatency records the latency for a given endpoint
func (m *Metrics) ObserveEndpointLatency(endpoint string, durationSeconds float64) {
	m.EndpointLatency.WithLabelValues(endpoint).Observe(durationSeconds)
}

// IncrementCredentialRefreshes records one refresh attempt for a provider.
// Outcome is "success" or "failure".
func (m *Metrics) IncrementCredentialRefreshes(provider, outcome string) {
	m.CredentialRefreshes.WithLabelValues(provider, outcome).Inc()
}

// IncrementCredentialStale records an access served a stale bundle.
func (m *Metrics) IncrementCredentialStale(provider string) {
	m.CredentialStale.WithLabelValues(provider).Inc()
}

// IncrementPushSends records one push send with outcome "success" or "failure".
func (m *Metrics) IncrementPushSends(outcome string) {
	m.PushSends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementReminderPolls() {
	m.ReminderPolls.Inc()
}
func (m *Metrics) IncrementReminderDispatches() {
	m.ReminderDispatch.Inc()
}
func (m *Metrics) IncrementReminderPollErrors() {
	m.ReminderPollError.Inc()
}
