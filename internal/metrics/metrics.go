// ABOUTME: Prometheus metrics for connections, relayed messages, and handoffs
// ABOUTME: Collectors use promauto so registration happens at package init

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WidgetConnections tracks live customer widget websockets.
	WidgetConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaydesk_widget_connections",
		Help: "Number of connected customer widget websockets",
	})

	// DashboardConnections tracks live operator dashboard websockets.
	DashboardConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaydesk_dashboard_connections",
		Help: "Number of connected operator dashboard websockets",
	})

	// MessagesRelayed counts persisted chat messages by author role.
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydesk_messages_relayed_total",
		Help: "Chat messages persisted and relayed, by role",
	}, []string{"role"})

	// HandoffsRequested counts handoff requests created.
	HandoffsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaydesk_handoffs_requested_total",
		Help: "Handoff requests created",
	})

	// HandoffsAccepted counts handoff requests accepted by operators.
	HandoffsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaydesk_handoffs_accepted_total",
		Help: "Handoff requests accepted by operators",
	})

	// GenerationFailures counts response generations that ended in error.
	GenerationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaydesk_generation_failures_total",
		Help: "Response generations that ended in an error event",
	})

	// CreditDenials counts messages refused for exhausted credits.
	CreditDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaydesk_credit_denials_total",
		Help: "Customer messages refused because the agent quota was exhausted",
	})
)
