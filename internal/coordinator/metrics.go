package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the coordinator. Dropped
// inbound messages are labeled by reason so hostile or corrupt traffic is
// observable without ever propagating past the decode boundary.
type Metrics struct {
	messagesDropped  *prometheus.CounterVec
	responsesApplied prometheus.Counter
	requestsSent     prometheus.Counter
	sendFailures     prometheus.Counter
	requestTimeouts  prometheus.Counter
	localRefreshes   prometheus.Counter
	localErrors      prometheus.Counter
}

// NewMetrics registers and returns the coordinator metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossyield_messages_dropped_total",
				Help: "Inbound messages dropped, by reason",
			},
			[]string{"reason"},
		),
		responsesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossyield_responses_applied_total",
			Help: "Remote responses validated and applied to the store",
		}),
		requestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossyield_requests_sent_total",
			Help: "Remote yield requests handed to the transport",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossyield_send_failures_total",
			Help: "Synchronous transport send failures",
		}),
		requestTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossyield_request_timeouts_total",
			Help: "Pending requests failed by the timeout sweep",
		}),
		localRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossyield_local_refreshes_total",
			Help: "Successful local source refreshes",
		}),
		localErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossyield_local_errors_total",
			Help: "Local source refresh failures",
		}),
	}

	reg.MustRegister(
		m.messagesDropped,
		m.responsesApplied,
		m.requestsSent,
		m.sendFailures,
		m.requestTimeouts,
		m.localRefreshes,
		m.localErrors,
	)
	return m
}
