// Package metrics holds the Prometheus collectors updated by the engine.
//
//   - quantaguard_orders_total{kind,result}           orders submitted to the exchange
//   - quantaguard_tracker_transitions_total{from,to}   tracker state changes
//   - quantaguard_safety_installs_total{result}        SL/TP installation attempts
//   - quantaguard_persist_failures_total               failed tracker writes
//   - quantaguard_reconcile_errors_total{stage}        reconcile failures
//   - quantaguard_stream_messages_total{kind}          parsed stream messages
//   - quantaguard_stream_reconnects_total              stream session restarts
//   - quantaguard_stream_heartbeat_seconds             unix time of the last frame
//   - quantaguard_whale_alerts_total{side}             forwarded large trades
//
// They are registered in init() and served by promhttp at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantaguard_orders_total",
			Help: "Orders submitted to the exchange",
		},
		[]string{"kind", "result"},
	)

	TrackerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantaguard_tracker_transitions_total",
			Help: "Tracker state transitions",
		},
		[]string{"from", "to"},
	)

	SafetyInstalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantaguard_safety_installs_total",
			Help: "Stop-loss/take-profit installation attempts",
		},
		[]string{"result"},
	)

	PersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quantaguard_persist_failures_total",
			Help: "Tracker writes that failed and will be retried",
		},
	)

	ReconcileErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantaguard_reconcile_errors_total",
			Help: "Reconciliation failures by stage",
		},
		[]string{"stage"},
	)

	StreamMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantaguard_stream_messages_total",
			Help: "Stream messages by parsed kind (dropped for malformed input)",
		},
		[]string{"kind"},
	)

	StreamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quantaguard_stream_reconnects_total",
			Help: "Full stream reconnects",
		},
	)

	StreamHeartbeat = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantaguard_stream_heartbeat_seconds",
			Help: "Unix time of the last received stream frame",
		},
	)

	WhaleAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantaguard_whale_alerts_total",
			Help: "Large trades forwarded after de-duplication",
		},
		[]string{"side"},
	)
)

func init() {
	prometheus.MustRegister(
		Orders,
		TrackerTransitions,
		SafetyInstalls,
		PersistFailures,
		ReconcileErrors,
		StreamMessages,
		StreamReconnects,
		StreamHeartbeat,
		WhaleAlerts,
	)
}
