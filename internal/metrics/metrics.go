package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EngineOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_engine_operations_total",
			Help: "Session engine operations by outcome code",
		},
		[]string{"op", "outcome"},
	)

	EngineConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_engine_version_conflicts_total",
			Help: "Conditional writes that lost a race and were re-evaluated",
		},
		[]string{"op"},
	)

	GatewayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_gateway_messages_total",
			Help: "Websocket messages by type and direction",
		},
		[]string{"type", "direction"},
	)

	GatewayConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quiz_gateway_connections",
			Help: "Live registered connections by role",
		},
		[]string{"role"},
	)

	QuestionTimersFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_question_timers_fired_total",
			Help: "Question timers that fired and closed a question",
		},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		EngineOperations,
		EngineConflicts,
		GatewayMessages,
		GatewayConnections,
		QuestionTimersFired,
	)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
