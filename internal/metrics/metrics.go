package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	PlansBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_plans_built_total",
			Help: "Total number of workflow plans built",
		},
		[]string{"planner", "status"},
	)

	PlansExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_plans_executed_total",
			Help: "Total number of workflow plans executed",
		},
		[]string{"status"},
	)

	PlanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_plan_duration_seconds",
			Help:    "Workflow plan execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_steps_total",
			Help: "Total number of workflow steps by final status",
		},
		[]string{"agent_type", "action", "status"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_step_duration_seconds",
			Help:    "Collaborator dispatch duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"agent_type"},
	)

	// Conversation metrics
	HandoffTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_handoff_turns_total",
			Help: "Total number of agent invocations in conversations",
		},
		[]string{"agent"},
	)

	Handoffs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_handoffs_total",
			Help: "Total number of control transfers between agents",
		},
		[]string{"from", "to"},
	)

	ConversationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_conversation_outcomes_total",
			Help: "Conversation exchanges by terminal outcome",
		},
		[]string{"outcome"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Number of conversation sessions held in memory",
		},
	)

	// Language model metrics
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_model_calls_total",
			Help: "Total number of language model calls",
		},
		[]string{"agent", "status"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_model_latency_seconds",
			Help:    "Language model call latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent"},
	)

	// Sweeper metrics
	PaymentLinksExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_payment_links_expired_total",
			Help: "Total number of payment links expired by the sweeper",
		},
	)

	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_sessions_evicted_total",
			Help: "Total number of idle sessions evicted",
		},
	)
)
