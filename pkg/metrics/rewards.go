package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Latency of a full recompute (facts read, evaluation, diff, commit)
	RecomputeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reward_recompute_latency_seconds",
		Help:    "Latency of reward recompute runs",
		Buckets: prometheus.DefBuckets,
	})

	// Reward events written to the outbox, by kind (granted/revoked)
	RewardEventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_events_emitted_total",
			Help: "Total reward grant/revoke events emitted",
		},
		[]string{"kind"},
	)

	// Rule evaluations that faulted at runtime (counted as false for diffing)
	RuleEvalFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rule_eval_faults_total",
		Help: "Total rule evaluations that raised a runtime fault",
	})

	// Directory API calls by action (add/remove) and outcome (ok/noop/error)
	DirectoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_calls_total",
			Help: "Total external directory role calls",
		},
		[]string{"action", "outcome"},
	)

	// Reconciler retries after a transient directory failure
	ReconcileRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_retries_total",
		Help: "Total reconciler retries of transient directory failures",
	})

	// Events moved to the dead-letter stream after exhausting retries
	DeadLetteredEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bus_dead_lettered_events_total",
		Help: "Total events dead-lettered after exhausting delivery attempts",
	})
)

func Init() {
	prometheus.MustRegister(
		RecomputeLatency,
		RewardEventsEmitted,
		RuleEvalFaults,
		DirectoryCalls,
		ReconcileRetries,
		DeadLetteredEvents,
	)
}
