package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "companion_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ChatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_chat_turns_total",
			Help: "Chat turns by outcome (ok, rate_limited, no_persona, insufficient_funds, refunded).",
		},
		[]string{"outcome"},
	)

	LedgerOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_ledger_operations_total",
			Help: "Credit ledger operations by kind and result.",
		},
		[]string{"op", "result"},
	)

	RateLimitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_ratelimit_denied_total",
			Help: "Requests denied by a sliding-window limiter.",
		},
		[]string{"scope"},
	)

	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_jobs_processed_total",
			Help: "Jobs processed by queue, name and status (completed, retried, dead).",
		},
		[]string{"queue", "name", "status"},
	)

	JobsDeadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_jobs_dead_total",
			Help: "Jobs that exhausted their retry budget.",
		},
		[]string{"queue", "name"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "companion_job_duration_seconds",
			Help:    "Job handler duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue", "name"},
	)

	JobsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "companion_jobs_in_flight",
			Help: "Number of job handlers currently running.",
		},
		[]string{"queue"},
	)

	EngagementMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_engagement_messages_total",
			Help: "Engagement routine outcomes by routine and status (sent, skipped, failed).",
		},
		[]string{"routine", "status"},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_llm_requests_total",
			Help: "Completion service calls by status.",
		},
		[]string{"status"},
	)

	LLMRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "companion_llm_request_duration_seconds",
			Help:    "Completion service call duration in seconds, retries included.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
	)

	DepositsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_deposits_total",
			Help: "Deposit verification results.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ChatTurnsTotal,
		LedgerOperationsTotal,
		RateLimitDeniedTotal,
		JobsProcessedTotal,
		JobsDeadTotal,
		JobDuration,
		JobsInFlight,
		EngagementMessagesTotal,
		LLMRequestsTotal,
		LLMRequestDuration,
		DepositsTotal,
	)
}
