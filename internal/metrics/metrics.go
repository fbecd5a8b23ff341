package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gate metrics
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyguard_gate_decisions_total",
			Help: "Total number of gate decisions by outcome and risk tier",
		},
		[]string{"outcome", "risk"},
	)

	GateExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyguard_gate_executions_total",
			Help: "Total number of protected executions by result",
		},
		[]string{"result"},
	)

	GateExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "familyguard_gate_execution_duration_seconds",
			Help:    "Duration of protected operation execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "familyguard_gate_rate_limit_hits_total",
			Help: "Total number of per-user rate limit denials",
		},
	)

	// Identity metrics
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyguard_auth_attempts_total",
			Help: "Total number of authentication attempts by result",
		},
		[]string{"result"},
	)

	Lockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "familyguard_auth_lockouts_total",
			Help: "Total number of lock windows opened",
		},
	)

	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "familyguard_sessions_active",
			Help: "Current number of active sessions",
		},
	)

	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyguard_session_transitions_total",
			Help: "Total number of session state transitions",
		},
		[]string{"state"},
	)

	// Audit metrics
	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyguard_audit_events_total",
			Help: "Total number of audit events by level",
		},
		[]string{"level"},
	)

	AuditStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "familyguard_audit_events_in_memory",
			Help: "Current number of audit events held in memory",
		},
	)

	AuditSinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyguard_audit_sink_errors_total",
			Help: "Total number of audit sink failures that fell back to the local log",
		},
		[]string{"reason"},
	)

	AuditSweepRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyguard_audit_sweep_removed_total",
			Help: "Total number of records removed by the retention sweep",
		},
		[]string{"target"},
	)

	AuditSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "familyguard_audit_sweep_duration_seconds",
			Help:    "Duration of retention sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Notification metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyguard_notifications_total",
			Help: "Total number of notifications by channel and status",
		},
		[]string{"channel", "status"},
	)

	// HTTP metrics
	HTTPThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "familyguard_http_throttled_total",
			Help: "Total number of requests rejected by the per-IP throttle",
		},
	)
)
