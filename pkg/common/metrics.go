package common

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "elector_election_status",
		Help: "Current election status (1 = leader, 0 = contender)",
	}, []string{"contender_id"})

	ElectionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elector_election_transitions_total",
		Help: "Total number of leadership transitions",
	}, []string{"contender_id", "transition"})

	LeadershipDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "elector_leadership_duration_seconds",
		Help:    "Duration in seconds this contender held leadership",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15),
	}, []string{"contender_id"})

	ElectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elector_election_errors_total",
		Help: "Total number of errors during election operations",
	}, []string{"contender_id", "operation"})

	ElectionRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elector_election_restarts_total",
		Help: "Total number of full election restarts triggered by recovery",
	}, []string{"contender_id", "reason"})

	RosterEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elector_roster_events_total",
		Help: "Total number of roster child events observed",
	}, []string{"contender_id", "event"})

	ConnectionStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elector_connection_state_changes_total",
		Help: "Total number of coordination connection state transitions",
	}, []string{"contender_id", "state"})

	DutyRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elector_duty_runs_total",
		Help: "Total number of duty task executions",
	}, []string{"task", "status"})

	DutySkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "elector_duty_skipped_total",
		Help: "Total number of duty task executions skipped because this contender is not leader",
	}, []string{"task"})
)
