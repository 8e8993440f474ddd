package activitypub

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeProcessed = "processed"
	outcomeIgnored   = "ignored"
	outcomeFailed    = "failed"
)

var (
	activitiesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "inbox",
		Name:      "activities_total",
		Help:      "Inbound activities by type and outcome.",
	}, []string{"type", "outcome"})

	activityDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tusk",
		Subsystem: "inbox",
		Name:      "activity_duration_seconds",
		Help:      "Time spent processing one inbound activity.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	pollVoteConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "inbox",
		Name:      "poll_vote_conflicts_total",
		Help:      "Poll counter updates that lost a compare-and-swap race.",
	})

	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "outbox",
		Name:      "deliveries_total",
		Help:      "Outbound delivery attempts by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(activitiesProcessed, activityDuration, pollVoteConflicts, deliveriesTotal)
}
