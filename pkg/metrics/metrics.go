package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	seqtrack = "seqtrack"

	// Stream metrics
	streamRecordsTotal        = "stream_records_total"
	streamDroppedRecordsTotal = "stream_dropped_records_total"
	streamSubscriptions       = "stream_subscriptions"
	streamAttachesTotal       = "stream_attaches_total"

	// Job metrics
	jobsFinishedTotal = "jobs_finished_total"

	// Backend metrics
	backendUp = "backend_up"

	// Labels
	kindLabel    = "kind"
	reasonLabel  = "reason"
	statusLabel  = "status"
	outcomeLabel = "outcome"
)

// Drop reasons
const (
	DropMalformed = "malformed"
	DropUnknown   = "unknown_kind"
	DropDuplicate = "duplicate"
	DropRejected  = "rejected"
)

/**
* Metrics definition
**/
var streamRecordsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: seqtrack,
		Name:      streamRecordsTotal,
		Help:      "number of stream records appended to job logs, by kind",
	},
	[]string{kindLabel},
)

var streamDroppedRecordsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: seqtrack,
		Name:      streamDroppedRecordsTotal,
		Help:      "number of stream records dropped before reaching a job log, by reason",
	},
	[]string{reasonLabel},
)

var streamSubscriptionsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: seqtrack,
		Name:      streamSubscriptions,
		Help:      "number of currently attached stream subscriptions",
	},
)

var streamAttachesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: seqtrack,
		Name:      streamAttachesTotal,
		Help:      "number of stream attach attempts, by outcome",
	},
	[]string{outcomeLabel},
)

var jobsFinishedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: seqtrack,
		Name:      jobsFinishedTotal,
		Help:      "number of jobs that reached a terminal state, by status",
	},
	[]string{statusLabel},
)

var backendUpMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: seqtrack,
		Name:      backendUp,
		Help:      "1 when the last backend health check succeeded",
	},
)

func IncreaseStreamRecordsMetric(kind string) {
	streamRecordsTotalMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func IncreaseDroppedRecordsMetric(reason string) {
	streamDroppedRecordsTotalMetric.With(prometheus.Labels{reasonLabel: reason}).Inc()
}

func IncreaseSubscriptionsMetric() {
	streamSubscriptionsMetric.Inc()
}

func DecreaseSubscriptionsMetric() {
	streamSubscriptionsMetric.Dec()
}

func IncreaseAttachesMetric(outcome string) {
	streamAttachesTotalMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func IncreaseJobsFinishedMetric(status string) {
	jobsFinishedTotalMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func UpdateBackendUpMetric(up bool) {
	v := 0.0
	if up {
		v = 1
	}
	backendUpMetric.Set(v)
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(streamRecordsTotalMetric)
	prometheus.MustRegister(streamDroppedRecordsTotalMetric)
	prometheus.MustRegister(streamSubscriptionsMetric)
	prometheus.MustRegister(streamAttachesTotalMetric)
	prometheus.MustRegister(jobsFinishedTotalMetric)
	prometheus.MustRegister(backendUpMetric)
}
