package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AssessmentsTotal counts completed fraud risk assessments by resulting risk level.
var AssessmentsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fraudguard_assessments_total",
		Help: "Total number of fraud risk assessments by risk level",
	},
	[]string{"risk_level"},
)

// AssessmentLatency records latency distribution for full assessments,
// including the concurrent check fan-out.
var AssessmentLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "fraudguard_assessment_latency_seconds",
		Help:    "Latency in seconds to run one full risk assessment",
		Buckets: prometheus.DefBuckets,
	},
)

// CheckScores records the sub-score distribution per risk check.
var CheckScores = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "fraudguard_check_score",
		Help:    "Sub-score (0-100) produced by each risk check",
		Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	},
	[]string{"check"},
)

// CheckFailures counts risk checks that errored or timed out and were
// substituted with a zero score.
var CheckFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fraudguard_check_failures_total",
		Help: "Total number of risk checks that failed or timed out",
	},
	[]string{"check"},
)

// ResponsesTotal counts threat responses by action taken.
var ResponsesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fraudguard_responses_total",
		Help: "Total number of threat responses by action",
	},
	[]string{"action"},
)

// ActiveBlocks tracks the number of currently active blocks.
var ActiveBlocks = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "fraudguard_active_blocks",
		Help: "Number of active block entries",
	},
)

// CollaboratorFailures counts failures of external collaborators
// (event history, audit sink, notification channel).
var CollaboratorFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fraudguard_collaborator_failures_total",
		Help: "Total number of external collaborator failures",
	},
	[]string{"collaborator"},
)

func init() {
	prometheus.MustRegister(AssessmentsTotal, AssessmentLatency, CheckScores, CheckFailures)
	prometheus.MustRegister(ResponsesTotal, ActiveBlocks, CollaboratorFailures)
}
