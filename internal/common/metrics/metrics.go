// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_runs_started_total",
			Help: "Total number of workflow executions started",
		},
		[]string{"provider"},
	)

	RunsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_runs_settled_total",
			Help: "Total number of workflow executions settled, by terminal outcome",
		},
		[]string{"provider", "outcome"},
	)

	TransportRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_transport_retries_total",
			Help: "Total number of automatic retries after transport failures",
		},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "workflow_run_duration_seconds",
			Help: "Wall-clock duration of one workflow execution including retries",
		},
		[]string{"provider"},
	)

	RunsSuperseded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_runs_superseded_total",
			Help: "Completions discarded because their run was cancelled or superseded",
		},
	)
)
