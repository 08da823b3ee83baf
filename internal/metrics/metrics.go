// Package metrics exposes pipeline counters on the dashboard server's
// /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Item results per stage.
const (
	ResultProcessed = "processed"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

var (
	StageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floodwatch_stage_runs_total",
		Help: "Completed batch runs per pipeline stage.",
	}, []string{"stage"})

	StageItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "floodwatch_stage_items_total",
		Help: "Work items handled per pipeline stage and outcome.",
	}, []string{"stage", "result"})
)

// Handler serves the prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
