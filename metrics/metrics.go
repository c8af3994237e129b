// Package metrics exposes the Prometheus instrumentation for the
// pipeline workers and the HTTP handler that serves it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var StageProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docwriter_stage_processed_total",
	Help: "counter of stage messages processed to completion",
}, []string{"stage"})

var StageFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docwriter_stage_failed_total",
	Help: "counter of stage message failures by disposition",
}, []string{"stage", "disposition"})

var StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "docwriter_stage_duration_seconds",
	Help:    "histogram of stage handler wall time",
	Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
}, []string{"stage"})

var TokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docwriter_llm_tokens_total",
	Help: "counter of LLM tokens consumed per stage",
}, []string{"stage"})

var DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docwriter_dead_lettered_total",
	Help: "counter of messages routed to dead-letter queues",
}, []string{"stage"})

// Dispositions for StageFailed.
const (
	DispositionRetry      = "retry"
	DispositionNotReady   = "not_ready"
	DispositionDeadLetter = "dead_letter"
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
