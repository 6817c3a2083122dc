// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics is the Prometheus registry cartograph's serve command
// exposes on /metrics, and the shared sink every CPU-bound component
// (the Graph Analyzer, the Context Selector) records its cost into. The
// ingest command adds its file count; single-file reindexes are not
// recorded.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/histogram cartograph records. A nil
// *Metrics is safe to use: every method on it is a no-op, so callers
// that don't care about metrics (most tests) can pass nil.
type Metrics struct {
	Registry *prometheus.Registry

	FilesIndexed      prometheus.Counter
	ReindexDuration   prometheus.Histogram
	QueryDuration     *prometheus.HistogramVec // label: endpoint
	AnalyzerDuration  *prometheus.HistogramVec // label: algorithm
	ContextTokensUsed prometheus.Histogram
}

// New registers and returns a fresh Metrics bundle on its own registry
// (not the global default, so tests and multiple server instances don't
// collide on duplicate registration).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		FilesIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "cartograph_files_indexed_total",
			Help: "Total number of files processed by a full ingest.",
		}),
		ReindexDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cartograph_reindex_duration_seconds",
			Help:    "Wall-clock duration of a single-file incremental reindex.",
			Buckets: prometheus.DefBuckets,
		}),
		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cartograph_query_duration_seconds",
			Help:    "Wall-clock duration of a Query Façade operation, by endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		AnalyzerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cartograph_analyzer_duration_seconds",
			Help:    "Wall-clock duration of a Graph Analyzer algorithm run, by algorithm.",
			Buckets: prometheus.DefBuckets,
		}, []string{"algorithm"}),
		ContextTokensUsed: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cartograph_context_tokens_used",
			Help:    "Tokens consumed by a Context Selector selection, out of the requested budget.",
			Buckets: []float64{256, 512, 1024, 2048, 4096, 8192, 16384, 32768},
		}),
	}
}

// ObserveAnalyzer records duration against the named algorithm. Safe to
// call on a nil *Metrics.
func (m *Metrics) ObserveAnalyzer(algorithm string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AnalyzerDuration.WithLabelValues(algorithm).Observe(duration.Seconds())
}

// ObserveQuery records duration against the named endpoint. Safe to
// call on a nil *Metrics.
func (m *Metrics) ObserveQuery(endpoint string, duration time.Duration) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveReindex records a single-file reindex's duration. Safe to call
// on a nil *Metrics.
func (m *Metrics) ObserveReindex(duration time.Duration) {
	if m == nil {
		return
	}
	m.ReindexDuration.Observe(duration.Seconds())
}

// AddFilesIndexed increments the files-indexed counter. Safe to call on
// a nil *Metrics.
func (m *Metrics) AddFilesIndexed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FilesIndexed.Add(float64(n))
}

// ObserveContextTokens records the token count a Context Selector
// selection used. Safe to call on a nil *Metrics.
func (m *Metrics) ObserveContextTokens(tokens int) {
	if m == nil {
		return
	}
	m.ContextTokensUsed.Observe(float64(tokens))
}
