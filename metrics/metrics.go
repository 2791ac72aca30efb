// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to various parts of the pipeline.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: requests, files, tests, api calls.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsParsed counts logical rows successfully parsed into a
	// record, labeled by dataset.
	RecordsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracegraph_records_parsed_total",
			Help: "Number of input rows successfully parsed into a logical record.",
		}, []string{"dataset"})

	// RecordsDropped counts rows dropped during preprocessing, labeled
	// by dataset and reason (parse_error, wrong_family).
	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracegraph_records_dropped_total",
			Help: "Number of input rows dropped during preprocessing.",
		}, []string{"dataset", "reason"})

	// BucketEvictions counts LRU evictions of resident buckets to disk.
	BucketEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracegraph_bucket_evictions_total",
			Help: "Number of times a resident bucket was flushed to disk under memory pressure.",
		}, []string{"dataset"})

	// NodesAssigned counts node ID allocations, labeled by dataset and
	// kind (known, unknown).
	NodesAssigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracegraph_nodes_assigned_total",
			Help: "Number of node IDs allocated.",
		}, []string{"dataset", "kind"})

	// EdgesEmitted counts edges written by the merge stage.
	EdgesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracegraph_edges_emitted_total",
			Help: "Number of edges written to edges.csv.",
		}, []string{"dataset"})

	// StageDuration tracks wall-clock time per pipeline stage, labeled
	// by dataset and stage name.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracegraph_stage_duration_seconds",
			Help:    "Wall-clock duration of a pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		}, []string{"dataset", "stage"})

	// CheckpointsWritten counts betweenness worker checkpoint saves.
	CheckpointsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracegraph_betweenness_checkpoints_total",
			Help: "Number of betweenness worker checkpoint files written.",
		}, []string{"dataset"})

	// CheckpointsCorrupt counts checkpoint files discarded as corrupt
	// and restarted from scratch.
	CheckpointsCorrupt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracegraph_betweenness_checkpoints_corrupt_total",
			Help: "Number of betweenness worker checkpoint files discarded as corrupt.",
		}, []string{"dataset"})
)

// init() prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in traceroute-graph.metrics are registered.")
}
