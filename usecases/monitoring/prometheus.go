//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds the collectors of all stores of a process. Stores
// curry them with their own name.
type PrometheusMetrics struct {
	TableCount     *prometheus.GaugeVec
	WALBytes       *prometheus.GaugeVec
	CommitID       *prometheus.GaugeVec
	ThrottleSignal *prometheus.GaugeVec

	Flushes       *prometheus.CounterVec
	Merges        *prometheus.CounterVec
	MergedRows    *prometheus.CounterVec
	EqualKeyEdges *prometheus.CounterVec

	KeyFilterLookups *prometheus.CounterVec

	OperationDurations *prometheus.HistogramVec
	StartupDiskIO      *prometheus.HistogramVec
	StartupDurations   *prometheus.SummaryVec
}

var (
	msOnce  sync.Once
	metrics *PrometheusMetrics
)

// GetMetrics returns the process wide metrics registered with the default
// registry.
func GetMetrics() *PrometheusMetrics {
	msOnce.Do(func() {
		metrics = NewPrometheusMetrics(prometheus.DefaultRegisterer)
	})
	return metrics
}

// NewPrometheusMetrics registers a fresh set of collectors with reg. A nil
// reg builds collectors that are never exported.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = noop
	}
	factory := promauto.With(reg)
	storeLabels := []string{"store_name"}

	return &PrometheusMetrics{
		TableCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rowstore_tables",
			Help: "Number of sorted files in the table stack",
		}, storeLabels),
		WALBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rowstore_wal_bytes",
			Help: "Size of the write-ahead log of the current builder",
		}, storeLabels),
		CommitID: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rowstore_commit_id",
			Help: "Id of the current commit",
		}, storeLabels),
		ThrottleSignal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rowstore_throttle_signal",
			Help: "Write throttle signal between 0 (none) and 1 (full)",
		}, storeLabels),

		Flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rowstore_flushes_total",
			Help: "Number of builder flushes that produced a new commit",
		}, storeLabels),
		Merges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rowstore_merges_total",
			Help: "Number of merges by outcome",
		}, []string{"store_name", "outcome"}),
		MergedRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rowstore_merged_rows_total",
			Help: "Number of rows written by merges",
		}, storeLabels),
		EqualKeyEdges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rowstore_merge_equal_key_edges_total",
			Help: "Number of merge runs that ended on a key shared with another source",
		}, storeLabels),

		KeyFilterLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rowstore_key_filter_lookups_total",
			Help: "Point lookups checked against a sorted file's key filter, by result",
		}, []string{"store_name", "result"}),

		OperationDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rowstore_operation_duration_seconds",
			Help:    "Duration of store operations",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"store_name", "operation"}),
		StartupDiskIO: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rowstore_startup_diskio_throughput",
			Help:    "Disk I/O throughput in bytes per second while replaying the write-ahead log",
			Buckets: prometheus.ExponentialBuckets(1<<20, 2, 12),
		}, []string{"store_name", "operation"}),
		StartupDurations: factory.NewSummaryVec(prometheus.SummaryOpts{
			Name: "rowstore_startup_duration_seconds",
			Help: "Duration of the individual steps of opening a store",
		}, []string{"store_name", "operation"}),
	}
}
