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

package rowstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/weaviate/rowstore/usecases/monitoring"
)

// Metrics are the collectors of a single store. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	tableCount     prometheus.Gauge
	walBytes       prometheus.Gauge
	commitID       prometheus.Gauge
	throttleSignal prometheus.Gauge

	flushes       prometheus.Counter
	merges        *prometheus.CounterVec
	mergedRows    prometheus.Counter
	equalKeyEdges prometheus.Counter
	keyFilters    *prometheus.CounterVec

	operationDurations prometheus.ObserverVec
	startupDiskIO      prometheus.ObserverVec
	startupDurations   prometheus.ObserverVec
}

func NewMetrics(promMetrics *monitoring.PrometheusMetrics, storeName string) *Metrics {
	if promMetrics == nil {
		return nil
	}
	labels := prometheus.Labels{"store_name": storeName}

	return &Metrics{
		tableCount:         promMetrics.TableCount.With(labels),
		walBytes:           promMetrics.WALBytes.With(labels),
		commitID:           promMetrics.CommitID.With(labels),
		throttleSignal:     promMetrics.ThrottleSignal.With(labels),
		flushes:            promMetrics.Flushes.With(labels),
		merges:             promMetrics.Merges.MustCurryWith(labels),
		mergedRows:         promMetrics.MergedRows.With(labels),
		equalKeyEdges:      promMetrics.EqualKeyEdges.With(labels),
		keyFilters:         promMetrics.KeyFilterLookups.MustCurryWith(labels),
		operationDurations: promMetrics.OperationDurations.MustCurryWith(labels),
		startupDiskIO:      promMetrics.StartupDiskIO.MustCurryWith(labels),
		startupDurations:   promMetrics.StartupDurations.MustCurryWith(labels),
	}
}

func (m *Metrics) StackChanged(tables int, commitID uint64) {
	if m == nil {
		return
	}
	m.tableCount.Set(float64(tables))
	m.commitID.Set(float64(commitID))
}

func (m *Metrics) WALSize(bytes int64) {
	if m == nil {
		return
	}
	m.walBytes.Set(float64(bytes))
}

func (m *Metrics) Throttle(signal float64) {
	if m == nil {
		return
	}
	m.throttleSignal.Set(signal)
}

func (m *Metrics) Flushed() {
	if m == nil {
		return
	}
	m.flushes.Inc()
}

// Merged counts a merge by outcome: ok, vacuous, stale or failed.
func (m *Metrics) Merged(outcome string, rows int64, equalKeyEdges int) {
	if m == nil {
		return
	}
	m.merges.With(prometheus.Labels{"outcome": outcome}).Inc()
	m.mergedRows.Add(float64(rows))
	m.equalKeyEdges.Add(float64(equalKeyEdges))
}

// KeyFilterResult counts a key filter check of a point lookup. It has the
// shape of a KeyFilterObserver.
func (m *Metrics) KeyFilterResult(result string) {
	if m == nil {
		return
	}
	m.keyFilters.With(prometheus.Labels{"result": result}).Inc()
}

// TrackOperation returns a func that records the time since the call when
// invoked.
func (m *Metrics) TrackOperation(operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.operationDurations.With(prometheus.Labels{"operation": operation}).
			Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) TrackStartup(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.startupDurations.With(prometheus.Labels{"operation": operation}).
		Observe(time.Since(start).Seconds())
}

// ReplayObserver reports write-ahead log replay throughput. It plugs into a
// diskio.MeteredReader.
func (m *Metrics) ReplayObserver() func(read int64, nanoseconds int64) {
	if m == nil {
		return nil
	}
	observer := m.startupDiskIO.With(prometheus.Labels{"operation": "replay_wal"})
	return func(read int64, nanoseconds int64) {
		if nanoseconds <= 0 {
			return
		}
		observer.Observe(float64(read) / (float64(nanoseconds) / float64(time.Second)))
	}
}
