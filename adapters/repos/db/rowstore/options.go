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

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
	"github.com/weaviate/rowstore/usecases/monitoring"
)

const (
	DefaultFlushTriggerBytes  = 64 << 20
	DefaultOverheatTableCount = 32
	DefaultMinMergeTables     = 4
	DefaultMaxMergeTables     = 16
	DefaultSizeRatio          = 4
	DefaultMergeWorkers       = 1
	DefaultMergeInterval      = 10 * time.Second
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultMaxAdmissionRate   = 10000
	DefaultThrottleWindow     = 10 * time.Second
)

type storeConfig struct {
	readOnly           bool
	mmapReads          bool
	syncWrites         bool
	keyFilters         bool
	searchBlockBytes   int
	flushTriggerBytes  int64
	overheatTableCount int
	minMergeTables     int
	maxMergeTables     int
	sizeRatio          float64
	mergeWorkers       int
	mergeInterval      time.Duration
	shutdownTimeout    time.Duration
	maxAdmissionRate   float64
	throttleWindow     time.Duration
	codec              rowfile.TombstoneCodec
	policy             MergePolicy
	logger             logrus.FieldLogger
	promMetrics        *monitoring.PrometheusMetrics
}

func defaultConfig() storeConfig {
	return storeConfig{
		syncWrites:         true,
		keyFilters:         true,
		searchBlockBytes:   rowfile.DefaultBlockBytes,
		flushTriggerBytes:  DefaultFlushTriggerBytes,
		overheatTableCount: DefaultOverheatTableCount,
		minMergeTables:     DefaultMinMergeTables,
		maxMergeTables:     DefaultMaxMergeTables,
		sizeRatio:          DefaultSizeRatio,
		mergeWorkers:       DefaultMergeWorkers,
		mergeInterval:      DefaultMergeInterval,
		shutdownTimeout:    DefaultShutdownTimeout,
		maxAdmissionRate:   DefaultMaxAdmissionRate,
		throttleWindow:     DefaultThrottleWindow,
		logger:             logrus.New(),
	}
}

type StoreOption func(c *storeConfig) error

// WithReadOnly opens the store without ever changing its directory. Writes,
// flushes and merges are rejected.
func WithReadOnly(readOnly bool) StoreOption {
	return func(c *storeConfig) error {
		c.readOnly = readOnly
		return nil
	}
}

// WithMmapReads serves reads of sorted files from memory mappings.
// WithKeyFilters controls the in-memory bloom filters that let point
// lookups skip sorted files. They only exist for orders that implement
// rowfile.KeyedOrder.
func WithKeyFilters(enabled bool) StoreOption {
	return func(c *storeConfig) error {
		c.keyFilters = enabled
		return nil
	}
}

func WithMmapReads(mmap bool) StoreOption {
	return func(c *storeConfig) error {
		c.mmapReads = mmap
		return nil
	}
}

// WithSyncWrites controls whether every write-ahead log append is synced
// before it returns.
func WithSyncWrites(sync bool) StoreOption {
	return func(c *storeConfig) error {
		c.syncWrites = sync
		return nil
	}
}

func WithSearchBlockBytes(n int) StoreOption {
	return func(c *storeConfig) error {
		if n <= 0 {
			return errors.Errorf("search block bytes must be positive, got %d", n)
		}
		c.searchBlockBytes = n
		return nil
	}
}

// WithFlushTriggerBytes sets the write-ahead log size at which the builder
// is flushed into a new sorted file.
func WithFlushTriggerBytes(n int64) StoreOption {
	return func(c *storeConfig) error {
		if n <= 0 {
			return errors.Errorf("flush trigger must be positive, got %d", n)
		}
		c.flushTriggerBytes = n
		return nil
	}
}

// WithOverheatTableCount sets the stack size at which writes are throttled
// fully and merges of any size are forced. Zero disables throttling.
func WithOverheatTableCount(n int) StoreOption {
	return func(c *storeConfig) error {
		if n < 0 {
			return errors.Errorf("overheat table count must not be negative, got %d", n)
		}
		c.overheatTableCount = n
		return nil
	}
}

func WithMergeTables(min, max int) StoreOption {
	return func(c *storeConfig) error {
		if min < 2 || max < min {
			return errors.Errorf("invalid merge table range [%d, %d]", min, max)
		}
		c.minMergeTables, c.maxMergeTables = min, max
		return nil
	}
}

func WithSizeRatio(ratio float64) StoreOption {
	return func(c *storeConfig) error {
		if ratio < 1 {
			return errors.Errorf("size ratio must be at least 1, got %v", ratio)
		}
		c.sizeRatio = ratio
		return nil
	}
}

func WithMergeWorkers(n int) StoreOption {
	return func(c *storeConfig) error {
		if n < 1 {
			return errors.Errorf("merge workers must be at least 1, got %d", n)
		}
		c.mergeWorkers = n
		return nil
	}
}

// WithMergeInterval sets how often the merge engine looks for work on its
// own. Zero leaves it to flushes and MergeNow.
func WithMergeInterval(interval time.Duration) StoreOption {
	return func(c *storeConfig) error {
		c.mergeInterval = interval
		return nil
	}
}

func WithShutdownTimeout(timeout time.Duration) StoreOption {
	return func(c *storeConfig) error {
		c.shutdownTimeout = timeout
		return nil
	}
}

// WithMaxAdmissionRate sets the admission rate in writes per second that a
// throttle signal of zero scales down from.
func WithMaxAdmissionRate(perSecond float64) StoreOption {
	return func(c *storeConfig) error {
		if perSecond <= 0 {
			return errors.Errorf("admission rate must be positive, got %v", perSecond)
		}
		c.maxAdmissionRate = perSecond
		return nil
	}
}

func WithThrottleWindow(window time.Duration) StoreOption {
	return func(c *storeConfig) error {
		if window <= 0 {
			return errors.Errorf("throttle window must be positive, got %v", window)
		}
		c.throttleWindow = window
		return nil
	}
}

// WithTombstoneCodec enables deletes. Rows the codec marks as deleted are
// hidden from reads.
func WithTombstoneCodec(codec rowfile.TombstoneCodec) StoreOption {
	return func(c *storeConfig) error {
		c.codec = codec
		return nil
	}
}

func WithMergePolicy(policy MergePolicy) StoreOption {
	return func(c *storeConfig) error {
		c.policy = policy
		return nil
	}
}

func WithLogger(logger logrus.FieldLogger) StoreOption {
	return func(c *storeConfig) error {
		c.logger = logger
		return nil
	}
}

func WithPrometheusMetrics(promMetrics *monitoring.PrometheusMetrics) StoreOption {
	return func(c *storeConfig) error {
		c.promMetrics = promMetrics
		return nil
	}
}

func (c storeConfig) fileOptions() []rowfile.Option {
	if c.mmapReads {
		return []rowfile.Option{rowfile.WithMmap()}
	}
	return []rowfile.Option{rowfile.WithReadOnly()}
}

func (c storeConfig) bufferRows(rowWidth int) int {
	return rowfile.BufferRows(c.searchBlockBytes, rowWidth)
}
