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

package config

import (
	"github.com/sirupsen/logrus"

	"github.com/weaviate/rowstore/adapters/repos/db/rowstore"
	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
	"github.com/weaviate/rowstore/usecases/monitoring"
)

// RowOrder is the order of the configured rows: bytewise over the key
// prefix.
func (s Store) RowOrder() rowfile.BytewiseOrder {
	return rowfile.BytewiseOrder{KeyWidth: s.KeyWidth}
}

// TombstoneCodec returns the configured codec, nil if deletes are disabled.
func (s Store) TombstoneCodec() rowfile.TombstoneCodec {
	if s.TombstoneOffset == nil {
		return nil
	}
	return rowfile.ByteFlagCodec{Offset: *s.TombstoneOffset, Marker: DefaultTombstoneMarker}
}

// StoreOptions converts the config into options for rowstore.Open.
// promMetrics may be nil.
func (c *Config) StoreOptions(logger logrus.FieldLogger,
	promMetrics *monitoring.PrometheusMetrics,
) []rowstore.StoreOption {
	s := c.Store
	return []rowstore.StoreOption{
		rowstore.WithLogger(logger),
		rowstore.WithPrometheusMetrics(promMetrics),
		rowstore.WithTombstoneCodec(s.TombstoneCodec()),
		rowstore.WithReadOnly(s.ReadOnly),
		rowstore.WithMmapReads(s.MmapReads),
		rowstore.WithKeyFilters(s.KeyFilters),
		rowstore.WithSyncWrites(s.SyncWrites),
		rowstore.WithSearchBlockBytes(s.SearchBlockBytes),
		rowstore.WithFlushTriggerBytes(s.FlushTriggerBytes),
		rowstore.WithOverheatTableCount(s.OverheatTableCount),
		rowstore.WithMergeTables(s.MinMergeTables, s.MaxMergeTables),
		rowstore.WithMergeWorkers(s.MergeWorkers),
		rowstore.WithMergeInterval(s.MergeInterval),
		rowstore.WithShutdownTimeout(s.ShutdownTimeout),
	}
}

// OpenStore opens the configured store.
func (c *Config) OpenStore(logger logrus.FieldLogger,
	promMetrics *monitoring.PrometheusMetrics,
) (*rowstore.Store, error) {
	return rowstore.Open(c.Persistence.DataPath, c.Store.Name, c.Store.RowWidth,
		c.Store.RowOrder(), c.StoreOptions(logger, promMetrics)...)
}
