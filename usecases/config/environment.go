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
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// FromEnv takes a *Config as it will respect initial config that has been
// provided by other means (e.g. a config file) and will only extend those that
// are set
func FromEnv(config *Config) error {
	if v := os.Getenv("ROWSTORE_DATA_PATH"); v != "" {
		config.Persistence.DataPath = v
	}

	if v := os.Getenv("ROWSTORE_STORE_NAME"); v != "" {
		config.Store.Name = v
	}

	if err := parseInt("ROWSTORE_ROW_WIDTH", func(val int) {
		config.Store.RowWidth = val
	}); err != nil {
		return err
	}

	if err := parseInt("ROWSTORE_KEY_WIDTH", func(val int) {
		config.Store.KeyWidth = val
	}); err != nil {
		return err
	}

	if v := os.Getenv("ROWSTORE_TOMBSTONE_OFFSET"); v != "" {
		if v == "none" {
			config.Store.TombstoneOffset = nil
		} else {
			asInt, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "parse ROWSTORE_TOMBSTONE_OFFSET as int")
			}
			config.Store.TombstoneOffset = &asInt
		}
	}

	if v := os.Getenv("ROWSTORE_FLUSH_TRIGGER_BYTES"); v != "" {
		asInt, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "parse ROWSTORE_FLUSH_TRIGGER_BYTES as int")
		}
		config.Store.FlushTriggerBytes = asInt
	}

	if err := parseInt("ROWSTORE_OVERHEAT_TABLE_COUNT", func(val int) {
		config.Store.OverheatTableCount = val
	}); err != nil {
		return err
	}

	if err := parseInt("ROWSTORE_MERGE_WORKERS", func(val int) {
		config.Store.MergeWorkers = val
	}); err != nil {
		return err
	}

	if err := parseInt("ROWSTORE_MIN_MERGE_TABLES", func(val int) {
		config.Store.MinMergeTables = val
	}); err != nil {
		return err
	}

	if err := parseInt("ROWSTORE_MAX_MERGE_TABLES", func(val int) {
		config.Store.MaxMergeTables = val
	}); err != nil {
		return err
	}

	if err := parseInt("ROWSTORE_SEARCH_BLOCK_BYTES", func(val int) {
		config.Store.SearchBlockBytes = val
	}); err != nil {
		return err
	}

	if err := parseDuration("ROWSTORE_MERGE_INTERVAL", func(val time.Duration) {
		config.Store.MergeInterval = val
	}); err != nil {
		return err
	}

	if err := parseDuration("ROWSTORE_SHUTDOWN_TIMEOUT", func(val time.Duration) {
		config.Store.ShutdownTimeout = val
	}); err != nil {
		return err
	}

	if v := os.Getenv("ROWSTORE_SYNC_WRITES"); v != "" {
		config.Store.SyncWrites = enabled(v)
	}

	if v := os.Getenv("ROWSTORE_KEY_FILTERS"); v != "" {
		config.Store.KeyFilters = enabled(v)
	}

	if v := os.Getenv("ROWSTORE_MMAP_READS"); v != "" {
		config.Store.MmapReads = enabled(v)
	}

	if v := os.Getenv("ROWSTORE_READ_ONLY"); v != "" {
		config.Store.ReadOnly = enabled(v)
	}

	if v := os.Getenv("ROWSTORE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("ROWSTORE_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}

	if enabled(os.Getenv("ROWSTORE_MONITORING_ENABLED")) {
		config.Monitoring.Enabled = true

		if err := parseInt("ROWSTORE_MONITORING_PORT", func(val int) {
			config.Monitoring.Port = val
		}); err != nil {
			return err
		}
	}

	return nil
}

func parseInt(varName string, cb func(val int)) error {
	v := os.Getenv(varName)
	if v == "" {
		return nil
	}
	asInt, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrapf(err, "parse %s as int", varName)
	}
	cb(asInt)
	return nil
}

func parseDuration(varName string, cb func(val time.Duration)) error {
	v := os.Getenv(varName)
	if v == "" {
		return nil
	}
	asDuration, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "parse %s as duration", varName)
	}
	cb(asDuration)
	return nil
}

func enabled(value string) bool {
	switch value {
	case "on", "enabled", "1", "true":
		return true
	default:
		return false
	}
}
