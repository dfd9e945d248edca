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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/weaviate/rowstore/adapters/repos/db/rowstore"
	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
)

const (
	DefaultStoreName                = "rows"
	DefaultTombstoneMarker          = 0xff
	DefaultPrometheusMonitoringPort = 2112
	DefaultLogLevel                 = "info"
	DefaultLogFormat                = "text"
)

// Config is the configuration of a row store and the tooling around it.
type Config struct {
	Persistence Persistence `json:"persistence" yaml:"persistence"`
	Store       Store       `json:"store" yaml:"store"`
	Logging     Logging     `json:"logging" yaml:"logging"`
	Monitoring  Monitoring  `json:"monitoring" yaml:"monitoring"`
}

type Persistence struct {
	DataPath string `json:"data_path" yaml:"data_path"`
}

func (p Persistence) Validate() error {
	if p.DataPath == "" {
		return fmt.Errorf("persistence.data_path must be set")
	}

	return nil
}

// Store describes the row layout and the tuning of one store. A nil
// TombstoneOffset disables deletes.
type Store struct {
	Name               string        `json:"name" yaml:"name"`
	RowWidth           int           `json:"row_width" yaml:"row_width"`
	KeyWidth           int           `json:"key_width" yaml:"key_width"`
	TombstoneOffset    *int          `json:"tombstone_offset" yaml:"tombstone_offset"`
	FlushTriggerBytes  int64         `json:"flush_trigger_bytes" yaml:"flush_trigger_bytes"`
	OverheatTableCount int           `json:"overheat_table_count" yaml:"overheat_table_count"`
	MergeWorkers       int           `json:"merge_workers" yaml:"merge_workers"`
	MergeInterval      time.Duration `json:"merge_interval" yaml:"merge_interval"`
	MinMergeTables     int           `json:"min_merge_tables" yaml:"min_merge_tables"`
	MaxMergeTables     int           `json:"max_merge_tables" yaml:"max_merge_tables"`
	SearchBlockBytes   int           `json:"search_block_bytes" yaml:"search_block_bytes"`
	SyncWrites         bool          `json:"sync_writes" yaml:"sync_writes"`
	MmapReads          bool          `json:"mmap_reads" yaml:"mmap_reads"`
	KeyFilters         bool          `json:"key_filters" yaml:"key_filters"`
	ReadOnly           bool          `json:"read_only" yaml:"read_only"`
	ShutdownTimeout    time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

func (s Store) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("store.name must be set")
	}
	if s.RowWidth <= 0 {
		return fmt.Errorf("store.row_width must be positive, got %d", s.RowWidth)
	}
	if s.KeyWidth <= 0 || s.KeyWidth > s.RowWidth {
		return fmt.Errorf("store.key_width must be between 1 and store.row_width (%d), got %d",
			s.RowWidth, s.KeyWidth)
	}
	if s.TombstoneOffset != nil {
		if off := *s.TombstoneOffset; off < s.KeyWidth || off >= s.RowWidth {
			return fmt.Errorf("store.tombstone_offset must lie between the key and the row end [%d, %d), got %d",
				s.KeyWidth, s.RowWidth, off)
		}
	}
	if s.FlushTriggerBytes <= 0 {
		return fmt.Errorf("store.flush_trigger_bytes must be positive, got %d", s.FlushTriggerBytes)
	}
	if s.OverheatTableCount < 0 {
		return fmt.Errorf("store.overheat_table_count must not be negative, got %d", s.OverheatTableCount)
	}
	if s.MergeWorkers < 1 {
		return fmt.Errorf("store.merge_workers must be at least 1, got %d", s.MergeWorkers)
	}
	if s.MinMergeTables < 2 || s.MaxMergeTables < s.MinMergeTables {
		return fmt.Errorf("store.min_merge_tables must be at least 2 and at most store.max_merge_tables, got [%d, %d]",
			s.MinMergeTables, s.MaxMergeTables)
	}
	if s.SearchBlockBytes <= 0 {
		return fmt.Errorf("store.search_block_bytes must be positive, got %d", s.SearchBlockBytes)
	}

	return nil
}

type Logging struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

func (l Logging) Validate() error {
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if l.Format != "text" && l.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", l.Format)
	}

	return nil
}

// NewLogger builds the logger described by l. Call Validate first.
func (l Logging) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(l.Level); err == nil {
		logger.SetLevel(level)
	}
	if l.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

type Monitoring struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

func (m Monitoring) Validate() error {
	if m.Enabled && (m.Port <= 0 || m.Port > 65535) {
		return fmt.Errorf("monitoring.port must be a valid port, got %d", m.Port)
	}

	return nil
}

// Default returns a config holding the defaults of every setting except the
// data path and the row layout.
func Default() Config {
	return Config{
		Store: Store{
			Name:               DefaultStoreName,
			FlushTriggerBytes:  rowstore.DefaultFlushTriggerBytes,
			OverheatTableCount: rowstore.DefaultOverheatTableCount,
			MergeWorkers:       rowstore.DefaultMergeWorkers,
			MergeInterval:      rowstore.DefaultMergeInterval,
			MinMergeTables:     rowstore.DefaultMinMergeTables,
			MaxMergeTables:     rowstore.DefaultMaxMergeTables,
			SearchBlockBytes:   rowfile.DefaultBlockBytes,
			SyncWrites:         true,
			KeyFilters:         true,
			ShutdownTimeout:    rowstore.DefaultShutdownTimeout,
		},
		Logging: Logging{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Monitoring: Monitoring{
			Port: DefaultPrometheusMonitoringPort,
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Persistence.Validate(); err != nil {
		return configErr(err)
	}
	if err := c.Store.Validate(); err != nil {
		return configErr(err)
	}
	if err := c.Logging.Validate(); err != nil {
		return configErr(err)
	}
	if err := c.Monitoring.Validate(); err != nil {
		return configErr(err)
	}

	return nil
}

// LoadConfig builds the config from its sources and validates it. The load
// order is
// 1. defaults
// 2. config file, if path is set
// 3. environment variables
// A value set in a later source wins.
func LoadConfig(path string, logger logrus.FieldLogger) (Config, error) {
	config, err := Load(path, logger)
	if err != nil {
		return config, err
	}

	return config, config.Validate()
}

// Load is LoadConfig without validation, for callers that layer further
// sources such as command line flags on top.
func Load(path string, logger logrus.FieldLogger) (Config, error) {
	config := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return config, configErr(fmt.Errorf("read config file: %w", err))
		}
		logger.WithField("action", "config_load").WithField("config_file_path", path).
			Debug("loading config file")
		if err := parseConfigFile(file, path, &config); err != nil {
			return config, configErr(err)
		}
	}

	if err := FromEnv(&config); err != nil {
		return config, configErr(err)
	}

	return config, nil
}

// parseConfigFile decodes file on top of the values already in config.
func parseConfigFile(file []byte, name string, config *Config) error {
	switch ext := filepath.Ext(name); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(file, config); err != nil {
			return fmt.Errorf("error unmarshalling the yaml config file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension '%s', use .yaml", ext)
	}

	return nil
}

func configErr(err error) error {
	return fmt.Errorf("invalid config: %w", err)
}
