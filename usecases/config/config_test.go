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
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
	entrowstore "github.com/weaviate/rowstore/entities/rowstore"
)

func validConfig(t *testing.T) Config {
	c := Default()
	c.Persistence.DataPath = t.TempDir()
	c.Store.RowWidth = 16
	c.Store.KeyWidth = 8
	return c
}

func writeConfigFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.Nil(t, os.WriteFile(path, []byte(content), 0o666))
	return path
}

func TestLoadConfig(t *testing.T) {
	logger, _ := test.NewNullLogger()

	t.Run("from a yaml file", func(t *testing.T) {
		path := writeConfigFile(t, "rowstore.yaml", `
persistence:
  data_path: /var/lib/rowstore
store:
  name: events
  row_width: 24
  key_width: 8
  tombstone_offset: 23
  merge_interval: 30s
  sync_writes: false
logging:
  format: json
`)
		c, err := LoadConfig(path, logger)
		require.Nil(t, err)

		assert.Equal(t, "/var/lib/rowstore", c.Persistence.DataPath)
		assert.Equal(t, "events", c.Store.Name)
		assert.Equal(t, 24, c.Store.RowWidth)
		assert.Equal(t, 8, c.Store.KeyWidth)
		require.NotNil(t, c.Store.TombstoneOffset)
		assert.Equal(t, 23, *c.Store.TombstoneOffset)
		assert.Equal(t, 30*time.Second, c.Store.MergeInterval)
		assert.False(t, c.Store.SyncWrites)
		assert.Equal(t, "json", c.Logging.Format)

		// untouched keys keep their defaults
		assert.Equal(t, "info", c.Logging.Level)
		assert.Equal(t, Default().Store.FlushTriggerBytes, c.Store.FlushTriggerBytes)
	})

	t.Run("environment wins over the file", func(t *testing.T) {
		path := writeConfigFile(t, "rowstore.yml", `
persistence:
  data_path: /from/file
store:
  row_width: 24
  key_width: 8
`)
		t.Setenv("ROWSTORE_DATA_PATH", "/from/env")
		t.Setenv("ROWSTORE_KEY_WIDTH", "4")
		t.Setenv("ROWSTORE_SHUTDOWN_TIMEOUT", "5s")
		t.Setenv("ROWSTORE_MMAP_READS", "true")
		t.Setenv("ROWSTORE_KEY_FILTERS", "false")

		c, err := LoadConfig(path, logger)
		require.Nil(t, err)
		assert.Equal(t, "/from/env", c.Persistence.DataPath)
		assert.Equal(t, 24, c.Store.RowWidth)
		assert.Equal(t, 4, c.Store.KeyWidth)
		assert.Equal(t, 5*time.Second, c.Store.ShutdownTimeout)
		assert.True(t, c.Store.MmapReads)
		assert.False(t, c.Store.KeyFilters)
	})

	t.Run("environment only", func(t *testing.T) {
		t.Setenv("ROWSTORE_DATA_PATH", "/data")
		t.Setenv("ROWSTORE_ROW_WIDTH", "8")
		t.Setenv("ROWSTORE_KEY_WIDTH", "4")
		t.Setenv("ROWSTORE_TOMBSTONE_OFFSET", "7")

		c, err := LoadConfig("", logger)
		require.Nil(t, err)
		assert.Equal(t, rowfile.ByteFlagCodec{Offset: 7, Marker: DefaultTombstoneMarker},
			c.Store.TombstoneCodec())
	})

	t.Run("unsupported file type", func(t *testing.T) {
		path := writeConfigFile(t, "rowstore.toml", "")
		_, err := LoadConfig(path, logger)
		assert.NotNil(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), logger)
		assert.NotNil(t, err)
	})

	t.Run("unparsable environment", func(t *testing.T) {
		t.Setenv("ROWSTORE_ROW_WIDTH", "wide")
		_, err := LoadConfig("", logger)
		assert.NotNil(t, err)
	})
}

func TestValidate(t *testing.T) {
	offset := func(v int) *int { return &v }

	tests := []struct {
		name   string
		modify func(c *Config)
		valid  bool
	}{
		{"defaults with a layout", func(c *Config) {}, true},
		{"missing data path", func(c *Config) { c.Persistence.DataPath = "" }, false},
		{"missing name", func(c *Config) { c.Store.Name = "" }, false},
		{"key wider than row", func(c *Config) { c.Store.KeyWidth = 17 }, false},
		{"no key", func(c *Config) { c.Store.KeyWidth = 0 }, false},
		{"tombstone after the key", func(c *Config) { c.Store.TombstoneOffset = offset(15) }, true},
		{"tombstone inside the key", func(c *Config) { c.Store.TombstoneOffset = offset(3) }, false},
		{"tombstone past the row", func(c *Config) { c.Store.TombstoneOffset = offset(16) }, false},
		{"single table merges", func(c *Config) { c.Store.MinMergeTables = 1 }, false},
		{"max below min", func(c *Config) { c.Store.MaxMergeTables = 3 }, false},
		{"no merge workers", func(c *Config) { c.Store.MergeWorkers = 0 }, false},
		{"no flush trigger", func(c *Config) { c.Store.FlushTriggerBytes = 0 }, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, false},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, false},
		{"monitoring without port", func(c *Config) {
			c.Monitoring.Enabled = true
			c.Monitoring.Port = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig(t)
			tt.modify(&c)
			err := c.Validate()
			if tt.valid {
				assert.Nil(t, err)
			} else {
				assert.NotNil(t, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger := Logging{Level: "debug", Format: "json"}.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestOpenStore(t *testing.T) {
	logger, _ := test.NewNullLogger()
	c := validConfig(t)
	c.Store.TombstoneOffset = func(v int) *int { return &v }(15)
	c.Store.SyncWrites = false
	require.Nil(t, c.Validate())

	s, err := c.OpenStore(logger, nil)
	require.Nil(t, err)

	r := make([]byte, 16)
	copy(r, "key-0001")
	require.Nil(t, s.SetRow(r, entrowstore.WillMutate))
	require.Nil(t, s.DeleteRow([]byte("key-0001")))
	require.Nil(t, s.Close())

	c.Store.ReadOnly = true
	s, err = c.OpenStore(logger, nil)
	require.Nil(t, err)
	defer s.Close()

	assert.True(t, s.ReadOnly())
	_, ok, err := s.GetRow([]byte("key-0001"))
	require.Nil(t, err)
	assert.False(t, ok)
}
