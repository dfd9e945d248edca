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

package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/rowstore/adapters/repos/db/rowstore"
	enterrors "github.com/weaviate/rowstore/entities/errors"
	"github.com/weaviate/rowstore/usecases/config"
	"github.com/weaviate/rowstore/usecases/monitoring"
)

// Options are the flags shared by all commands. Set flags override the
// config file and the environment.
type Options struct {
	ConfigFile      string `long:"config" short:"c" description:"path to a yaml config file"`
	DataPath        string `long:"data-path" description:"directory of the store"`
	Name            string `long:"name" description:"name of the store, used in logs and metrics"`
	RowWidth        int    `long:"row-width" description:"width of a row in bytes"`
	KeyWidth        int    `long:"key-width" description:"width of the key prefix in bytes"`
	TombstoneOffset string `long:"tombstone-offset" description:"offset of the tombstone flag byte, or 'none' to disable deletes"`
	LogLevel        string `long:"log-level" description:"log level (debug, info, warn, error)"`
}

// env holds what every command needs once the options are resolved.
type env struct {
	config  config.Config
	logger  *logrus.Logger
	metrics *monitoring.PrometheusMetrics
}

func (o *Options) load(readOnly bool) (*env, error) {
	bootLogger := logrus.New()
	cfg, err := config.Load(o.ConfigFile, bootLogger)
	if err != nil {
		return nil, err
	}
	if err := o.apply(&cfg); err != nil {
		return nil, err
	}
	if readOnly {
		cfg.Store.ReadOnly = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &env{config: cfg, logger: cfg.Logging.NewLogger()}
	if cfg.Monitoring.Enabled {
		e.metrics = monitoring.NewPrometheusMetrics(prometheus.DefaultRegisterer)
		e.serveMetrics(cfg.Monitoring.Port)
	}
	return e, nil
}

func (o *Options) apply(cfg *config.Config) error {
	if o.DataPath != "" {
		cfg.Persistence.DataPath = o.DataPath
	}
	if o.Name != "" {
		cfg.Store.Name = o.Name
	}
	if o.RowWidth != 0 {
		cfg.Store.RowWidth = o.RowWidth
	}
	if o.KeyWidth != 0 {
		cfg.Store.KeyWidth = o.KeyWidth
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	switch o.TombstoneOffset {
	case "":
	case "none":
		cfg.Store.TombstoneOffset = nil
	default:
		offset, err := strconv.Atoi(o.TombstoneOffset)
		if err != nil {
			return errors.Wrap(err, "parse --tombstone-offset")
		}
		cfg.Store.TombstoneOffset = &offset
	}
	return nil
}

func (e *env) serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	enterrors.GoWrapper(func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			e.logger.WithField("action", "monitoring").WithError(err).
				Error("metrics server stopped")
		}
	}, e.logger)
}

func (e *env) open() (*rowstore.Store, error) {
	return e.config.OpenStore(e.logger, e.metrics)
}

// withStore resolves the options, opens the store, runs fn and closes the
// store again.
func withStore(opts *Options, readOnly bool, fn func(e *env, s *rowstore.Store) error) error {
	e, err := opts.load(readOnly)
	if err != nil {
		return err
	}
	s, err := e.open()
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	fnErr := fn(e, s)
	if err := s.Close(); err != nil && fnErr == nil {
		return errors.Wrap(err, "close store")
	}
	return fnErr
}

func registerCommands(parser *flags.Parser, opts *Options) {
	commands := []struct {
		name, short, long string
		data              interface{}
	}{
		{"inspect", "Show commit, tables and write-ahead log", "", &inspectCommand{opts: opts}},
		{"get", "Print the row for a key", "Keys and rows are hex encoded.", &getCommand{opts: opts}},
		{"put", "Insert or replace rows", "Rows are hex encoded, one per argument.", &putCommand{opts: opts}},
		{"delete", "Delete the rows for keys", "Keys are hex encoded, one per argument.", &deleteCommand{opts: opts}},
		{"scan", "Print rows in order", "Rows are printed hex encoded, one per line.", &scanCommand{opts: opts}},
		{"flush", "Flush the write-ahead log into a sorted table", "", &flushCommand{opts: opts}},
		{"compact", "Merge tables until the merge policy finds nothing to do", "", &compactCommand{opts: opts}},
		{"verify", "Check that every committed table is sorted", "", &verifyCommand{opts: opts}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			panic(err)
		}
	}
}
