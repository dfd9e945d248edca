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
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/weaviate/rowstore/adapters/repos/db/rowstore"
	entrowstore "github.com/weaviate/rowstore/entities/rowstore"
)

var stdout io.Writer = os.Stdout

func decodeHex(args []string, what string) ([][]byte, error) {
	if len(args) == 0 {
		return nil, errors.Errorf("no %s given", what)
	}
	out := make([][]byte, len(args))
	for i, arg := range args {
		b, err := hex.DecodeString(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s %q", what, arg)
		}
		out[i] = b
	}
	return out, nil
}

type inspectCommand struct {
	opts *Options
}

type tableReport struct {
	ID        uint64 `yaml:"id"`
	Rows      int64  `yaml:"rows"`
	SizeBytes int64  `yaml:"size_bytes"`
}

type inspectReport struct {
	Dir            string        `yaml:"dir"`
	Name           string        `yaml:"name"`
	RowWidth       int           `yaml:"row_width"`
	CommitID       uint64        `yaml:"commit_id"`
	Tables         []tableReport `yaml:"tables"`
	BuilderRows    int           `yaml:"builder_rows"`
	WALRows        int64         `yaml:"wal_rows"`
	WALBytes       int64         `yaml:"wal_bytes"`
	ThrottleSignal float64       `yaml:"throttle_signal"`
}

func (c *inspectCommand) Execute(args []string) error {
	return withStore(c.opts, true, func(e *env, s *rowstore.Store) error {
		stats := s.Stats()
		report := inspectReport{
			Dir:            s.Dir(),
			Name:           s.Name(),
			RowWidth:       s.RowWidth(),
			CommitID:       stats.CommitID,
			Tables:         make([]tableReport, len(stats.Tables)),
			BuilderRows:    stats.BuilderRows,
			WALRows:        stats.WALRows,
			WALBytes:       stats.WALBytes,
			ThrottleSignal: stats.ThrottleSignal,
		}
		for i, t := range stats.Tables {
			report.Tables[i] = tableReport{ID: t.ID, Rows: t.Rows, SizeBytes: t.SizeBytes}
		}
		enc := yaml.NewEncoder(stdout)
		defer enc.Close()
		return enc.Encode(report)
	})
}

type getCommand struct {
	opts *Options
}

func (c *getCommand) Execute(args []string) error {
	keys, err := decodeHex(args, "key")
	if err != nil {
		return err
	}
	return withStore(c.opts, true, func(e *env, s *rowstore.Store) error {
		for i, key := range keys {
			row, ok, err := s.GetRow(key)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("no row for key %s", args[i])
			}
			fmt.Fprintln(stdout, hex.EncodeToString(row))
		}
		return nil
	})
}

type putCommand struct {
	opts  *Options
	Flush bool `long:"flush" description:"flush the write-ahead log afterwards"`
}

func (c *putCommand) Execute(args []string) error {
	decoded, err := decodeHex(args, "row")
	if err != nil {
		return err
	}
	var rows []byte
	for _, row := range decoded {
		rows = append(rows, row...)
	}
	return withStore(c.opts, false, func(e *env, s *rowstore.Store) error {
		if err := s.WaitForAdmission(context.Background()); err != nil {
			return err
		}
		if err := s.SetRows(rows, entrowstore.WontMutate); err != nil {
			return err
		}
		if c.Flush {
			return s.Flush()
		}
		return nil
	})
}

type deleteCommand struct {
	opts  *Options
	Flush bool `long:"flush" description:"flush the write-ahead log afterwards"`
}

func (c *deleteCommand) Execute(args []string) error {
	keys, err := decodeHex(args, "key")
	if err != nil {
		return err
	}
	return withStore(c.opts, false, func(e *env, s *rowstore.Store) error {
		for _, key := range keys {
			if err := s.DeleteRow(key); err != nil {
				return err
			}
		}
		if c.Flush {
			return s.Flush()
		}
		return nil
	})
}

type scanCommand struct {
	opts      *Options
	From      string `long:"from" description:"hex key to start at, the first row if empty"`
	Desc      bool   `long:"desc" description:"scan in descending order"`
	Exclusive bool   `long:"exclusive" description:"skip the row of the start key"`
	Limit     int    `long:"limit" default:"0" description:"maximum number of rows, 0 for all"`
}

func (c *scanCommand) Execute(args []string) error {
	var key []byte
	if c.From != "" {
		decoded, err := hex.DecodeString(c.From)
		if err != nil {
			return errors.Wrap(err, "decode --from")
		}
		key = decoded
	}
	dir := entrowstore.Ascending
	if c.Desc {
		dir = entrowstore.Descending
	}

	return withStore(c.opts, true, func(e *env, s *rowstore.Store) error {
		keyWidth := e.config.Store.KeyWidth
		include := !c.Exclusive
		for n := 0; c.Limit <= 0 || n < c.Limit; n++ {
			row, ok, err := s.NextRow(key, dir, include)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			fmt.Fprintln(stdout, hex.EncodeToString(row))
			key, include = row[:keyWidth], false
		}
		return nil
	})
}

type flushCommand struct {
	opts *Options
}

func (c *flushCommand) Execute(args []string) error {
	return withStore(c.opts, false, func(e *env, s *rowstore.Store) error {
		before := s.CommitID()
		if err := s.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "commit %d -> %d\n", before, s.CommitID())
		return nil
	})
}

type compactCommand struct {
	opts    *Options
	Timeout time.Duration `long:"timeout" default:"10m" description:"give up after this long"`
}

func (c *compactCommand) Execute(args []string) error {
	return withStore(c.opts, false, func(e *env, s *rowstore.Store) error {
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		defer cancel()

		before := len(s.TableIDs())
		total := 0
		for {
			merged, err := s.MergeNow(ctx)
			if err != nil {
				return err
			}
			if merged == 0 {
				break
			}
			total += merged
		}
		fmt.Fprintf(stdout, "%d merges, %d -> %d tables\n", total, before, len(s.TableIDs()))
		return nil
	})
}

type verifyCommand struct {
	opts *Options
}

func (c *verifyCommand) Execute(args []string) error {
	return withStore(c.opts, true, func(e *env, s *rowstore.Store) error {
		if err := s.Verify(); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%d tables ok\n", len(s.TableIDs()))
		return nil
	})
}
