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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/weaviate/rowstore/adapters/repos/db/indexcounter"
	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/commitlog"
	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
	"github.com/weaviate/rowstore/entities/diskio"
	"github.com/weaviate/rowstore/entities/rowstore"
)

// recover loads the counters, the latest commit and its tables, and
// replays the write-ahead log. In writable mode it then removes files no
// commit refers to.
func (s *Store) recover() error {
	start := time.Now()
	readOnly := s.cfg.readOnly

	if !readOnly {
		if err := os.MkdirAll(s.dir, 0o777); err != nil {
			return errors.Wrapf(err, "create store directory %s", s.dir)
		}
	}

	var err error
	if readOnly {
		s.counters, err = indexcounter.OpenReadOnly(s.dir)
	} else {
		s.counters, err = indexcounter.Open(s.dir)
	}
	if err != nil {
		return err
	}
	nextID := s.counters.Counter(indexcounter.NextFileID)
	commitSeq := s.counters.Counter(indexcounter.CommitSequence)
	walID := s.counters.Counter(indexcounter.WriteAheadID)
	if nextID.Get() == 0 {
		nextID.Set(1)
	}

	rec, skipped, err := commitlog.LoadLatest(s.dir)
	if err != nil {
		return err
	}
	for _, err := range skipped {
		s.logger.WithField("action", "rowstore_recover_commit").
			WithError(err).Warn("skipping unreadable commit record")
	}
	if rec.ID() < commitSeq.Get() {
		return rowstore.NewStorageStateError("commit record %d is missing, latest readable is %d",
			commitSeq.Get(), rec.ID())
	}
	commitSeq.Set(rec.ID())
	for _, id := range rec.TableIDs() {
		if id >= nextID.Get() {
			nextID.Set(id + 1)
		}
	}
	if w := walID.Get(); w >= nextID.Get() {
		nextID.Set(w + 1)
	}

	files, err := s.openTables(rec)
	if err != nil {
		return err
	}
	stack, err := NewStack(s.rowWidth, s.order, s.cfg.searchBlockBytes, files...)
	if err != nil {
		for _, f := range files {
			f.Close()
		}
		return err
	}
	s.stack, s.commit = stack.WithKeyFilterObserver(s.metrics.KeyFilterResult), rec
	s.metrics.StackChanged(stack.Len(), rec.ID())
	s.metrics.TrackStartup("load_tables", start)

	if err := s.recoverBuilder(); err != nil {
		return err
	}

	if readOnly {
		return nil
	}
	s.cleanup()
	if err := s.counters.Commit(); err != nil {
		return err
	}
	s.metrics.TrackStartup("total", start)
	return nil
}

func (s *Store) openTables(rec *commitlog.Record) ([]*rowfile.IdentifiedFile, error) {
	ids := rec.TableIDs()
	files := make([]*rowfile.IdentifiedFile, 0, len(ids))
	for _, id := range ids {
		file, err := s.openTable(id)
		if err != nil {
			for _, f := range files {
				f.Close()
			}
			if errors.Is(err, os.ErrNotExist) {
				return nil, rowstore.NewStorageStateError("table %d of commit %d is missing",
					id, rec.ID())
			}
			return nil, errors.Wrapf(err, "open table %d", id)
		}
		files = append(files, file)
	}
	return files, nil
}

func (s *Store) builderConfig() builderConfig {
	return builderConfig{
		rowWidth:   s.rowWidth,
		order:      s.order,
		codec:      s.cfg.codec,
		syncWrites: s.cfg.syncWrites,
		exists:     s.existsLive,
	}
}

// recoverBuilder replays the current write-ahead log, or starts a new one
// if the current id was already flushed into the commit.
func (s *Store) recoverBuilder() error {
	start := time.Now()
	walID := s.counters.Counter(indexcounter.WriteAheadID)
	id := walID.Get()
	if id == 0 || s.commit.Contains(id) {
		newer, err := s.newestUnflushedWAL(id)
		if err != nil {
			return err
		}
		if newer != 0 {
			// the flush committed but the counters were not updated
			s.removeFlushedWAL(id)
			id = newer
			walID.Set(id)
			if nextID := s.counters.Counter(indexcounter.NextFileID); nextID.Get() <= id {
				nextID.Set(id + 1)
			}
		}
	}
	path := walFilePath(s.dir, id)

	flushed := id == 0 || s.commit.Contains(id)
	exists, err := diskio.FileExists(path)
	if err != nil {
		return err
	}

	if !flushed && exists {
		b, err := OpenBuilder(s.dir, id, s.builderConfig(), s.cfg.readOnly, s.metrics.ReplayObserver())
		if err != nil {
			return err
		}
		s.builder = b
		s.logger.WithField("action", "rowstore_recover_from_wal").
			WithField("path", path).
			WithField("rows", b.LoggedRows()).
			WithField("bytes", b.ReplayedBytes()).
			WithField("took", time.Since(start)).
			Debug("replayed write-ahead log")
		s.metrics.TrackStartup("replay_wal", start)
		return nil
	}

	if s.cfg.readOnly {
		s.builder = newMemoryBuilder(id, s.builderConfig())
		return nil
	}

	if flushed {
		if exists {
			// leftover of a flush whose commit completed
			if err := os.Remove(path); err != nil {
				return errors.Wrapf(err, "remove flushed write-ahead log %d", id)
			}
		}
		id = s.counters.Counter(indexcounter.NextFileID).Increment(1)
		walID.Set(id)
	}

	b, err := CreateBuilder(s.dir, id, s.builderConfig())
	if err != nil {
		return err
	}
	s.builder = b
	return nil
}

// newestUnflushedWAL returns the highest write-ahead log id above after
// that the commit does not refer to, or 0.
func (s *Store) newestUnflushedWAL(after uint64) (uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, errors.Wrapf(err, "list %s", s.dir)
	}
	var newest uint64
	for _, e := range entries {
		id, ext, ok := parseTableFileName(e.Name())
		if !ok || ext != walExt || id <= after || s.commit.Contains(id) {
			continue
		}
		if id > newest {
			newest = id
		}
	}
	return newest, nil
}

func (s *Store) removeFlushedWAL(id uint64) {
	if s.cfg.readOnly || id == 0 {
		return
	}
	path := walFilePath(s.dir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.WithField("action", "rowstore_recover_from_wal").WithField("path", path).
			WithError(err).Warn("could not remove flushed write-ahead log")
	}
}

// cleanup removes temp files, sorted files and commit records the current
// commit does not refer to, and write-ahead logs other than the current
// one. Failures are logged.
func (s *Store) cleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.WithField("action", "rowstore_cleanup").WithError(err).
			Warn("could not list store directory")
		return
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !s.isGarbage(name) {
			continue
		}
		path := filepath.Join(s.dir, name)
		if err := os.Remove(path); err != nil {
			s.logger.WithField("action", "rowstore_cleanup").WithField("path", path).
				WithError(err).Warn("could not remove stale file")
			continue
		}
		s.logger.WithField("action", "rowstore_cleanup").WithField("path", path).
			Debug("removed stale file")
	}
}

func (s *Store) isGarbage(name string) bool {
	if strings.HasSuffix(name, tmpExt) {
		return true
	}
	if id, ok := commitlog.ParseFileName(name); ok {
		return id != s.commit.ID()
	}
	id, ext, ok := parseTableFileName(name)
	if !ok {
		return false
	}
	if ext == sortedExt {
		return !s.commit.Contains(id)
	}
	return id != s.builder.ID()
}
