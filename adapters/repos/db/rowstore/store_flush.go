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

	"github.com/weaviate/rowstore/adapters/repos/db/indexcounter"
	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/commitlog"
	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
)

func (s *Store) maybeFlushLocked() error {
	size := s.builder.SizeBytes()
	s.metrics.WALSize(size)
	if size < s.cfg.flushTriggerBytes {
		return nil
	}
	return s.flushLocked()
}

// Flush forces a flush-and-commit of the builder, independent of its size.
func (s *Store) Flush() error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.writerLock.Lock()
	defer s.writerLock.Unlock()
	return s.flushLocked()
}

// flushLocked writes the builder into a new sorted file that takes the
// builder's id, commits a stack with that file on top and starts a new
// builder. An empty builder only gets a fresh log. writerLock must be held.
func (s *Store) flushLocked() error {
	old := s.builder
	if old.LoggedRows() == 0 {
		return nil
	}
	if old.Len() == 0 {
		return s.rotateLocked()
	}

	start := time.Now()
	id := old.ID()
	file, err := s.writeSorted(id, old)
	if err != nil {
		return err
	}

	walID := s.counters.Counter(indexcounter.NextFileID).Increment(1)
	next, err := CreateBuilder(s.dir, walID, s.builderConfig())
	if err != nil {
		s.discardTable(file)
		return err
	}

	s.stackLock.Lock()
	stack, err := s.stack.Append(file)
	if err != nil {
		s.stackLock.Unlock()
		next.Discard()
		s.discardTable(file)
		return err
	}
	oldCommit := s.commit
	rec, err := commitlog.Create(s.dir, oldCommit.ID()+1, stack.IDs())
	if err != nil {
		s.stackLock.Unlock()
		next.Discard()
		s.discardTable(file)
		return errors.Wrap(err, "commit flushed table")
	}
	s.commitCountersLocked(rec.ID(), &walID)
	s.swapLocked(stack, rec)
	s.builder = next
	s.stackLock.Unlock()

	if err := old.Discard(); err != nil {
		s.logger.WithField("action", "rowstore_flush").WithField("id", id).
			WithError(err).Warn("could not delete flushed write-ahead log")
	}
	if err := oldCommit.Delete(); err != nil {
		s.logger.WithField("action", "rowstore_flush").WithField("commit", oldCommit.ID()).
			WithError(err).Warn("could not delete superseded commit record")
	}

	s.logger.WithField("action", "rowstore_flush").
		WithField("id", id).
		WithField("rows", file.Count()).
		WithField("commit", rec.ID()).
		WithField("took", time.Since(start)).
		Debug("flushed write-ahead builder")
	s.metrics.Flushed()
	s.metrics.WALSize(next.SizeBytes())
	s.engine.wake()
	s.observeStack()
	return nil
}

// rotateLocked replaces a builder whose log holds rows but whose memory is
// empty, e.g. after deleting keys that only lived in memory.
func (s *Store) rotateLocked() error {
	old := s.builder
	walID := s.counters.Counter(indexcounter.NextFileID).Increment(1)
	next, err := CreateBuilder(s.dir, walID, s.builderConfig())
	if err != nil {
		return err
	}
	s.counters.Counter(indexcounter.WriteAheadID).Set(walID)
	if err := s.counters.Commit(); err != nil {
		next.Discard()
		return err
	}
	s.stackLock.Lock()
	s.builder = next
	s.stackLock.Unlock()
	if err := old.Discard(); err != nil {
		s.logger.WithField("action", "rowstore_flush").WithField("id", old.ID()).
			WithError(err).Warn("could not delete empty write-ahead log")
	}
	s.metrics.WALSize(next.SizeBytes())
	return nil
}

// writeSorted flushes b into T<id>.stbl and reopens it for reading.
func (s *Store) writeSorted(id uint64, b *Builder) (*rowfile.IdentifiedFile, error) {
	path := sortedFilePath(s.dir, id)
	dst, err := rowfile.Create(path, s.rowWidth, rowfile.WithSync(false))
	if err != nil {
		return nil, err
	}
	if err := b.Flush(dst, s.cfg.bufferRows(s.rowWidth)); err != nil {
		dst.Delete()
		return nil, err
	}
	if err := s.sealTable(dst); err != nil {
		return nil, err
	}
	return s.openTable(id)
}

// sealTable syncs and closes a freshly written table.
func (s *Store) sealTable(dst *rowfile.RowFile) error {
	if err := dst.Sync(); err != nil {
		dst.Delete()
		return err
	}
	if err := dst.Close(); err != nil {
		dst.Delete()
		return err
	}
	return nil
}

func (s *Store) openTable(id uint64) (*rowfile.IdentifiedFile, error) {
	return rowfile.OpenIdentified(sortedFilePath(s.dir, id), id, s.rowWidth, s.order,
		s.cfg.keyFilters, s.cfg.fileOptions()...)
}

// commitCountersLocked persists a new commit id and, if walID is set, a new
// write-ahead id. The commit record is already durable, so a failure here
// is only logged: the next Open advances the counters to the record and
// picks up the newest write-ahead log the record does not cover.
func (s *Store) commitCountersLocked(commitID uint64, walID *uint64) {
	s.counters.Counter(indexcounter.CommitSequence).Set(commitID)
	if walID != nil {
		s.counters.Counter(indexcounter.WriteAheadID).Set(*walID)
	}
	if err := s.counters.Commit(); err != nil {
		s.logger.WithField("action", "rowstore_commit").WithField("commit", commitID).
			WithError(err).Error("could not persist counters")
	}
}

// discardTable closes and deletes a table that never made it into a
// commit.
func (s *Store) discardTable(file *rowfile.IdentifiedFile) {
	if file == nil {
		return
	}
	if err := file.Delete(); err != nil {
		s.logger.WithField("action", "rowstore_discard_table").WithField("id", file.ID()).
			WithError(err).Warn("could not delete discarded table")
	}
}
