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
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/rowstore/adapters/repos/db/indexcounter"
	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/commitlog"
	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
	"github.com/weaviate/rowstore/entities/rowstore"
	"github.com/weaviate/rowstore/entities/storagestate"
)

// Store is a crash-safe table of fixed-width rows kept in a single
// directory. Writes go to a write-ahead builder which is flushed into a new
// sorted file once it grows past the flush trigger; a background merge
// engine keeps the number of sorted files down.
//
// All mutations serialize behind writerLock. stackLock guards the stack, the
// commit record and the builder pointer; it is held for pointer swaps and
// reads. Readers never wait for writerLock, so a flush writing a sorted file
// does not hold them up.
type Store struct {
	dir      string
	name     string
	rowWidth int
	order    rowfile.RowOrder
	cfg      storeConfig
	logger   logrus.FieldLogger
	metrics  *Metrics

	statusLock sync.RWMutex
	status     storagestate.Status

	writerLock sync.Mutex

	stackLock     sync.RWMutex
	builder       *Builder
	stack         *Stack
	commit        *commitlog.Record
	commitChanged chan struct{}

	counters *indexcounter.Counters
	throttle *Throttle
	engine   *mergeEngine

	mergeResults chan *mergeResult
	shutdown     chan struct{}
	spliceDone   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open opens the store in dir, creating it if needed, and recovers any
// writes left in the write-ahead log.
func Open(dir, name string, rowWidth int, order rowfile.RowOrder, opts ...StoreOption) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, errors.Wrap(err, "apply store option")
		}
	}
	if err := rowfile.Validate(rowWidth, order, cfg.codec); err != nil {
		return nil, err
	}
	if cfg.policy == nil {
		cfg.policy = NewTieredPolicy(cfg)
	}

	s := &Store{
		dir:           dir,
		name:          name,
		rowWidth:      rowWidth,
		order:         order,
		cfg:           cfg,
		logger:        cfg.logger.WithField("store", name),
		metrics:       NewMetrics(cfg.promMetrics, name),
		status:        storagestate.StatusReady,
		commitChanged: make(chan struct{}),
		mergeResults:  make(chan *mergeResult),
		shutdown:      make(chan struct{}),
		spliceDone:    make(chan struct{}),
	}
	if cfg.readOnly {
		s.status = storagestate.StatusReadOnly
	}

	if err := s.recover(); err != nil {
		s.closeFiles()
		return nil, err
	}

	s.throttle = NewThrottle(cfg.overheatTableCount, cfg.maxAdmissionRate, cfg.throttleWindow)
	s.observeStack()
	s.metrics.WALSize(s.builder.SizeBytes())

	s.engine = newMergeEngine(s)
	s.startSpliceLoop()
	if !cfg.readOnly {
		s.engine.start()
	}
	return s, nil
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) RowWidth() int {
	return s.rowWidth
}

func (s *Store) RowOrder() rowfile.RowOrder {
	return s.order
}

// TombstoneCodec returns the codec deletes use, nil if deletes are disabled.
func (s *Store) TombstoneCodec() rowfile.TombstoneCodec {
	return s.cfg.codec
}

func (s *Store) getStatus() storagestate.Status {
	s.statusLock.RLock()
	defer s.statusLock.RUnlock()
	return s.status
}

func (s *Store) IsOpen() bool {
	return s.getStatus() != storagestate.StatusShutdown
}

func (s *Store) ReadOnly() bool {
	return s.getStatus() == storagestate.StatusReadOnly
}

func (s *Store) checkOpen() error {
	if !s.IsOpen() {
		return rowstore.ErrClosed
	}
	return nil
}

func (s *Store) checkWritable() error {
	status := s.getStatus()
	switch status {
	case storagestate.StatusShutdown:
		return rowstore.ErrClosed
	case storagestate.StatusReadOnly:
		return errors.Wrapf(status.Err(), "store %q", s.name)
	default:
		return nil
	}
}

type stackReader interface {
	GetRow(key []byte, out []byte) (bool, error)
	NewIterator(key []byte, dir rowstore.Direction, includeKey bool) (*StackIterator, error)
}

// reader returns the tombstone-aware view of the stack if deletes are
// enabled. stackLock must be held.
func (s *Store) reader() stackReader {
	if s.cfg.codec != nil {
		return NewTombstoneStack(s.stack, s.cfg.codec)
	}
	return s.stack
}

func (s *Store) deleted(row []byte) bool {
	return s.cfg.codec != nil && s.cfg.codec.IsDeleted(row)
}

// currentBuilder returns the builder writes currently go to. A builder that
// is replaced by a flush keeps its rows, and the stack it was flushed into
// is swapped in first, so a snapshot of it is never older than the stack a
// reader sees afterwards.
func (s *Store) currentBuilder() *Builder {
	s.stackLock.RLock()
	defer s.stackLock.RUnlock()
	return s.builder
}

func (s *Store) snapshotBuilder() *BuilderSnapshot {
	return s.currentBuilder().Snapshot()
}

// GetRow returns a copy of the newest live row the key identifies.
func (s *Store) GetRow(key []byte) ([]byte, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	defer s.metrics.TrackOperation("get_row")()

	snapshot := s.snapshotBuilder()
	if row, ok := snapshot.Get(key); ok {
		if s.deleted(row) {
			return nil, false, nil
		}
		return append([]byte(nil), row...), true, nil
	}

	s.stackLock.RLock()
	defer s.stackLock.RUnlock()

	out := make([]byte, s.rowWidth)
	found, err := s.reader().GetRow(key, out)
	if err != nil || !found {
		return nil, false, err
	}
	return out, true, nil
}

// NextRow returns a copy of the first live row from key in direction dir.
// With includeKey a row the key identifies qualifies. A nil key starts at
// the first row in direction.
func (s *Store) NextRow(key []byte, dir rowstore.Direction, includeKey bool) ([]byte, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	defer s.metrics.TrackOperation("next_row")()

	snapshot := s.snapshotBuilder()

	s.stackLock.RLock()
	defer s.stackLock.RUnlock()

	it, err := s.reader().NewIterator(key, dir, includeKey)
	if err != nil {
		return nil, false, err
	}
	stackRow, err := it.Next()
	if err != nil {
		return nil, false, err
	}

	builderRow, ok := snapshot.Next(key, dir, includeKey)
	for {
		if !ok {
			if stackRow == nil {
				return nil, false, nil
			}
			return append([]byte(nil), stackRow...), true, nil
		}
		if stackRow != nil && s.closer(stackRow, builderRow, dir) {
			return append([]byte(nil), stackRow...), true, nil
		}
		if !s.deleted(builderRow) {
			return append([]byte(nil), builderRow...), true, nil
		}

		// the tombstone hides any stack row for its key
		if stackRow != nil && s.order.Compare(stackRow, builderRow) == 0 {
			if stackRow, err = it.Next(); err != nil {
				return nil, false, err
			}
		}
		builderRow, ok = snapshot.NextAfter(builderRow, dir)
	}
}

// closer reports whether a lies strictly before b in direction dir.
func (s *Store) closer(a, b []byte, dir rowstore.Direction) bool {
	c := s.order.Compare(a, b)
	if dir == rowstore.Descending {
		return c > 0
	}
	return c < 0
}

func (s *Store) checkRow(row []byte) error {
	if len(row) != s.rowWidth {
		return rowstore.NewContractError("row of %d bytes, row width is %d", len(row), s.rowWidth)
	}
	if s.deleted(row) {
		return rowstore.NewContractError("row is marked deleted, use DeleteRow")
	}
	return nil
}

// SetRow inserts or replaces the row for its key.
func (s *Store) SetRow(row []byte, promise rowstore.MutationPromise) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.checkRow(row); err != nil {
		return err
	}
	defer s.metrics.TrackOperation("set_row")()

	s.writerLock.Lock()
	defer s.writerLock.Unlock()

	if err := s.builder.Put(row, promise); err != nil {
		return err
	}
	return s.maybeFlushLocked()
}

// SetRows inserts or replaces rows, given back to back. Later rows win over
// earlier ones with the same key.
func (s *Store) SetRows(rows []byte, promise rowstore.MutationPromise) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if len(rows)%s.rowWidth != 0 {
		return rowstore.NewContractError("%d bytes is not a multiple of row width %d",
			len(rows), s.rowWidth)
	}
	for off := 0; off < len(rows); off += s.rowWidth {
		if err := s.checkRow(rows[off : off+s.rowWidth]); err != nil {
			return err
		}
	}
	defer s.metrics.TrackOperation("set_rows")()

	s.writerLock.Lock()
	defer s.writerLock.Unlock()

	if err := s.builder.Put(rows, promise); err != nil {
		return err
	}
	return s.maybeFlushLocked()
}

// DeleteRow deletes the row the key identifies. Needs a tombstone codec.
func (s *Store) DeleteRow(key []byte) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	defer s.metrics.TrackOperation("delete_row")()

	s.writerLock.Lock()
	defer s.writerLock.Unlock()

	if err := s.builder.Delete(key); err != nil {
		return err
	}
	return s.maybeFlushLocked()
}

// existsLive reports whether the stack holds a live row for key. Used by
// the builder to decide whether a delete needs a tombstone.
func (s *Store) existsLive(key []byte) (bool, error) {
	s.stackLock.RLock()
	defer s.stackLock.RUnlock()
	return s.reader().GetRow(key, make([]byte, s.rowWidth))
}

// CommitID is the id of the current commit.
func (s *Store) CommitID() uint64 {
	s.stackLock.RLock()
	defer s.stackLock.RUnlock()
	return s.commit.ID()
}

// TableIDs are the ids of the committed sorted files, oldest first.
func (s *Store) TableIDs() []uint64 {
	s.stackLock.RLock()
	defer s.stackLock.RUnlock()
	return s.stack.IDs()
}

// WaitForCommitChange blocks until the commit id differs from commitID or
// the timeout passes, and returns the commit id it saw last.
func (s *Store) WaitForCommitChange(commitID uint64, timeout time.Duration) uint64 {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.stackLock.RLock()
		current, changed := s.commit.ID(), s.commitChanged
		s.stackLock.RUnlock()

		if current != commitID {
			return current
		}
		select {
		case <-changed:
		case <-timer.C:
			return current
		}
	}
}

// swapLocked installs a new stack and commit and wakes commit waiters.
// stackLock must be held for writing.
func (s *Store) swapLocked(stack *Stack, commit *commitlog.Record) {
	s.stack, s.commit = stack, commit
	close(s.commitChanged)
	s.commitChanged = make(chan struct{})
	s.metrics.StackChanged(stack.Len(), commit.ID())
}

// ThrottleSignal is the current backpressure signal between 0 and 1.
func (s *Store) ThrottleSignal() float64 {
	return s.throttle.Signal()
}

// WaitForAdmission blocks while the throttle holds writers back.
func (s *Store) WaitForAdmission(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.throttle.Wait(ctx)
}

func (s *Store) observeStack() {
	s.stackLock.RLock()
	tables := s.stack.Len()
	s.stackLock.RUnlock()

	s.metrics.Throttle(s.throttle.Observe(tables))
}

// TableStats describes one committed sorted file.
type TableStats struct {
	ID        uint64
	Rows      int64
	SizeBytes int64
}

type Stats struct {
	CommitID       uint64
	Tables         []TableStats
	BuilderRows    int
	WALRows        int64
	WALBytes       int64
	ThrottleSignal float64
}

func (s *Store) Stats() Stats {
	b := s.currentBuilder()
	stats := Stats{
		BuilderRows: b.Len(),
		WALRows:     b.LoggedRows(),
		WALBytes:    b.SizeBytes(),
	}

	s.stackLock.RLock()
	stats.CommitID = s.commit.ID()
	for _, f := range s.stack.files {
		stats.Tables = append(stats.Tables, TableStats{
			ID:        f.ID(),
			Rows:      f.Count(),
			SizeBytes: f.SizeBytes(),
		})
	}
	s.stackLock.RUnlock()

	stats.ThrottleSignal = s.throttle.Signal()
	return stats
}

// Verify checks that every committed table is sorted. Failures are
// collected per table.
func (s *Store) Verify() error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	type view struct {
		id   uint64
		rows *rowfile.RowFile
	}
	var result *multierror.Error
	var views []view

	s.stackLock.RLock()
	for _, f := range s.stack.Files() {
		rows, err := f.Rows().Slice(0, f.Count())
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "table %d", f.ID()))
			continue
		}
		views = append(views, view{id: f.ID(), rows: rows})
	}
	s.stackLock.RUnlock()

	for _, v := range views {
		sorted := rowfile.NewSortedFile(v.rows, s.order)
		if err := sorted.VerifyOrder(s.cfg.bufferRows(s.rowWidth)); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "table %d", v.id))
		}
		v.rows.Close()
	}
	return result.ErrorOrNil()
}

// Close stops the merge engine and closes all files. The write-ahead log
// stays on disk and is replayed by the next Open. Closing again is a no-op.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close()
	})
	return s.closeErr
}

func (s *Store) close() error {
	s.statusLock.Lock()
	s.status = storagestate.StatusShutdown
	s.statusLock.Unlock()

	var result *multierror.Error

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.shutdownTimeout)
	defer cancel()
	if err := s.engine.stop(ctx); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "stop merge engine"))
	}

	close(s.shutdown)
	<-s.spliceDone

	s.writerLock.Lock()
	defer s.writerLock.Unlock()
	s.stackLock.Lock()
	defer s.stackLock.Unlock()

	if err := s.closeFiles(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// closeFiles closes the builder and every stack member that is open.
func (s *Store) closeFiles() error {
	var result *multierror.Error
	if s.builder != nil {
		if err := s.builder.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close builder"))
		}
	}
	if s.stack != nil {
		for _, f := range s.stack.files {
			if err := f.Close(); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "close table %d", f.ID()))
			}
		}
	}
	return result.ErrorOrNil()
}
