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
	"bufio"
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
	"github.com/weaviate/rowstore/entities/diskio"
	"github.com/weaviate/rowstore/entities/rowstore"
)

const builderDegree = 32

// walEntry is either a row held by the builder or, with key set, a search pivot
// used to look rows up by key.
type walEntry struct {
	row []byte
	key []byte
}

func entryLess(order rowfile.RowOrder) btree.LessFunc[walEntry] {
	return func(a, b walEntry) bool {
		switch {
		case a.key == nil && b.key == nil:
			return order.Compare(a.row, b.row) < 0
		case a.key != nil && b.key == nil:
			return order.CompareKey(a.key, b.row) < 0
		case a.key == nil:
			return order.CompareKey(b.key, a.row) > 0
		default:
			return bytes.Compare(a.key, b.key) < 0
		}
	}
}

// ExistsFunc reports whether a key is held by rows older than the builder.
type ExistsFunc func(key []byte) (bool, error)

type builderConfig struct {
	rowWidth   int
	order      rowfile.RowOrder
	codec      rowfile.TombstoneCodec
	syncWrites bool
	exists     ExistsFunc
}

// Builder collects unsorted writes in memory, sorted by key, and logs every
// write to its write-ahead log before applying it. At most one row per key
// is kept; a later write replaces an earlier one. A Builder is not safe for
// concurrent writes; readers take a Snapshot, which may happen while a
// write or a flush is in progress.
type Builder struct {
	id  uint64
	cfg builderConfig
	log *rowfile.RowFile

	replayedBytes int64

	// treeLock guards tree. Clone writes to the tree, so snapshots take it
	// exclusively too.
	treeLock sync.Mutex
	tree     *btree.BTreeG[walEntry]
}

// CreateBuilder starts an empty builder with a new log T<id>.utbl in dir.
func CreateBuilder(dir string, id uint64, cfg builderConfig) (*Builder, error) {
	log, err := rowfile.Create(walFilePath(dir, id), cfg.rowWidth, rowfile.WithSync(cfg.syncWrites))
	if err != nil {
		return nil, errors.Wrap(err, "create write-ahead log")
	}
	return newBuilder(id, cfg, log), nil
}

// OpenBuilder reopens the log T<id>.utbl in dir and replays it. With
// readOnly the log is replayed but can not be appended to.
func OpenBuilder(dir string, id uint64, cfg builderConfig, readOnly bool,
	observer diskio.MeteredReaderCallback,
) (*Builder, error) {
	opts := []rowfile.Option{rowfile.WithSync(cfg.syncWrites)}
	if readOnly {
		opts = append(opts, rowfile.WithReadOnly())
	}
	log, err := rowfile.Open(walFilePath(dir, id), cfg.rowWidth, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "open write-ahead log")
	}

	b := newBuilder(id, cfg, log)
	if err := b.replay(observer); err != nil {
		log.Close()
		return nil, errors.Wrapf(err, "replay write-ahead log %d", id)
	}
	return b, nil
}

// newMemoryBuilder is a builder without a log, used for read-only stores
// that have nothing to replay.
func newMemoryBuilder(id uint64, cfg builderConfig) *Builder {
	return newBuilder(id, cfg, nil)
}

func newBuilder(id uint64, cfg builderConfig, log *rowfile.RowFile) *Builder {
	return &Builder{
		id:   id,
		cfg:  cfg,
		log:  log,
		tree: btree.NewG[walEntry](builderDegree, entryLess(cfg.order)),
	}
}

func (b *Builder) replay(observer diskio.MeteredReaderCallback) error {
	metered := diskio.NewMeteredReader(b.log.Reader(), observer)
	defer func() { b.replayedBytes = metered.BytesRead() }()

	r := bufio.NewReaderSize(metered, 1<<16)
	width := b.cfg.rowWidth
	for i := int64(0); i < b.log.Count(); i++ {
		row := make([]byte, width)
		if _, err := io.ReadFull(r, row); err != nil {
			return errors.Wrapf(err, "read row %d", i)
		}
		if b.cfg.codec != nil && b.cfg.codec.IsDeleted(row) {
			if err := b.applyDelete(row, row); err != nil {
				return err
			}
			continue
		}
		b.insert(row)
	}
	return nil
}

func (b *Builder) insert(rows ...[]byte) {
	b.treeLock.Lock()
	defer b.treeLock.Unlock()
	for _, row := range rows {
		b.tree.ReplaceOrInsert(walEntry{row: row})
	}
}

// ReplayedBytes is how much of the log OpenBuilder read back.
func (b *Builder) ReplayedBytes() int64 {
	return b.replayedBytes
}

func (b *Builder) ID() uint64 {
	return b.id
}

// Len is the number of rows, tombstones included, held in memory.
func (b *Builder) Len() int {
	b.treeLock.Lock()
	defer b.treeLock.Unlock()
	return b.tree.Len()
}

// SizeBytes is the size of the write-ahead log.
func (b *Builder) SizeBytes() int64 {
	if b.log == nil {
		return rowfile.HeaderSize
	}
	return b.log.SizeBytes()
}

// LoggedRows is the number of rows in the write-ahead log.
func (b *Builder) LoggedRows() int64 {
	if b.log == nil {
		return 0
	}
	return b.log.Count()
}

func (b *Builder) writable() error {
	if b.log == nil {
		return rowstore.NewContractError("builder %d has no write-ahead log", b.id)
	}
	return nil
}

// Put logs and adds rows, which may hold several rows back to back. With
// WontMutate the caller's buffer is kept as is.
func (b *Builder) Put(rows []byte, promise rowstore.MutationPromise) error {
	if err := b.writable(); err != nil {
		return err
	}
	width := b.cfg.rowWidth
	if len(rows)%width != 0 {
		return rowstore.NewContractError("%d bytes is not a multiple of row width %d",
			len(rows), width)
	}
	if len(rows) == 0 {
		return nil
	}

	if _, err := b.log.Append(rows); err != nil {
		return errors.Wrap(err, "append to write-ahead log")
	}
	if promise != rowstore.WontMutate {
		rows = append([]byte(nil), rows...)
	}
	batch := make([][]byte, 0, len(rows)/width)
	for off := 0; off < len(rows); off += width {
		batch = append(batch, rows[off:off+width:off+width])
	}
	b.insert(batch...)
	return nil
}

// Delete logs a tombstone for key. If older rows hold the key the
// tombstone is kept in memory to hide them, otherwise the key is simply
// dropped from memory.
func (b *Builder) Delete(key []byte) error {
	if err := b.writable(); err != nil {
		return err
	}
	tombstone, err := b.tombstone(key)
	if err != nil {
		return err
	}
	if _, err := b.log.Append(tombstone); err != nil {
		return errors.Wrap(err, "append to write-ahead log")
	}
	return b.applyDelete(key, tombstone)
}

func (b *Builder) tombstone(key []byte) ([]byte, error) {
	if b.cfg.codec == nil {
		return nil, rowstore.NewContractError("deletes need a tombstone codec")
	}
	if len(key) > b.cfg.rowWidth {
		return nil, rowstore.NewContractError("key of %d bytes exceeds row width %d",
			len(key), b.cfg.rowWidth)
	}
	row := make([]byte, b.cfg.rowWidth)
	copy(row, key)
	b.cfg.codec.MarkDeleted(row)
	return row, nil
}

func (b *Builder) applyDelete(key, tombstone []byte) error {
	exists := false
	if b.cfg.exists != nil {
		var err error
		if exists, err = b.cfg.exists(key); err != nil {
			return errors.Wrap(err, "look up deleted key")
		}
	}
	b.treeLock.Lock()
	defer b.treeLock.Unlock()
	if exists {
		b.tree.ReplaceOrInsert(walEntry{row: tombstone})
	} else {
		b.tree.Delete(walEntry{row: tombstone})
	}
	return nil
}

// Snapshot returns a read-only view of the current contents. Later writes
// to the builder do not show in it.
func (b *Builder) Snapshot() *BuilderSnapshot {
	b.treeLock.Lock()
	defer b.treeLock.Unlock()
	return &BuilderSnapshot{order: b.cfg.order, tree: b.tree.Clone()}
}

// Flush writes all rows in order to dst, batch by batch. It works on a
// snapshot, so readers are not held up while it writes.
func (b *Builder) Flush(dst *rowfile.RowFile, batchRows int) error {
	return b.Snapshot().writeTo(dst, batchRows)
}

func (s *BuilderSnapshot) writeTo(dst *rowfile.RowFile, batchRows int) error {
	if batchRows < 1 {
		batchRows = 1
	}
	width := dst.RowWidth()
	batch := make([]byte, 0, batchRows*width)
	var err error
	s.tree.Ascend(func(e walEntry) bool {
		batch = append(batch, e.row...)
		if len(batch) == cap(batch) {
			_, err = dst.Append(batch)
			batch = batch[:0]
		}
		return err == nil
	})
	if err != nil {
		return errors.Wrap(err, "flush builder")
	}
	if len(batch) > 0 {
		if _, err := dst.Append(batch); err != nil {
			return errors.Wrap(err, "flush builder")
		}
	}
	return nil
}

// Close closes the log. The log file stays on disk for replay.
func (b *Builder) Close() error {
	if b.log == nil {
		return nil
	}
	return b.log.Close()
}

// Discard closes the builder and deletes its log. Its rows stay readable
// for readers that picked the builder up before it was replaced.
func (b *Builder) Discard() error {
	if b.log == nil {
		return nil
	}
	if err := b.log.Close(); err != nil {
		return err
	}
	if err := os.Remove(b.log.Path()); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "delete write-ahead log %d", b.id)
	}
	return nil
}

// BuilderSnapshot is a frozen copy of a builder's rows.
type BuilderSnapshot struct {
	order rowfile.RowOrder
	tree  *btree.BTreeG[walEntry]
}

func (s *BuilderSnapshot) Len() int {
	return s.tree.Len()
}

// Get returns the row for key. The row may be a tombstone.
func (s *BuilderSnapshot) Get(key []byte) ([]byte, bool) {
	e, ok := s.tree.Get(walEntry{key: key})
	if !ok {
		return nil, false
	}
	return e.row, true
}

// Next returns the first row in direction from key. A nil key starts at the
// first row in direction.
func (s *BuilderSnapshot) Next(key []byte, dir rowstore.Direction, includeKey bool) ([]byte, bool) {
	var found []byte
	visit := func(e walEntry) bool {
		if key != nil && !includeKey && s.order.CompareKey(key, e.row) == 0 {
			return true
		}
		found = e.row
		return false
	}

	switch {
	case key == nil && dir == rowstore.Descending:
		s.tree.Descend(visit)
	case key == nil:
		s.tree.Ascend(visit)
	case dir == rowstore.Descending:
		s.tree.DescendLessOrEqual(walEntry{key: key}, visit)
	default:
		s.tree.AscendGreaterOrEqual(walEntry{key: key}, visit)
	}
	return found, found != nil
}

// NextAfter returns the first row strictly past row in direction.
func (s *BuilderSnapshot) NextAfter(row []byte, dir rowstore.Direction) ([]byte, bool) {
	var found []byte
	visit := func(e walEntry) bool {
		if s.order.Compare(row, e.row) == 0 {
			return true
		}
		found = e.row
		return false
	}
	if dir == rowstore.Descending {
		s.tree.DescendLessOrEqual(walEntry{row: row}, visit)
	} else {
		s.tree.AscendGreaterOrEqual(walEntry{row: row}, visit)
	}
	return found, found != nil
}
