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

// Package rowfile implements flat files of fixed-width rows, sorted views on
// top of them, a block-caching binary searcher and the block-copy merge.
//
// Every row file starts with a 32 byte little endian header:
//
//	+-------+---------+-----------+----------+-----------+----------+
//	| magic | version | row width | reserved | row count | reserved |
//	| 4     | 4       | 4         | 4        | 8         | 8        |
//	+-------+---------+-----------+----------+-----------+----------+
//
// followed by row count rows. Bytes past the last counted row are ignored.
// An append writes the rows first and the count second, so a crash can
// never expose a partially written row.
package rowfile

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/weaviate/rowstore/entities/diskio"
	"github.com/weaviate/rowstore/entities/rowstore"
)

const (
	HeaderSize = 32

	headerMagic   = "RWF1"
	headerVersion = 1

	countOffset = 16
)

type options struct {
	sync     bool
	mmap     bool
	readOnly bool
}

// Option configures how a row file is opened.
type Option func(o *options)

// WithSync controls whether appends are followed by an fsync before and
// after the count update. Defaults to true.
func WithSync(sync bool) Option {
	return func(o *options) {
		o.sync = sync
	}
}

// WithMmap serves reads from a read-only memory mapping taken at open. Only
// for files that will not grow afterwards; appends are rejected.
func WithMmap() Option {
	return func(o *options) {
		o.mmap = true
		o.readOnly = true
	}
}

// WithReadOnly opens the file without write access.
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

func makeOptions(opts []Option) options {
	o := options{sync: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// handle is the OS file shared by a row file and its slices. The file is
// closed when the last reference goes away.
type handle struct {
	file   *os.File
	path   string
	mapped mmap.MMap
	refs   atomic.Int32

	// posLock serializes everything that moves the file cursor or the
	// count.
	posLock sync.Mutex
}

func (h *handle) ref() {
	h.refs.Add(1)
}

func (h *handle) unref() error {
	if h.refs.Add(-1) != 0 {
		return nil
	}
	var unmapErr error
	if h.mapped != nil {
		unmapErr = h.mapped.Unmap()
		h.mapped = nil
	}
	if err := h.file.Close(); err != nil {
		return errors.Wrapf(err, "close %s", h.path)
	}
	return errors.Wrapf(unmapErr, "unmap %s", h.path)
}

// RowFile is a sequence of fixed-width rows. Rows can be read concurrently
// with a single appender; appended rows become visible only after the count
// that covers them has been written.
type RowFile struct {
	h        *handle
	rowWidth int
	base     int64
	count    atomic.Int64
	sync     bool
	readOnly bool
	slice    bool
	closed   atomic.Bool
}

// Create creates a new, empty row file. It fails if path exists.
func Create(path string, rowWidth int, opts ...Option) (*RowFile, error) {
	if rowWidth <= 0 {
		return nil, rowstore.NewContractError("row width must be positive, got %d", rowWidth)
	}
	o := makeOptions(opts)
	if o.readOnly {
		return nil, rowstore.NewContractError("cannot create %s read-only", path)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o666)
	if err != nil {
		return nil, errors.Wrapf(err, "create row file %s", path)
	}

	var header [HeaderSize]byte
	copy(header[0:4], headerMagic)
	binary.LittleEndian.PutUint32(header[4:8], headerVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(rowWidth))
	if _, err := file.WriteAt(header[:], 0); err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "write header of %s", path)
	}
	if o.sync {
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, errors.Wrapf(err, "fsync %s", path)
		}
		if err := diskio.FsyncDir(filepath.Dir(path)); err != nil {
			file.Close()
			return nil, err
		}
	}

	return newRowFile(file, path, rowWidth, 0, o), nil
}

// Open opens an existing row file. The stored row width must match
// rowWidth and the file must hold every counted row.
func Open(path string, rowWidth int, opts ...Option) (*RowFile, error) {
	if rowWidth <= 0 {
		return nil, rowstore.NewContractError("row width must be positive, got %d", rowWidth)
	}
	o := makeOptions(opts)

	flag := os.O_RDWR
	if o.readOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flag, 0o666)
	if err != nil {
		return nil, errors.Wrapf(err, "open row file %s", path)
	}

	count, err := readHeader(file, path, rowWidth)
	if err != nil {
		file.Close()
		return nil, err
	}

	f := newRowFile(file, path, rowWidth, count, o)
	if o.mmap && count > 0 {
		size := HeaderSize + count*int64(rowWidth)
		mapped, err := mmap.MapRegion(file, int(size), mmap.RDONLY, 0, 0)
		if err != nil {
			file.Close()
			return nil, errors.Wrapf(err, "mmap %s", path)
		}
		f.h.mapped = mapped
	}
	return f, nil
}

func newRowFile(file *os.File, path string, rowWidth int, count int64, o options) *RowFile {
	h := &handle{file: file, path: path}
	h.ref()
	f := &RowFile{
		h:        h,
		rowWidth: rowWidth,
		base:     HeaderSize,
		sync:     o.sync,
		readOnly: o.readOnly,
	}
	f.count.Store(count)
	return f
}

func readHeader(file *os.File, path string, rowWidth int) (int64, error) {
	info, err := file.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", path)
	}
	if info.Size() < HeaderSize {
		return 0, rowstore.NewStorageStateError("%s: %d bytes is too short for a header",
			path, info.Size())
	}

	var header [HeaderSize]byte
	if _, err := file.ReadAt(header[:], 0); err != nil {
		return 0, errors.Wrapf(err, "read header of %s", path)
	}
	if string(header[0:4]) != headerMagic {
		return 0, rowstore.NewStorageStateError("%s: not a row file", path)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != headerVersion {
		return 0, rowstore.NewStorageStateError("%s: unsupported version %d", path, v)
	}
	if w := binary.LittleEndian.Uint32(header[8:12]); int(w) != rowWidth {
		return 0, rowstore.NewContractError("%s: row width is %d, expected %d",
			path, w, rowWidth)
	}

	count := binary.LittleEndian.Uint64(header[countOffset : countOffset+8])
	if count > uint64(info.Size()) {
		return 0, rowstore.NewStorageStateError("%s: row count %d exceeds file size", path, count)
	}
	if need := HeaderSize + int64(count)*int64(rowWidth); info.Size() < need {
		return 0, rowstore.NewStorageStateError("%s: holds %d bytes, %d rows need %d",
			path, info.Size(), count, need)
	}
	return int64(count), nil
}

func (f *RowFile) Path() string {
	return f.h.path
}

func (f *RowFile) RowWidth() int {
	return f.rowWidth
}

// Count is the number of rows visible to readers.
func (f *RowFile) Count() int64 {
	return f.count.Load()
}

// SizeBytes is the number of bytes the header and the counted rows occupy.
func (f *RowFile) SizeBytes() int64 {
	return HeaderSize + f.Count()*int64(f.rowWidth)
}

func (f *RowFile) rowsIn(buf []byte) (int64, error) {
	if len(buf)%f.rowWidth != 0 {
		return 0, rowstore.NewContractError("buffer of %d bytes is not a multiple of row width %d",
			len(buf), f.rowWidth)
	}
	return int64(len(buf) / f.rowWidth), nil
}

func (f *RowFile) checkOpen() error {
	if f.closed.Load() {
		return rowstore.NewContractError("row file %s is closed", f.h.path)
	}
	return nil
}

func (f *RowFile) checkWritable() error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if f.slice || f.readOnly {
		return rowstore.NewContractError("row file %s is read-only", f.h.path)
	}
	return nil
}

// Read fills out with consecutive rows starting at row.
func (f *RowFile) Read(row int64, out []byte) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	n, err := f.rowsIn(out)
	if err != nil {
		return err
	}
	if row < 0 || row+n > f.Count() {
		return rowstore.NewContractError("rows [%d, %d) out of range, %s holds %d",
			row, row+n, f.h.path, f.Count())
	}
	if n == 0 {
		return nil
	}

	off := f.base + row*int64(f.rowWidth)
	if m := f.h.mapped; m != nil {
		copy(out, m[off:off+int64(len(out))])
		return nil
	}
	read, err := f.h.file.ReadAt(out, off)
	if read == len(out) {
		return nil
	}
	return errors.Wrapf(err, "read rows [%d, %d) of %s", row, row+n, f.h.path)
}

// Append writes rows after the last row and returns the index of the first
// appended row.
func (f *RowFile) Append(rows []byte) (int64, error) {
	if err := f.checkWritable(); err != nil {
		return 0, err
	}
	if f.h.mapped != nil {
		return 0, rowstore.NewContractError("cannot append to mapped file %s", f.h.path)
	}
	n, err := f.rowsIn(rows)
	if err != nil {
		return 0, err
	}

	f.h.posLock.Lock()
	defer f.h.posLock.Unlock()

	first := f.Count()
	if n == 0 {
		return first, nil
	}
	if _, err := f.h.file.WriteAt(rows, f.base+first*int64(f.rowWidth)); err != nil {
		return 0, errors.Wrapf(err, "append to %s", f.h.path)
	}
	if err := f.publishCount(first + n); err != nil {
		return 0, err
	}
	return first, nil
}

// Set overwrites rows starting at row. Writing past the end extends the
// file; row may be at most Count.
func (f *RowFile) Set(row int64, rows []byte) error {
	if err := f.checkWritable(); err != nil {
		return err
	}
	n, err := f.rowsIn(rows)
	if err != nil {
		return err
	}

	f.h.posLock.Lock()
	defer f.h.posLock.Unlock()

	count := f.Count()
	if row < 0 || row > count {
		return rowstore.NewContractError("row %d out of range, %s holds %d", row, f.h.path, count)
	}
	if _, err := f.h.file.WriteAt(rows, f.base+row*int64(f.rowWidth)); err != nil {
		return errors.Wrapf(err, "write rows at %d of %s", row, f.h.path)
	}
	if row+n > count {
		return f.publishCount(row + n)
	}
	if f.sync {
		return errors.Wrapf(f.h.file.Sync(), "fsync %s", f.h.path)
	}
	return nil
}

// publishCount makes rows up to count durable and visible. posLock must be
// held.
func (f *RowFile) publishCount(count int64) error {
	if f.sync {
		if err := f.h.file.Sync(); err != nil {
			return errors.Wrapf(err, "fsync %s", f.h.path)
		}
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(count))
	if _, err := f.h.file.WriteAt(buf[:], countOffset); err != nil {
		return errors.Wrapf(err, "write row count of %s", f.h.path)
	}
	if f.sync {
		if err := f.h.file.Sync(); err != nil {
			return errors.Wrapf(err, "fsync %s", f.h.path)
		}
	}
	f.count.Store(count)
	return nil
}

// TransferRows appends n rows of f starting at row to dst.
func (f *RowFile) TransferRows(row, n int64, dst *RowFile) (int64, error) {
	return dst.AppendRows(f, row, n)
}

// AppendRows appends n rows of src starting at row without passing them
// through user space where the platform allows it.
func (f *RowFile) AppendRows(src *RowFile, row, n int64) (int64, error) {
	if err := f.checkWritable(); err != nil {
		return 0, err
	}
	if err := src.checkOpen(); err != nil {
		return 0, err
	}
	if src.rowWidth != f.rowWidth {
		return 0, rowstore.NewContractError("row width %d of %s does not match %d of %s",
			src.rowWidth, src.h.path, f.rowWidth, f.h.path)
	}
	if src.h == f.h {
		return 0, rowstore.NewContractError("cannot transfer rows of %s onto itself", f.h.path)
	}
	if row < 0 || n < 0 || row+n > src.Count() {
		return 0, rowstore.NewContractError("rows [%d, %d) out of range, %s holds %d",
			row, row+n, src.h.path, src.Count())
	}

	f.h.posLock.Lock()
	defer f.h.posLock.Unlock()

	first := f.Count()
	if n == 0 {
		return first, nil
	}

	src.h.posLock.Lock()
	defer src.h.posLock.Unlock()

	size := n * int64(f.rowWidth)
	if _, err := f.h.file.Seek(f.base+first*int64(f.rowWidth), io.SeekStart); err != nil {
		return 0, errors.Wrapf(err, "seek %s", f.h.path)
	}
	if _, err := src.h.file.Seek(src.base+row*int64(src.rowWidth), io.SeekStart); err != nil {
		return 0, errors.Wrapf(err, "seek %s", src.h.path)
	}
	copied, err := f.h.file.ReadFrom(&io.LimitedReader{R: src.h.file, N: size})
	if err != nil {
		return 0, errors.Wrapf(err, "transfer rows from %s to %s", src.h.path, f.h.path)
	}
	if copied != size {
		return 0, errors.Errorf("transfer rows from %s to %s: copied %d of %d bytes",
			src.h.path, f.h.path, copied, size)
	}
	if err := f.publishCount(first + n); err != nil {
		return 0, err
	}
	return first, nil
}

// Sync flushes the file to stable storage.
func (f *RowFile) Sync() error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	return errors.Wrapf(f.h.file.Sync(), "fsync %s", f.h.path)
}

// TrimToSize drops any bytes past the last counted row.
func (f *RowFile) TrimToSize() error {
	if err := f.checkWritable(); err != nil {
		return err
	}
	f.h.posLock.Lock()
	defer f.h.posLock.Unlock()

	size := f.base + f.Count()*int64(f.rowWidth)
	if err := f.h.file.Truncate(size); err != nil {
		return errors.Wrapf(err, "truncate %s", f.h.path)
	}
	if f.sync {
		return errors.Wrapf(f.h.file.Sync(), "fsync %s", f.h.path)
	}
	return nil
}

// Slice returns a read-only view of n rows starting at first. The view
// shares the underlying file and must be closed on its own.
func (f *RowFile) Slice(first, n int64) (*RowFile, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	if first < 0 || n < 0 || first+n > f.Count() {
		return nil, rowstore.NewContractError("slice [%d, %d) out of range, %s holds %d",
			first, first+n, f.h.path, f.Count())
	}
	f.h.ref()
	s := &RowFile{
		h:        f.h,
		rowWidth: f.rowWidth,
		base:     f.base + first*int64(f.rowWidth),
		readOnly: true,
		slice:    true,
	}
	s.count.Store(n)
	return s, nil
}

// Reader streams the counted rows from the start of the file.
func (f *RowFile) Reader() io.Reader {
	size := f.Count() * int64(f.rowWidth)
	if m := f.h.mapped; m != nil {
		return io.NewSectionReader(readerAtFunc(func(p []byte, off int64) (int, error) {
			n := copy(p, m[off:])
			if n < len(p) {
				return n, io.EOF
			}
			return n, nil
		}), f.base, size)
	}
	return io.NewSectionReader(f.h.file, f.base, size)
}

type readerAtFunc func(p []byte, off int64) (int, error)

func (fn readerAtFunc) ReadAt(p []byte, off int64) (int, error) {
	return fn(p, off)
}

// Ref takes an extra reference on the underlying file. Every Ref must be
// matched by an Unref.
func (f *RowFile) Ref() {
	f.h.ref()
}

func (f *RowFile) Unref() error {
	return f.h.unref()
}

// Close releases this view's reference. The OS file is closed once no view
// or Ref remains. Closing twice is a no-op.
func (f *RowFile) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	return f.h.unref()
}

// Delete closes the file and removes it from disk.
func (f *RowFile) Delete() error {
	if f.slice {
		return rowstore.NewContractError("cannot delete a slice of %s", f.h.path)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Remove(f.h.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", f.h.path)
	}
	return nil
}
