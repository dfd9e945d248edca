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

// Package commitlog persists commit records. A commit record lists, oldest
// first, the ids of the sorted files that make up the table stack at one
// commit. Records are stored as C<commit id>.cmmt with one decimal id per
// line and are written through a temp file and a rename, so a record is
// either fully present or absent.
package commitlog

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/weaviate/rowstore/entities/diskio"
	"github.com/weaviate/rowstore/entities/rowstore"
)

const (
	Extension = ".cmmt"

	// MaxRecordBytes bounds the size of a record file accepted on load.
	MaxRecordBytes = 1 << 20

	prefix = "C"
)

// Record is an immutable commit record.
type Record struct {
	dir      string
	id       uint64
	tableIDs []uint64
}

// Initial is commit 0. It has no tables and no file.
func Initial(dir string) *Record {
	return &Record{dir: dir}
}

// FileName returns the file name of the record for commit id.
func FileName(id uint64) string {
	return fmt.Sprintf("%s%d%s", prefix, id, Extension)
}

// ParseFileName returns the commit id encoded in a record file name.
func ParseFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, Extension) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, prefix), Extension), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Create writes and syncs the record for commit id, then reads it back and
// checks that it holds exactly tableIDs.
func Create(dir string, id uint64, tableIDs []uint64) (*Record, error) {
	if id == 0 {
		return nil, rowstore.NewContractError("commit 0 has no record")
	}
	if err := checkUnique(tableIDs); err != nil {
		return nil, rowstore.NewContractError("commit %d: %s", id, err)
	}

	data := encode(tableIDs)
	if len(data) > MaxRecordBytes {
		return nil, rowstore.NewContractError("commit %d: record of %d bytes exceeds limit of %d",
			id, len(data), MaxRecordBytes)
	}

	// From here on a failure must not leave the record behind: the caller
	// drops the tables it lists, and Open would pick the record up.
	path := filepath.Join(dir, FileName(id))
	if err := writeRecord(path, data); err != nil {
		removeRecord(path)
		return nil, errors.Wrapf(err, "write commit record %d", id)
	}

	rec, err := Load(dir, id)
	if err != nil {
		removeRecord(path)
		return nil, errors.Wrapf(err, "verify commit record %d", id)
	}
	if !equalIDs(rec.tableIDs, tableIDs) {
		removeRecord(path)
		return nil, rowstore.NewStorageStateError("commit record %d reads back as %v, wrote %v",
			id, rec.tableIDs, tableIDs)
	}
	return rec, nil
}

var writeRecord = diskio.WriteFileAtomic

// removeRecord deletes a record that failed to commit. A failed delete
// leaves nothing to do but report the original error.
func removeRecord(path string) {
	if err := os.Remove(path); err != nil {
		return
	}
	_ = diskio.FsyncDir(filepath.Dir(path))
}

// Load reads the record for commit id.
func Load(dir string, id uint64) (*Record, error) {
	if id == 0 {
		return Initial(dir), nil
	}
	path := filepath.Join(dir, FileName(id))
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat commit record %d", id)
	}
	if info.Size() > MaxRecordBytes {
		return nil, rowstore.NewStorageStateError("commit record %d is %d bytes, limit is %d",
			id, info.Size(), MaxRecordBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read commit record %d", id)
	}

	ids, err := decode(data)
	if err != nil {
		return nil, rowstore.NewStorageStateError("commit record %d: %s", id, err)
	}
	return &Record{dir: dir, id: id, tableIDs: ids}, nil
}

// List returns the commit ids of all record files in dir, ascending.
func List(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := ParseFileName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

// LoadLatest loads the record with the highest commit id that loads, or the
// initial record if there is none. Records that fail to load are reported
// in skipped.
func LoadLatest(dir string) (rec *Record, skipped []error, err error) {
	ids, err := List(dir)
	if err != nil {
		return nil, nil, err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		rec, err := Load(dir, ids[i])
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		return rec, skipped, nil
	}
	return Initial(dir), skipped, nil
}

func (r *Record) ID() uint64 {
	return r.id
}

// TableIDs returns a copy of the table ids, oldest first.
func (r *Record) TableIDs() []uint64 {
	out := make([]uint64, len(r.tableIDs))
	copy(out, r.tableIDs)
	return out
}

func (r *Record) Len() int {
	return len(r.tableIDs)
}

func (r *Record) Contains(tableID uint64) bool {
	for _, id := range r.tableIDs {
		if id == tableID {
			return true
		}
	}
	return false
}

// IndexOfRun returns the position at which run occurs as a contiguous
// sequence of table ids, or -1.
func (r *Record) IndexOfRun(run []uint64) int {
	if len(run) == 0 || len(run) > len(r.tableIDs) {
		return -1
	}
outer:
	for start := 0; start+len(run) <= len(r.tableIDs); start++ {
		for i, id := range run {
			if r.tableIDs[start+i] != id {
				continue outer
			}
		}
		return start
	}
	return -1
}

func (r *Record) Path() string {
	return filepath.Join(r.dir, FileName(r.id))
}

// Delete removes the record file. The initial record has none.
func (r *Record) Delete() error {
	if r.id == 0 {
		return nil
	}
	if err := os.Remove(r.Path()); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "delete commit record %d", r.id)
	}
	return nil
}

func (r *Record) String() string {
	return fmt.Sprintf("commit %d %v", r.id, r.tableIDs)
}

func encode(ids []uint64) []byte {
	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(strconv.FormatUint(id, 10))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func decode(data []byte) ([]uint64, error) {
	var ids []uint64
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		id, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %q is not a table id", line, text)
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := checkUnique(ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func checkUnique(ids []uint64) error {
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("table id %d listed twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func equalIDs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
