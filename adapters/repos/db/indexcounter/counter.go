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

// Package indexcounter keeps the durable counters of a row store directory:
// the next file id, the commit sequence and the id of the active
// write-ahead log.
//
// On disk the counters live in a single file:
//
//	+----------------+----------------+----------------+-------------------+
//	| next id (u64)  | commit (u64)   | wal id (u64)   | murmur3 sum (u32) |
//	+----------------+----------------+----------------+-------------------+
//
// Values are little endian. The file is replaced atomically on Commit, so a
// crash leaves either the previous or the new set of values.
package indexcounter

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
	"github.com/weaviate/rowstore/entities/diskio"
	"github.com/weaviate/rowstore/entities/rowstore"
)

const (
	FileName = "counters.dat"

	fileSize = 3*8 + 4
)

// Slot identifies one of the counters in the file.
type Slot int

const (
	NextFileID Slot = iota
	CommitSequence
	WriteAheadID

	slotCount
)

// Counters holds the in-memory values of all counters. Changes made through
// Set and Increment only become durable on Commit.
type Counters struct {
	sync.Mutex
	path     string
	values   [slotCount]uint64
	readOnly bool
}

// Open loads the counters file in dir, or starts from zero if none exists.
func Open(dir string) (*Counters, error) {
	c := &Counters{path: filepath.Join(dir, FileName)}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, errors.Wrap(err, "read counters file")
	}

	if err := c.decode(data); err != nil {
		return nil, err
	}

	return c, nil
}

// OpenReadOnly loads the counters like Open but refuses to Commit.
func OpenReadOnly(dir string) (*Counters, error) {
	c, err := Open(dir)
	if err != nil {
		return nil, err
	}
	c.readOnly = true
	return c, nil
}

func (c *Counters) decode(data []byte) error {
	if len(data) != fileSize {
		return rowstore.NewStorageStateError("counters file %q has size %d, expected %d",
			c.path, len(data), fileSize)
	}

	sum := binary.LittleEndian.Uint32(data[3*8:])
	if actual := checksum(data[:3*8]); actual != sum {
		return rowstore.NewStorageStateError("counters file %q checksum mismatch: %x != %x",
			c.path, actual, sum)
	}

	for i := range c.values {
		c.values[i] = binary.LittleEndian.Uint64(data[i*8:])
	}

	return nil
}

// checksum hashes through the streaming digest. murmur3.Sum32 walks the
// input with uintptr arithmetic that -race builds reject under checkptr.
func checksum(b []byte) uint32 {
	h := murmur3.New32()
	h.Write(b)
	return h.Sum32()
}

func (c *Counters) encode() []byte {
	data := make([]byte, fileSize)
	for i, v := range c.values {
		binary.LittleEndian.PutUint64(data[i*8:], v)
	}
	binary.LittleEndian.PutUint32(data[3*8:], checksum(data[:3*8]))
	return data
}

// Counter returns a handle to a single slot.
func (c *Counters) Counter(slot Slot) *Counter {
	return &Counter{parent: c, slot: slot}
}

// Commit durably persists all current values.
func (c *Counters) Commit() error {
	c.Lock()
	defer c.Unlock()

	if c.readOnly {
		return rowstore.NewContractError("commit of read-only counters %q", c.path)
	}

	if err := diskio.WriteFileAtomic(c.path, c.encode()); err != nil {
		return errors.Wrap(err, "write counters file")
	}

	return nil
}

// Snapshot returns the in-memory values of all slots.
func (c *Counters) Snapshot() (nextID, commit, walID uint64) {
	c.Lock()
	defer c.Unlock()

	return c.values[NextFileID], c.values[CommitSequence], c.values[WriteAheadID]
}

// Counter is one durable counter: Get / Set / Increment change the
// in-memory value, Commit persists the whole file.
type Counter struct {
	parent *Counters
	slot   Slot
}

func (c *Counter) Get() uint64 {
	c.parent.Lock()
	defer c.parent.Unlock()

	return c.parent.values[c.slot]
}

func (c *Counter) Set(v uint64) {
	c.parent.Lock()
	defer c.parent.Unlock()

	c.parent.values[c.slot] = v
}

// Increment adds n and returns the value before the increment.
func (c *Counter) Increment(n uint64) uint64 {
	c.parent.Lock()
	defer c.parent.Unlock()

	before := c.parent.values[c.slot]
	c.parent.values[c.slot] += n
	return before
}

func (c *Counter) Commit() error {
	return c.parent.Commit()
}
