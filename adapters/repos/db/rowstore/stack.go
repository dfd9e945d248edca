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
	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
	"github.com/weaviate/rowstore/entities/rowstore"
)

// Stack is an immutable, ordered list of sorted files, oldest first. Where
// files disagree about a key the newest file wins. Changes return a new
// Stack and leave the receiver untouched.
type Stack struct {
	rowWidth int
	order    rowfile.RowOrder
	bufRows  int
	files    []*rowfile.IdentifiedFile
	observe  KeyFilterObserver
}

// KeyFilterObserver is told how a point lookup fared against the key filter
// of a file: true_negative, false_positive or true_positive.
type KeyFilterObserver func(result string)

// NewStack builds a stack after checking that every file shares rowWidth
// and order. blockBytes sizes the search buffers; zero uses the default.
func NewStack(rowWidth int, order rowfile.RowOrder, blockBytes int,
	files ...*rowfile.IdentifiedFile,
) (*Stack, error) {
	if blockBytes <= 0 {
		blockBytes = rowfile.DefaultBlockBytes
	}
	s := &Stack{
		rowWidth: rowWidth,
		order:    order,
		bufRows:  rowfile.BufferRows(blockBytes, rowWidth),
	}
	if err := s.check(files); err != nil {
		return nil, err
	}
	s.files = append([]*rowfile.IdentifiedFile(nil), files...)
	return s, nil
}

func (s *Stack) check(files []*rowfile.IdentifiedFile) error {
	for _, f := range files {
		if f == nil {
			return rowstore.NewContractError("nil file in stack")
		}
		if f.RowWidth() != s.rowWidth {
			return rowstore.NewContractError("file %d has row width %d, stack uses %d",
				f.ID(), f.RowWidth(), s.rowWidth)
		}
		if !rowfile.SameOrder(f.Order(), s.order) {
			return rowstore.NewContractError("file %d uses a different row order", f.ID())
		}
	}
	return nil
}

func (s *Stack) with(files []*rowfile.IdentifiedFile) *Stack {
	return &Stack{
		rowWidth: s.rowWidth,
		order:    s.order,
		bufRows:  s.bufRows,
		files:    files,
		observe:  s.observe,
	}
}

// WithKeyFilterObserver returns the stack with observe attached. Stacks
// derived from it keep the observer.
func (s *Stack) WithKeyFilterObserver(observe KeyFilterObserver) *Stack {
	next := s.with(s.files)
	next.observe = observe
	return next
}

// skip reports whether the key filter of f rules out key.
func (s *Stack) skip(f *rowfile.IdentifiedFile, key []byte) bool {
	if !f.HasKeyFilter() {
		return false
	}
	if !f.MayContain(key) {
		s.report("true_negative")
		return true
	}
	return false
}

func (s *Stack) report(result string) {
	if s.observe != nil {
		s.observe(result)
	}
}

func (s *Stack) RowWidth() int {
	return s.rowWidth
}

func (s *Stack) Order() rowfile.RowOrder {
	return s.order
}

func (s *Stack) Len() int {
	return len(s.files)
}

func (s *Stack) File(i int) *rowfile.IdentifiedFile {
	return s.files[i]
}

// Files returns the files oldest first.
func (s *Stack) Files() []*rowfile.IdentifiedFile {
	return append([]*rowfile.IdentifiedFile(nil), s.files...)
}

// IDs returns the file ids oldest first.
func (s *Stack) IDs() []uint64 {
	ids := make([]uint64, len(s.files))
	for i, f := range s.files {
		ids[i] = f.ID()
	}
	return ids
}

// Append returns a stack with files added as the newest members.
func (s *Stack) Append(files ...*rowfile.IdentifiedFile) (*Stack, error) {
	if err := s.check(files); err != nil {
		return nil, err
	}
	next := make([]*rowfile.IdentifiedFile, 0, len(s.files)+len(files))
	next = append(next, s.files...)
	next = append(next, files...)
	return s.with(next), nil
}

// Replace returns a stack in which the count files starting at start are
// replaced by file. A nil file removes them.
func (s *Stack) Replace(start, count int, file *rowfile.IdentifiedFile) (*Stack, error) {
	if start < 0 || count < 1 || start+count > len(s.files) {
		return nil, rowstore.NewContractError("replace [%d, %d) out of range, stack holds %d",
			start, start+count, len(s.files))
	}
	next := make([]*rowfile.IdentifiedFile, 0, len(s.files)-count+1)
	next = append(next, s.files[:start]...)
	if file != nil {
		if err := s.check([]*rowfile.IdentifiedFile{file}); err != nil {
			return nil, err
		}
		next = append(next, file)
	}
	next = append(next, s.files[start+count:]...)
	return s.with(next), nil
}

// GetRow copies the newest row the key identifies into out.
func (s *Stack) GetRow(key []byte, out []byte) (bool, error) {
	if len(out) != s.rowWidth {
		return false, rowstore.NewContractError("row buffer of %d bytes, row width is %d",
			len(out), s.rowWidth)
	}
	for i := len(s.files) - 1; i >= 0; i-- {
		f := s.files[i]
		if s.skip(f, key) {
			continue
		}
		searcher := f.NewSearcher(s.bufRows)
		pos, err := searcher.SearchLast(key)
		if err != nil {
			return false, err
		}
		if pos < 0 {
			if f.HasKeyFilter() {
				s.report("false_positive")
			}
			continue
		}
		if f.HasKeyFilter() {
			s.report("true_positive")
		}
		if err := searcher.Row(pos, out); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Contains reports whether any file holds a row for key, deleted or not.
func (s *Stack) Contains(key []byte) (bool, error) {
	for i := len(s.files) - 1; i >= 0; i-- {
		if s.skip(s.files[i], key) {
			continue
		}
		pos, err := s.files[i].NewSearcher(s.bufRows).Search(key)
		if err != nil {
			return false, err
		}
		if pos >= 0 {
			return true, nil
		}
	}
	return false, nil
}

// NewIterator returns an iterator over the merged view of the stack,
// starting at key. A nil key starts at the first row in direction.
func (s *Stack) NewIterator(key []byte, dir rowstore.Direction, includeKey bool) (*StackIterator, error) {
	return newStackIterator(s, key, dir, includeKey, nil)
}

// TombstoneStack is a stack view that treats deleted rows as absent.
type TombstoneStack struct {
	*Stack
	codec rowfile.TombstoneCodec
}

func NewTombstoneStack(stack *Stack, codec rowfile.TombstoneCodec) *TombstoneStack {
	return &TombstoneStack{Stack: stack, codec: codec}
}

func (t *TombstoneStack) GetRow(key []byte, out []byte) (bool, error) {
	found, err := t.Stack.GetRow(key, out)
	if err != nil || !found {
		return false, err
	}
	return !t.codec.IsDeleted(out), nil
}

func (t *TombstoneStack) NewIterator(key []byte, dir rowstore.Direction, includeKey bool) (*StackIterator, error) {
	return newStackIterator(t.Stack, key, dir, includeKey, t.codec)
}
