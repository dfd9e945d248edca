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
	"errors"
	"fmt"
)

var (
	// ErrContract marks a caller error: misaligned buffers, out-of-range rows,
	// inconsistent stack members, stale merge results. Never retried.
	ErrContract = errors.New("contract violation")

	// ErrStorageState marks on-disk state that cannot be trusted. A store
	// refuses to open when it sees one.
	ErrStorageState = errors.New("invalid storage state")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = fmt.Errorf("store is closed: %w", ErrContract)
)

type categorized struct {
	category error
	msg      string
}

func (e *categorized) Error() string {
	return fmt.Sprintf("%s: %s", e.category, e.msg)
}

func (e *categorized) Unwrap() error {
	return e.category
}

// NewContractError builds an error that matches ErrContract with errors.Is.
func NewContractError(format string, args ...interface{}) error {
	return &categorized{category: ErrContract, msg: fmt.Sprintf(format, args...)}
}

// NewStorageStateError builds an error that matches ErrStorageState with
// errors.Is.
func NewStorageStateError(format string, args ...interface{}) error {
	return &categorized{category: ErrStorageState, msg: fmt.Sprintf(format, args...)}
}
