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

package storagestate

import "errors"

const (
	StatusReady    Status = "READY"
	StatusReadOnly Status = "READONLY"
	StatusShutdown Status = "SHUTDOWN"
)

var (
	ErrStatusReadOnly = errors.New("store is read-only")
	ErrStatusShutdown = errors.New("store is shut down")
	ErrInvalidStatus  = errors.New("invalid storage status")
)

type Status string

func (s Status) String() string {
	return string(s)
}

// Writable reports whether a store in this status accepts mutations.
func (s Status) Writable() bool {
	return s == StatusReady
}

// Err returns the error a write should fail with in this status, nil if
// writes are allowed.
func (s Status) Err() error {
	switch s {
	case StatusReady:
		return nil
	case StatusReadOnly:
		return ErrStatusReadOnly
	case StatusShutdown:
		return ErrStatusShutdown
	default:
		return ErrInvalidStatus
	}
}

func ValidateStatus(in string) (status Status, err error) {
	switch in {
	case string(StatusReady):
		status = StatusReady
	case string(StatusReadOnly):
		status = StatusReadOnly
	case string(StatusShutdown):
		status = StatusShutdown
	default:
		err = ErrInvalidStatus
	}

	return
}
