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

// Direction of a range lookup.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// MutationPromise is the caller's declaration of what it will do with a
// buffer after handing it to the store. With WontMutate the store may keep
// the buffer without copying it. Breaking the promise corrupts data; it is
// not checked at runtime.
type MutationPromise int

const (
	WillMutate MutationPromise = iota
	WontMutate
)
