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


package diskio

import (
	"io"
	"time"
)

// MeteredReaderCallback receives the bytes of one read and how long it
// took.
type MeteredReaderCallback func(read int64, nanoseconds int64)

// MeteredReader counts the bytes read through it and reports every read
// that moved data to an optional callback.
type MeteredReader struct {
	r    io.Reader
	cb   MeteredReaderCallback
	read int64
}

func NewMeteredReader(r io.Reader, cb MeteredReaderCallback) *MeteredReader {
	return &MeteredReader{r: r, cb: cb}
}

// Read passes the read through to the underlying reader. A read that
// returns data together with an error, io.EOF included, still counts.
func (m *MeteredReader) Read(p []byte) (n int, err error) {
	start := time.Now()
	n, err = m.r.Read(p)
	if n <= 0 {
		return
	}

	m.read += int64(n)
	if m.cb != nil {
		m.cb(int64(n), time.Since(start).Nanoseconds())
	}
	return
}

// BytesRead is the total passed through so far.
func (m *MeteredReader) BytesRead() int64 {
	return m.read
}
