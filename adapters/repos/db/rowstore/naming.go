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
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Sorted files are stored as T<id>.stbl. A write-ahead log is T<id>.utbl
// and is flushed into the sorted file of the same id.
const (
	sortedExt = ".stbl"
	walExt    = ".utbl"
	tmpExt    = ".tmp"
)

func sortedFileName(id uint64) string {
	return fmt.Sprintf("T%d%s", id, sortedExt)
}

func walFileName(id uint64) string {
	return fmt.Sprintf("T%d%s", id, walExt)
}

func sortedFilePath(dir string, id uint64) string {
	return filepath.Join(dir, sortedFileName(id))
}

func walFilePath(dir string, id uint64) string {
	return filepath.Join(dir, walFileName(id))
}

// parseTableFileName returns the id and extension of a table file name.
func parseTableFileName(name string) (uint64, string, bool) {
	ext := filepath.Ext(name)
	if ext != sortedExt && ext != walExt {
		return 0, "", false
	}
	if !strings.HasPrefix(name, "T") {
		return 0, "", false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(name[1:], ext), 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, ext, true
}
