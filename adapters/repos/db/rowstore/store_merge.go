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
	"time"

	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/commitlog"
	enterrors "github.com/weaviate/rowstore/entities/errors"
	"github.com/weaviate/rowstore/entities/rowstore"
)

// startSpliceLoop serializes merge results into commits until shutdown.
func (s *Store) startSpliceLoop() {
	enterrors.GoWrapper(func() {
		defer close(s.spliceDone)
		for {
			select {
			case result := <-s.mergeResults:
				result.reply <- s.handleMergeResult(result)
			case <-s.shutdown:
				return
			}
		}
	}, s.logger)
}

func (s *Store) handleMergeResult(result *mergeResult) error {
	if result.err != nil {
		s.discardTable(result.file)
		s.metrics.Merged("failed", 0, 0)
		return result.err
	}
	err := s.processMerged(result)
	if err != nil {
		s.discardTable(result.file)
	}
	return err
}

// processMerged replaces the run of source tables with the merge result
// and commits. On error the caller discards the result; live tables are
// untouched.
func (s *Store) processMerged(result *mergeResult) error {
	if !s.IsOpen() {
		return rowstore.ErrClosed
	}
	start := time.Now()

	s.stackLock.Lock()
	index := s.commit.IndexOfRun(result.sources)
	if index < 0 || (result.collapsed && index != 0) {
		commitID := s.commit.ID()
		s.stackLock.Unlock()
		s.metrics.Merged("stale", 0, 0)
		return rowstore.NewContractError("merged tables %v are no longer a run of commit %d",
			result.sources, commitID)
	}
	if result.file == nil && !result.collapsed {
		s.stackLock.Unlock()
		s.metrics.Merged("vacuous", 0, 0)
		return nil
	}

	stack, err := s.stack.Replace(index, len(result.sources), result.file)
	if err != nil {
		s.stackLock.Unlock()
		return err
	}
	oldCommit := s.commit
	rec, err := commitlog.Create(s.dir, oldCommit.ID()+1, stack.IDs())
	if err != nil {
		s.stackLock.Unlock()
		s.metrics.Merged("failed", 0, 0)
		return err
	}
	s.commitCountersLocked(rec.ID(), nil)
	replaced := append(s.stack.files[:0:0], s.stack.files[index:index+len(result.sources)]...)
	s.swapLocked(stack, rec)
	s.stackLock.Unlock()

	for _, f := range replaced {
		if err := f.Delete(); err != nil {
			s.logger.WithField("action", "rowstore_merge").WithField("id", f.ID()).
				WithError(err).Warn("could not delete merged table")
		}
	}
	if err := oldCommit.Delete(); err != nil {
		s.logger.WithField("action", "rowstore_merge").WithField("commit", oldCommit.ID()).
			WithError(err).Warn("could not delete superseded commit record")
	}

	outcome := "ok"
	if result.file == nil {
		outcome = "vacuous"
	}
	s.metrics.Merged(outcome, result.stats.Rows, result.stats.EqualKeyEdges)
	s.logger.WithField("action", "rowstore_merge").
		WithField("sources", result.sources).
		WithField("commit", rec.ID()).
		WithField("took", time.Since(start)).
		Debug("spliced merge result")
	s.observeStack()
	return nil
}
