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
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/rowstore/adapters/repos/db/indexcounter"
	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
	"github.com/weaviate/rowstore/entities/cyclemanager"
	enterrors "github.com/weaviate/rowstore/entities/errors"
	"github.com/weaviate/rowstore/entities/rowstore"
)

type mergeTask struct {
	files []*rowfile.IdentifiedFile
	// collapse drops tombstones and shadowed rows. Only valid for runs that
	// start at the bottom of the stack.
	collapse bool
}

func (t *mergeTask) ids() []uint64 {
	ids := make([]uint64, len(t.files))
	for i, f := range t.files {
		ids[i] = f.ID()
	}
	return ids
}

// mergeResult is what a merge worker hands to the splice loop. file is nil
// if the merge wrote no rows; err is set if the merge failed.
type mergeResult struct {
	sources   []uint64
	file      *rowfile.IdentifiedFile
	collapsed bool
	stats     rowfile.MergeStats
	err       error
	reply     chan error
}

// mergeEngine runs merges in the background. Each cycle asks the policy for
// runs of tables, merges them concurrently into new tables and hands the
// results to the store's splice loop.
type mergeEngine struct {
	store   *Store
	logger  logrus.FieldLogger
	policy  MergePolicy
	workers int
	cycle   cyclemanager.CycleManager

	sync.Mutex
	busy    map[uint64]struct{}
	backoff *backoff.ExponentialBackOff
	retryAt time.Time
	now     func() time.Time
}

func newMergeEngine(s *Store) *mergeEngine {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()

	e := &mergeEngine{
		store:   s,
		logger:  s.logger.WithField("action", "rowstore_merge"),
		policy:  s.cfg.policy,
		workers: s.cfg.mergeWorkers,
		busy:    map[uint64]struct{}{},
		backoff: b,
		now:     time.Now,
	}
	e.cycle = cyclemanager.New(cyclemanager.NewFixedTicker(s.cfg.mergeInterval), e.runCycle)
	return e
}

func (e *mergeEngine) start() {
	e.cycle.Start()
}

func (e *mergeEngine) wake() {
	e.cycle.Wake()
}

func (e *mergeEngine) stop(ctx context.Context) error {
	return e.cycle.StopAndWait(ctx)
}

func (e *mergeEngine) runCycle(shouldBreak cyclemanager.ShouldBreakFunc) bool {
	if shouldBreak() {
		return false
	}
	e.Lock()
	waiting := e.now().Before(e.retryAt)
	e.Unlock()
	if waiting {
		return false
	}

	merged, err := e.runOnce(context.Background())
	if err != nil {
		e.logger.WithError(err).Error("merge cycle failed")
	}
	return merged > 0
}

// runOnce runs one round of merges and returns how many were spliced.
func (e *mergeEngine) runOnce(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tasks := e.selectTasks()
	if len(tasks) == 0 {
		return 0, nil
	}

	var mu sync.Mutex
	merged := 0
	eg := enterrors.NewErrorGroupWrapper(e.logger)
	eg.SetLimit(e.workers)
	for _, task := range tasks {
		task := task
		eg.Go(func() error {
			spliced, err := e.execute(task)
			if spliced {
				mu.Lock()
				merged++
				mu.Unlock()
			}
			return err
		}, task.ids())
	}
	return merged, eg.Wait()
}

// selectTasks picks runs over the current stack and pins their files until
// the merge is done.
func (e *mergeEngine) selectTasks() []*mergeTask {
	s := e.store
	s.stackLock.RLock()
	defer s.stackLock.RUnlock()
	e.Lock()
	defer e.Unlock()

	files := s.stack.Files()
	infos := make([]TableInfo, len(files))
	for i, f := range files {
		_, busy := e.busy[f.ID()]
		infos[i] = TableInfo{ID: f.ID(), SizeBytes: f.SizeBytes(), Busy: busy}
	}

	runs := e.policy.SelectRuns(infos, e.workers)
	tasks := make([]*mergeTask, 0, len(runs))
	for _, run := range runs {
		if run.Count < 2 || run.Start < 0 || run.Start+run.Count > len(files) {
			e.logger.WithField("start", run.Start).WithField("count", run.Count).
				Warn("merge policy returned an invalid run")
			continue
		}
		task := &mergeTask{
			files:    files[run.Start : run.Start+run.Count],
			collapse: run.Start == 0 && s.cfg.codec != nil,
		}
		for _, f := range task.files {
			e.busy[f.ID()] = struct{}{}
			f.Rows().Ref()
		}
		tasks = append(tasks, task)
	}
	return tasks
}

func (e *mergeEngine) release(task *mergeTask) {
	e.Lock()
	defer e.Unlock()
	for _, f := range task.files {
		delete(e.busy, f.ID())
		if err := f.Rows().Unref(); err != nil {
			e.logger.WithField("id", f.ID()).WithError(err).Warn("could not close merged table")
		}
	}
}

// execute merges one task and waits for the splice loop to take the
// result. It reports whether the result was spliced.
func (e *mergeEngine) execute(task *mergeTask) (bool, error) {
	defer e.release(task)
	s := e.store
	start := time.Now()

	result := &mergeResult{
		sources:   task.ids(),
		collapsed: task.collapse,
		reply:     make(chan error, 1),
	}
	result.file, result.stats, result.err = e.merge(task)

	select {
	case s.mergeResults <- result:
	case <-s.shutdown:
		s.discardTable(result.file)
		return false, nil
	}
	err := <-result.reply

	switch {
	case err == nil:
		e.succeeded()
		e.logger.WithField("sources", result.sources).
			WithField("rows", result.stats.Rows).
			WithField("took", time.Since(start)).
			Debug("merged tables")
		return true, nil
	case errors.Is(err, rowstore.ErrContract):
		// stale or closed, nothing to retry
		e.logger.WithField("sources", result.sources).WithError(err).Debug("merge result discarded")
		return false, nil
	default:
		e.failed()
		return false, errors.Wrapf(err, "merge tables %v", result.sources)
	}
}

func (e *mergeEngine) succeeded() {
	e.Lock()
	defer e.Unlock()
	e.backoff.Reset()
	e.retryAt = time.Time{}
}

func (e *mergeEngine) failed() {
	e.Lock()
	defer e.Unlock()
	e.retryAt = e.now().Add(e.backoff.NextBackOff())
}

// merge writes the merged table under a fresh id. The returned file is nil
// if the merge wrote no rows.
func (e *mergeEngine) merge(task *mergeTask) (*rowfile.IdentifiedFile, rowfile.MergeStats, error) {
	s := e.store
	var stats rowfile.MergeStats

	id := s.counters.Counter(indexcounter.NextFileID).Increment(1)
	if err := s.counters.Commit(); err != nil {
		return nil, stats, err
	}

	dst, err := rowfile.Create(sortedFilePath(s.dir, id), s.rowWidth, rowfile.WithSync(false))
	if err != nil {
		return nil, stats, err
	}
	if task.collapse {
		stats, err = e.collapse(dst, task.files)
	} else {
		sources := make([]*rowfile.SortedFile, len(task.files))
		for i, f := range task.files {
			sources[i] = f.SortedFile
		}
		stats, err = rowfile.Merge(dst, sources, s.cfg.bufferRows(s.rowWidth))
	}
	if err != nil {
		dst.Delete()
		return nil, stats, err
	}
	if dst.Count() == 0 {
		return nil, stats, dst.Delete()
	}
	if err := s.sealTable(dst); err != nil {
		return nil, stats, err
	}
	file, err := s.openTable(id)
	return file, stats, err
}

// collapse writes the newest live row of every key in files. Only valid
// when nothing older than files exists.
func (e *mergeEngine) collapse(dst *rowfile.RowFile, files []*rowfile.IdentifiedFile) (rowfile.MergeStats, error) {
	s := e.store
	var stats rowfile.MergeStats

	stack, err := NewStack(s.rowWidth, s.order, s.cfg.searchBlockBytes, files...)
	if err != nil {
		return stats, err
	}
	it, err := NewTombstoneStack(stack, s.cfg.codec).NewIterator(nil, rowstore.Ascending, true)
	if err != nil {
		return stats, err
	}

	batchRows := s.cfg.bufferRows(s.rowWidth)
	batch := make([]byte, 0, batchRows*s.rowWidth)
	for {
		row, err := it.Next()
		if err != nil {
			return stats, err
		}
		if row == nil {
			break
		}
		batch = append(batch, row...)
		if len(batch) == cap(batch) {
			if _, err := dst.Append(batch); err != nil {
				return stats, err
			}
			stats.Transfers++
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if _, err := dst.Append(batch); err != nil {
			return stats, err
		}
		stats.Transfers++
	}
	stats.Rows = dst.Count()
	return stats, nil
}

// MergeNow runs one merge round in the caller's goroutine and returns the
// number of merges spliced.
func (s *Store) MergeNow(ctx context.Context) (int, error) {
	if err := s.checkWritable(); err != nil {
		return 0, err
	}
	return s.engine.runOnce(ctx)
}
