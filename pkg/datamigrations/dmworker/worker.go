// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmworker

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/util/log"
	"github.com/sileht/redpanda/pkg/util/stop"
	"github.com/sileht/redpanda/pkg/util/syncutil"
)

// ntpEntry is the worker's view of one locally-owned replica's work.
// All fields are guarded by Worker.mu.
type ntpEntry struct {
	isLeader bool
	isRunning bool
	work PartitionWork
	future *Future

	hasLeadershipSub bool
	leadershipSub datamigrations.SubscriptionID
}

// RetryMetrics is the narrow metrics-recording interface Worker needs from
// the reconciliation backend's Metrics type. Worker accepts it as an
// interface rather than a concrete dependency because dmbackend already
// imports dmworker; a direct dependency the other way would cycle.
type RetryMetrics interface {
	// IncWorkerRetries records one partition action being re-spawned after
	// a retryable error.
	IncWorkerRetries()
}

// Worker is a per-shard manager of the small
// waiting_for_rpc/can_run/done-adjacent state machine for every NTP whose
// replica lives on this shard. One Worker is constructed per
// shard; the reconciliation backend (dmbackend) addresses the Worker owning
// a given NTP when a check_ntp_states request needs to dispatch it.
type Worker struct {
	shard datamigrations.ShardID
	factory PartitionActionFactory
	leadership datamigrations.LeadershipWatcher
	stopper *stop.Stopper
	// metrics may be nil; callers that don't care about worker-retry
	// observability (mainly tests) are free to omit it.
	metrics RetryMetrics

	// eg tracks every partition action this Worker has spawned, so Stop can
	// wait for all of them to finish without waiting on the unrelated tasks
	// other components have started on the shared Stopper.
	eg errgroup.Group

	mu struct {
		syncutil.Mutex
		entries map[datamigrations.NTP]*ntpEntry
		stopped bool
	}
}

// New constructs a Worker for the given shard. factory resolves the
// PartitionAction to run for a (kind, sought_state) pair; leadership is
// consulted for the leader/follower status of each NTP the worker is asked
// to manage. metrics may be nil.
func New(
	shard datamigrations.ShardID,
	factory PartitionActionFactory,
	leadership datamigrations.LeadershipWatcher,
	stopper *stop.Stopper,
	metrics RetryMetrics,
) *Worker {
	w := &Worker{shard: shard, factory: factory, leadership: leadership, stopper: stopper, metrics: metrics}
	w.mu.entries = make(map[datamigrations.NTP]*ntpEntry)
	return w
}

// Perform registers work for ntp. If no entry exists
// for ntp, it registers a leadership subscription, records the work, and
// returns a Future resolved on terminal completion. If an entry already
// exists (stale work from an earlier request), the old Future is resolved
// with ErrInvalidMigrationState, the work is replaced, and leadership is
// re-evaluated to decide whether to (re)spawn the action.
func (w *Worker) Perform(
	ctx context.Context, ntp datamigrations.NTP, work PartitionWork,
) *Future {
	datamigrations.AssertLegalWorkerAction(work.Kind, work.SoughtState)

	w.mu.Lock()
	if w.mu.stopped {
		w.mu.Unlock()
		f := NewFuture()
		f.resolve(datamigrations.ErrShuttingDown)
		return f
	}

	if entry, exists := w.mu.entries[ntp]; exists {
		old := entry.future
		entry.work = work
		entry.future = NewFuture()
		newFuture := entry.future
		shouldSpawn := entry.isLeader && !entry.isRunning
		w.mu.Unlock()

		old.resolve(datamigrations.ErrInvalidMigrationState)
		if shouldSpawn {
			w.spawn(ntp)
		}
		return newFuture
	}

	entry := &ntpEntry{work: work, future: NewFuture()}
	w.mu.entries[ntp] = entry
	newFuture := entry.future
	w.mu.Unlock()

	// Subscribe outside the lock: a leadership watcher is free to deliver
	// the replica's current status synchronously from within Subscribe,
	// which would otherwise deadlock re-entering onLeadershipChange.
	sub := w.leadership.SubscribeReplicaLeadership(ntp, func(isLeader bool) {
		w.onLeadershipChange(ntp, isLeader)
	})

	w.mu.Lock()
	if e, ok := w.mu.entries[ntp]; ok && e == entry {
		entry.hasLeadershipSub = true
		entry.leadershipSub = sub
	} else {
		// entry was aborted/replaced while we were subscribing; drop the
		// subscription we just took out.
		w.mu.Unlock()
		w.leadership.UnsubscribeReplicaLeadership(ntp, sub)
		return newFuture
	}
	w.mu.Unlock()

	return newFuture
}

// onLeadershipChange is the leadership-change subscription callback: it
// only ever updates is_leader and, if the node just became leader and work
// is not running, spawns the action. Losing leadership does not cancel an
// in-flight action.
func (w *Worker) onLeadershipChange(ntp datamigrations.NTP, isLeader bool) {
	w.mu.Lock()
	entry, ok := w.mu.entries[ntp]
	if !ok {
		w.mu.Unlock()
		return
	}
	entry.isLeader = isLeader
	shouldSpawn := isLeader && !entry.isRunning
	w.mu.Unlock()

	if shouldSpawn {
		w.spawn(ntp)
	}
}

// spawn marks the entry running and forks the partition action, if it is
// not already running.
func (w *Worker) spawn(ntp datamigrations.NTP) {
	w.mu.Lock()
	entry, ok := w.mu.entries[ntp]
	if !ok || entry.isRunning {
		w.mu.Unlock()
		return
	}
	entry.isRunning = true
	work := entry.work
	w.mu.Unlock()

	action := w.factory.ActionFor(work.Kind, work.SoughtState)

	w.eg.Go(func() error {
		done := make(chan struct{})
		taskErr := w.stopper.RunAsyncTask(
			context.Background(), fmt.Sprintf("dmworker[%d]: %s", w.shard, ntp),
			func(ctx context.Context) {
				defer close(done)
				runErr := w.runAction(ctx, action, ntp, work)
				w.onActionDone(ntp, work, runErr)
			},
		)
		if taskErr != nil {
			w.onActionDone(ntp, work, datamigrations.ErrShuttingDown)
			return nil
		}
		<-done
		return nil
	})
}

// runAction invokes action.Run, translating a recovered panic into
// ErrPartitionOperationFailed so a buggy action cannot take down the shard.
func (w *Worker) runAction(
	ctx context.Context, action PartitionAction, ntp datamigrations.NTP, work PartitionWork,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(datamigrations.ErrPartitionOperationFailed,
				"recovered panic running partition action for %s: %v", ntp, r)
		}
	}()
	return action.Run(ctx, ntp, work)
}

// onActionDone applies the retry policy for a finished partition action:
// success or shutting_down unmanages the entry and resolves its Future
// with that code; any other error clears is_running and re-spawns
// immediately if the node is still the leader (unbounded retry, no
// backoff at this layer).
func (w *Worker) onActionDone(ntp datamigrations.NTP, work PartitionWork, err error) {
	w.mu.Lock()
	entry, ok := w.mu.entries[ntp]
	if !ok || entry.work != work {
		// Superseded by a newer Perform/Abort call; discard this result.
		w.mu.Unlock()
		return
	}

	if err == nil || errors.Is(err, datamigrations.ErrShuttingDown) {
		future := entry.future
		hasSub, sub := entry.hasLeadershipSub, entry.leadershipSub
		delete(w.mu.entries, ntp)
		w.mu.Unlock()

		if hasSub {
			w.leadership.UnsubscribeReplicaLeadership(ntp, sub)
		}
		future.resolve(err)
		return
	}

	entry.isRunning = false
	stillLeader := entry.isLeader
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.IncWorkerRetries()
	}

	log.Migrations.Warningf(context.Background(),
		"partition action for %s (migration %d, state %s) failed, retrying: %v",
		ntp, work.MigrationID, work.SoughtState, err)

	if stillLeader {
		w.spawn(ntp)
	}
}

// Abort cancels ntp's managed entry with ErrInvalidMigrationState if it
// matches the given (migration_id, sought_state); otherwise this is a
// no-op. The in-flight action, if any, is left to run to completion; its
// result is discarded because the entry is gone by the time it reports
// back.
func (w *Worker) Abort(
	ntp datamigrations.NTP, migrationID datamigrations.ID, state datamigrations.SoughtState,
) {
	w.mu.Lock()
	entry, ok := w.mu.entries[ntp]
	if !ok || entry.work.MigrationID != migrationID || entry.work.SoughtState != state {
		w.mu.Unlock()
		return
	}
	future := entry.future
	hasSub, sub := entry.hasLeadershipSub, entry.leadershipSub
	delete(w.mu.entries, ntp)
	w.mu.Unlock()

	if hasSub {
		w.leadership.UnsubscribeReplicaLeadership(ntp, sub)
	}
	future.resolve(datamigrations.ErrInvalidMigrationState)
}

// Stop cancels every managed entry with ErrShuttingDown, then waits for
// every spawned action to finish or ctx to expire.
func (w *Worker) Stop(ctx context.Context) {
	w.mu.Lock()
	w.mu.stopped = true
	entries := w.mu.entries
	w.mu.entries = make(map[datamigrations.NTP]*ntpEntry)
	w.mu.Unlock()

	for ntp, entry := range entries {
		if entry.hasLeadershipSub {
			w.leadership.UnsubscribeReplicaLeadership(ntp, entry.leadershipSub)
		}
		entry.future.resolve(datamigrations.ErrShuttingDown)
	}

	done := make(chan struct{})
	go func() {
		_ = w.eg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Status reports the current status of ntp's managed entry without
// reaching into the worker's internals. ok is false if no entry is managed
// for ntp.
func (w *Worker) Status(ntp datamigrations.NTP) (work PartitionWork, running bool, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry, exists := w.mu.entries[ntp]
	if !exists {
		return PartitionWork{}, false, false
	}
	return entry.work, entry.isRunning, true
}
