// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmbackend

import (
	"context"
	"time"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/datamigrations/dmrpc"
	"github.com/sileht/redpanda/pkg/util/log"
	"github.com/sileht/redpanda/pkg/util/retry"
)

// handleLeadershipChange reacts to a cluster-leadership transition:
// coordinator state is constructed on becoming coordinator and torn down
// on losing it.
func (b *Backend) handleLeadershipChange(ctx context.Context, isLeader bool) {
	b.mu.Lock()
	was := b.mu.isCoordinator
	b.mu.isCoordinator = isLeader
	b.mu.Unlock()

	if isLeader && !was {
		log.Migrations.Infof(ctx, "became data migrations coordinator")
		b.rebuildCoordinatorState(ctx)
	} else if !isLeader && was {
		log.Migrations.Infof(ctx, "resigned as data migrations coordinator")
		b.teardownCoordinatorState()
	}
}

// rebuildCoordinatorState handles coordinator failover: a newly-elected
// coordinator lists every migration from the migration table and
// (re)integrates each one, converging its outstanding set to what the
// previous coordinator's was, modulo partitions that completed in the
// interval.
func (b *Backend) rebuildCoordinatorState(ctx context.Context) {
	ids, err := b.table.List(ctx)
	if err != nil {
		log.Migrations.Warningf(ctx, "listing migrations while becoming coordinator: %v", err)
		return
	}
	b.mu.Lock()
	for _, id := range ids {
		b.mu.pendingMigrations[id] = struct{}{}
	}
	b.mu.Unlock()
	b.signalWakeup()
}

// teardownCoordinatorState clears every coordinator-only map on losing
// coordinator role. In-flight RPCs are left to complete; their replies
// change nothing on arrival because sendRPC finds no matching entry in the
// cleared maps.
func (b *Backend) teardownCoordinatorState() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mu.migrationStates = make(map[datamigrations.ID]*migrationReconciliationState)
	b.mu.topicMigrationMap = make(map[datamigrations.TopicID]datamigrations.ID)
	b.mu.nodeStates = make(map[datamigrations.NodeID]map[datamigrations.NTP]datamigrations.ID)
	b.mu.nodesToRetry = make(map[datamigrations.NodeID]time.Time)
	b.mu.nodeBackoff = make(map[datamigrations.NodeID]*retry.Backoff)
	b.mu.nodesInFlight = make(map[datamigrations.NodeID]bool)
	b.mu.advanceRequests = make(map[datamigrations.ID]*advanceInfo)
}

// integrateMigration reconciles state for a single
// migration id that the migration table has reported changed: it fetches
// the current durable record, drops the migration if it is gone or
// terminal, and otherwise (re)computes the outstanding topic/partition sets
// from the topology store and folds the result into
// migrationStates/topicMigrationMap/nodeStates.
// For a sought state that needs worker action it also refreshes work_states
// for this node's own replicas, regardless of coordinator role, since
// local-driver state exists on every node regardless of coordinator role.
func (b *Backend) integrateMigration(ctx context.Context, id datamigrations.ID) {
	rec, ok, err := b.table.Snapshot(ctx, id)
	if err != nil {
		log.Migrations.Warningf(ctx, "snapshotting migration %d: %v", id, err)
		b.mu.Lock()
		b.mu.pendingMigrations[id] = struct{}{}
		b.mu.Unlock()
		return
	}
	if !ok || rec.AppliedState.IsTerminal() {
		b.dropMigration(id)
		b.mu.Lock()
		delete(b.mu.pendingMigrations, id)
		b.mu.Unlock()
		return
	}

	sought, hasSought := datamigrations.Next(rec.Kind, rec.AppliedState)
	if !hasSought {
		b.dropMigration(id)
		b.mu.Lock()
		delete(b.mu.pendingMigrations, id)
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	isCoordinator := b.mu.isCoordinator
	delete(b.mu.pendingMigrations, id)
	b.mu.Unlock()

	// A sought state that needs no per-partition worker action is
	// bookkeeping-only: nothing is tracked as outstanding, so the advance is
	// queued as soon as the coordinator observes it.
	needsWork := datamigrations.RequiresWorkerAction(rec.Kind, sought)

	if isCoordinator {
		var topics map[datamigrations.TopicID]*topicReconciliationState
		if needsWork {
			topics = b.buildOutstandingTopics(ctx, rec, sought)
		}
		b.mu.Lock()
		b.applyMigrationStateLocked(id, rec.Kind, sought, topics)
		b.mu.Unlock()
	}

	if needsWork {
		b.refreshLocalWorkForMigration(ctx, id, rec, sought)
	}
}

// buildOutstandingTopics consults the topology store to
// compute, for a migration at sought, which (topic, partition) pairs still
// need a reply from which nodes. A topic not yet visible in the topology
// store is skipped; it will be retried the next time a topology delta or
// migration notification triggers integration.
func (b *Backend) buildOutstandingTopics(
	ctx context.Context, rec datamigrations.MigrationRecord, sought datamigrations.SoughtState,
) map[datamigrations.TopicID]*topicReconciliationState {
	topics := make(map[datamigrations.TopicID]*topicReconciliationState, len(rec.Topics))
	for idx, topic := range rec.Topics {
		parts, ok, err := b.topology.Partitions(ctx, topic)
		if err != nil || !ok {
			continue
		}
		ts := newTopicReconciliationState(idx)
		for _, p := range parts {
			ntp := datamigrations.NTP{Topic: topic, Partition: p}
			nodes, ok, err := b.topology.Replicas(ctx, ntp)
			if err != nil || !ok || len(nodes) == 0 {
				continue
			}
			cp := make([]datamigrations.NodeID, len(nodes))
			copy(cp, nodes)
			ts.outstandingPartitions[p] = cp
		}
		if len(ts.outstandingPartitions) > 0 {
			topics[topic] = ts
		}
	}
	_ = sought // sought is recorded on the enclosing migrationReconciliationState, not per-topic
	return topics
}

// applyMigrationStateLocked folds a freshly computed outstanding-topics set
// into migrationStates/topicMigrationMap/nodeStates. Must be called with
// b.mu held.
func (b *Backend) applyMigrationStateLocked(
	id datamigrations.ID,
	kind datamigrations.Kind,
	sought datamigrations.SoughtState,
	topics map[datamigrations.TopicID]*topicReconciliationState,
) {
	if len(topics) == 0 {
		// Nothing outstanding: the migration has no partitions yet visible,
		// sought needs no worker action, or every partition already
		// satisfies sought. Either way
		// there is no per-partition tracking to keep; if it turns out every
		// topic is genuinely done, the advance dispatcher fires from the
		// empty-map case below.
		if _, existed := b.mu.migrationStates[id]; existed {
			b.dropMigrationLocked(id)
		}
		b.mu.migrationStates[id] = newMigrationReconciliationState(kind, sought)
		b.maybeQueueAdvanceLocked(id, kind, sought)
		return
	}

	mrs := newMigrationReconciliationState(kind, sought)
	mrs.lastObservedAt = time.Now()
	mrs.outstandingTopics = topics
	b.mu.migrationStates[id] = mrs

	for topic, ts := range topics {
		b.mu.topicMigrationMap[topic] = id
		for partition, nodes := range ts.outstandingPartitions {
			ntp := datamigrations.NTP{Topic: topic, Partition: partition}
			for _, node := range nodes {
				b.addOutstandingNodeLocked(node, ntp, id)
			}
		}
	}
}

// addOutstandingNodeLocked records that node still owes a reply for ntp
// under migration id, and if node has no in-flight RPC, schedules its
// retry deadline for "now".
func (b *Backend) addOutstandingNodeLocked(node datamigrations.NodeID, ntp datamigrations.NTP, id datamigrations.ID) {
	if b.mu.nodeStates[node] == nil {
		b.mu.nodeStates[node] = make(map[datamigrations.NTP]datamigrations.ID)
	}
	b.mu.nodeStates[node][ntp] = id

	if !b.mu.nodesInFlight[node] {
		if _, scheduled := b.mu.nodesToRetry[node]; !scheduled {
			b.mu.nodesToRetry[node] = time.Now()
		}
	}
}

// dropMigration removes every trace of id from the coordinator and local
// maps and aborts any in-flight worker action. Workers are stopped first
// (best-effort), then state is dropped; neither step blocks on RPC replies.
func (b *Backend) dropMigration(id datamigrations.ID) {
	b.mu.Lock()
	b.abortLocalWorkForMigrationLocked(id)
	b.dropMigrationLocked(id)
	b.mu.Unlock()
}

// dropMigrationLocked is dropMigration's map-only half; callers that
// already hold b.mu and have separately handled worker aborts use this
// directly (e.g. applyMigrationStateLocked replacing a stale entry).
func (b *Backend) dropMigrationLocked(id datamigrations.ID) {
	mrs, ok := b.mu.migrationStates[id]
	if !ok {
		delete(b.mu.advanceRequests, id)
		return
	}
	for topic, ts := range mrs.outstandingTopics {
		delete(b.mu.topicMigrationMap, topic)
		for partition, nodes := range ts.outstandingPartitions {
			ntp := datamigrations.NTP{Topic: topic, Partition: partition}
			for _, node := range nodes {
				b.removeOutstandingNodeLocked(node, ntp)
			}
		}
	}
	delete(b.mu.migrationStates, id)
	delete(b.mu.advanceRequests, id)
}

// removeOutstandingNodeLocked is the inverse of addOutstandingNodeLocked:
// once a node has no more outstanding NTPs it is removed from both
// nodeStates and nodesToRetry (it may still have an in-flight RPC in
// progress; sendRPC's completion handler tolerates the node having
// disappeared from nodeStates by then).
func (b *Backend) removeOutstandingNodeLocked(node datamigrations.NodeID, ntp datamigrations.NTP) {
	if entries, ok := b.mu.nodeStates[node]; ok {
		delete(entries, ntp)
		if len(entries) == 0 {
			delete(b.mu.nodeStates, node)
			delete(b.mu.nodesToRetry, node)
			delete(b.mu.nodeBackoff, node)
		}
	}
}

// markMigrationStepDoneForNTP removes node from ntp's outstanding set; if
// the partition, then the topic, then the migration become empty, each is
// retired in turn and an advance may be queued.
func (b *Backend) markMigrationStepDoneForNTP(node datamigrations.NodeID, ntp datamigrations.NTP) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markMigrationStepDoneForNTPUnlocked(node, ntp)
}

// maybeQueueAdvanceLocked queues the next advance: when a
// migration's outstanding-topics map becomes empty, an advance_requests
// entry is inserted (or coalesced with an existing one) for the migration's
// current durably-applied state's successor. Must be called with b.mu held.
func (b *Backend) maybeQueueAdvanceLocked(id datamigrations.ID, kind datamigrations.Kind, sought datamigrations.SoughtState) {
	existing, ok := b.mu.advanceRequests[id]
	switch {
	case !ok:
		b.mu.advanceRequests[id] = &advanceInfo{soughtState: sought}
	case existing.soughtState == sought:
		// Duplicate insert for the same target: no-op.
	default:
		existing.soughtState = sought
		existing.sent = false
	}
	b.signalWakeup()
}

// sendRPC builds a request from node's current outstanding set
// (snapshotted under the lock), issues it without the lock, and applies
// the reply (or schedules a retry) under the lock again.
func (b *Backend) sendRPC(ctx context.Context, node datamigrations.NodeID) {
	b.mu.Lock()
	entries, ok := b.mu.nodeStates[node]
	if !ok || len(entries) == 0 {
		b.mu.nodesInFlight[node] = false
		b.mu.Unlock()
		return
	}
	queries := make([]dmrpc.StateQuery, 0, len(entries))
	for ntp, id := range entries {
		mrs, ok := b.mu.migrationStates[id]
		if !ok {
			continue
		}
		queries = append(queries, dmrpc.StateQuery{NTP: ntp, MigrationID: id, SoughtState: mrs.soughtState})
	}
	b.mu.Unlock()

	var answers []dmrpc.StateAnswer
	var err error
	if node == b.self {
		answers = b.endpoint.CheckNTPStates(ctx, queries)
	} else {
		answers, err = b.peers.CheckNTPStates(ctx, node, queries)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.mu.nodesInFlight[node] = false

	if err != nil {
		log.Migrations.Warningf(ctx, "check_ntp_states to node %d failed: %v", node, err)
		b.metrics.RPCFailures.Inc()
		b.scheduleRetryLocked(node)
		return
	}
	b.metrics.RPCSuccesses.Inc()
	b.backoffFor(node).Reset()

	for _, a := range answers {
		if a.Status != datamigrations.ReplicaStatusDone {
			continue
		}
		b.markMigrationStepDoneForNTPUnlocked(node, a.NTP)
	}

	// A full, decodable reply -- even one reporting non-done statuses -- is
	// not a failure, so the backoff was reset above. If the node still has
	// outstanding work (replies that were waiting_for_rpc/can_run), schedule
	// it to be polled again at its next backoff deadline.
	if remaining, ok := b.mu.nodeStates[node]; ok && len(remaining) > 0 {
		b.scheduleRetryLocked(node)
	}
}

// markMigrationStepDoneForNTPUnlocked is markMigrationStepDoneForNTP's
// body, for call sites (like sendRPC) that already hold b.mu.
func (b *Backend) markMigrationStepDoneForNTPUnlocked(node datamigrations.NodeID, ntp datamigrations.NTP) {
	id, ok := b.mu.topicMigrationMap[ntp.Topic]
	if !ok {
		return
	}
	mrs, ok := b.mu.migrationStates[id]
	if !ok {
		return
	}
	ts, ok := mrs.outstandingTopics[ntp.Topic]
	if !ok {
		return
	}

	topicEmpty := ts.removeNode(ntp.Partition, node)
	b.removeOutstandingNodeLocked(node, ntp)

	if !topicEmpty {
		return
	}
	delete(mrs.outstandingTopics, ntp.Topic)
	delete(b.mu.topicMigrationMap, ntp.Topic)

	if len(mrs.outstandingTopics) == 0 {
		b.maybeQueueAdvanceLocked(id, mrs.kind, mrs.soughtState)
	}
}

// scheduleRetryLocked inserts node into nodesToRetry at its next backoff
// deadline. Must be called with b.mu held.
func (b *Backend) scheduleRetryLocked(node datamigrations.NodeID) {
	if _, stillOutstanding := b.mu.nodeStates[node]; !stillOutstanding {
		return
	}
	delay := b.backoffFor(node).NextDelay()
	b.mu.nodesToRetry[node] = time.Now().Add(delay)
	b.signalWakeup()
}

func (b *Backend) backoffFor(node datamigrations.NodeID) *retry.Backoff {
	bo, ok := b.mu.nodeBackoff[node]
	if !ok {
		bo = retry.NewBackoff(b.retryOpts)
		b.mu.nodeBackoff[node] = bo
	}
	return bo
}
