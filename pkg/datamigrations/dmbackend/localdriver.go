// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmbackend

import (
	"context"
	"time"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/datamigrations/dmworker"
	"github.com/sileht/redpanda/pkg/util/log"
)

// handleShardChange reacts to a shard-assignment delta by keeping a
// managed work_states entry's Shard field in agreement with replica
// ownership: Shard is non-nil iff this node currently owns a replica of
// the NTP. Losing the replica aborts any in-flight worker action and
// drops the entry outright, since an entry with no replica to act on has
// nothing left to reconcile.
func (b *Backend) handleShardChange(change datamigrations.ShardAssignmentChange) {
	b.mu.Lock()
	partitions := b.mu.workStates[change.NTP.Topic]
	entry := partitions[change.NTP.Partition]

	if change.Shard == nil {
		if entry == nil {
			b.mu.Unlock()
			return
		}
		oldShard := entry.Shard
		delete(partitions, change.NTP.Partition)
		if len(partitions) == 0 {
			delete(b.mu.workStates, change.NTP.Topic)
		}
		migrationID, sought := entry.MigrationID, entry.SoughtState
		b.mu.Unlock()

		if oldShard != nil {
			b.workers.Abort(*oldShard, change.NTP, migrationID, sought)
		}
		return
	}

	if entry == nil {
		// No migration has touched this NTP yet; record nothing until one
		// does (refreshLocalWorkForMigration will set Shard on create).
		b.mu.Unlock()
		return
	}
	entry.Shard = change.Shard
	entry.LastObservedAt = time.Now()
	b.mu.Unlock()
	b.signalWakeup()
}

// refreshLocalWorkForMigration folds a migration's current (kind, sought)
// into this node's work_states for every NTP of rec.Topics that this node
// replicates. It is called from integrateMigration whenever the sought
// state needs worker action, not just when this node is coordinator.
func (b *Backend) refreshLocalWorkForMigration(
	ctx context.Context, id datamigrations.ID, rec datamigrations.MigrationRecord, sought datamigrations.SoughtState,
) {
	touched := make(map[datamigrations.TopicID]struct{}, len(rec.Topics))
	for _, topic := range rec.Topics {
		touched[topic] = struct{}{}
		parts, ok, err := b.topology.Partitions(ctx, topic)
		if err != nil || !ok {
			continue
		}
		for _, p := range parts {
			ntp := datamigrations.NTP{Topic: topic, Partition: p}
			nodes, ok, err := b.topology.Replicas(ctx, ntp)
			if err != nil || !ok || !containsSelf(nodes, b.self) {
				continue
			}
			b.upsertLocalWork(ntp, id, rec.Kind, sought)
		}
	}

	b.mu.Lock()
	for topic := range touched {
		b.mu.localTopicMigration[topic] = id
	}
	b.mu.Unlock()
}

func containsSelf(nodes []datamigrations.NodeID, self datamigrations.NodeID) bool {
	for _, n := range nodes {
		if n == self {
			return true
		}
	}
	return false
}

// upsertLocalWork creates or refreshes the managed entry for ntp, resetting
// its Status to waiting_for_rpc whenever the (migration, sought_state) it
// is tracking changes. Shard is preserved across updates; it is only ever
// set by handleShardChange.
func (b *Backend) upsertLocalWork(
	ntp datamigrations.NTP, id datamigrations.ID, kind datamigrations.Kind, sought datamigrations.SoughtState,
) {
	b.mu.Lock()
	defer b.mu.Unlock()

	partitions := b.mu.workStates[ntp.Topic]
	if partitions == nil {
		partitions = make(map[datamigrations.PartitionID]*datamigrations.ReplicaWorkState)
		b.mu.workStates[ntp.Topic] = partitions
	}
	entry := partitions[ntp.Partition]
	if entry != nil && entry.MigrationID == id && entry.SoughtState == sought {
		return
	}
	shard := (*datamigrations.ShardID)(nil)
	if entry != nil {
		shard = entry.Shard
	}
	partitions[ntp.Partition] = &datamigrations.ReplicaWorkState{
		MigrationID: id,
		Kind: kind,
		SoughtState: sought,
		Shard: shard,
		Status: datamigrations.ReplicaStatusWaitingForRPC,
		LastObservedAt: time.Now(),
	}
}

// abortLocalWorkForMigrationLocked drops every work_states entry belonging
// to id, aborting its worker action first. Must be called with b.mu held;
// unlike sendRPC, it never releases the lock midway -- Abort on
// WorkerLocator is expected to be cheap and non-blocking, since it only
// cancels a managed entry.
func (b *Backend) abortLocalWorkForMigrationLocked(id datamigrations.ID) {
	type toAbort struct {
		ntp datamigrations.NTP
		shard datamigrations.ShardID
		state datamigrations.SoughtState
	}
	var aborts []toAbort

	for topic, partitions := range b.mu.workStates {
		for partition, entry := range partitions {
			if entry.MigrationID != id {
				continue
			}
			ntp := datamigrations.NTP{Topic: topic, Partition: partition}
			if entry.Shard != nil {
				aborts = append(aborts, toAbort{ntp: ntp, shard: *entry.Shard, state: entry.SoughtState})
			}
			delete(partitions, partition)
		}
		if len(partitions) == 0 {
			delete(b.mu.workStates, topic)
		}
	}
	for topic, tid := range b.mu.localTopicMigration {
		if tid == id {
			delete(b.mu.localTopicMigration, topic)
		}
	}
	for _, a := range aborts {
		b.workers.Abort(a.shard, a.ntp, id, a.state)
	}
}

// LookupReplicaWork implements dmrpc.LocalDriver.
func (b *Backend) LookupReplicaWork(ntp datamigrations.NTP) (datamigrations.ReplicaWorkState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	partitions, ok := b.mu.workStates[ntp.Topic]
	if !ok {
		return datamigrations.ReplicaWorkState{}, false
	}
	entry, ok := partitions[ntp.Partition]
	if !ok {
		return datamigrations.ReplicaWorkState{}, false
	}
	return *entry, true
}

// ScheduleLocalWorkDiscovery implements dmrpc.LocalDriver. The actual
// lookup is deferred to mainLoop so it can consult b.table without blocking
// the RPC-serving goroutine.
func (b *Backend) ScheduleLocalWorkDiscovery(ntp datamigrations.NTP) {
	b.mu.Lock()
	b.mu.pendingDiscovery[ntp] = struct{}{}
	b.mu.Unlock()
	b.signalWakeup()
}

// discoverLocalWork implements the deferred half of ScheduleLocalWorkDiscovery:
// it finds the migration (if any) covering ntp.Topic and folds it into
// work_states via upsertLocalWork. It first consults localTopicMigration
// (populated by refreshLocalWorkForMigration); if ntp.Topic is not yet
// known there -- e.g. this node has not processed the relevant migration
// table notification yet -- it falls back to scanning every migration via
// Table.List, for a topic this node has not seen before.
func (b *Backend) discoverLocalWork(ctx context.Context, ntp datamigrations.NTP) {
	b.mu.Lock()
	id, ok := b.mu.localTopicMigration[ntp.Topic]
	b.mu.Unlock()

	if !ok {
		ids, err := b.table.List(ctx)
		if err != nil {
			log.Migrations.Warningf(ctx, "listing migrations while discovering local work for %s: %v", ntp, err)
			return
		}
		for _, candidate := range ids {
			rec, exists, err := b.table.Snapshot(ctx, candidate)
			if err != nil || !exists {
				continue
			}
			if rec.IndexOfTopic(ntp.Topic) >= 0 {
				id = candidate
				ok = true
				break
			}
		}
	}
	if !ok {
		return
	}

	rec, exists, err := b.table.Snapshot(ctx, id)
	if err != nil || !exists {
		return
	}
	sought, hasSought := datamigrations.Next(rec.Kind, rec.AppliedState)
	if !hasSought {
		return
	}
	b.upsertLocalWork(ntp, id, rec.Kind, sought)
}

// Dispatch implements dmrpc.LocalDriver. It fetches the owning migration's
// payload to assemble a dmworker.PartitionWork, flips the entry's status to
// can_run, and hands the work to the WorkerLocator; the returned Future is
// watched asynchronously and resolves into OnPartitionWorkCompleted.
func (b *Backend) Dispatch(ctx context.Context, ntp datamigrations.NTP) {
	b.mu.Lock()
	partitions := b.mu.workStates[ntp.Topic]
	entry := partitions[ntp.Partition]
	if entry == nil || entry.Shard == nil {
		b.mu.Unlock()
		return
	}
	shard := *entry.Shard
	migrationID, kind, sought := entry.MigrationID, entry.Kind, entry.SoughtState
	entry.Status = datamigrations.ReplicaStatusCanRun
	entry.LastObservedAt = time.Now()
	b.mu.Unlock()

	rec, exists, err := b.table.Snapshot(ctx, migrationID)
	if err != nil || !exists {
		log.Migrations.Warningf(ctx, "dispatching %s: migration %d vanished: %v", ntp, migrationID, err)
		return
	}

	work := dmworker.PartitionWork{MigrationID: migrationID, Kind: kind, SoughtState: sought}
	if kind == datamigrations.KindInbound {
		for _, t := range rec.Payload.InboundTopics {
			if t.DestinationTopic == ntp.Topic || t.SourceTopic == ntp.Topic {
				work.Info.Inbound = &dmworker.InboundInfo{
					SourceTopic: t.SourceTopic,
					DestinationTopic: t.DestinationTopic,
				}
				break
			}
		}
	} else {
		work.Info.Outbound = &dmworker.OutboundInfo{}
	}

	future := b.workers.Perform(ctx, shard, ntp, work)
	if err := b.stopper.RunAsyncTask(ctx, "dmbackend: await partition work", func(ctx context.Context) {
		ctx, cancel := b.stopper.WithCancelOnQuiesce(ctx)
		defer cancel()
		err := future.Wait(ctx)
		b.OnPartitionWorkCompleted(ntp, migrationID, sought, err)
	}); err != nil {
		log.Migrations.Warningf(ctx, "could not watch partition work for %s: %v", ntp, err)
	}
}

// OnPartitionWorkCompleted is the worker completion continuation
// dmrpc.LocalDriver.Dispatch attaches. A nil error marks the
// entry done so the next check_ntp_states reply reports it; any other
// error (including ErrInvalidMigrationState from a superseding Perform, or
// ErrShuttingDown) leaves the entry for the next discovery/dispatch round
// to re-evaluate, since the worker itself already retries retryable
// partition-action failures internally.
func (b *Backend) OnPartitionWorkCompleted(
	ntp datamigrations.NTP, migrationID datamigrations.ID, sought datamigrations.SoughtState, err error,
) {
	b.mu.Lock()
	partitions := b.mu.workStates[ntp.Topic]
	entry := partitions[ntp.Partition]
	if entry == nil || entry.MigrationID != migrationID || entry.SoughtState != sought {
		b.mu.Unlock()
		return
	}
	if err == nil {
		entry.Status = datamigrations.ReplicaStatusDone
		entry.LastObservedAt = time.Now()
	}
	b.mu.Unlock()

	if err != nil {
		log.Migrations.Warningf(context.Background(),
			"partition work for %s (migration %d, state %s) did not complete: %v", ntp, migrationID, sought, err)
		return
	}
	b.signalWakeup()
}
