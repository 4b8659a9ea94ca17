// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmbackend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/datamigrations/dmrpc"
	"github.com/sileht/redpanda/pkg/datamigrations/dmtable"
	"github.com/sileht/redpanda/pkg/datamigrations/dmworker"
	"github.com/sileht/redpanda/pkg/util/stop"
)

func testTopic() datamigrations.TopicID {
	return datamigrations.TopicID{Namespace: "kafka", Topic: "orders"}
}

func testNTP() datamigrations.NTP {
	return datamigrations.NTP{Topic: testTopic(), Partition: 0}
}

type harness struct {
	self datamigrations.NodeID
	table *dmtable.InMemory
	topology *fakeTopology
	leadership *fakeLeadership
	peers *fakePeers
	workers *fakeWorkers
	stopper *stop.Stopper
	backend *Backend
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		self: 1,
		table: dmtable.New(),
		topology: newFakeTopology(),
		leadership: newFakeLeadership(),
		peers: newFakePeers(),
		workers: newFakeWorkers(),
		stopper: stop.New(),
	}
	h.backend = New(Config{
		Self: h.self,
		Table: h.table,
		Topology: h.topology,
		Shards: fakeShards{},
		Leadership: h.leadership,
		Peers: h.peers,
		Workers: h.workers,
	}, h.stopper)
	h.peers.register(h.self, dmrpc.NewEndpoint(h.backend))

	worker := dmworker.New(0, dmworker.NoopActionFactory(), h.leadership, h.stopper, h.backend.metrics)
	h.workers.register(0, worker)

	t.Cleanup(func() { h.stopper.Stop(context.Background()) })
	return h
}

func (h *harness) putInboundMigration(id datamigrations.ID, applied datamigrations.SoughtState) {
	h.table.Put(datamigrations.MigrationRecord{
		ID: id,
		Kind: datamigrations.KindInbound,
		AppliedState: applied,
		Topics: []datamigrations.TopicID{testTopic()},
		Payload: datamigrations.MigrationPayload{
			InboundTopics: []datamigrations.InboundTopicTask{
				{SourceTopic: datamigrations.TopicID{Namespace: "external", Topic: "orders"}, DestinationTopic: testTopic()},
			},
		},
	})
}

func TestIntegrateMigrationBuildsCoordinatorAndLocalState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.topology.set(testTopic(), [][]datamigrations.NodeID{{h.self}})
	h.putInboundMigration(1, datamigrations.StatePreparing)

	h.backend.handleLeadershipChange(ctx, true)
	h.backend.drainPendingMigrations(ctx)

	h.backend.mu.Lock()
	mrs, ok := h.backend.mu.migrationStates[1]
	require.True(t, ok)
	require.Equal(t, datamigrations.StatePrepared, mrs.soughtState)
	require.Contains(t, mrs.outstandingTopics, testTopic())
	require.Contains(t, h.backend.mu.nodeStates[h.self], testNTP())
	local := h.backend.mu.workStates[testTopic()][0]
	require.NotNil(t, local)
	require.Equal(t, datamigrations.StatePrepared, local.SoughtState)
	h.backend.mu.Unlock()
}

func TestSendRPCToSelfDispatchesAndCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.topology.set(testTopic(), [][]datamigrations.NodeID{{h.self}})
	h.putInboundMigration(1, datamigrations.StatePreparing)
	h.leadership.setLeader(testNTP(), true)

	h.backend.handleLeadershipChange(ctx, true)
	h.backend.drainPendingMigrations(ctx)
	h.backend.handleShardChange(datamigrations.ShardAssignmentChange{NTP: testNTP(), Shard: shardPtr(0)})

	h.backend.sendRPC(ctx, h.self)

	require.Eventually(t, func() bool {
		h.backend.mu.Lock()
		defer h.backend.mu.Unlock()
		local := h.backend.mu.workStates[testTopic()][0]
		return local != nil && local.Status == datamigrations.ReplicaStatusDone
	}, time.Second, time.Millisecond, "partition action should complete and mark the entry done")
}

func TestMarkMigrationStepDoneRetiresTopicAndQueuesAdvance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.topology.set(testTopic(), [][]datamigrations.NodeID{{h.self}})
	h.putInboundMigration(1, datamigrations.StatePreparing)

	h.backend.handleLeadershipChange(ctx, true)
	h.backend.drainPendingMigrations(ctx)

	h.backend.markMigrationStepDoneForNTP(h.self, testNTP())

	h.backend.mu.Lock()
	mrs := h.backend.mu.migrationStates[1]
	require.Empty(t, mrs.outstandingTopics)
	require.Contains(t, h.backend.mu.advanceRequests, datamigrations.ID(1))
	require.Equal(t, datamigrations.StatePrepared, h.backend.mu.advanceRequests[1].soughtState)
	require.NotContains(t, h.backend.mu.nodeStates, h.self)
	h.backend.mu.Unlock()
}

func TestMaybeQueueAdvanceCoalescesDuplicateInsert(t *testing.T) {
	h := newHarness(t)
	h.backend.mu.Lock()
	h.backend.maybeQueueAdvanceLocked(1, datamigrations.KindInbound, datamigrations.StatePrepared)
	first := h.backend.mu.advanceRequests[1]
	first.sent = true
	h.backend.maybeQueueAdvanceLocked(1, datamigrations.KindInbound, datamigrations.StatePrepared)
	h.backend.mu.Unlock()

	h.backend.mu.Lock()
	require.True(t, h.backend.mu.advanceRequests[1].sent, "duplicate insert of the same target must not reset sent")
	h.backend.mu.Unlock()
}

func TestMaybeQueueAdvanceOverwritesDifferentTarget(t *testing.T) {
	h := newHarness(t)
	h.backend.mu.Lock()
	h.backend.maybeQueueAdvanceLocked(1, datamigrations.KindInbound, datamigrations.StatePrepared)
	h.backend.mu.advanceRequests[1].sent = true
	h.backend.maybeQueueAdvanceLocked(1, datamigrations.KindInbound, datamigrations.StateExecuting)
	require.False(t, h.backend.mu.advanceRequests[1].sent, "a new target resets sent so it is dispatched again")
	require.Equal(t, datamigrations.StateExecuting, h.backend.mu.advanceRequests[1].soughtState)
	h.backend.mu.Unlock()
}

func TestProcessAdvanceRequestsCallsProposeAdvance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putInboundMigration(1, datamigrations.StatePreparing)

	h.backend.mu.Lock()
	h.backend.maybeQueueAdvanceLocked(1, datamigrations.KindInbound, datamigrations.StatePrepared)
	h.backend.mu.Unlock()

	h.backend.processAdvanceRequests(ctx)

	require.Eventually(t, func() bool {
		rec, ok, _ := h.table.Snapshot(ctx, 1)
		return ok && rec.AppliedState == datamigrations.StatePrepared
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		h.backend.mu.Lock()
		defer h.backend.mu.Unlock()
		_, stillPending := h.backend.mu.advanceRequests[1]
		return !stillPending
	}, time.Second, time.Millisecond, "a successful advance removes the request")
}

func TestProcessAdvanceRequestsRetriesOnFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putInboundMigration(1, datamigrations.StatePreparing)
	h.table.ProposeAdvanceHook = func(context.Context, datamigrations.ID, datamigrations.SoughtState) error {
		return datamigrations.ErrProposalRejected
	}

	h.backend.mu.Lock()
	h.backend.maybeQueueAdvanceLocked(1, datamigrations.KindInbound, datamigrations.StatePrepared)
	h.backend.mu.Unlock()

	h.backend.processAdvanceRequests(ctx)

	require.Eventually(t, func() bool {
		h.backend.mu.Lock()
		defer h.backend.mu.Unlock()
		info, ok := h.backend.mu.advanceRequests[1]
		return ok && !info.sent
	}, time.Second, time.Millisecond, "a rejected proposal is left for the next iteration to retry")
}

func TestDropMigrationOnTerminalStateClearsCoordinatorAndLocalState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.topology.set(testTopic(), [][]datamigrations.NodeID{{h.self}})
	h.putInboundMigration(1, datamigrations.StatePreparing)

	h.backend.handleLeadershipChange(ctx, true)
	h.backend.drainPendingMigrations(ctx)

	h.table.Put(datamigrations.MigrationRecord{ID: 1, Kind: datamigrations.KindInbound, AppliedState: datamigrations.StateFinished})
	h.backend.mu.Lock()
	h.backend.mu.pendingMigrations[1] = struct{}{}
	h.backend.mu.Unlock()
	h.backend.drainPendingMigrations(ctx)

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	require.NotContains(t, h.backend.mu.migrationStates, datamigrations.ID(1))
	require.Empty(t, h.backend.mu.workStates[testTopic()])
}

func TestHandleLeadershipChangeTearsDownOnResignation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.topology.set(testTopic(), [][]datamigrations.NodeID{{h.self}})
	h.putInboundMigration(1, datamigrations.StatePreparing)

	h.backend.handleLeadershipChange(ctx, true)
	h.backend.drainPendingMigrations(ctx)
	h.backend.handleLeadershipChange(ctx, false)

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	require.Empty(t, h.backend.mu.migrationStates)
	require.Empty(t, h.backend.mu.nodeStates)
	require.False(t, h.backend.mu.isCoordinator)
}

func TestHandleShardChangeLosingReplicaAbortsAndDropsEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.topology.set(testTopic(), [][]datamigrations.NodeID{{h.self}})
	h.putInboundMigration(1, datamigrations.StatePreparing)
	h.backend.handleLeadershipChange(ctx, true)
	h.backend.drainPendingMigrations(ctx)
	h.backend.handleShardChange(datamigrations.ShardAssignmentChange{NTP: testNTP(), Shard: shardPtr(0)})

	h.backend.handleShardChange(datamigrations.ShardAssignmentChange{NTP: testNTP(), Shard: nil})

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	require.Nil(t, h.backend.mu.workStates[testTopic()][0])
}

func TestListOutstandingMigrationsReportsCoordinatorState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.topology.set(testTopic(), [][]datamigrations.NodeID{{h.self}})
	h.putInboundMigration(1, datamigrations.StatePreparing)
	h.backend.handleLeadershipChange(ctx, true)
	h.backend.drainPendingMigrations(ctx)

	snaps := h.backend.ListOutstandingMigrations()
	require.Len(t, snaps, 1)
	require.Equal(t, datamigrations.ID(1), snaps[0].ID)
	require.Equal(t, 1, snaps[0].Topics[0].OutstandingPartitions)
}

func TestListOutstandingMigrationsEmptyWhenNotCoordinator(t *testing.T) {
	h := newHarness(t)
	require.Empty(t, h.backend.ListOutstandingMigrations())
}

func TestSendRPCTransportFailureSchedulesRetryWithBackoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.topology.set(testTopic(), [][]datamigrations.NodeID{{2}})
	h.putInboundMigration(1, datamigrations.StatePreparing)
	h.peers.setFailing(2, true)

	h.backend.handleLeadershipChange(ctx, true)
	h.backend.drainPendingMigrations(ctx)

	h.backend.sendRPC(ctx, 2)

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	require.False(t, h.backend.mu.nodesInFlight[2])
	deadline, scheduled := h.backend.mu.nodesToRetry[2]
	require.True(t, scheduled)
	require.True(t, deadline.After(time.Now().Add(-time.Second)))
	require.NotNil(t, h.backend.mu.nodeBackoff[2])
}

func shardPtr(s datamigrations.ShardID) *datamigrations.ShardID { return &s }
