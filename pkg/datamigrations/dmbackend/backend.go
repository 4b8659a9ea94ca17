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
	"github.com/sileht/redpanda/pkg/util/retry"
	"github.com/sileht/redpanda/pkg/util/stop"
	"github.com/sileht/redpanda/pkg/util/syncutil"
)

// Backend is the reconciliation engine that owns
// both the cluster-coordinator role and the local-node-driver role. Exactly
// one Backend runs per node; whether it is currently acting as coordinator
// is a function of the cluster-metadata leadership signal it subscribes to.
type Backend struct {
	self datamigrations.NodeID
	table datamigrations.Table
	topology datamigrations.TopologyWatcher
	shards datamigrations.ShardAssignmentWatcher
	leadership datamigrations.LeadershipWatcher
	peers PeerClient
	workers WorkerLocator
	retryOpts retry.Options
	metrics *Metrics
	stopper *stop.Stopper

	// endpoint answers check_ntp_states for self without a network hop;
	// sendRPC calls this directly instead of going through peers when
	// node == self.
	endpoint *dmrpc.Endpoint

	// wakeup is the main loop's condition-variable/semaphore: a buffered
	// channel of size 1, signalled whenever there may be work for the
	// main loop and drained (non-blockingly refillable) by it.
	wakeup chan struct{}

	subs struct {
		table datamigrations.SubscriptionID
		topology datamigrations.SubscriptionID
		shards datamigrations.SubscriptionID
		clusterLeadership datamigrations.SubscriptionID
	}

	mu struct {
		syncutil.Mutex

		isCoordinator bool

		// Coordinator world. Empty and unused when
		// isCoordinator is false.
		migrationStates map[datamigrations.ID]*migrationReconciliationState
		topicMigrationMap map[datamigrations.TopicID]datamigrations.ID
		nodeStates map[datamigrations.NodeID]map[datamigrations.NTP]datamigrations.ID
		nodesToRetry map[datamigrations.NodeID]time.Time
		nodeBackoff map[datamigrations.NodeID]*retry.Backoff
		nodesInFlight map[datamigrations.NodeID]bool
		advanceRequests map[datamigrations.ID]*advanceInfo

		// pendingMigrations holds ids reported by the migration table's
		// Subscribe callback that the loop has not yet integrated.
		pendingMigrations map[datamigrations.ID]struct{}

		// unprocessedDeltas is deferred topology delta queue.
		unprocessedDeltas []datamigrations.TopicDelta

		// Local world, present regardless of
		// coordinator role.
		workStates map[datamigrations.TopicID]map[datamigrations.PartitionID]*datamigrations.ReplicaWorkState

		// localTopicMigration remembers, for every topic this node has seen
		// in a migration record, which migration last touched it -- the
		// local-driver analogue of the coordinator-only topicMigrationMap,
		// used by discoverLocalWork to resolve a bare NTP back to a
		// migration without requiring coordinator role.
		localTopicMigration map[datamigrations.TopicID]datamigrations.ID

		// pendingDiscovery holds NTPs that ScheduleLocalWorkDiscovery has
		// been asked to (re)examine but mainLoop has not yet processed.
		pendingDiscovery map[datamigrations.NTP]struct{}
	}
}

// New constructs a Backend from cfg. Call Start to begin reconciling.
func New(cfg Config, stopper *stop.Stopper) *Backend {
	cfg.setDefaults()
	b := &Backend{
		self: cfg.Self,
		table: cfg.Table,
		topology: cfg.Topology,
		shards: cfg.Shards,
		leadership: cfg.Leadership,
		peers: cfg.Peers,
		workers: cfg.Workers,
		retryOpts: cfg.RetryOptions,
		metrics: cfg.Metrics,
		stopper: stopper,
		wakeup: make(chan struct{}, 1),
	}
	b.mu.migrationStates = make(map[datamigrations.ID]*migrationReconciliationState)
	b.mu.topicMigrationMap = make(map[datamigrations.TopicID]datamigrations.ID)
	b.mu.nodeStates = make(map[datamigrations.NodeID]map[datamigrations.NTP]datamigrations.ID)
	b.mu.nodesToRetry = make(map[datamigrations.NodeID]time.Time)
	b.mu.nodeBackoff = make(map[datamigrations.NodeID]*retry.Backoff)
	b.mu.nodesInFlight = make(map[datamigrations.NodeID]bool)
	b.mu.advanceRequests = make(map[datamigrations.ID]*advanceInfo)
	b.mu.pendingMigrations = make(map[datamigrations.ID]struct{})
	b.mu.workStates = make(map[datamigrations.TopicID]map[datamigrations.PartitionID]*datamigrations.ReplicaWorkState)
	b.mu.localTopicMigration = make(map[datamigrations.TopicID]datamigrations.ID)
	b.mu.pendingDiscovery = make(map[datamigrations.NTP]struct{})
	b.endpoint = dmrpc.NewEndpoint(b)
	return b
}

// signalWakeup performs a non-blocking send on wakeup, coalescing multiple
// signals raised before the main loop next wakes.
func (b *Backend) signalWakeup() {
	select {
	case b.wakeup <- struct{}{}:
	default:
	}
}

// Start subscribes to every collaborator and forks the main reconciliation
// loop.
func (b *Backend) Start(ctx context.Context) error {
	b.subs.table = b.table.Subscribe(func(id datamigrations.ID) {
		b.mu.Lock()
		b.mu.pendingMigrations[id] = struct{}{}
		b.mu.Unlock()
		b.signalWakeup()
	})
	b.subs.topology = b.topology.Subscribe(func(delta datamigrations.TopicDelta) {
		b.mu.Lock()
		b.mu.unprocessedDeltas = append(b.mu.unprocessedDeltas, delta)
		b.mu.Unlock()
		b.signalWakeup()
	})
	b.subs.shards = b.shards.Subscribe(func(change datamigrations.ShardAssignmentChange) {
		b.handleShardChange(change)
	})
	b.subs.clusterLeadership = b.leadership.SubscribeClusterLeadership(func(isLeader bool) {
		b.handleLeadershipChange(context.Background(), isLeader)
	})

	return b.stopper.RunAsyncTask(ctx, "dmbackend: main loop", b.mainLoop)
}

// Stop unsubscribes from every stream this Backend subscribed to in Start,
// in the order {shard, topic, leadership, migrations}. The Stopper itself
// is owned by the caller; Stop only unwinds this Backend's own
// subscriptions, leaving the caller to quiesce the stopper and wait for
// the main loop to exit.
func (b *Backend) Stop(ctx context.Context) {
	b.shards.Unsubscribe(b.subs.shards)
	b.topology.Unsubscribe(b.subs.topology)
	b.leadership.UnsubscribeClusterLeadership(b.subs.clusterLeadership)
	b.table.Unsubscribe(b.subs.table)
}
