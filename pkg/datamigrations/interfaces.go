// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package datamigrations

import (
	"context"

	"github.com/google/uuid"
)

// SubscriptionID is the opaque handle returned by every subscribe call in
// this package family. Using a dedicated type instead of a bare integer keeps a
// stored subscription handle from being confused with, say, a NodeID.
type SubscriptionID uuid.UUID

// NewSubscriptionID() returns a fresh, globally-unique subscription handle.
func NewSubscriptionID() SubscriptionID {
	return SubscriptionID(uuid.New())
}

// Table is the read-only view of durably-recorded migrations.
// It is implemented by the real migration-metadata log in production and
// by dmtable.InMemory in tests.
type Table interface {
	// Snapshot returns the current durable record for id, or ok=false if
	// no such migration exists (it was never created, or has since been
	// removed).
	Snapshot(ctx context.Context, id ID) (rec MigrationRecord, ok bool, err error)

	// List returns every migration id currently recorded, regardless of
	// applied state. A newly-elected coordinator uses it once, at startup,
	// to rebuild its outstanding maps from the durable record, and local
	// work discovery falls back to it for a topic it has not yet seen; the
	// steady-state reconciliation loop otherwise relies on Subscribe.
	List(ctx context.Context) ([]ID, error)

	// Subscribe registers cb to be invoked, exactly once per durably
	// applied change, with the id of the migration that changed (created,
	// updated, or deleted). cb must be fast and must not block.
	Subscribe(cb func(id ID)) SubscriptionID

	// Unsubscribe is idempotent; it may be called zero or more times for
	// the same id, including after the Table has been asked to shut down.
	Unsubscribe(id SubscriptionID)

	// ProposeAdvance durably writes a new applied state for id, subject to
	// the table's own versioning/deduplication. The returned error, if any, is
	// one a caller should treat as ErrProposalRejected-class (retryable on
	// the caller's own schedule).
	ProposeAdvance(ctx context.Context, id ID, newState SoughtState) error
}

// TopicDelta describes a single change to the assignment of a partition's
// replicas, as observed by this node. It is the unit carried on the
// topic-topology delta stream.
type TopicDelta struct {
	NTP NTP
	// AddedNode/RemovedNode are mutually exclusive; a replica move is
	// delivered as a RemovedNode delta followed by an AddedNode delta.
	AddedNode *NodeID
	RemovedNode *NodeID
}

// TopologyWatcher is the external topic-topology store's notification and
// lookup interface. The coordinator uses the lookup methods to (re)build a
// migration's outstanding_partitions when it first observes the migration
// or a topology delta touches one of its topics; it does not otherwise
// track topology state of its own.
type TopologyWatcher interface {
	// Subscribe registers cb to receive topic-topology deltas in arrival
	// order. cb must be fast and must not block; the backend defers the
	// actual processing.
	Subscribe(cb func(TopicDelta)) SubscriptionID
	Unsubscribe(id SubscriptionID)

	// Partitions returns the current partition ids of topic, or ok=false if
	// the topic does not exist in the topology store.
	Partitions(ctx context.Context, topic TopicID) (partitions []PartitionID, ok bool, err error)

	// Replicas returns the current replica node set of ntp, or ok=false if
	// the partition does not exist.
	Replicas(ctx context.Context, ntp NTP) (nodes []NodeID, ok bool, err error)
}

// ShardAssignmentChange reports that the shard owning (or no longer
// owning) a replica on this node has changed.
type ShardAssignmentChange struct {
	NTP NTP
	// Shard is nil if this node no longer owns a replica of NTP.
	Shard *ShardID
}

// ShardAssignmentWatcher is the external per-node shard-assignment store's
// notification interface.
type ShardAssignmentWatcher interface {
	Subscribe(cb func(ShardAssignmentChange)) SubscriptionID
	Unsubscribe(id SubscriptionID)
}

// LeadershipWatcher reports changes to the cluster-metadata leadership
// signal that determines this node's coordinator role, and separately, the
// leadership of any NTP this node is worker-tracking.
type LeadershipWatcher interface {
	// SubscribeClusterLeadership delivers true exactly when this node
	// becomes the cluster-metadata leader (and therefore the data
	// migrations coordinator), and false when it stops being the leader.
	SubscribeClusterLeadership(cb func(isLeader bool)) SubscriptionID
	UnsubscribeClusterLeadership(id SubscriptionID)

	// SubscribeReplicaLeadership delivers the current and subsequent
	// leadership status of the replica of ntp on this node.
	SubscribeReplicaLeadership(ntp NTP, cb func(isLeader bool)) SubscriptionID
	UnsubscribeReplicaLeadership(ntp NTP, id SubscriptionID)
}
