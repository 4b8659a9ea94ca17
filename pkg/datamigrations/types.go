// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package datamigrations

import (
	"fmt"
	"time"
)

// ID is the opaque, monotonically-assigned identifier of a migration.
type ID int64

// NodeID identifies a cluster node.
type NodeID int32

// ShardID identifies a shard within a node.
type ShardID int32

// TopicID is the stable identity of a topic: a namespace-qualified name.
type TopicID struct {
	Namespace string
	Topic string
}

func (t TopicID) String() string {
	return fmt.Sprintf("%s/%s", t.Namespace, t.Topic)
}

// PartitionID is a partition index within a topic.
type PartitionID int32

// NTP addresses a single partition: namespace, topic and partition index.
// It is the addressable unit of replicated storage.
type NTP struct {
	Topic TopicID
	Partition PartitionID
}

func (n NTP) String() string {
	return fmt.Sprintf("%s/%d", n.Topic, n.Partition)
}

// Replica is a single copy of a partition's log, held by a specific node.
type Replica struct {
	NTP NTP
	Node NodeID
}

// Kind distinguishes inbound migrations (bringing external topic data into
// the cluster) from outbound migrations (progressively removing local
// topics from serving).
type Kind int8

const (
	// KindUnknown is the zero value and is never valid on a live record.
	KindUnknown Kind = iota
	KindInbound
	KindOutbound
)

func (k Kind) String() string {
	switch k {
	case KindInbound:
		return "inbound"
	case KindOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// SoughtState is a checkpoint in a migration's lifecycle. Every replica of
// every partition of every topic in a migration must reach a given sought
// state before the migration's durably-recorded applied state advances to
// it.
type SoughtState int8

const (
	StateUnknown SoughtState = iota
	StatePlanned
	StatePreparing
	StatePrepared
	StateExecuting
	StateExecuted
	StateCutOver
	StateFinishing
	StateFinished
	StateCancelled
	StateDeleted
)

func (s SoughtState) String() string {
	switch s {
	case StatePlanned:
		return "planned"
	case StatePreparing:
		return "preparing"
	case StatePrepared:
		return "prepared"
	case StateExecuting:
		return "executing"
	case StateExecuted:
		return "executed"
	case StateCutOver:
		return "cut_over"
	case StateFinishing:
		return "finishing"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether a migration in this applied state will never
// advance further: `finished` and `cancelled` are terminal, and we
// additionally treat `deleted` (the record itself being removed) as
// terminal for the purposes of state-machine teardown.
func (s SoughtState) IsTerminal() bool {
	return s == StateFinished || s == StateCancelled || s == StateDeleted
}

// RequiresWorkerAction reports whether reaching this sought state, for the
// given migration kind, requires a per-partition worker action as opposed
// to being bookkeeping-only. The three legal combinations are (inbound,
// prepared), (outbound, prepared) and (outbound, executed).
func RequiresWorkerAction(kind Kind, state SoughtState) bool {
	switch {
	case kind == KindInbound && state == StatePrepared:
		return true
	case kind == KindOutbound && state == StatePrepared:
		return true
	case kind == KindOutbound && state == StateExecuted:
		return true
	default:
		return false
	}
}

// InboundTopicTask describes one topic participating in an inbound
// migration: the external source topic and, optionally, the local name it
// should be served under.
type InboundTopicTask struct {
	SourceTopic TopicID
	DestinationTopic TopicID
}

// MigrationPayload carries the kind-specific detail of a migration record
// that is not needed for reconciliation bookkeeping but is needed by the
// worker action dispatched for a partition (the source topic name for an
// inbound migration, for instance).
type MigrationPayload struct {
	InboundTopics []InboundTopicTask
}

// MigrationRecord is the durable record owned by the migration table.
// Topics is ordered; a topic's position in this slice is its
// idx_in_migration, used as a stable tie-breaker.
type MigrationRecord struct {
	ID ID
	Kind Kind
	AppliedState SoughtState
	Topics []TopicID
	Payload MigrationPayload
}

// IndexOfTopic returns the position of topic within r.Topics, or -1 if the
// migration does not touch that topic.
func (r *MigrationRecord) IndexOfTopic(topic TopicID) int {
	for i, t := range r.Topics {
		if t == topic {
			return i
		}
	}
	return -1
}

// ReplicaStatus is the local driver's half of the per-replica state
// machine: the status of a single replica's progress toward a migration's
// sought state, as tracked by this node's work_states map.
type ReplicaStatus int8

const (
	// ReplicaStatusUnknown is the zero value and is never valid on a
	// managed entry.
	ReplicaStatusUnknown ReplicaStatus = iota
	// ReplicaStatusWaitingForRPC is the initial status: the coordinator has
	// not yet asked this node about the replica, or the node has not yet
	// dispatched work for it.
	ReplicaStatusWaitingForRPC
	// ReplicaStatusCanRun means the worker has been dispatched (or is about
	// to be) and may retry; this status is only ever set when Shard != nil.
	ReplicaStatusCanRun
	// ReplicaStatusDone means the worker reported success for this
	// (migration, sought_state); the coordinator will retire the replica on
	// its next RPC.
	ReplicaStatusDone
)

func (s ReplicaStatus) String() string {
	switch s {
	case ReplicaStatusWaitingForRPC:
		return "waiting_for_rpc"
	case ReplicaStatusCanRun:
		return "can_run"
	case ReplicaStatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// ReplicaWorkState is the local driver's per-NTP bookkeeping of a single
// replica's progress toward a migration's sought state.
//
// Shard is non-nil iff this node currently owns a replica of the NTP.
// Status == ReplicaStatusCanRun only if Shard is non-nil.
type ReplicaWorkState struct {
	MigrationID ID
	Kind Kind
	SoughtState SoughtState
	// Shard is nil until the shard-assignment store reports which shard on
	// this node owns the replica.
	Shard *ShardID
	Status ReplicaStatus
	// LastObservedAt records when this entry was last mutated. It
	// participates in no invariant and the introspection endpoint does not
	// report it.
	LastObservedAt time.Time
}

// TopicSnapshot summarizes one outstanding topic of a migration for the
// introspection endpoint.
type TopicSnapshot struct {
	Topic TopicID
	OutstandingPartitions int
}

// MigrationSnapshot summarizes one outstanding migration's coordinator-side
// state for the introspection endpoint.
type MigrationSnapshot struct {
	ID ID
	SoughtState SoughtState
	Topics []TopicSnapshot
}
