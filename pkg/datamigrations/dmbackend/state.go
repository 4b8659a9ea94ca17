// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmbackend

import (
	"time"

	"github.com/sileht/redpanda/pkg/datamigrations"
)

// topicReconciliationState tracks one migration's progress across a single
// topic: which partitions still have nodes that haven't reached the
// sought state.
type topicReconciliationState struct {
	idxInMigration int
	// outstandingPartitions maps a partition to the nodes that have not yet
	// reached the sought state for it.
	outstandingPartitions map[datamigrations.PartitionID][]datamigrations.NodeID
}

func newTopicReconciliationState(idx int) *topicReconciliationState {
	return &topicReconciliationState{
		idxInMigration: idx,
		outstandingPartitions: make(map[datamigrations.PartitionID][]datamigrations.NodeID),
	}
}

// migrationReconciliationState is the coordinator's per-migration
// bookkeeping: the sought state every outstanding replica is being driven
// toward, and the topics still outstanding for it.
type migrationReconciliationState struct {
	kind datamigrations.Kind
	soughtState datamigrations.SoughtState
	outstandingTopics map[datamigrations.TopicID]*topicReconciliationState
	lastObservedAt time.Time
}

func newMigrationReconciliationState(kind datamigrations.Kind, sought datamigrations.SoughtState) *migrationReconciliationState {
	return &migrationReconciliationState{
		kind: kind,
		soughtState: sought,
		outstandingTopics: make(map[datamigrations.TopicID]*topicReconciliationState),
	}
}

// advanceInfo is one pending entry of the advance-request queue: the
// target sought state to propose and whether the proposal has already
// been sent this round.
type advanceInfo struct {
	soughtState datamigrations.SoughtState
	sent bool
}

// removeNode removes node from every outstanding_partitions list of t,
// dropping empty partitions as it goes. It reports whether the topic itself
// is now fully reconciled (no outstanding partitions left).
func (t *topicReconciliationState) removeNode(partition datamigrations.PartitionID, node datamigrations.NodeID) (topicEmpty bool) {
	nodes, ok := t.outstandingPartitions[partition]
	if !ok {
		return len(t.outstandingPartitions) == 0
	}
	for i, n := range nodes {
		if n == node {
			nodes = append(nodes[:i], nodes[i+1:]...)
			break
		}
	}
	if len(nodes) == 0 {
		delete(t.outstandingPartitions, partition)
	} else {
		t.outstandingPartitions[partition] = nodes
	}
	return len(t.outstandingPartitions) == 0
}
