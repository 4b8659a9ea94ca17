// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmnode

import (
	"context"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/util/syncutil"
)

// StaticTopology is a programmatically-populated datamigrations.TopologyWatcher:
// an operator (or, in this repository, the node's administrative surface)
// calls SetReplicas as topic assignments become known; there is no
// connection to a real topic-topology store.
type StaticTopology struct {
	mu struct {
		syncutil.Mutex
		partitions map[datamigrations.TopicID][]datamigrations.PartitionID
		replicas map[datamigrations.NTP][]datamigrations.NodeID
		subs map[datamigrations.SubscriptionID]func(datamigrations.TopicDelta)
	}
}

// NewStaticTopology constructs an empty StaticTopology.
func NewStaticTopology() *StaticTopology {
	t := &StaticTopology{}
	t.mu.partitions = make(map[datamigrations.TopicID][]datamigrations.PartitionID)
	t.mu.replicas = make(map[datamigrations.NTP][]datamigrations.NodeID)
	t.mu.subs = make(map[datamigrations.SubscriptionID]func(datamigrations.TopicDelta))
	return t
}

// SetReplicas declares the full replica set of every partition of topic,
// diffing against the previous assignment (if any) and firing one
// TopicDelta per node added or removed.
func (t *StaticTopology) SetReplicas(topic datamigrations.TopicID, replicasByPartition [][]datamigrations.NodeID) {
	t.mu.Lock()
	parts := make([]datamigrations.PartitionID, len(replicasByPartition))
	var deltas []datamigrations.TopicDelta
	for i, nodes := range replicasByPartition {
		p := datamigrations.PartitionID(i)
		parts[i] = p
		ntp := datamigrations.NTP{Topic: topic, Partition: p}
		deltas = append(deltas, diffReplicas(ntp, t.mu.replicas[ntp], nodes)...)
		t.mu.replicas[ntp] = nodes
	}
	t.mu.partitions[topic] = parts
	subs := make([]func(datamigrations.TopicDelta), 0, len(t.mu.subs))
	for _, cb := range t.mu.subs {
		subs = append(subs, cb)
	}
	t.mu.Unlock()

	for _, d := range deltas {
		for _, cb := range subs {
			cb(d)
		}
	}
}

func diffReplicas(ntp datamigrations.NTP, old, new []datamigrations.NodeID) []datamigrations.TopicDelta {
	oldSet := make(map[datamigrations.NodeID]struct{}, len(old))
	for _, n := range old {
		oldSet[n] = struct{}{}
	}
	newSet := make(map[datamigrations.NodeID]struct{}, len(new))
	for _, n := range new {
		newSet[n] = struct{}{}
	}
	var deltas []datamigrations.TopicDelta
	for n := range oldSet {
		if _, ok := newSet[n]; !ok {
			node := n
			deltas = append(deltas, datamigrations.TopicDelta{NTP: ntp, RemovedNode: &node})
		}
	}
	for n := range newSet {
		if _, ok := oldSet[n]; !ok {
			node := n
			deltas = append(deltas, datamigrations.TopicDelta{NTP: ntp, AddedNode: &node})
		}
	}
	return deltas
}

// Subscribe implements datamigrations.TopologyWatcher.
func (t *StaticTopology) Subscribe(cb func(datamigrations.TopicDelta)) datamigrations.SubscriptionID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := datamigrations.NewSubscriptionID()
	t.mu.subs[id] = cb
	return id
}

// Unsubscribe implements datamigrations.TopologyWatcher.
func (t *StaticTopology) Unsubscribe(id datamigrations.SubscriptionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.mu.subs, id)
}

// Partitions implements datamigrations.TopologyWatcher.
func (t *StaticTopology) Partitions(
	_ context.Context, topic datamigrations.TopicID,
) ([]datamigrations.PartitionID, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts, ok := t.mu.partitions[topic]
	return parts, ok, nil
}

// Replicas implements datamigrations.TopologyWatcher.
func (t *StaticTopology) Replicas(
	_ context.Context, ntp datamigrations.NTP,
) ([]datamigrations.NodeID, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nodes, ok := t.mu.replicas[ntp]
	return nodes, ok, nil
}

// StaticShards is a datamigrations.ShardAssignmentWatcher that assigns every
// replica self holds to shard partition%shardCount, recomputing whenever
// topology reports a delta touching self. There is no connection to a real
// per-node shard-assignment store.
type StaticShards struct {
	self datamigrations.NodeID
	shardCount int32
	topology *StaticTopology

	mu struct {
		syncutil.Mutex
		subs map[datamigrations.SubscriptionID]func(datamigrations.ShardAssignmentChange)
		owns map[datamigrations.NTP]datamigrations.ShardID
	}
}

// NewStaticShards constructs a StaticShards deriving assignments for self
// from topology. shardCount must be at least 1.
func NewStaticShards(self datamigrations.NodeID, shardCount int32, topology *StaticTopology) *StaticShards {
	if shardCount < 1 {
		shardCount = 1
	}
	s := &StaticShards{self: self, shardCount: shardCount, topology: topology}
	s.mu.subs = make(map[datamigrations.SubscriptionID]func(datamigrations.ShardAssignmentChange))
	s.mu.owns = make(map[datamigrations.NTP]datamigrations.ShardID)
	topology.Subscribe(s.onDelta)
	return s
}

func (s *StaticShards) shardFor(ntp datamigrations.NTP) datamigrations.ShardID {
	return datamigrations.ShardID(int32(ntp.Partition) % s.shardCount)
}

func (s *StaticShards) onDelta(delta datamigrations.TopicDelta) {
	var change datamigrations.ShardAssignmentChange
	switch {
	case delta.AddedNode != nil && *delta.AddedNode == s.self:
		shard := s.shardFor(delta.NTP)
		s.mu.Lock()
		s.mu.owns[delta.NTP] = shard
		s.mu.Unlock()
		change = datamigrations.ShardAssignmentChange{NTP: delta.NTP, Shard: &shard}
	case delta.RemovedNode != nil && *delta.RemovedNode == s.self:
		s.mu.Lock()
		delete(s.mu.owns, delta.NTP)
		s.mu.Unlock()
		change = datamigrations.ShardAssignmentChange{NTP: delta.NTP, Shard: nil}
	default:
		return
	}

	s.mu.Lock()
	subs := make([]func(datamigrations.ShardAssignmentChange), 0, len(s.mu.subs))
	for _, cb := range s.mu.subs {
		subs = append(subs, cb)
	}
	s.mu.Unlock()
	for _, cb := range subs {
		cb(change)
	}
}

// Subscribe implements datamigrations.ShardAssignmentWatcher.
func (s *StaticShards) Subscribe(cb func(datamigrations.ShardAssignmentChange)) datamigrations.SubscriptionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := datamigrations.NewSubscriptionID()
	s.mu.subs[id] = cb
	return id
}

// Unsubscribe implements datamigrations.ShardAssignmentWatcher.
func (s *StaticShards) Unsubscribe(id datamigrations.SubscriptionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mu.subs, id)
}

// StaticLeadership is a datamigrations.LeadershipWatcher with no connection
// to a real cluster-metadata leadership signal: cluster leadership is fixed
// at construction by the isCoordinator argument (a stand-in for an
// election), and every replica this node
// holds is reported as locally led, since a single-writer-per-replica
// deployment has nothing else to arbitrate that here.
type StaticLeadership struct {
	isCoordinator bool

	mu struct {
		syncutil.Mutex
		clusterSubs map[datamigrations.SubscriptionID]func(bool)
		replicaSubs map[datamigrations.NTP]map[datamigrations.SubscriptionID]func(bool)
	}
}

// NewStaticLeadership constructs a StaticLeadership that reports isCoordinator
// as this node's fixed cluster-leadership status.
func NewStaticLeadership(isCoordinator bool) *StaticLeadership {
	l := &StaticLeadership{isCoordinator: isCoordinator}
	l.mu.clusterSubs = make(map[datamigrations.SubscriptionID]func(bool))
	l.mu.replicaSubs = make(map[datamigrations.NTP]map[datamigrations.SubscriptionID]func(bool))
	return l
}

// SubscribeClusterLeadership implements datamigrations.LeadershipWatcher,
// delivering the fixed status immediately and never again (it cannot
// change without a real election).
func (l *StaticLeadership) SubscribeClusterLeadership(cb func(bool)) datamigrations.SubscriptionID {
	l.mu.Lock()
	id := datamigrations.NewSubscriptionID()
	l.mu.clusterSubs[id] = cb
	l.mu.Unlock()
	cb(l.isCoordinator)
	return id
}

// UnsubscribeClusterLeadership implements datamigrations.LeadershipWatcher.
func (l *StaticLeadership) UnsubscribeClusterLeadership(id datamigrations.SubscriptionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.mu.clusterSubs, id)
}

// SubscribeReplicaLeadership implements datamigrations.LeadershipWatcher,
// delivering true immediately and on every later call: every replica this
// node is asked about is treated as locally led.
func (l *StaticLeadership) SubscribeReplicaLeadership(
	ntp datamigrations.NTP, cb func(bool),
) datamigrations.SubscriptionID {
	l.mu.Lock()
	id := datamigrations.NewSubscriptionID()
	if l.mu.replicaSubs[ntp] == nil {
		l.mu.replicaSubs[ntp] = make(map[datamigrations.SubscriptionID]func(bool))
	}
	l.mu.replicaSubs[ntp][id] = cb
	l.mu.Unlock()
	cb(true)
	return id
}

// UnsubscribeReplicaLeadership implements datamigrations.LeadershipWatcher.
func (l *StaticLeadership) UnsubscribeReplicaLeadership(ntp datamigrations.NTP, id datamigrations.SubscriptionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.mu.replicaSubs[ntp], id)
}
