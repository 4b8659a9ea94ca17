// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmbackend

import (
	"context"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/datamigrations/dmrpc"
	"github.com/sileht/redpanda/pkg/datamigrations/dmworker"
	"github.com/sileht/redpanda/pkg/util/syncutil"
)

// fakeTopology is an in-memory datamigrations.TopologyWatcher: partitions
// and replica assignments are set directly by tests via set; no delta
// stream is simulated unless a test calls push.
type fakeTopology struct {
	mu struct {
		syncutil.Mutex
		partitions map[datamigrations.TopicID][]datamigrations.PartitionID
		replicas map[datamigrations.NTP][]datamigrations.NodeID
		subs map[datamigrations.SubscriptionID]func(datamigrations.TopicDelta)
	}
}

func newFakeTopology() *fakeTopology {
	f := &fakeTopology{}
	f.mu.partitions = make(map[datamigrations.TopicID][]datamigrations.PartitionID)
	f.mu.replicas = make(map[datamigrations.NTP][]datamigrations.NodeID)
	f.mu.subs = make(map[datamigrations.SubscriptionID]func(datamigrations.TopicDelta))
	return f
}

func (f *fakeTopology) set(topic datamigrations.TopicID, replicasByPartition [][]datamigrations.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := make([]datamigrations.PartitionID, len(replicasByPartition))
	for i, nodes := range replicasByPartition {
		p := datamigrations.PartitionID(i)
		parts[i] = p
		f.mu.replicas[datamigrations.NTP{Topic: topic, Partition: p}] = nodes
	}
	f.mu.partitions[topic] = parts
}

func (f *fakeTopology) push(delta datamigrations.TopicDelta) {
	f.mu.Lock()
	subs := make([]func(datamigrations.TopicDelta), 0, len(f.mu.subs))
	for _, cb := range f.mu.subs {
		subs = append(subs, cb)
	}
	f.mu.Unlock()
	for _, cb := range subs {
		cb(delta)
	}
}

func (f *fakeTopology) Subscribe(cb func(datamigrations.TopicDelta)) datamigrations.SubscriptionID {
	id := datamigrations.NewSubscriptionID()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mu.subs[id] = cb
	return id
}

func (f *fakeTopology) Unsubscribe(id datamigrations.SubscriptionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.mu.subs, id)
}

func (f *fakeTopology) Partitions(
	_ context.Context, topic datamigrations.TopicID,
) ([]datamigrations.PartitionID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.mu.partitions[topic]
	return parts, ok, nil
}

func (f *fakeTopology) Replicas(
	_ context.Context, ntp datamigrations.NTP,
) ([]datamigrations.NodeID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nodes, ok := f.mu.replicas[ntp]
	return nodes, ok, nil
}

// fakeShards is a no-op datamigrations.ShardAssignmentWatcher; tests drive
// shard changes by calling Backend.handleShardChange directly.
type fakeShards struct{}

func (fakeShards) Subscribe(func(datamigrations.ShardAssignmentChange)) datamigrations.SubscriptionID {
	return datamigrations.NewSubscriptionID()
}
func (fakeShards) Unsubscribe(datamigrations.SubscriptionID) {}

// fakeLeadership is a datamigrations.LeadershipWatcher test double: tests
// drive cluster-leadership changes by calling Backend.handleLeadershipChange
// directly (Start is never invoked in these tests), and drive replica
// leadership via setLeader, which delivers synchronously to a
// SubscribeReplicaLeadership caller both immediately (mirroring a real
// watcher's "current status on subscribe" behavior) and on every later
// change.
type fakeLeadership struct {
	mu struct {
		syncutil.Mutex
		subs map[datamigrations.NTP]map[datamigrations.SubscriptionID]func(bool)
		lead map[datamigrations.NTP]bool
	}
}

func newFakeLeadership() *fakeLeadership {
	f := &fakeLeadership{}
	f.mu.subs = make(map[datamigrations.NTP]map[datamigrations.SubscriptionID]func(bool))
	f.mu.lead = make(map[datamigrations.NTP]bool)
	return f
}

func (f *fakeLeadership) setLeader(ntp datamigrations.NTP, isLeader bool) {
	f.mu.Lock()
	f.mu.lead[ntp] = isLeader
	subs := make([]func(bool), 0, len(f.mu.subs[ntp]))
	for _, cb := range f.mu.subs[ntp] {
		subs = append(subs, cb)
	}
	f.mu.Unlock()
	for _, cb := range subs {
		cb(isLeader)
	}
}

func (f *fakeLeadership) SubscribeClusterLeadership(func(bool)) datamigrations.SubscriptionID {
	return datamigrations.NewSubscriptionID()
}
func (f *fakeLeadership) UnsubscribeClusterLeadership(datamigrations.SubscriptionID) {}

func (f *fakeLeadership) SubscribeReplicaLeadership(
	ntp datamigrations.NTP, cb func(bool),
) datamigrations.SubscriptionID {
	f.mu.Lock()
	id := datamigrations.NewSubscriptionID()
	if f.mu.subs[ntp] == nil {
		f.mu.subs[ntp] = make(map[datamigrations.SubscriptionID]func(bool))
	}
	f.mu.subs[ntp][id] = cb
	current := f.mu.lead[ntp]
	f.mu.Unlock()
	cb(current)
	return id
}

func (f *fakeLeadership) UnsubscribeReplicaLeadership(ntp datamigrations.NTP, id datamigrations.SubscriptionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.mu.subs[ntp], id)
}

// fakePeers is an in-memory PeerClient routing CheckNTPStates calls to
// per-node dmrpc.Endpoint instances registered via register.
type fakePeers struct {
	mu struct {
		syncutil.Mutex
		endpoints map[datamigrations.NodeID]*dmrpc.Endpoint
		fail map[datamigrations.NodeID]bool
		calls int
	}
}

func newFakePeers() *fakePeers {
	p := &fakePeers{}
	p.mu.endpoints = make(map[datamigrations.NodeID]*dmrpc.Endpoint)
	p.mu.fail = make(map[datamigrations.NodeID]bool)
	return p
}

func (p *fakePeers) register(node datamigrations.NodeID, ep *dmrpc.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mu.endpoints[node] = ep
}

func (p *fakePeers) setFailing(node datamigrations.NodeID, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mu.fail[node] = fail
}

func (p *fakePeers) CheckNTPStates(
	ctx context.Context, node datamigrations.NodeID, queries []dmrpc.StateQuery,
) ([]dmrpc.StateAnswer, error) {
	p.mu.Lock()
	p.mu.calls++
	fail := p.mu.fail[node]
	ep := p.mu.endpoints[node]
	p.mu.Unlock()

	if fail {
		return nil, datamigrations.ErrTransportFailure
	}
	if ep == nil {
		return nil, datamigrations.ErrTransportFailure
	}
	return ep.CheckNTPStates(ctx, queries), nil
}

// fakeWorkers is an in-memory WorkerLocator dispatching directly to a
// dmworker.Worker keyed by shard.
type fakeWorkers struct {
	mu struct {
		syncutil.Mutex
		byShard map[datamigrations.ShardID]*dmworker.Worker
	}
}

func newFakeWorkers() *fakeWorkers {
	w := &fakeWorkers{}
	w.mu.byShard = make(map[datamigrations.ShardID]*dmworker.Worker)
	return w
}

func (w *fakeWorkers) register(shard datamigrations.ShardID, worker *dmworker.Worker) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mu.byShard[shard] = worker
}

func (w *fakeWorkers) Perform(
	ctx context.Context, shard datamigrations.ShardID, ntp datamigrations.NTP, work dmworker.PartitionWork,
) *dmworker.Future {
	w.mu.Lock()
	worker := w.mu.byShard[shard]
	w.mu.Unlock()
	if worker == nil {
		f := dmworker.NewFuture()
		return f
	}
	return worker.Perform(ctx, ntp, work)
}

func (w *fakeWorkers) Abort(
	shard datamigrations.ShardID, ntp datamigrations.NTP, migration datamigrations.ID, state datamigrations.SoughtState,
) {
	w.mu.Lock()
	worker := w.mu.byShard[shard]
	w.mu.Unlock()
	if worker != nil {
		worker.Abort(ntp, migration, state)
	}
}

