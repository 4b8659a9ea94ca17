// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmworker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/util/stop"
)

// fakeLeadership is a minimal datamigrations.LeadershipWatcher test double:
// callers set the leadership of an NTP with setLeader, which synchronously
// invokes every subscriber registered for that NTP, mirroring the immediate
// delivery of "current leadership" a real watcher performs on subscribe.
type fakeLeadership struct {
	mu sync.Mutex
	subs map[datamigrations.NTP]map[datamigrations.SubscriptionID]func(bool)
	lead map[datamigrations.NTP]bool
}

func newFakeLeadership() *fakeLeadership {
	return &fakeLeadership{
		subs: make(map[datamigrations.NTP]map[datamigrations.SubscriptionID]func(bool)),
		lead: make(map[datamigrations.NTP]bool),
	}
}

func (f *fakeLeadership) SubscribeClusterLeadership(func(bool)) datamigrations.SubscriptionID {
	panic("not used by dmworker tests")
}
func (f *fakeLeadership) UnsubscribeClusterLeadership(datamigrations.SubscriptionID) {
	panic("not used by dmworker tests")
}

func (f *fakeLeadership) SubscribeReplicaLeadership(
	ntp datamigrations.NTP, cb func(bool),
) datamigrations.SubscriptionID {
	f.mu.Lock()
	id := datamigrations.NewSubscriptionID()
	if f.subs[ntp] == nil {
		f.subs[ntp] = make(map[datamigrations.SubscriptionID]func(bool))
	}
	f.subs[ntp][id] = cb
	current := f.lead[ntp]
	f.mu.Unlock()

	cb(current)
	return id
}

func (f *fakeLeadership) UnsubscribeReplicaLeadership(ntp datamigrations.NTP, id datamigrations.SubscriptionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[ntp], id)
}

func (f *fakeLeadership) setLeader(ntp datamigrations.NTP, isLeader bool) {
	f.mu.Lock()
	f.lead[ntp] = isLeader
	cbs := make([]func(bool), 0, len(f.subs[ntp]))
	for _, cb := range f.subs[ntp] {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(isLeader)
	}
}

var _ datamigrations.LeadershipWatcher = (*fakeLeadership)(nil)

func testNTP() datamigrations.NTP {
	return datamigrations.NTP{
		Topic: datamigrations.TopicID{Namespace: "kafka", Topic: "t"},
		Partition: 0,
	}
}

func inboundWork(id datamigrations.ID) PartitionWork {
	return PartitionWork{
		MigrationID: id,
		Kind: datamigrations.KindInbound,
		SoughtState: datamigrations.StatePrepared,
		Info: PartitionWorkInfo{Inbound: &InboundInfo{}},
	}
}

func TestPerformRunsActionWhenLeader(t *testing.T) {
	leadership := newFakeLeadership()
	ntp := testNTP()
	leadership.setLeader(ntp, true)

	var ran int32
	factory := actionFactoryFunc(func(datamigrations.Kind, datamigrations.SoughtState) PartitionAction {
		return ActionFunc(func(context.Context, datamigrations.NTP, PartitionWork) error {
			ran++
			return nil
		})
	})

	stopper := stop.New()
	defer stopper.Stop(context.Background())
	w := New(0, factory, leadership, stopper, nil)

	future := w.Perform(context.Background(), ntp, inboundWork(7))
	err := future.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), ran)

	_, _, ok := w.Status(ntp)
	require.False(t, ok, "entry should be unmanaged after success")
}

func TestPerformDoesNotRunWhenFollower(t *testing.T) {
	leadership := newFakeLeadership()
	ntp := testNTP()
	// leadership defaults to false

	stopper := stop.New()
	defer stopper.Stop(context.Background())
	w := New(0, NoopActionFactory(), leadership, stopper, nil)

	future := w.Perform(context.Background(), ntp, inboundWork(1))

	select {
	case <-future.Done():
		t.Fatal("future resolved before leadership was granted")
	case <-time.After(20 * time.Millisecond):
	}

	leadership.setLeader(ntp, true)
	require.NoError(t, future.Wait(context.Background()))
}

func TestPerformStaleWorkResolvesOldFuture(t *testing.T) {
	leadership := newFakeLeadership()
	ntp := testNTP()

	block := make(chan struct{})
	factory := actionFactoryFunc(func(datamigrations.Kind, datamigrations.SoughtState) PartitionAction {
		return ActionFunc(func(ctx context.Context, _ datamigrations.NTP, _ PartitionWork) error {
			<-block
			return nil
		})
	})

	stopper := stop.New()
	defer func() {
		close(block)
		stopper.Stop(context.Background())
	}()
	w := New(0, factory, leadership, stopper, nil)
	leadership.setLeader(ntp, true)

	first := w.Perform(context.Background(), ntp, inboundWork(1))
	second := w.Perform(context.Background(), ntp, inboundWork(2))

	err := first.Wait(context.Background())
	require.ErrorIs(t, err, datamigrations.ErrInvalidMigrationState)

	select {
	case <-second.Done():
		t.Fatal("second future resolved while its action is still blocked")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAbortResolvesMatchingEntry(t *testing.T) {
	leadership := newFakeLeadership()
	ntp := testNTP()
	// not leader, so the action never runs and Abort finds it still pending.

	stopper := stop.New()
	defer stopper.Stop(context.Background())
	w := New(0, NoopActionFactory(), leadership, stopper, nil)

	future := w.Perform(context.Background(), ntp, inboundWork(1))
	w.Abort(ntp, 1, datamigrations.StatePrepared)

	err := future.Wait(context.Background())
	require.ErrorIs(t, err, datamigrations.ErrInvalidMigrationState)

	_, _, ok := w.Status(ntp)
	require.False(t, ok)
}

func TestAbortNoopOnMismatch(t *testing.T) {
	leadership := newFakeLeadership()
	ntp := testNTP()

	stopper := stop.New()
	defer stopper.Stop(context.Background())
	w := New(0, NoopActionFactory(), leadership, stopper, nil)

	future := w.Perform(context.Background(), ntp, inboundWork(1))
	w.Abort(ntp, 999, datamigrations.StatePrepared) // different migration id

	_, _, ok := w.Status(ntp)
	require.True(t, ok, "entry must survive a non-matching abort")

	select {
	case <-future.Done():
		t.Fatal("future must not resolve on a non-matching abort")
	case <-time.After(20 * time.Millisecond):
	}
}

// fakeRetryMetrics is a minimal RetryMetrics test double that counts calls.
type fakeRetryMetrics struct {
	mu sync.Mutex
	retries int
}

func (f *fakeRetryMetrics) IncWorkerRetries() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
}

func (f *fakeRetryMetrics) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retries
}

func TestRetryableErrorRespawnsWhileLeader(t *testing.T) {
	leadership := newFakeLeadership()
	ntp := testNTP()
	leadership.setLeader(ntp, true)

	var attempts int32
	factory := actionFactoryFunc(func(datamigrations.Kind, datamigrations.SoughtState) PartitionAction {
		return ActionFunc(func(context.Context, datamigrations.NTP, PartitionWork) error {
			attempts++
			if attempts < 3 {
				return datamigrations.ErrPartitionOperationFailed
			}
			return nil
		})
	})

	stopper := stop.New()
	defer stopper.Stop(context.Background())
	metrics := &fakeRetryMetrics{}
	w := New(0, factory, leadership, stopper, metrics)

	future := w.Perform(context.Background(), ntp, inboundWork(1))
	require.NoError(t, future.Wait(context.Background()))
	require.Equal(t, int32(3), attempts)
	require.Equal(t, 2, metrics.count(), "two retries expected before the third attempt succeeds")
}

func TestPanicInActionIsPartitionOperationFailed(t *testing.T) {
	leadership := newFakeLeadership()
	ntp := testNTP()
	leadership.setLeader(ntp, true)

	var attempts int32
	factory := actionFactoryFunc(func(datamigrations.Kind, datamigrations.SoughtState) PartitionAction {
		return ActionFunc(func(context.Context, datamigrations.NTP, PartitionWork) error {
			attempts++
			if attempts == 1 {
				panic("boom")
			}
			return nil
		})
	})

	stopper := stop.New()
	defer stopper.Stop(context.Background())
	w := New(0, factory, leadership, stopper, nil)

	future := w.Perform(context.Background(), ntp, inboundWork(1))
	require.NoError(t, future.Wait(context.Background()))
	require.Equal(t, int32(2), attempts)
}

func TestStopResolvesPendingFutures(t *testing.T) {
	leadership := newFakeLeadership()
	ntp := testNTP()
	// follower: action never runs, entry stays pending.

	stopper := stop.New()
	w := New(0, NoopActionFactory(), leadership, stopper, nil)

	future := w.Perform(context.Background(), ntp, inboundWork(1))
	w.Stop(context.Background())
	stopper.Stop(context.Background())

	err := future.Wait(context.Background())
	require.ErrorIs(t, err, datamigrations.ErrShuttingDown)
}

func TestLosingLeadershipDoesNotCancelInFlightAction(t *testing.T) {
	leadership := newFakeLeadership()
	ntp := testNTP()
	leadership.setLeader(ntp, true)

	release := make(chan struct{})
	factory := actionFactoryFunc(func(datamigrations.Kind, datamigrations.SoughtState) PartitionAction {
		return ActionFunc(func(ctx context.Context, _ datamigrations.NTP, _ PartitionWork) error {
			<-release
			return nil
		})
	})

	stopper := stop.New()
	defer stopper.Stop(context.Background())
	w := New(0, factory, leadership, stopper, nil)

	future := w.Perform(context.Background(), ntp, inboundWork(1))
	leadership.setLeader(ntp, false) // lose leadership mid-action

	select {
	case <-future.Done():
		t.Fatal("future resolved before in-flight action completed")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, future.Wait(context.Background()))
}

type actionFactoryFunc func(datamigrations.Kind, datamigrations.SoughtState) PartitionAction

func (f actionFactoryFunc) ActionFor(
	kind datamigrations.Kind, state datamigrations.SoughtState,
) PartitionAction {
	return f(kind, state)
}
