// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmrpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sileht/redpanda/pkg/datamigrations"
)

type fakeDriver struct {
	entries map[datamigrations.NTP]datamigrations.ReplicaWorkState
	dispatched []datamigrations.NTP
	discovered []datamigrations.NTP
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{entries: make(map[datamigrations.NTP]datamigrations.ReplicaWorkState)}
}

func (d *fakeDriver) LookupReplicaWork(
	ntp datamigrations.NTP,
) (datamigrations.ReplicaWorkState, bool) {
	rws, ok := d.entries[ntp]
	return rws, ok
}

func (d *fakeDriver) Dispatch(ctx context.Context, ntp datamigrations.NTP) {
	d.dispatched = append(d.dispatched, ntp)
	rws := d.entries[ntp]
	rws.Status = datamigrations.ReplicaStatusCanRun
	d.entries[ntp] = rws
}

func (d *fakeDriver) ScheduleLocalWorkDiscovery(ntp datamigrations.NTP) {
	d.discovered = append(d.discovered, ntp)
}

func testNTP() datamigrations.NTP {
	return datamigrations.NTP{Topic: datamigrations.TopicID{Namespace: "kafka", Topic: "t"}, Partition: 0}
}

func TestCheckNTPStatesUnknownReportsWaitingAndSchedulesDiscovery(t *testing.T) {
	driver := newFakeDriver()
	ep := NewEndpoint(driver)

	answers := ep.CheckNTPStates(context.Background(), []StateQuery{
		{NTP: testNTP(), MigrationID: 7, SoughtState: datamigrations.StatePrepared},
	})

	require.Len(t, answers, 1)
	require.Equal(t, datamigrations.ReplicaStatusWaitingForRPC, answers[0].Status)
	require.Equal(t, []datamigrations.NTP{testNTP()}, driver.discovered)
	require.Empty(t, driver.dispatched)
}

func TestCheckNTPStatesWaitingWithShardDispatches(t *testing.T) {
	driver := newFakeDriver()
	shard := datamigrations.ShardID(3)
	driver.entries[testNTP()] = datamigrations.ReplicaWorkState{
		MigrationID: 7, SoughtState: datamigrations.StatePrepared,
		Shard: &shard, Status: datamigrations.ReplicaStatusWaitingForRPC,
	}
	ep := NewEndpoint(driver)

	answers := ep.CheckNTPStates(context.Background(), []StateQuery{
		{NTP: testNTP(), MigrationID: 7, SoughtState: datamigrations.StatePrepared},
	})

	require.Equal(t, datamigrations.ReplicaStatusCanRun, answers[0].Status)
	require.Equal(t, []datamigrations.NTP{testNTP()}, driver.dispatched)
}

func TestCheckNTPStatesWaitingWithoutShardStaysWaiting(t *testing.T) {
	driver := newFakeDriver()
	driver.entries[testNTP()] = datamigrations.ReplicaWorkState{
		MigrationID: 7, SoughtState: datamigrations.StatePrepared,
		Shard: nil, Status: datamigrations.ReplicaStatusWaitingForRPC,
	}
	ep := NewEndpoint(driver)

	answers := ep.CheckNTPStates(context.Background(), []StateQuery{
		{NTP: testNTP(), MigrationID: 7, SoughtState: datamigrations.StatePrepared},
	})

	require.Equal(t, datamigrations.ReplicaStatusWaitingForRPC, answers[0].Status)
	require.Empty(t, driver.dispatched)
}

func TestCheckNTPStatesCanRunReportsCanRun(t *testing.T) {
	driver := newFakeDriver()
	shard := datamigrations.ShardID(3)
	driver.entries[testNTP()] = datamigrations.ReplicaWorkState{
		MigrationID: 7, SoughtState: datamigrations.StatePrepared,
		Shard: &shard, Status: datamigrations.ReplicaStatusCanRun,
	}
	ep := NewEndpoint(driver)

	answers := ep.CheckNTPStates(context.Background(), []StateQuery{
		{NTP: testNTP(), MigrationID: 7, SoughtState: datamigrations.StatePrepared},
	})

	require.Equal(t, datamigrations.ReplicaStatusCanRun, answers[0].Status)
	require.Empty(t, driver.dispatched, "an already-dispatched entry is not re-dispatched")
}

func TestCheckNTPStatesDoneReportsDone(t *testing.T) {
	driver := newFakeDriver()
	shard := datamigrations.ShardID(3)
	driver.entries[testNTP()] = datamigrations.ReplicaWorkState{
		MigrationID: 7, SoughtState: datamigrations.StatePrepared,
		Shard: &shard, Status: datamigrations.ReplicaStatusDone,
	}
	ep := NewEndpoint(driver)

	answers := ep.CheckNTPStates(context.Background(), []StateQuery{
		{NTP: testNTP(), MigrationID: 7, SoughtState: datamigrations.StatePrepared},
	})

	require.Equal(t, datamigrations.ReplicaStatusDone, answers[0].Status)
}

func TestCheckNTPStatesStaleDisagreementRediscovers(t *testing.T) {
	driver := newFakeDriver()
	shard := datamigrations.ShardID(3)
	driver.entries[testNTP()] = datamigrations.ReplicaWorkState{
		MigrationID: 7, SoughtState: datamigrations.StatePrepared,
		Shard: &shard, Status: datamigrations.ReplicaStatusDone,
	}
	ep := NewEndpoint(driver)

	// A query for a newer sought state than what's locally tracked must be
	// treated as unknown, not answered from the stale entry.
	answers := ep.CheckNTPStates(context.Background(), []StateQuery{
		{NTP: testNTP(), MigrationID: 7, SoughtState: datamigrations.StateExecuted},
	})

	require.Equal(t, datamigrations.ReplicaStatusWaitingForRPC, answers[0].Status)
	require.Equal(t, []datamigrations.NTP{testNTP()}, driver.discovered)
}

func TestCheckNTPStatesIdempotent(t *testing.T) {
	driver := newFakeDriver()
	shard := datamigrations.ShardID(3)
	driver.entries[testNTP()] = datamigrations.ReplicaWorkState{
		MigrationID: 7, SoughtState: datamigrations.StatePrepared,
		Shard: &shard, Status: datamigrations.ReplicaStatusWaitingForRPC,
	}
	ep := NewEndpoint(driver)

	query := []StateQuery{{NTP: testNTP(), MigrationID: 7, SoughtState: datamigrations.StatePrepared}}
	first := ep.CheckNTPStates(context.Background(), query)
	second := ep.CheckNTPStates(context.Background(), query)

	require.Equal(t, first, second)
	require.Len(t, driver.dispatched, 1, "the second call observes can_run and does not re-dispatch")
}
