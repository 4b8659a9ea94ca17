// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmrpc

import (
	"context"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/util/log"
)

// LocalDriver is the narrow slice of the reconciliation backend's
// local-world state the RPC endpoint needs. It is
// implemented by dmbackend.Backend; the interface boundary keeps dmrpc from
// reaching into the backend's internals or its mutex, and lets tests
// substitute a fake.
type LocalDriver interface {
	// LookupReplicaWork returns the current replica_work_state for ntp, or
	// ok=false if this node manages no entry for it.
	LookupReplicaWork(ntp datamigrations.NTP) (datamigrations.ReplicaWorkState, bool)

	// Dispatch transitions ntp's managed entry from waiting_for_rpc to
	// can_run, dispatches the work on the owning worker shard, and attaches
	// a completion continuation that calls OnPartitionWorkCompleted. It is
	// only called when LookupReplicaWork reported a known shard.
	Dispatch(ctx context.Context, ntp datamigrations.NTP)

	// ScheduleLocalWorkDiscovery asks the local driver to (re)examine ntp's
	// topology and shard assignment, for an NTP this node does not yet (or
	// no longer) recognize as migration-bound work.
	ScheduleLocalWorkDiscovery(ntp datamigrations.NTP)
}

// Endpoint answers check_ntp_states
// requests by consulting a LocalDriver and, where appropriate, advancing
// the local replica's status. It holds no state of its own and is safe to
// construct once per node; every method runs on the single coordinator
// shard the backend schedules it on.
type Endpoint struct {
	driver LocalDriver
}

// NewEndpoint constructs an Endpoint backed by driver.
func NewEndpoint(driver LocalDriver) *Endpoint {
	return &Endpoint{driver: driver}
}

// StateQuery is one element of a CheckNTPStates request.
type StateQuery struct {
	NTP datamigrations.NTP
	MigrationID datamigrations.ID
	SoughtState datamigrations.SoughtState
}

// StateAnswer is one element of a CheckNTPStates reply.
type StateAnswer struct {
	StateQuery
	Status datamigrations.ReplicaStatus
}

// CheckNTPStates answers a batch of state queries: the reply
// reports, for each query tuple and in the same order, one of
// {waiting_for_rpc, can_run, done}. It is idempotent: a repeated query for
// the same tuple is answered from the current state without side effects
// beyond the dispatch/discovery it may have already triggered.
func (e *Endpoint) CheckNTPStates(
	ctx context.Context, queries []StateQuery,
) []StateAnswer {
	answers := make([]StateAnswer, len(queries))
	for i, q := range queries {
		answers[i] = StateAnswer{StateQuery: q, Status: e.answerOne(ctx, q)}
	}
	return answers
}

func (e *Endpoint) answerOne(ctx context.Context, q StateQuery) datamigrations.ReplicaStatus {
	rws, ok := e.driver.LookupReplicaWork(q.NTP)
	if !ok || rws.MigrationID != q.MigrationID || rws.SoughtState != q.SoughtState {
		// Absent, or present but disagreeing with the request -- report
		// waiting_for_rpc and ask the local driver to (re)discover this
		// NTP's work.
		log.Migrations.VInfof(ctx, 1,
			"check_ntp_states: %s unknown or stale locally (migration %d, state %s); scheduling discovery",
			q.NTP, q.MigrationID, q.SoughtState)
		e.driver.ScheduleLocalWorkDiscovery(q.NTP)
		return datamigrations.ReplicaStatusWaitingForRPC
	}

	switch rws.Status {
	case datamigrations.ReplicaStatusWaitingForRPC:
		if rws.Shard == nil {
			// Known work, but this node doesn't yet know which shard owns
			// the replica; nothing to dispatch yet.
			return datamigrations.ReplicaStatusWaitingForRPC
		}
		// Dispatch and report can_run. The backend is responsible
		// for flipping the status to can_run as part of Dispatch so a
		// concurrent repeated request observes the new status too.
		e.driver.Dispatch(ctx, q.NTP)
		return datamigrations.ReplicaStatusCanRun
	case datamigrations.ReplicaStatusCanRun:
		return datamigrations.ReplicaStatusCanRun
	case datamigrations.ReplicaStatusDone:
		return datamigrations.ReplicaStatusDone
	default:
		return datamigrations.ReplicaStatusWaitingForRPC
	}
}
