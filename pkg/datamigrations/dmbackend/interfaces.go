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
)

// PeerClient is the outbound half of the opaque peer-RPC channel.
// dmrpc.GRPCDialer implements it in production; tests substitute an
// in-memory fake.
type PeerClient interface {
	CheckNTPStates(
		ctx context.Context, node datamigrations.NodeID, queries []dmrpc.StateQuery,
	) ([]dmrpc.StateAnswer, error)
}

// WorkerLocator resolves the per-shard dmworker.Worker that owns a given
// NTP and dispatches to it: the worker exposes a shard-local API per
// shard and is invoked cross-shard via message-passing. A single-process
// deployment with one shard per node implements this by holding a
// map[ShardID]*dmworker.Worker; tests substitute an in-memory fake that
// invokes the target Worker directly.
type WorkerLocator interface {
	// Perform dispatches work to the Worker owning shard for ntp. The
	// returned Future resolves on the action's terminal completion.
	Perform(
		ctx context.Context, shard datamigrations.ShardID, ntp datamigrations.NTP, work dmworker.PartitionWork,
	) *dmworker.Future

	// Abort cancels the managed entry for ntp on shard's Worker, if its
	// (migration, sought_state) still matches.
	Abort(
		shard datamigrations.ShardID, ntp datamigrations.NTP,
		migration datamigrations.ID, state datamigrations.SoughtState,
	)
}
