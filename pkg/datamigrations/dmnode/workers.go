// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmnode

import (
	"context"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/datamigrations/dmworker"
)

// LocalWorkers implements dmbackend.WorkerLocator over a fixed set of
// in-process dmworker.Worker instances, one per shard: the deployment this
// repository targets runs every shard of a node in the same process, so
// dispatch is a direct map lookup rather than a cross-process hop.
type LocalWorkers struct {
	byShard map[datamigrations.ShardID]*dmworker.Worker
}

// NewLocalWorkers constructs a LocalWorkers over the given shard-to-Worker
// map. The caller retains ownership of each Worker for Stop.
func NewLocalWorkers(byShard map[datamigrations.ShardID]*dmworker.Worker) *LocalWorkers {
	return &LocalWorkers{byShard: byShard}
}

// Perform implements dmbackend.WorkerLocator.
func (w *LocalWorkers) Perform(
	ctx context.Context, shard datamigrations.ShardID, ntp datamigrations.NTP, work dmworker.PartitionWork,
) *dmworker.Future {
	worker, ok := w.byShard[shard]
	if !ok {
		f := dmworker.NewFuture()
		return f
	}
	return worker.Perform(ctx, ntp, work)
}

// Abort implements dmbackend.WorkerLocator.
func (w *LocalWorkers) Abort(
	shard datamigrations.ShardID, ntp datamigrations.NTP, migration datamigrations.ID, state datamigrations.SoughtState,
) {
	if worker, ok := w.byShard[shard]; ok {
		worker.Abort(ntp, migration, state)
	}
}
