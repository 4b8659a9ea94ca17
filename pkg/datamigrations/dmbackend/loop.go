// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmbackend

import (
	"context"
	"time"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/util/log"
)

// mainLoop implements the single-threaded cooperative
// scheduler: drain every pending notification, process retries and
// advances, then block until there is more work, the retry timer fires, or
// the process is asked to quiesce. It is forked once per Backend by Start
// and runs for the lifetime of the Stopper.
func (b *Backend) mainLoop(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	armed := false

	for {
		b.drainPendingMigrations(ctx)
		b.drainTopologyDeltas(ctx)
		b.drainPendingDiscovery(ctx)
		nextRetry, hasRetry := b.processDueRetries(ctx)
		b.processAdvanceRequests(ctx)
		b.publishMetrics()

		if hasRetry {
			if armed {
				timer.Stop()
			}
			timer.Reset(timeUntil(nextRetry))
			armed = true
		} else if armed {
			timer.Stop()
			armed = false
		}

		select {
		case <-b.wakeup:
		case <-timer.C:
			armed = false
		case <-ctx.Done():
			log.Migrations.Infof(ctx, "main loop stopping: %v", ctx.Err())
			return
		case <-b.stopper.ShouldQuiesce():
			log.Migrations.Infof(ctx, "main loop stopping: quiescing")
			return
		}
	}
}

func timeUntil(t time.Time) time.Duration {
	d := time.Until(t)
	if d < 0 {
		return 0
	}
	return d
}

// drainPendingMigrations integrates every migration id the migration table
// has reported changed since the last iteration.
func (b *Backend) drainPendingMigrations(ctx context.Context) {
	b.mu.Lock()
	ids := make([]datamigrations.ID, 0, len(b.mu.pendingMigrations))
	for id := range b.mu.pendingMigrations {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.integrateMigration(ctx, id)
	}
}

// drainTopologyDeltas folds every deferred topic-topology delta into
// pendingMigrations (so the affected migration's outstanding set is
// recomputed) and pendingDiscovery (so this node re-examines its own
// replica status for the NTP).
func (b *Backend) drainTopologyDeltas(ctx context.Context) {
	b.mu.Lock()
	deltas := b.mu.unprocessedDeltas
	b.mu.unprocessedDeltas = nil
	for _, delta := range deltas {
		if id, ok := b.mu.topicMigrationMap[delta.NTP.Topic]; ok {
			b.mu.pendingMigrations[id] = struct{}{}
		}
		b.mu.pendingDiscovery[delta.NTP] = struct{}{}
	}
	b.mu.Unlock()

	if len(deltas) > 0 {
		b.drainPendingMigrations(ctx)
	}
}

// drainPendingDiscovery resolves every NTP queued by
// ScheduleLocalWorkDiscovery/drainTopologyDeltas back to its owning
// migration and refreshes work_states for it.
func (b *Backend) drainPendingDiscovery(ctx context.Context) {
	b.mu.Lock()
	ntps := make([]datamigrations.NTP, 0, len(b.mu.pendingDiscovery))
	for ntp := range b.mu.pendingDiscovery {
		ntps = append(ntps, ntp)
	}
	b.mu.pendingDiscovery = make(map[datamigrations.NTP]struct{})
	b.mu.Unlock()

	for _, ntp := range ntps {
		b.discoverLocalWork(ctx, ntp)
	}
}

// processDueRetries implements the outbound RPC discipline:
// every node whose retry deadline has passed and that has no RPC in flight
// is dispatched exactly one sendRPC, maintaining "at most one in-flight
// check_ntp_states RPC per node". It reports the earliest pending deadline
// among nodes not dispatched this round, for the caller to arm a timer on.
func (b *Backend) processDueRetries(ctx context.Context) (next time.Time, hasNext bool) {
	b.mu.Lock()
	now := time.Now()
	var due []datamigrations.NodeID
	for node, at := range b.mu.nodesToRetry {
		if b.mu.nodesInFlight[node] {
			continue
		}
		if !at.After(now) {
			due = append(due, node)
			continue
		}
		if !hasNext || at.Before(next) {
			next, hasNext = at, true
		}
	}
	for _, node := range due {
		b.mu.nodesInFlight[node] = true
		delete(b.mu.nodesToRetry, node)
	}
	inFlight := 0
	for _, v := range b.mu.nodesInFlight {
		if v {
			inFlight++
		}
	}
	scheduled := len(b.mu.nodesToRetry)
	b.mu.Unlock()

	b.metrics.OutstandingNodeRPCs.Set(float64(inFlight + scheduled))

	for _, node := range due {
		node := node
		if err := b.stopper.RunAsyncTask(ctx, "dmbackend: check_ntp_states", func(ctx context.Context) {
			b.sendRPC(ctx, node)
		}); err != nil {
			log.Migrations.Warningf(ctx, "could not dispatch check_ntp_states to node %d: %v", node, err)
			b.mu.Lock()
			b.mu.nodesInFlight[node] = false
			b.mu.nodesToRetry[node] = now
			b.mu.Unlock()
		}
	}
	return next, hasNext
}

// publishMetrics updates the gauges whose value is cheapest to recompute
// from the current map sizes rather than maintain incrementally.
func (b *Backend) publishMetrics() {
	b.mu.Lock()
	defer b.mu.Unlock()
	migrationsByKind := map[datamigrations.Kind]int{}
	topicsByKind := map[datamigrations.Kind]int{}
	for _, mrs := range b.mu.migrationStates {
		migrationsByKind[mrs.kind]++
		topicsByKind[mrs.kind] += len(mrs.outstandingTopics)
	}

	b.metrics.OutstandingMigrations.Reset()
	for kind, n := range migrationsByKind {
		b.metrics.OutstandingMigrations.WithLabelValues(kind.String()).Set(float64(n))
	}

	b.metrics.OutstandingTopics.Reset()
	for kind, n := range topicsByKind {
		b.metrics.OutstandingTopics.WithLabelValues(kind.String()).Set(float64(n))
	}
}
