// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmbackend

import (
	"context"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/util/log"
)

// processAdvanceRequests dispatches every advance
// request not yet sent as a Table.ProposeAdvance call outside
// the lock; a request that fails to send is left for the next iteration to
// retry, and one that is superseded by a newer sought_state while in
// flight is simply overwritten (its stale result neither removes nor
// re-arms the newer request, since both are applied only while the
// request's sought_state still matches).
func (b *Backend) processAdvanceRequests(ctx context.Context) {
	b.mu.Lock()
	type pending struct {
		id datamigrations.ID
		sought datamigrations.SoughtState
	}
	var toSend []pending
	for id, info := range b.mu.advanceRequests {
		if info.sent {
			continue
		}
		info.sent = true
		toSend = append(toSend, pending{id: id, sought: info.soughtState})
	}
	b.mu.Unlock()

	for _, p := range toSend {
		p := p
		if err := b.stopper.RunAsyncTask(ctx, "dmbackend: propose advance", func(ctx context.Context) {
			b.proposeAdvance(ctx, p.id, p.sought)
		}); err != nil {
			log.Migrations.Warningf(ctx, "could not dispatch advance for migration %d: %v", p.id, err)
			b.markAdvanceUnsentIfCurrent(p.id, p.sought)
		}
	}
}

func (b *Backend) proposeAdvance(ctx context.Context, id datamigrations.ID, sought datamigrations.SoughtState) {
	b.metrics.AdvanceAttempts.WithLabelValues(sought.String()).Inc()
	err := b.table.ProposeAdvance(ctx, id, sought)
	if err != nil {
		b.metrics.AdvanceFailures.WithLabelValues(sought.String()).Inc()
		log.Migrations.Warningf(ctx, "propose_advance(%d, %s) failed: %v", id, sought, err)
		b.markAdvanceUnsentIfCurrent(id, sought)
		return
	}
	log.Migrations.Infof(ctx, "migration %d advanced to %s", id, sought)
	b.mu.Lock()
	if info, ok := b.mu.advanceRequests[id]; ok && info.soughtState == sought {
		delete(b.mu.advanceRequests, id)
	}
	b.mu.Unlock()
}

// markAdvanceUnsentIfCurrent re-arms retry for id's advance request,
// provided no newer sought_state has superseded the one that just failed.
func (b *Backend) markAdvanceUnsentIfCurrent(id datamigrations.ID, sought datamigrations.SoughtState) {
	b.mu.Lock()
	if info, ok := b.mu.advanceRequests[id]; ok && info.soughtState == sought {
		info.sent = false
	}
	b.mu.Unlock()
	b.signalWakeup()
}
