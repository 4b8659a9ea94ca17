// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmtable

import (
	"context"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/util/syncutil"
)

// InMemory is an in-memory, concurrency-safe datamigrations.Table, used by
// dmbackend's tests and by dmnode in place of the real durable
// cluster-metadata log. It fires subscriber callbacks synchronously from
// Put/Delete/ProposeAdvance, which is sufficient to drive dmbackend's
// tests without a real durable store.
type InMemory struct {
	mu struct {
		syncutil.Mutex
		records map[datamigrations.ID]datamigrations.MigrationRecord
		subs map[datamigrations.SubscriptionID]func(datamigrations.ID)
	}

	// ProposeAdvanceHook, if set, is called instead of mutating state
	// directly; it lets tests simulate rejection or a delayed/out-of-band
	// apply.
	ProposeAdvanceHook func(ctx context.Context, id datamigrations.ID, newState datamigrations.SoughtState) error
}

var _ datamigrations.Table = (*InMemory)(nil)

// New constructs an empty InMemory table.
func New() *InMemory {
	t := &InMemory{}
	t.mu.records = make(map[datamigrations.ID]datamigrations.MigrationRecord)
	t.mu.subs = make(map[datamigrations.SubscriptionID]func(datamigrations.ID))
	return t
}

// Put inserts or replaces the durable record for rec.ID and notifies every
// subscriber.
func (t *InMemory) Put(rec datamigrations.MigrationRecord) {
	t.mu.Lock()
	t.mu.records[rec.ID] = rec
	subs := t.snapshotSubsLocked()
	t.mu.Unlock()

	for _, cb := range subs {
		cb(rec.ID)
	}
}

// Delete removes the durable record for id and notifies every subscriber.
// A no-op, but still notifies, if id was not present (mirrors a durable log
// where the delete is itself the notified event).
func (t *InMemory) Delete(id datamigrations.ID) {
	t.mu.Lock()
	delete(t.mu.records, id)
	subs := t.snapshotSubsLocked()
	t.mu.Unlock()

	for _, cb := range subs {
		cb(id)
	}
}

func (t *InMemory) snapshotSubsLocked() []func(datamigrations.ID) {
	subs := make([]func(datamigrations.ID), 0, len(t.mu.subs))
	for _, cb := range t.mu.subs {
		subs = append(subs, cb)
	}
	return subs
}

// Snapshot implements datamigrations.Table.
func (t *InMemory) Snapshot(
	_ context.Context, id datamigrations.ID,
) (datamigrations.MigrationRecord, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.mu.records[id]
	return rec, ok, nil
}

// List implements datamigrations.Table.
func (t *InMemory) List(_ context.Context) ([]datamigrations.ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]datamigrations.ID, 0, len(t.mu.records))
	for id := range t.mu.records {
		ids = append(ids, id)
	}
	return ids, nil
}

// Subscribe implements datamigrations.Table.
func (t *InMemory) Subscribe(cb func(datamigrations.ID)) datamigrations.SubscriptionID {
	id := datamigrations.NewSubscriptionID()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mu.subs[id] = cb
	return id
}

// Unsubscribe implements datamigrations.Table. It is idempotent.
func (t *InMemory) Unsubscribe(id datamigrations.SubscriptionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.mu.subs, id)
}

// ProposeAdvance implements datamigrations.Table. Absent a
// ProposeAdvanceHook, it applies newState immediately and notifies
// subscribers, simulating a durable log that accepts every well-formed
// proposal.
func (t *InMemory) ProposeAdvance(
	ctx context.Context, id datamigrations.ID, newState datamigrations.SoughtState,
) error {
	if t.ProposeAdvanceHook != nil {
		return t.ProposeAdvanceHook(ctx, id, newState)
	}

	t.mu.Lock()
	rec, ok := t.mu.records[id]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	rec.AppliedState = newState
	t.mu.records[id] = rec
	subs := t.snapshotSubsLocked()
	t.mu.Unlock()

	for _, cb := range subs {
		cb(id)
	}
	return nil
}
