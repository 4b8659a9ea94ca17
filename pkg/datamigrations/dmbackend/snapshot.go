// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmbackend

import "github.com/sileht/redpanda/pkg/datamigrations"

// ListOutstandingMigrations implements dmrpc.Introspector: it reports every
// migration this node currently coordinates that has not yet reached its
// sought state, and how many partitions of each of its topics remain
// outstanding. It returns an empty slice, never nil, so a JSON-encoding
// transport does not need special-casing.
func (b *Backend) ListOutstandingMigrations() []datamigrations.MigrationSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.mu.isCoordinator {
		return []datamigrations.MigrationSnapshot{}
	}

	snaps := make([]datamigrations.MigrationSnapshot, 0, len(b.mu.migrationStates))
	for id, mrs := range b.mu.migrationStates {
		topics := make([]datamigrations.TopicSnapshot, 0, len(mrs.outstandingTopics))
		for topic, ts := range mrs.outstandingTopics {
			topics = append(topics, datamigrations.TopicSnapshot{
				Topic: topic,
				OutstandingPartitions: len(ts.outstandingPartitions),
			})
		}
		snaps = append(snaps, datamigrations.MigrationSnapshot{
			ID: id,
			SoughtState: mrs.soughtState,
			Topics: topics,
		})
	}
	return snaps
}
