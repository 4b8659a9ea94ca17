// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmrpc

import (
	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/datamigrations/dmrpc/dmrpcpb"
)

func ntpToWire(ntp datamigrations.NTP) *dmrpcpb.NTPKey {
	return &dmrpcpb.NTPKey{
		Namespace: ntp.Topic.Namespace,
		Topic: ntp.Topic.Topic,
		PartitionIndex: int32(ntp.Partition),
	}
}

func ntpFromWire(k *dmrpcpb.NTPKey) datamigrations.NTP {
	return datamigrations.NTP{
		Topic: datamigrations.TopicID{Namespace: k.Namespace, Topic: k.Topic},
		Partition: datamigrations.PartitionID(k.PartitionIndex),
	}
}

func queriesToWire(queries []StateQuery) []*dmrpcpb.StateQuery {
	out := make([]*dmrpcpb.StateQuery, len(queries))
	for i, q := range queries {
		out[i] = &dmrpcpb.StateQuery{
			Ntp: ntpToWire(q.NTP),
			MigrationID: int64(q.MigrationID),
			SoughtState: int32(q.SoughtState),
		}
	}
	return out
}

func queriesFromWire(queries []*dmrpcpb.StateQuery) []StateQuery {
	out := make([]StateQuery, len(queries))
	for i, q := range queries {
		out[i] = StateQuery{
			NTP: ntpFromWire(q.Ntp),
			MigrationID: datamigrations.ID(q.MigrationID),
			SoughtState: datamigrations.SoughtState(q.SoughtState),
		}
	}
	return out
}

func answersToWire(answers []StateAnswer) []*dmrpcpb.StateAnswer {
	out := make([]*dmrpcpb.StateAnswer, len(answers))
	for i, a := range answers {
		out[i] = &dmrpcpb.StateAnswer{
			Ntp: ntpToWire(a.NTP),
			MigrationID: int64(a.MigrationID),
			SoughtState: int32(a.SoughtState),
			Status: int32(a.Status),
		}
	}
	return out
}

func answersFromWire(answers []*dmrpcpb.StateAnswer) []StateAnswer {
	out := make([]StateAnswer, len(answers))
	for i, a := range answers {
		out[i] = StateAnswer{
			StateQuery: StateQuery{
				NTP: ntpFromWire(a.Ntp),
				MigrationID: datamigrations.ID(a.MigrationID),
				SoughtState: datamigrations.SoughtState(a.SoughtState),
			},
			Status: datamigrations.ReplicaStatus(a.Status),
		}
	}
	return out
}

func snapshotsFromWire(migrations []*dmrpcpb.OutstandingMigration) []datamigrations.MigrationSnapshot {
	out := make([]datamigrations.MigrationSnapshot, len(migrations))
	for i, m := range migrations {
		topics := make([]datamigrations.TopicSnapshot, len(m.Topics))
		for j, t := range m.Topics {
			topics[j] = datamigrations.TopicSnapshot{
				Topic: datamigrations.TopicID{Namespace: t.Namespace, Topic: t.Topic},
				OutstandingPartitions: int(t.OutstandingPartitions),
			}
		}
		out[i] = datamigrations.MigrationSnapshot{
			ID: datamigrations.ID(m.MigrationID),
			SoughtState: datamigrations.SoughtState(m.SoughtState),
			Topics: topics,
		}
	}
	return out
}
