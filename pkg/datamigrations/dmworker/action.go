// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmworker

import (
	"context"

	"github.com/sileht/redpanda/pkg/datamigrations"
)

// InboundInfo carries the detail an inbound partition action needs beyond
// the NTP and migration id: the external source topic it is pulling from
// and, when the migration renames the topic, the local destination name.
type InboundInfo struct {
	SourceTopic datamigrations.TopicID
	DestinationTopic datamigrations.TopicID
}

// OutboundInfo carries the detail an outbound partition action needs. It
// attaches no extra fields beyond the NTP itself; the type exists so
// PartitionWork.Info stays a tagged variant rather than growing ad hoc
// optional fields on PartitionWork.
type OutboundInfo struct{}

// PartitionWorkInfo is a tagged variant over inbound/outbound partition
// work. Exactly one of Inbound/Outbound is set, matching the
// (kind, sought_state) pair on the enclosing PartitionWork.
type PartitionWorkInfo struct {
	Inbound *InboundInfo
	Outbound *OutboundInfo
}

// PartitionWork is the unit of work a Worker manages for one NTP.
type PartitionWork struct {
	MigrationID datamigrations.ID
	Kind datamigrations.Kind
	SoughtState datamigrations.SoughtState
	Info PartitionWorkInfo
}

// PartitionAction is the actual per-partition data-movement work that the
// worker dispatches when the local replica of an NTP
// is its leader. Production deployments implement it for snapshotting,
// hand-off, and mount; this repository ships only the seam and a
// NoopActionFactory test helper.
type PartitionAction interface {
	Run(ctx context.Context, ntp datamigrations.NTP, work PartitionWork) error
}

// PartitionActionFactory resolves the PartitionAction to run for a given
// legal (kind, sought_state) combination. It is the knob a production
// binary plugs its real action implementations into, a swappable factory
// interface so tests can substitute a no-op action.
type PartitionActionFactory interface {
	ActionFor(kind datamigrations.Kind, state datamigrations.SoughtState) PartitionAction
}

// ActionFunc adapts a plain function to a PartitionAction.
type ActionFunc func(ctx context.Context, ntp datamigrations.NTP, work PartitionWork) error

// Run implements PartitionAction.
func (f ActionFunc) Run(ctx context.Context, ntp datamigrations.NTP, work PartitionWork) error {
	return f(ctx, ntp, work)
}

// NoopActionFactory returns a PartitionActionFactory whose actions succeed
// immediately, for tests that only need to exercise the Worker's state
// machine and not a real partition action.
func NoopActionFactory() PartitionActionFactory {
	return noopFactory{}
}

type noopFactory struct{}

func (noopFactory) ActionFor(datamigrations.Kind, datamigrations.SoughtState) PartitionAction {
	return ActionFunc(func(context.Context, datamigrations.NTP, PartitionWork) error { return nil })
}
