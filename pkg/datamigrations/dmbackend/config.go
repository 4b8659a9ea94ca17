// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package dmbackend

import (
	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/util/retry"
)

// Config bundles the collaborators and knobs Backend needs in a single
// constructor-argument struct rather than a long positional parameter
// list, naming each tunable rather than leaving it positional.
type Config struct {
	// Self is this node's id, used to answer "am I the destination of this
	// outbound RPC" and to skip issuing an RPC to ourselves.
	Self datamigrations.NodeID

	Table datamigrations.Table
	Topology datamigrations.TopologyWatcher
	Shards datamigrations.ShardAssignmentWatcher
	Leadership datamigrations.LeadershipWatcher
	Peers PeerClient
	Workers WorkerLocator

	// RetryOptions governs the per-node RPC backoff schedule for
	// check_ntp_states. Defaults to retry.DefaultOptions (100ms -> 5s,
	// jittered) if the zero value is passed.
	RetryOptions retry.Options

	// Metrics, if nil, defaults to a freshly constructed, unregistered
	// Metrics (see metrics.go).
	Metrics *Metrics
}

func (c *Config) setDefaults() {
	if c.RetryOptions == (retry.Options{}) {
		c.RetryOptions = retry.DefaultOptions()
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics()
	}
}
