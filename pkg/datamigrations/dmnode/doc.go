// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package dmnode assembles a single runnable node out of the reconciliation
// components: a migration table, a topology/shard/leadership collaborator
// trio, a worker per shard, and the gRPC client/server pair that carries
// check_ntp_states between nodes. The durable metadata log, the real topic
// topology store, and the real cluster-metadata leadership signal are
// external collaborators this repository does not own, so the watchers
// here are static, programmatically-driven stand-ins for them rather than
// a production implementation of those systems.
package dmnode
