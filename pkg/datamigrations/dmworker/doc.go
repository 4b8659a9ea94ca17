// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package dmworker implements the per-shard manager of locally-owned
// partition work. One Worker exists per shard; the
// reconciliation backend (dmbackend) dispatches a partition-scoped action to
// the owning shard's Worker whenever the local replica is the leader of its
// partition.
package dmworker
