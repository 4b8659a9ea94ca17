// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package dmbackend implements the two-role reconciliation engine that
// runs on every node: a cluster coordinator tracking, per in-flight
// migration, which (topic, partition, replica-node) tuples have not yet
// reached the sought state; and a local-node driver tracking the subset
// of partitions this node owns a replica of. The advance dispatcher
// is a sub-part of the same backend (advance.go).
package dmbackend
