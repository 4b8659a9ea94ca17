// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package dmtable implements the migration table consumer: a
// read-only view of durably-recorded migrations plus change notifications.
// InMemory is a test double; production deployments
// implement datamigrations.Table against the real durable cluster-metadata
// log, which is out of scope for this repository.
package dmtable
