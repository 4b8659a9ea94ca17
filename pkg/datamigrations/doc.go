// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package datamigrations defines the shared vocabulary of the data
// migration reconciliation core: identifiers, the sought-state successor
// table, the error taxonomy, and the interfaces each component (dmtable,
// dmworker, dmrpc, dmbackend) is built against.
package datamigrations
