// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package dmrpc implements the RPC peer endpoint that serves
// check_ntp_states requests by querying the local driver on this node,
// plus the production gRPC transport that carries it and the
// coordinator-only introspection RPC. The reconciler logic (Endpoint) is
// transport-agnostic; Server and GRPCDialer are the concrete
// implementation behind the abstract, opaque peer-RPC channel.
package dmrpc
