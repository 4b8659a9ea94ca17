// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package datamigrations

import "github.com/cockroachdb/errors"

// The sentinel errors below realize the error taxonomy every component
// classifies failures against. They are compared with errors.Is, so
// wrapping with errors.Wrap/errors.Wrapf anywhere in the stack does not
// break classification.
var (
	// ErrShuttingDown is returned once the process-wide abort signal has
	// been observed. It is never retried and propagates everywhere.
	ErrShuttingDown = errors.New("shutting down")

	// ErrInvalidMigrationState is returned to a caller whose in-flight
	// request was invalidated by a state change (stale work superseded,
	// or the replica lost before its action completed). Terminal for the
	// specific request; not retried by the caller that observes it.
	ErrInvalidMigrationState = errors.New("invalid data migration state")

	// ErrPartitionOperationFailed wraps an unexpected error (including a
	// recovered panic) from within a worker's partition action. Retryable.
	ErrPartitionOperationFailed = errors.New("partition operation failed")

	// ErrTransportFailure indicates an RPC could not be delivered or
	// decoded. Retryable, with backoff at the RPC layer.
	ErrTransportFailure = errors.New("transport failure")

	// ErrProposalRejected indicates the migration table declined an
	// advance proposal. Retried on the backend's next wakeup.
	ErrProposalRejected = errors.New("proposal rejected")
)

// IsRetryable reports whether err belongs to a class of error that the
// backend must retry internally rather than surface to a caller.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrPartitionOperationFailed):
		return true
	case errors.Is(err, ErrTransportFailure):
		return true
	case errors.Is(err, ErrProposalRejected):
		return true
	default:
		return false
	}
}

// IsTerminal reports whether err is terminal for the specific request that
// observed it (as opposed to being retried transparently).
func IsTerminal(err error) bool {
	switch {
	case errors.Is(err, ErrShuttingDown):
		return true
	case errors.Is(err, ErrInvalidMigrationState):
		return true
	default:
		return false
	}
}

// assertionf builds a programmer-error using the same
// formatting machinery as every other AssertionFailedf call in this
// package.
func assertionf(format string, args ...interface{}) error {
	return errors.AssertionFailedf(format, args...)
}

// AssertLegalWorkerAction panics (via errors.AssertionFailedf, which fails
// the process loudly as a programmer error) if kind and
// state do not form one of the legal per-partition worker-action
// combinations.
func AssertLegalWorkerAction(kind Kind, state SoughtState) {
	if !RequiresWorkerAction(kind, state) {
		panic(errors.AssertionFailedf(
			"programmer error: (%s, %s) is not a legal worker-action combination", kind, state))
	}
}
