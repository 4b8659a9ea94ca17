// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package datamigrations

// Next computes the next sought state for a migration of the given kind
// currently at applied. It
// returns ok=false for a terminal applied state (finished, cancelled, and
// our deleted extension), at which point the migration has nothing further
// to seek.
//
// Next is a pure function: the backend never derives the next sought state
// from anything but the migration's durably-applied state and its kind, so
// it stays convergent across a coordinator failover.
func Next(kind Kind, applied SoughtState) (next SoughtState, ok bool) {
	if applied.IsTerminal() {
		return StateUnknown, false
	}
	switch kind {
	case KindInbound:
		switch applied {
		case StatePlanned:
			return StatePreparing, true
		case StatePreparing:
			return StatePrepared, true
		case StatePrepared:
			return StateExecuting, true
		case StateExecuting:
			return StateExecuted, true
		case StateExecuted:
			return StateFinishing, true
		case StateFinishing:
			return StateFinished, true
		}
	case KindOutbound:
		switch applied {
		case StatePlanned:
			return StatePreparing, true
		case StatePreparing:
			return StatePrepared, true
		case StatePrepared:
			return StateExecuting, true
		case StateExecuting:
			return StateExecuted, true
		case StateExecuted:
			return StateCutOver, true
		case StateCutOver:
			return StateFinished, true
		}
	}
	panic(AssertionKindStateUnreachable(kind, applied))
}

// AssertionKindStateUnreachable builds the programmer error raised when
// Next is asked about a (kind, applied) pair outside the successor table.
// Exported so tests can assert on it by type without duplicating the
// message.
func AssertionKindStateUnreachable(kind Kind, applied SoughtState) error {
	return assertionf("no successor defined for kind=%s applied=%s", kind, applied)
}
