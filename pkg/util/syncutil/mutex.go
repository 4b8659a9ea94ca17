// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package syncutil provides the small set of synchronization primitives
// used throughout this repository.
package syncutil

import "sync"

// A Mutex is a mutual exclusion lock. It embeds sync.Mutex and exists so
// that call sites can always write "syncutil.Mutex" for the lock embedded
// in a component's state, regardless of which concrete implementation
// backs it.
type Mutex struct {
	sync.Mutex
}

// An RWMutex is a reader/writer mutual exclusion lock.
type RWMutex struct {
	sync.RWMutex
}
