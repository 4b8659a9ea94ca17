// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package retry implements a jittered, capped exponential backoff
// schedule (100ms up to 5s by default).
package retry

import (
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
)

// Options configures a backoff schedule. The zero value is not usable;
// construct via DefaultOptions or set every field explicitly.
type Options struct {
	// InitialBackoff is the duration waited before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the computed backoff.
	MaxBackoff time.Duration
	// Multiplier scales the backoff on each successive retry.
	Multiplier float64
	// RandomizationFactor jitters each computed backoff by +/- this
	// fraction, e.g. 0.15 means +/- 15%.
	RandomizationFactor float64
}

// DefaultOptions returns a sensible default schedule for per-node RPC
// retries: a 100ms initial backoff doubling up to a 5s cap, jittered +/- 15%.
func DefaultOptions() Options {
	return Options{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
		Multiplier: 2,
		RandomizationFactor: 0.15,
	}
}

// Backoff tracks the current position in an Options-defined schedule for
// a single retrying entity (e.g. one per-node RPC retry timer). It is not
// safe for concurrent use; callers needing per-key backoff (as dmbackend
// does, one per node) keep one Backoff per key.
type Backoff struct {
	opts Options
	current time.Duration
}

// NewBackoff constructs a Backoff at its first step.
func NewBackoff(opts Options) *Backoff {
	if opts.InitialBackoff <= 0 || opts.MaxBackoff <= 0 || opts.Multiplier <= 1 {
		panic(errors.AssertionFailedf("invalid retry.Options: %+v", opts))
	}
	return &Backoff{opts: opts}
}

// NextDelay returns the delay to wait before the next attempt and advances
// the schedule. The very first call returns (a jittered) InitialBackoff.
func (b *Backoff) NextDelay() time.Duration {
	if b.current == 0 {
		b.current = b.opts.InitialBackoff
	} else {
		b.current = time.Duration(float64(b.current) * b.opts.Multiplier)
		if b.current > b.opts.MaxBackoff {
			b.current = b.opts.MaxBackoff
		}
	}
	return jitter(b.current, b.opts.RandomizationFactor)
}

// Reset returns the schedule to its initial position, for use once a
// node replies successfully.
func (b *Backoff) Reset() { b.current = 0 }

func jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	delta := float64(d) * factor
	min := float64(d) - delta
	max := float64(d) + delta
	return time.Duration(min + rand.Float64() * (max-min))
}
