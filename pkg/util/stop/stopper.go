// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package stop provides a small cooperative-shutdown primitive: callers
// fork tracked background tasks off of a Stopper, observe its
// ShouldQuiesce channel at every suspension point, and wait for every
// tracked task to drain on Stop.
package stop

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrUnavailable is returned by RunAsyncTask once the Stopper has begun
// quiescing; no new tasks may be started past that point.
var ErrUnavailable = errors.New("stopper is quiescing")

// Stopper coordinates the cooperative shutdown of a set of background
// tasks.
type Stopper struct {
	quiesce chan struct{}
	once sync.Once
	wg sync.WaitGroup

	mu struct {
		sync.Mutex
		quiescing bool
	}
}

// New constructs a Stopper in the running state.
func New() *Stopper {
	return &Stopper{quiesce: make(chan struct{})}
}

// ShouldQuiesce returns a channel that is closed once Stop has been
// called. Every blocking loop in this repository selects on it.
func (s *Stopper) ShouldQuiesce() <-chan struct{} {
	return s.quiesce
}

// RunAsyncTask forks fn in its own goroutine, tracked so that Stop waits
// for it to return. It returns ErrUnavailable, without running fn, if the
// Stopper is already quiescing.
func (s *Stopper) RunAsyncTask(ctx context.Context, name string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	if s.mu.quiescing {
		s.mu.Unlock()
		return errors.Wrapf(ErrUnavailable, "starting task %q", name)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
	return nil
}

// WithCancelOnQuiesce returns a context derived from ctx that is cancelled
// either when ctx is done or when the Stopper begins quiescing, along with
// the corresponding cancel function.
func (s *Stopper) WithCancelOnQuiesce(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.quiesce:
			cancel()
		case <-cctx.Done():
		}
	}()
	return cctx, cancel
}

// Stop signals quiescence and blocks until every task started via
// RunAsyncTask has returned, or ctx is done, whichever comes first.
func (s *Stopper) Stop(ctx context.Context) {
	s.once.Do(func() {
		s.mu.Lock()
		s.mu.quiescing = true
		s.mu.Unlock()
		close(s.quiesce)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
