// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Package safepoint implements the stop-the-world coordinator every
// scheduler worker polls at well-known points: a back edge, a function
// call, and an allocation slow path.
package safepoint

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/probeum/raya/common"
)

// Reason identifies why a pause was requested.
type Reason uint8

const (
	ReasonGC Reason = iota
	ReasonSnapshot
	ReasonDebug
)

func (r Reason) String() string {
	switch r {
	case ReasonGC:
		return "gc"
	case ReasonSnapshot:
		return "snapshot"
	case ReasonDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// Stats accumulates safepoint observability counters.
type Stats struct {
	Total         uint64
	TotalPause    int64
	MaxPause      int64
}

// Coordinator is the single per-isolate safepoint authority. Exactly one
// pause may be active at a time; a second request
// while one is in flight is rejected with ErrSafepointAlreadyBusy rather
// than silently queued.
type Coordinator struct {
	workers int32 // registered worker count

	pending int32 // atomic: 1 while a pause is requested
	reason  int32 // atomic Reason, valid while pending != 0

	mu       sync.Mutex
	cond     *sync.Cond
	atPause  int32 // workers currently parked at the safepoint
	release  bool  // set by Resume to wake parked workers

	stats Stats
}

// New creates a coordinator for an isolate with the given worker count
// (the scheduler registers/deregisters workers as it scales).
func New(workers int) *Coordinator {
	c := &Coordinator{workers: int32(workers)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SetWorkerCount updates how many workers must reach the safepoint before
// a pause is considered acknowledged. Called by the scheduler when it
// spins up or tears down worker goroutines.
func (c *Coordinator) SetWorkerCount(n int) {
	atomic.StoreInt32(&c.workers, int32(n))
}

// Poll is the fast path called at every back edge, call, and allocation
// slow path: one atomic load when no pause is pending, keeping polling
// overhead negligible on the hot path.
func (c *Coordinator) Poll() {
	if atomic.LoadInt32(&c.pending) == 0 {
		return
	}
	c.parkAtSafepoint()
}

// parkAtSafepoint is the slow path: increment the arrived-worker counter,
// then block until Resume releases the pause.
func (c *Coordinator) parkAtSafepoint() {
	c.mu.Lock()
	c.atPause++
	c.cond.Broadcast() // wake Wait() if it's polling the arrival count
	for atomic.LoadInt32(&c.pending) != 0 && !c.release {
		c.cond.Wait()
	}
	c.atPause--
	c.mu.Unlock()
}

// Request begins a pause for the given reason. It returns an error if a
// pause is already active; callers (GC, snapshot, debugger) must serialize
// their own requests upstream of this call if they want queuing instead.
func (c *Coordinator) Request(reason Reason) error {
	if !atomic.CompareAndSwapInt32(&c.pending, 0, 1) {
		return common.ErrSafepointAlreadyBusy
	}
	atomic.StoreInt32(&c.reason, int32(reason))
	c.mu.Lock()
	c.release = false
	c.mu.Unlock()
	return nil
}

// Wait blocks until every registered worker has reached the safepoint (or
// timeout elapses, in which case it returns false — a caller that treats
// this as a hang should fail the isolate rather than spin forever). Each
// worker's arrival broadcasts on the same condition variable Wait blocks
// on, and Wait re-checks the deadline on every wake; a helper goroutine
// broadcasts once the timeout passes so Wait also wakes when no worker
// arrives.
func (c *Coordinator) Wait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-time.After(time.Until(deadline)):
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-done:
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.atPause < atomic.LoadInt32(&c.workers) {
		if time.Now().After(deadline) {
			return false
		}
		c.cond.Wait()
	}
	return true
}

// WaitOthers is Wait for a requester that is itself one of the registered
// workers (the common case: a GC triggered from an allocation slow path
// inside a worker). The requesting worker never parks in Poll, so only
// workers-1 arrivals are expected.
func (c *Coordinator) WaitOthers(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-time.After(time.Until(deadline)):
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-done:
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.atPause < atomic.LoadInt32(&c.workers)-1 {
		if time.Now().After(deadline) {
			return false
		}
		c.cond.Wait()
	}
	return true
}

// Resume ends the active pause, releasing every parked worker, and folds
// the pause duration (measured by the caller, typically from Request to
// Resume) into the observability stats.
func (c *Coordinator) Resume(pauseDuration time.Duration) {
	c.mu.Lock()
	c.release = true
	atomic.StoreInt32(&c.pending, 0)
	c.cond.Broadcast()
	c.mu.Unlock()

	nanos := pauseDuration.Nanoseconds()
	atomic.AddUint64(&c.stats.Total, 1)
	atomic.AddInt64(&c.stats.TotalPause, nanos)
	for {
		old := atomic.LoadInt64(&c.stats.MaxPause)
		if nanos <= old || atomic.CompareAndSwapInt64(&c.stats.MaxPause, old, nanos) {
			break
		}
	}
}

// ActiveReason reports the reason for the currently-pending pause, if any.
func (c *Coordinator) ActiveReason() (Reason, bool) {
	if atomic.LoadInt32(&c.pending) == 0 {
		return 0, false
	}
	return Reason(atomic.LoadInt32(&c.reason)), true
}

// Stats returns a snapshot of cumulative safepoint counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Total:      atomic.LoadUint64(&c.stats.Total),
		TotalPause: atomic.LoadInt64(&c.stats.TotalPause),
		MaxPause:   atomic.LoadInt64(&c.stats.MaxPause),
	}
}
