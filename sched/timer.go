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

package sched

import (
	"container/heap"
	"sync"
	"time"
)

// timerEntry is one sleeping task, ordered by wake time.
type timerEntry struct {
	wakeAt time.Time
	taskID TaskID
}

// timerQueue is a container/heap min-heap of timerEntry, ordered soonest
// first.
type timerQueue []timerEntry

func (q timerQueue) Len() int            { return len(q) }
func (q timerQueue) Less(i, j int) bool  { return q[i].wakeAt.Before(q[j].wakeAt) }
func (q timerQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *timerQueue) Push(x interface{}) { *q = append(*q, x.(timerEntry)) }
func (q *timerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// timerThread owns every sleeping task for an isolate and re-enqueues them
// on wake.
type timerThread struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   timerQueue
	stopped bool

	onWake func(TaskID)
}

func newTimerThread(onWake func(TaskID)) *timerThread {
	t := &timerThread{onWake: onWake}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Schedule registers taskID to wake at wakeAt.
func (t *timerThread) Schedule(taskID TaskID, wakeAt time.Time) {
	t.mu.Lock()
	heap.Push(&t.queue, timerEntry{wakeAt: wakeAt, taskID: taskID})
	t.cond.Signal()
	t.mu.Unlock()
}

// Run is the timer thread's body; call it in its own goroutine. It returns
// once Stop is called.
func (t *timerThread) Run() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if t.stopped {
			return
		}
		if len(t.queue) == 0 {
			t.cond.Wait()
			continue
		}
		next := t.queue[0]
		wait := time.Until(next.wakeAt)
		if wait <= 0 {
			heap.Pop(&t.queue)
			t.mu.Unlock()
			t.onWake(next.taskID)
			t.mu.Lock()
			continue
		}
		// Wait for either the duration to elapse or a new, earlier timer to
		// be scheduled (Schedule's Signal wakes this Wait early).
		timer := time.AfterFunc(wait, func() {
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		})
		t.cond.Wait()
		timer.Stop()
	}
}

func (t *timerThread) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.cond.Broadcast()
	t.mu.Unlock()
}
