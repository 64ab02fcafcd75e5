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

// Package sched implements the cooperative task scheduler: per-worker LIFO
// deques feeding off a shared FIFO injector, work stealing, an I/O pool for
// blocking native calls, and a timer thread for sleeping tasks.
package sched

import (
	"sync"
	"time"

	"github.com/probeum/raya/value"
)

// TaskID is a process-unique task identifier, assigned by the scheduler in
// allocation order.
type TaskID uint64

// State is a task's lifecycle stage.
type State uint8

const (
	Created State = iota
	Running
	Suspended
	Resumed
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Resumed:
		return "resumed"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// SuspendKind discriminates the SuspendReason tagged union.
type SuspendKind uint8

const (
	AwaitTask SuspendKind = iota
	Sleep
	MutexLock
	ChannelSend
	ChannelReceive
	SemAcquire
	IoWait
)

// SuspendReason is the tagged union describing why a task gave up the CPU.
// Only the fields relevant to Kind are meaningful; the rest are zero.
type SuspendReason struct {
	Kind SuspendKind

	AwaitTaskID TaskID    // Kind == AwaitTask
	WakeAt      time.Time // Kind == Sleep
	MutexID     uint64    // Kind == MutexLock | SemAcquire
	ChannelID   uint64    // Kind == ChannelSend | ChannelReceive
	SendValue   value.Value
	Io          IoWork // Kind == IoWait: the blocking host work to hand to the I/O pool
}

// Task is the scheduler's unit of work: owning module/function, parameters,
// interpreter-owned execution state, and the bookkeeping the scheduler
// itself needs (state, waiters, suspend reason, preemption count).
//
// InterpState is opaque to package sched (an interface{} rather than a
// concrete interp.Frame stack) specifically to avoid an import cycle: sched
// must not depend on interp, since interp depends on sched to read/write
// Task fields while running one.
type Task struct {
	mu sync.Mutex

	ID       TaskID
	ModuleID uint32
	FuncID   uint32
	Params   []value.Value

	InterpState interface{}

	State       State
	Result      value.Value
	Exception   error
	Reason      SuspendReason
	ResumeValue value.Value

	Waiters []TaskID

	StartTime   time.Time
	Preemptions int
	Cancelled   bool
}

func newTask(id TaskID, moduleID, funcID uint32, params []value.Value) *Task {
	return &Task{ID: id, ModuleID: moduleID, FuncID: funcID, Params: params, State: Created}
}

// Snapshot is a point-in-time, lock-free copy of task bookkeeping, safe to
// read after the task's mutex has been released (e.g. for stats/debug
// dumps or snapshot.Envelope's Task segment).
type Snapshot struct {
	ID          TaskID
	State       State
	Preemptions int
	WaiterCount int
}

func (t *Task) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{ID: t.ID, State: t.State, Preemptions: t.Preemptions, WaiterCount: len(t.Waiters)}
}

// IsCancelled reports the cancellation flag; the interpreter checks this at
// every safepoint.
func (t *Task) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Cancelled
}

// TakeResume consumes the wakeup written by Scheduler.Resume: the resume
// value and any exception carried over from the waking agent (a failed
// awaited task, a closed channel, an I/O error). Both slots are cleared so
// a later suspension can't observe a stale wakeup.
func (t *Task) TakeResume() (value.Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.ResumeValue, t.Exception
	t.ResumeValue = value.Null
	t.Exception = nil
	return v, err
}

// CurrentState reads the task's lifecycle state under its lock.
func (t *Task) CurrentState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State
}

// TakeResult returns the completion result and exception once the task has
// finished; ok is false while it is still in flight.
func (t *Task) TakeResult() (v value.Value, exc error, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.State {
	case Completed:
		return t.Result, nil, true
	case Failed:
		return value.Null, t.Exception, true
	default:
		return value.Null, nil, false
	}
}

// GCRoots returns every value.Value currently reachable from this task's
// bookkeeping fields (params, result, resume value, and whatever the
// interpreter's InterpState exposes via the optional Rooter interface) —
// package heap's RootProvider for one task. The scheduler's aggregate
// RootProvider (see Scheduler.GCRoots) flattens this across every task it
// owns.
func (t *Task) GCRoots() []value.Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	roots := append([]value.Value{}, t.Params...)
	roots = append(roots, t.Result, t.ResumeValue, t.Reason.SendValue)
	if r, ok := t.InterpState.(interface{ GCRoots() []value.Value }); ok {
		roots = append(roots, r.GCRoots()...)
	}
	return roots
}
