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

// Package syncprim implements the isolate-wide mutex and semaphore
// registries and the suspend-aware channel send/receive protocol. A task
// that cannot make progress is parked on a FIFO wait queue and woken
// through the Waker when the resource frees up; the queues use the standard
// library's container/list since a repo-internal wait queue has no
// ecosystem equivalent.
package syncprim

import (
	"container/list"
	"sync"

	"github.com/probeum/raya/common"
	"github.com/probeum/raya/sched"
	"github.com/probeum/raya/value"
)

// Waker is implemented by whatever owns task wakeups — package sched's
// Scheduler. Kept as a narrow interface here (rather than importing
// *sched.Scheduler directly) so tests can supply a fake.
type Waker interface {
	Enqueue(id sched.TaskID)
	Resume(id sched.TaskID, v value.Value, err error)
}

// mutexEntry is one mutex registry slot: holder task id (or none) plus a
// FIFO wait queue.
type mutexEntry struct {
	holder sched.TaskID
	held   bool
	waiters *list.List // of sched.TaskID
}

// MutexRegistry is centralized and shared within an isolate.
type MutexRegistry struct {
	mu      sync.Mutex
	entries map[uint64]*mutexEntry
	next    uint64
	waker   Waker
}

func NewMutexRegistry(waker Waker) *MutexRegistry {
	return &MutexRegistry{entries: make(map[uint64]*mutexEntry), waker: waker}
}

// Create allocates a fresh, unlocked mutex and returns its id.
func (r *MutexRegistry) Create() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	r.entries[id] = &mutexEntry{waiters: list.New()}
	return id
}

// Lock attempts to acquire mutexID for task T. If the mutex is free, it is
// acquired immediately and ok is true. If held, T is enqueued on the wait
// list and ok is false — the caller (the interpreter's MutexLock opcode)
// must then suspend T with SuspendReason{Kind: MutexLock, MutexID: id}.
func (r *MutexRegistry) Lock(mutexID uint64, t sched.TaskID) (ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.entries[mutexID]
	if !found {
		return false, common.New(common.KindResource, "unknown mutex id %d", mutexID)
	}
	if !e.held {
		e.held = true
		e.holder = t
		return true, nil
	}
	e.waiters.PushBack(t)
	return false, nil
}

// Unlock releases mutexID, held by task t. It is an error to unlock a
// mutex this task doesn't hold. If a waiter is queued, it becomes the new holder and is woken
// via Waker.Enqueue (pushed back onto the injector).
func (r *MutexRegistry) Unlock(mutexID uint64, t sched.TaskID) error {
	r.mu.Lock()
	e, found := r.entries[mutexID]
	if !found {
		r.mu.Unlock()
		return common.New(common.KindResource, "unknown mutex id %d", mutexID)
	}
	if !e.held || e.holder != t {
		r.mu.Unlock()
		return common.ErrUnbalancedUnlock
	}

	front := e.waiters.Front()
	if front == nil {
		e.held = false
		e.holder = 0
		r.mu.Unlock()
		return nil
	}

	next := e.waiters.Remove(front).(sched.TaskID)
	e.holder = next
	r.mu.Unlock()

	r.waker.Enqueue(next)
	return nil
}

// HolderOf reports the current holder of mutexID, if any.
func (r *MutexRegistry) HolderOf(mutexID uint64) (sched.TaskID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[mutexID]
	if !ok || !e.held {
		return 0, false
	}
	return e.holder, true
}

// WaiterCount reports how many tasks are parked on mutexID, for debug/
// stats dumps.
func (r *MutexRegistry) WaiterCount(mutexID uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[mutexID]
	if !ok {
		return 0
	}
	return e.waiters.Len()
}
