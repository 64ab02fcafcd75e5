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

package syncprim

import (
	"container/list"
	"sync"

	"github.com/probeum/raya/common"
	"github.com/probeum/raya/sched"
)

// semEntry is one counting semaphore: available permits plus a FIFO wait
// queue, the same registry slot shape as mutexEntry.
type semEntry struct {
	permits uint32
	waiters *list.List // of sched.TaskID
}

// SemRegistry is the isolate-wide counting-semaphore table backing the
// new_semaphore / acquire / release opcode family.
type SemRegistry struct {
	mu      sync.Mutex
	entries map[uint64]*semEntry
	next    uint64
	waker   Waker
}

func NewSemRegistry(waker Waker) *SemRegistry {
	return &SemRegistry{entries: make(map[uint64]*semEntry), waker: waker}
}

// Create allocates a semaphore with the given initial permit count.
func (r *SemRegistry) Create(permits uint32) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	r.entries[id] = &semEntry{permits: permits, waiters: list.New()}
	return id
}

// Acquire takes one permit for task t. If none are available, t is enqueued
// on the wait list and ok is false — the caller must then suspend t.
func (r *SemRegistry) Acquire(semID uint64, t sched.TaskID) (ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.entries[semID]
	if !found {
		return false, common.New(common.KindResource, "unknown semaphore id %d", semID)
	}
	if e.permits > 0 {
		e.permits--
		return true, nil
	}
	e.waiters.PushBack(t)
	return false, nil
}

// Release returns one permit. If a waiter is parked, the permit is handed
// to it directly (it is woken holding the permit, so FIFO order holds).
func (r *SemRegistry) Release(semID uint64) error {
	r.mu.Lock()
	e, found := r.entries[semID]
	if !found {
		r.mu.Unlock()
		return common.New(common.KindResource, "unknown semaphore id %d", semID)
	}
	front := e.waiters.Front()
	if front == nil {
		e.permits++
		r.mu.Unlock()
		return nil
	}
	next := e.waiters.Remove(front).(sched.TaskID)
	r.mu.Unlock()

	r.waker.Enqueue(next)
	return nil
}

// Available reports the current free permit count, for debug dumps.
func (r *SemRegistry) Available(semID uint64) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[semID]
	if !ok {
		return 0, false
	}
	return e.permits, true
}
