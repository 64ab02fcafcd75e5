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

import "sync"

// deque is a worker's private double-ended task queue: the owner pushes
// and pops from the back (LIFO, good cache locality for a worker chewing
// through its own spawned subtasks), while thieves steal from the front
// (FIFO). A plain mutex-guarded slice is the idiomatic Go choice here over
// a lock-free structure; the contention window is a handful of instructions
// and thieves only touch a victim's deque after their own runs dry.
type deque struct {
	mu    sync.Mutex
	items []TaskID
}

func newDeque() *deque { return &deque{} }

func (d *deque) pushBack(id TaskID) {
	d.mu.Lock()
	d.items = append(d.items, id)
	d.mu.Unlock()
}

func (d *deque) popBack() (TaskID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.items)
	if n == 0 {
		return 0, false
	}
	id := d.items[n-1]
	d.items = d.items[:n-1]
	return id, true
}

// stealFront removes and returns the oldest item, for a thief worker.
func (d *deque) stealFront() (TaskID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return 0, false
	}
	id := d.items[0]
	d.items = d.items[1:]
	return id, true
}

func (d *deque) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
