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

// injector is the scheduler-wide shared FIFO queue: newly spawned tasks and
// woken (Resumed) tasks land here when no worker's own deque is the more
// natural home for them.
type injector struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []TaskID
	closed bool
}

func newInjector() *injector {
	inj := &injector{}
	inj.cond = sync.NewCond(&inj.mu)
	return inj
}

func (inj *injector) push(id TaskID) {
	inj.mu.Lock()
	inj.items = append(inj.items, id)
	inj.cond.Signal()
	inj.mu.Unlock()
}

// tryPop removes and returns the oldest task without blocking.
func (inj *injector) tryPop() (TaskID, bool) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if len(inj.items) == 0 {
		return 0, false
	}
	id := inj.items[0]
	inj.items = inj.items[1:]
	return id, true
}

// close wakes every blocked popper so workers can observe shutdown.
func (inj *injector) close() {
	inj.mu.Lock()
	inj.closed = true
	inj.cond.Broadcast()
	inj.mu.Unlock()
}

func (inj *injector) len() int {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return len(inj.items)
}
