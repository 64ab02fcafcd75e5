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

package object

import "github.com/probeum/raya/value"

// Channel is a bounded or unbounded FIFO queue of values with an open/closed
// flag. Channel only holds the passive queue state; the
// suspend/resume protocol (parking senders/receivers, waking them in order)
// is implemented by package syncprim, which is the one actor allowed to
// mutate a Channel's queue, exactly as a GC object's payload is only ever
// mutated by the owning subsystem (here syncprim instead of the heap
// allocator) while the object header stays heap-owned.
type Channel struct {
	Header

	Queue     []value.Value
	Capacity  int // ignored when Unbounded is true
	Unbounded bool
	Closed    bool
}

// NewChannel allocates a channel. capacity == -1 means unbounded; capacity
// == 0 is a valid rendezvous channel (no buffering: every send must suspend
// until a receiver is waiting, and vice versa — see syncprim.Channel).
func NewChannel(capacity int) *Channel {
	c := &Channel{}
	if capacity < 0 {
		c.Unbounded = true
	} else {
		c.Capacity = capacity
	}
	c.Header.Kind = KindChannel
	return c
}

func (c *Channel) Len() int { return len(c.Queue) }

// HasSpace reports whether a value could be enqueued without suspending.
func (c *Channel) HasSpace() bool {
	return c.Unbounded || len(c.Queue) < c.Capacity
}

// Buffer is a raw mutable byte buffer used by native-call handlers that
// exchange bulk data with host I/O.
type Buffer struct {
	Header

	Bytes []byte
}

func NewBuffer(size int) *Buffer {
	b := &Buffer{Bytes: make([]byte, size)}
	b.Header.Kind = KindBuffer
	b.Header.ElementCount = uint32(size)
	b.Header.Size = uint32(size)
	return b
}
