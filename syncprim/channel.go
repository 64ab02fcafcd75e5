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
	"github.com/probeum/raya/heap"
	"github.com/probeum/raya/object"
	"github.com/probeum/raya/sched"
	"github.com/probeum/raya/value"
)

// senderWait is a task parked trying to send v on a full channel.
type senderWait struct {
	task sched.TaskID
	v    value.Value
}

// Channels is the per-isolate owner of every channel's suspend/resume
// protocol. Channel's
// passive queue state lives in the heap as object.Channel; Channels is the
// one actor that mutates it, exactly like the object.Channel doc comment
// promises.
type Channels struct {
	mu    sync.Mutex
	h     *heap.Heap
	waker Waker

	senders   map[uint64]*list.List // channel handle -> *list.List of senderWait
	receivers map[uint64]*list.List // channel handle -> *list.List of sched.TaskID
}

func NewChannels(h *heap.Heap, waker Waker) *Channels {
	return &Channels{
		h:         h,
		waker:     waker,
		senders:   make(map[uint64]*list.List),
		receivers: make(map[uint64]*list.List),
	}
}

func (c *Channels) resolve(handle uint64) (*object.Channel, error) {
	obj, ok := c.h.Resolve(value.FromPtr(handle))
	if !ok {
		return nil, common.New(common.KindResource, "unknown channel handle %d", handle)
	}
	ch, ok := obj.(*object.Channel)
	if !ok {
		return nil, common.New(common.KindType, "handle %d is not a channel", handle)
	}
	return ch, nil
}

func (c *Channels) senderList(handle uint64) *list.List {
	l, ok := c.senders[handle]
	if !ok {
		l = list.New()
		c.senders[handle] = l
	}
	return l
}

func (c *Channels) receiverList(handle uint64) *list.List {
	l, ok := c.receivers[handle]
	if !ok {
		l = list.New()
		c.receivers[handle] = l
	}
	return l
}

// Send implements `send(v)`: if open and has space, enqueue
// and return (ok=true); if open and full, park t on the channel's send
// queue and return ok=false — the caller must then suspend t with
// SuspendReason{Kind: ChannelSend, ChannelID: handle, SendValue: v}.
func (c *Channels) Send(handle uint64, v value.Value, t sched.TaskID) (ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.resolve(handle)
	if err != nil {
		return false, err
	}
	if ch.Closed {
		return false, common.ErrSendOnClosedChannel
	}

	// A parked receiver takes priority over buffering, so rendezvous
	// (capacity 0) channels and FIFO ordering both work without a special
	// case: handing off directly to the oldest waiting receiver preserves
	// arrival order exactly as enqueue-then-dequeue would.
	if rl := c.receiverList(handle); rl.Len() > 0 {
		front := rl.Remove(rl.Front()).(sched.TaskID)
		c.wakeReceiver(front, v, nil)
		return true, nil
	}

	if ch.HasSpace() {
		ch.Queue = append(ch.Queue, v)
		return true, nil
	}

	c.senderList(handle).PushBack(senderWait{task: t, v: v})
	return false, nil
}

// Receive implements `receive`: dequeue if nonempty; suspend
// with ChannelReceive if empty and open; return (Null, true, nil) if empty
// and closed (ok=true, v=Null signals "channel closed").
func (c *Channels) Receive(handle uint64, t sched.TaskID) (v value.Value, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.resolve(handle)
	if err != nil {
		return value.Null, false, err
	}

	if len(ch.Queue) > 0 {
		v = ch.Queue[0]
		ch.Queue = ch.Queue[1:]
		c.admitOneSender(handle, ch)
		return v, true, nil
	}

	// A capacity-0 (rendezvous) channel never has room in Queue, so a
	// parked sender must be handed directly to an arriving receiver rather
	// than ever passing through the buffer.
	if sl := c.senderList(handle); sl.Len() > 0 {
		front := sl.Remove(sl.Front()).(senderWait)
		c.wakeSender(front.task, nil)
		return front.v, true, nil
	}

	if ch.Closed {
		return value.Null, true, nil
	}

	c.receiverList(handle).PushBack(t)
	return value.Null, false, nil
}

// admitOneSender moves the oldest parked sender's value into the now
// freed slot and wakes it, preserving FIFO order across the hand-off.
func (c *Channels) admitOneSender(handle uint64, ch *object.Channel) {
	sl := c.senderList(handle)
	front := sl.Front()
	if front == nil {
		return
	}
	sw := sl.Remove(front).(senderWait)
	ch.Queue = append(ch.Queue, sw.v)
	c.waker.Enqueue(sw.task)
}

// TrySend is the non-suspending variant: returns false immediately instead
// of parking when the channel has no space.
func (c *Channels) TrySend(handle uint64, v value.Value) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.resolve(handle)
	if err != nil {
		return false, err
	}
	if ch.Closed {
		return false, common.ErrSendOnClosedChannel
	}
	if rl := c.receiverList(handle); rl.Len() > 0 {
		front := rl.Remove(rl.Front()).(sched.TaskID)
		c.wakeReceiver(front, v, nil)
		return true, nil
	}
	if !ch.HasSpace() {
		return false, nil
	}
	ch.Queue = append(ch.Queue, v)
	return true, nil
}

// TryReceive is the non-suspending variant: ok=false means "would have
// blocked" rather than "channel closed" — closed-and-empty still reports
// ok=true with a Null value, matching Receive's contract.
func (c *Channels) TryReceive(handle uint64) (v value.Value, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.resolve(handle)
	if err != nil {
		return value.Null, false, err
	}
	if len(ch.Queue) > 0 {
		v = ch.Queue[0]
		ch.Queue = ch.Queue[1:]
		c.admitOneSender(handle, ch)
		return v, true, nil
	}
	if sl := c.senderList(handle); sl.Len() > 0 {
		front := sl.Remove(sl.Front()).(senderWait)
		c.wakeSender(front.task, nil)
		return front.v, true, nil
	}
	if ch.Closed {
		return value.Null, true, nil
	}
	return value.Null, false, nil
}

// Close implements `close`: sets the flag, wakes every parked
// sender with failure and every parked receiver with null.
func (c *Channels) Close(handle uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.resolve(handle)
	if err != nil {
		return err
	}
	if ch.Closed {
		return nil
	}
	ch.Closed = true

	sl := c.senderList(handle)
	for e := sl.Front(); e != nil; e = e.Next() {
		sw := e.Value.(senderWait)
		c.wakeSender(sw.task, common.ErrSendOnClosedChannel)
	}
	sl.Init()

	rl := c.receiverList(handle)
	for e := rl.Front(); e != nil; e = e.Next() {
		c.wakeReceiver(e.Value.(sched.TaskID), value.Null, nil)
	}
	rl.Init()

	return nil
}

// wakeReceiver and wakeSender resume a parked task with its outcome via
// the shared Waker contract.
func (c *Channels) wakeReceiver(t sched.TaskID, v value.Value, err error) {
	c.waker.Resume(t, v, err)
}

func (c *Channels) wakeSender(t sched.TaskID, err error) {
	c.waker.Resume(t, value.Null, err)
}
