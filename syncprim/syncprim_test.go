package syncprim

import (
	"sync"
	"testing"

	"github.com/probeum/raya/common"
	"github.com/probeum/raya/heap"
	"github.com/probeum/raya/sched"
	"github.com/probeum/raya/value"
	"github.com/stretchr/testify/require"
)

// fakeWaker records resume calls instead of driving a real scheduler,
// letting these tests assert wakeups without standing up goroutines.
type fakeWaker struct {
	mu       sync.Mutex
	enqueued []sched.TaskID
	resumed  map[sched.TaskID]struct {
		v   value.Value
		err error
	}
}

func newFakeWaker() *fakeWaker {
	return &fakeWaker{resumed: make(map[sched.TaskID]struct {
		v   value.Value
		err error
	})}
}

func (f *fakeWaker) Enqueue(id sched.TaskID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, id)
}

func (f *fakeWaker) Resume(id sched.TaskID, v value.Value, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed[id] = struct {
		v   value.Value
		err error
	}{v, err}
	f.enqueued = append(f.enqueued, id)
}

func TestMutexLockUnlockFIFO(t *testing.T) {
	w := newFakeWaker()
	r := NewMutexRegistry(w)
	id := r.Create()

	ok, err := r.Lock(id, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.Lock(id, 2)
	require.NoError(t, err)
	require.False(t, ok) // parked

	ok, err = r.Lock(id, 3)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.Unlock(id, 1))
	require.Equal(t, []sched.TaskID{2}, w.enqueued) // FIFO: task 2 woken before 3

	holder, ok := r.HolderOf(id)
	require.True(t, ok)
	require.Equal(t, sched.TaskID(2), holder)

	require.ErrorIs(t, r.Unlock(id, 1), common.ErrUnbalancedUnlock)
}

func TestChannelSendReceiveRendezvous(t *testing.T) {
	w := newFakeWaker()
	h := heap.New(1, 0)
	chans := NewChannels(h, w)

	chVal, err := h.AllocChannel(0) // rendezvous: no buffering
	require.NoError(t, err)
	handle, _ := chVal.AsPtr()

	ok, err := chans.Send(handle, value.FromI32(1), 10)
	require.NoError(t, err)
	require.False(t, ok) // no receiver waiting yet, no buffer space: sender parks

	// A later arriving receiver must be handed the parked sender's value
	// directly, since a capacity-0 channel's Queue never holds anything.
	v, ok, err := chans.Receive(handle, 20)
	require.NoError(t, err)
	require.True(t, ok)
	i, _ := v.AsI32()
	require.Equal(t, int32(1), i)
	require.Contains(t, w.enqueued, sched.TaskID(10))
}

func TestChannelBoundedBackpressure(t *testing.T) {
	w := newFakeWaker()
	h := heap.New(1, 0)
	chans := NewChannels(h, w)

	chVal, err := h.AllocChannel(1)
	require.NoError(t, err)
	handle, _ := chVal.AsPtr()

	ok, err := chans.Send(handle, value.FromI32(1), 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = chans.Send(handle, value.FromI32(2), 2)
	require.NoError(t, err)
	require.False(t, ok) // full, task 2 parked

	v, ok, err := chans.Receive(handle, 3)
	require.NoError(t, err)
	require.True(t, ok)
	i, _ := v.AsI32()
	require.Equal(t, int32(1), i)

	// Draining one slot should have admitted task 2's pending send.
	require.Contains(t, w.enqueued, sched.TaskID(2))
}

func TestChannelCloseWakesParkedReceivers(t *testing.T) {
	w := newFakeWaker()
	h := heap.New(1, 0)
	chans := NewChannels(h, w)

	chVal, err := h.AllocChannel(0)
	require.NoError(t, err)
	handle, _ := chVal.AsPtr()

	_, ok, err := chans.Receive(handle, 7)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, chans.Close(handle))
	require.Contains(t, w.enqueued, sched.TaskID(7))

	v, ok, err := chans.Receive(handle, 8)
	require.NoError(t, err)
	require.True(t, ok) // closed+empty reports ok=true with Null
	require.True(t, v.IsNull())
}

func TestChannelTrySendTryReceive(t *testing.T) {
	w := newFakeWaker()
	h := heap.New(1, 0)
	chans := NewChannels(h, w)

	chVal, err := h.AllocChannel(1)
	require.NoError(t, err)
	handle, _ := chVal.AsPtr()

	ok, err := chans.TrySend(handle, value.FromI32(9))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = chans.TrySend(handle, value.FromI32(10))
	require.NoError(t, err)
	require.False(t, ok) // full, non-suspending

	v, ok, err := chans.TryReceive(handle)
	require.NoError(t, err)
	require.True(t, ok)
	i, _ := v.AsI32()
	require.Equal(t, int32(9), i)
}
