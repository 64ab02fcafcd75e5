package heap

import (
	"testing"

	"github.com/probeum/raya/value"
	"github.com/stretchr/testify/require"
)

// fakeRoots lets tests supply an arbitrary root set without standing up a
// scheduler or isolate.
type fakeRoots []value.Value

func (f fakeRoots) GCRoots() []value.Value { return f }

func TestAllocAndResolve(t *testing.T) {
	h := New(1, 0)
	v, err := h.AllocString([]byte("hi"))
	require.NoError(t, err)
	require.True(t, v.IsPtr())

	obj, ok := h.Resolve(v)
	require.True(t, ok)
	s, ok := obj.(interface{ String() string })
	require.True(t, ok)
	require.Equal(t, "hi", s.String())
}

func TestHeapCapExceeded(t *testing.T) {
	h := New(1, 4) // 4-byte cap
	_, err := h.AllocBuffer(8)
	require.Error(t, err)
}

func TestCollectFreesUnreachable(t *testing.T) {
	h := New(1, 0)

	kept, err := h.AllocString([]byte("kept"))
	require.NoError(t, err)
	_, err = h.AllocString([]byte("garbage"))
	require.NoError(t, err)
	require.Equal(t, 2, h.LiveObjects())

	stats := h.Collect(fakeRoots{kept})
	require.Equal(t, uint64(1), stats.ObjectsFreed)
	require.Equal(t, 1, h.LiveObjects())

	_, ok := h.Resolve(kept)
	require.True(t, ok)
}

func TestCollectTracesArrayElements(t *testing.T) {
	h := New(1, 0)

	inner, err := h.AllocString([]byte("inner"))
	require.NoError(t, err)
	arr, err := h.AllocArray(0, []value.Value{inner})
	require.NoError(t, err)

	h.Collect(fakeRoots{arr})

	_, ok := h.Resolve(inner)
	require.True(t, ok, "array element reachable from a root must survive")
}

func TestCollectHandlesCycles(t *testing.T) {
	h := New(1, 0)

	a, err := h.AllocObject(1, 1)
	require.NoError(t, err)
	b, err := h.AllocObject(1, 1)
	require.NoError(t, err)

	aObj, _ := h.Resolve(a)
	bObj, _ := h.Resolve(b)
	aObj.(interface {
		SetField(uint32, value.Value) bool
	}).SetField(0, b)
	bObj.(interface {
		SetField(uint32, value.Value) bool
	}).SetField(0, a)

	// Neither object is rooted: a self-referential pair of objects must
	// still be collected rather than kept alive forever by each other.
	stats := h.Collect(fakeRoots{})
	require.Equal(t, uint64(2), stats.ObjectsFreed)
	require.Equal(t, 0, h.LiveObjects())
}

func TestCollectTracesClosureCaptures(t *testing.T) {
	h := New(1, 0)

	captured, err := h.AllocString([]byte("captured"))
	require.NoError(t, err)
	closure, err := h.AllocClosure(42, []value.Value{captured})
	require.NoError(t, err)

	h.Collect(fakeRoots{closure})

	_, ok := h.Resolve(captured)
	require.True(t, ok, "closure capture reachable via PointerMap must survive")
}

func TestCollectTracesRefCell(t *testing.T) {
	h := New(1, 0)

	inner, err := h.AllocString([]byte("cell"))
	require.NoError(t, err)
	cell, err := h.AllocRefCell(inner)
	require.NoError(t, err)

	h.Collect(fakeRoots{cell})

	_, ok := h.Resolve(inner)
	require.True(t, ok)
}

func TestShouldCollect(t *testing.T) {
	h := New(1, 0)
	h.threshold = 1
	require.False(t, h.ShouldCollect())
	_, err := h.AllocBuffer(4)
	require.NoError(t, err)
	require.True(t, h.ShouldCollect())
}
