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

// Package heap implements the per-isolate typed allocator and precise
// mark-sweep garbage collector: a tracked-allocation table with a hard byte
// cap, typed allocation helpers for each object kind, and a stop-the-world
// collection cycle driven by a live-byte threshold.
//
// Because objects here are ordinary Go values rather than a hand-managed
// byte arena, the "heap pointer" in a value.Value is never a raw Go pointer
// — it is a handle (an index into this Heap's handle table) so that Go's
// own runtime GC can still account for every live *object.Header normally.
// The mark-sweep algorithm is a second, logical GC layered on top.
package heap

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/probeum/raya/common"
	"github.com/probeum/raya/object"
	"github.com/probeum/raya/value"
)

// DefaultThreshold is the initial live-byte threshold that triggers a GC
// cycle.
const DefaultThreshold uint64 = 4 * 1024 * 1024

// Heap is a single isolate's typed object allocator plus the bookkeeping
// the garbage collector needs: the tracked-allocations table (every live
// object, keyed by handle) and the live-byte counters that decide when to
// collect.
type Heap struct {
	mu sync.Mutex

	contextID uint64

	nextHandle uint64
	objects    map[uint64]object.HeapObject // handle -> live object

	pointerMaps *object.PointerMapRegistry
	interns     *object.InternTable

	liveBytes uint64
	cap       uint64 // hard byte cap; 0 means unlimited
	threshold uint64 // next collection trigger

	stats Stats
}

// New creates an empty heap for the given isolate context id. byteCap of 0
// means no hard cap.
func New(contextID uint64, byteCap uint64) *Heap {
	return &Heap{
		contextID:   contextID,
		nextHandle:  1, // 0 is reserved: Header.Live() treats handle 0 as a tombstone
		objects:     make(map[uint64]object.HeapObject),
		pointerMaps: object.NewPointerMapRegistry(256),
		interns:     object.NewInternTable(4096),
		cap:         byteCap,
		threshold:   DefaultThreshold,
	}
}

// PointerMaps exposes the registry so isolate/module linking can register
// PointerMaps for Closure function ids and RefCell's single fixed slot.
func (h *Heap) PointerMaps() *object.PointerMapRegistry { return h.pointerMaps }

// LiveBytes returns the heap's current live-byte accounting.
func (h *Heap) LiveBytes() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.liveBytes
}

// LiveObjects returns the number of currently tracked live objects.
func (h *Heap) LiveObjects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}

// ShouldCollect reports whether live bytes have crossed the current
// threshold.
func (h *Heap) ShouldCollect() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.liveBytes >= h.threshold
}

// track registers a newly-constructed object, assigning it a handle and
// stamping its header's ContextID. Every Alloc* helper below funnels
// through here.
func (h *Heap) track(obj object.HeapObject) (value.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hdr := obj.Hdr()
	size := uint64(hdr.Size)
	if h.cap != 0 && h.liveBytes+size > h.cap {
		return value.Null, common.New(common.KindResource, "%v: cap=%d used=%d requested=%d",
			common.ErrHeapCapExceeded, h.cap, h.liveBytes, size)
	}

	handle := h.nextHandle
	h.nextHandle++
	hdr.Handle = handle
	hdr.ContextID = h.contextID

	h.objects[handle] = obj
	h.liveBytes += size
	h.stats.TotalAllocated++

	return value.FromPtr(handle), nil
}

// Resolve dereferences a ptr-tagged Value to its live object, or reports ok
// = false if the handle is unknown (already swept, or from a foreign
// isolate). Every heap pointer in a ptr Value must target a live object in
// the same isolate's heap; that invariant is checked here rather than
// trusted.
func (h *Heap) Resolve(v value.Value) (object.HeapObject, bool) {
	handle, ok := v.AsPtr()
	if !ok {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[handle]
	return obj, ok
}

// resolveHandle looks an object up directly by handle (used by the GC
// tracer, which already has raw handles from nested Values).
func (h *Heap) resolveHandle(handle uint64) (object.HeapObject, bool) {
	obj, ok := h.objects[handle]
	return obj, ok
}

// ---- Typed allocation helpers ------------------------------------------

// Builtin type ids for the fixed-shape kinds (Object's TypeID is its
// ClassID; Closure's TypeID is its FuncID; both assigned by the caller).
const (
	TypeIDString      uint32 = 1
	TypeIDArray       uint32 = 2
	TypeIDRefCell     uint32 = 3
	TypeIDBoundMethod uint32 = 4
	TypeIDChannel     uint32 = 5
	TypeIDBuffer      uint32 = 6
	TypeIDJSON        uint32 = 7
)

func (h *Heap) AllocString(b []byte) (value.Value, error) {
	s := object.NewString(b)
	s.Header.TypeID = TypeIDString
	return h.track(s)
}

// AllocConstString interns b before allocating: repeated constant-pool
// literals (and the modules that re-load them) share one canonical String.
// Interned strings are pinned as GC roots for the heap's lifetime.
func (h *Heap) AllocConstString(b []byte) (value.Value, error) {
	s := h.interns.Intern(b, object.NewString)
	if s.Header.Live() {
		return value.FromPtr(s.Header.Handle), nil
	}
	s.Header.TypeID = TypeIDString
	return h.track(s)
}

func (h *Heap) AllocArray(elemType uint32, elems []value.Value) (value.Value, error) {
	a := object.NewArray(elemType, elems)
	a.Header.TypeID = TypeIDArray
	return h.track(a)
}

func (h *Heap) AllocObject(classID uint32, fieldCount uint32) (value.Value, error) {
	o := object.NewObject(classID, fieldCount)
	o.Header.TypeID = classID
	return h.track(o)
}

// AllocClosure allocates a closure and, if this is the first closure seen
// for funcID, registers its PointerMap (every captured slot holds a Value,
// so the map is simply "all offsets").
func (h *Heap) AllocClosure(funcID uint32, captured []value.Value) (value.Value, error) {
	if _, ok := h.pointerMaps.Lookup(funcID); !ok {
		offsets := make([]int, len(captured))
		for i := range offsets {
			offsets[i] = i
		}
		h.pointerMaps.Register(funcID, &object.PointerMap{Offsets: offsets})
	}
	c := object.NewClosure(funcID, captured)
	c.Header.TypeID = funcID
	return h.track(c)
}

func (h *Heap) AllocRefCell(initial value.Value) (value.Value, error) {
	if _, ok := h.pointerMaps.Lookup(TypeIDRefCell); !ok {
		h.pointerMaps.Register(TypeIDRefCell, &object.PointerMap{Offsets: []int{0}})
	}
	r := object.NewRefCell(initial)
	r.Header.TypeID = TypeIDRefCell
	return h.track(r)
}

func (h *Heap) AllocBoundMethod(receiver value.Value, funcID uint32) (value.Value, error) {
	b := object.NewBoundMethod(receiver, funcID)
	b.Header.TypeID = TypeIDBoundMethod
	return h.track(b)
}

func (h *Heap) AllocChannel(capacity int) (value.Value, error) {
	c := object.NewChannel(capacity)
	c.Header.TypeID = TypeIDChannel
	return h.track(c)
}

func (h *Heap) AllocBuffer(size int) (value.Value, error) {
	b := object.NewBuffer(size)
	b.Header.TypeID = TypeIDBuffer
	return h.track(b)
}

func (h *Heap) AllocJSON(j *object.JSON) (value.Value, error) {
	j.Header.TypeID = TypeIDJSON
	return h.track(j)
}

// String renders a short human-readable summary, used by debug dumps.
func (h *Heap) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fmt.Sprintf("heap{context=%d live=%d bytes=%d threshold=%d}",
		h.contextID, len(h.objects), h.liveBytes, h.threshold)
}

// visitedSet is a thin wrapper giving mapset.Set a typed handle API, used
// by the mark phase to track which objects have already been visited so
// cyclic graphs terminate.
type visitedSet struct{ s mapset.Set }

func newVisitedSet() visitedSet    { return visitedSet{s: mapset.NewThreadUnsafeSet()} }
func (v visitedSet) has(h uint64) bool { return v.s.Contains(h) }
func (v visitedSet) add(h uint64)      { v.s.Add(h) }
