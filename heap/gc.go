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

package heap

import (
	"time"

	"github.com/probeum/raya/object"
	"github.com/probeum/raya/value"
)

// Stats is the GC observability record:
// collection count, pause accounting, and the last cycle's live/freed
// counts.
type Stats struct {
	TotalAllocated uint64

	Collections     uint64
	ObjectsFreed    uint64
	BytesFreed      uint64
	TotalPauseNanos int64
	MaxPauseNanos   int64
	LastPauseNanos  int64

	LiveObjectsAfter uint64
	LiveBytesAfter   uint64
	SurvivalRate     float64
}

// Stats returns a snapshot of the GC's cumulative observability counters.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// RootProvider is implemented by whatever owns an isolate's live roots —
// task operand stacks, locals, globals, and anything a suspended task is
// holding a reference from (mutex wait queues, channel send/receive
// parking slots). Package heap knows nothing about tasks or isolates; it
// only asks for the flattened root set at collection time.
type RootProvider interface {
	GCRoots() []value.Value
}

// Collect runs one full mark-sweep cycle. The caller is responsible for having already reached a
// safepoint barrier (package safepoint) before calling Collect — Collect
// itself assumes single-threaded access to the heap for its duration.
func (h *Heap) Collect(roots RootProvider) Stats {
	start := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, obj := range h.objects {
		obj.Hdr().MarkBit = false
	}

	visited := newVisitedSet()
	var worklist []uint64
	mark := func(v value.Value) {
		handle, ok := v.AsPtr()
		if !ok {
			return
		}
		if visited.has(handle) {
			return
		}
		visited.add(handle)
		worklist = append(worklist, handle)
	}

	for _, r := range roots.GCRoots() {
		mark(r)
	}
	for _, s := range h.interns.All() {
		if s.Header.Live() {
			mark(value.FromPtr(s.Header.Handle))
		}
	}

	for len(worklist) > 0 {
		n := len(worklist) - 1
		handle := worklist[n]
		worklist = worklist[:n]

		obj, ok := h.resolveHandle(handle)
		if !ok {
			continue
		}
		hdr := obj.Hdr()
		if hdr.MarkBit {
			continue
		}
		hdr.MarkBit = true
		h.traceObject(obj, mark)
	}

	var freedBytes uint64
	var freedObjects uint64
	for handle, obj := range h.objects {
		hdr := obj.Hdr()
		if hdr.MarkBit {
			continue
		}
		if hdr.DropFn != nil {
			hdr.DropFn(hdr)
		}
		freedBytes += uint64(hdr.Size)
		freedObjects++
		hdr.Handle = 0
		delete(h.objects, handle)
	}
	// Size may have grown after allocation (array push), so the freed sum
	// can exceed what was accounted at track time.
	if freedBytes > h.liveBytes {
		h.liveBytes = 0
	} else {
		h.liveBytes -= freedBytes
	}

	h.resizeThreshold()

	pause := time.Since(start).Nanoseconds()
	h.stats.Collections++
	h.stats.ObjectsFreed += freedObjects
	h.stats.BytesFreed += freedBytes
	h.stats.TotalPauseNanos += pause
	h.stats.LastPauseNanos = pause
	if pause > h.stats.MaxPauseNanos {
		h.stats.MaxPauseNanos = pause
	}
	h.stats.LiveObjectsAfter = uint64(len(h.objects))
	h.stats.LiveBytesAfter = h.liveBytes
	if before := freedObjects + uint64(len(h.objects)); before > 0 {
		h.stats.SurvivalRate = float64(len(h.objects)) / float64(before)
	}

	return h.stats
}

// resizeThreshold grows the next collection trigger to twice the
// post-collection live set, with a floor of DefaultThreshold so a heap
// that briefly goes near-empty doesn't start collecting on every single
// small allocation afterwards.
func (h *Heap) resizeThreshold() {
	next := h.liveBytes * 2
	if next < DefaultThreshold {
		next = DefaultThreshold
	}
	h.threshold = next
}

// traceObject visits every value.Value held directly by obj that might be
// a heap pointer, calling mark on each. Object, Array, BoundMethod,
// Channel, and JSON are special-cased here with runtime-sized pointer sets; Closure and RefCell instead
// consult the PointerMapRegistry for their TypeID, since their captured
// slots are fixed once a function/cell shape is known. A JSON tree's nested
// nodes are plain Go pointers, so the tracer walks them and marks every
// nested node that already has a handle of its own; the walk stops at such
// a node, whose own trace covers its subtree. String and Buffer hold no
// references.
func (h *Heap) traceObject(obj object.HeapObject, mark func(value.Value)) {
	switch o := obj.(type) {
	case *object.Array:
		for _, e := range o.Elements {
			mark(e)
		}
	case *object.Object:
		for _, f := range o.Fields {
			mark(f)
		}
	case *object.BoundMethod:
		mark(o.Receiver)
	case *object.Channel:
		for _, e := range o.Queue {
			mark(e)
		}
	case *object.Closure:
		if pm, ok := h.pointerMaps.Lookup(o.Header.TypeID); ok {
			for _, off := range pm.Offsets {
				if off >= 0 && off < len(o.Captured) {
					mark(o.Captured[off])
				}
			}
		}
	case *object.RefCell:
		if pm, ok := h.pointerMaps.Lookup(TypeIDRefCell); ok {
			for _, off := range pm.Offsets {
				if off == 0 {
					mark(o.Cell)
				}
			}
		}
	case *object.JSON:
		var walk func(j *object.JSON)
		visit := func(c *object.JSON) {
			if c.Header.Handle != 0 {
				mark(value.FromPtr(c.Header.Handle))
			} else {
				walk(c)
			}
		}
		walk = func(j *object.JSON) {
			for _, c := range j.Arr {
				visit(c)
			}
			for _, c := range j.Obj {
				visit(c)
			}
		}
		walk(o)
	}
}
