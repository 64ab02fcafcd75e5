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

// Package object defines the heap object model: the header prefix shared by
// every allocation and the concrete object kinds (String, Array,
// Object/Class, Closure, RefCell, BoundMethod, Channel, Buffer, JsonValue).
// Objects here are plain passive records owned and tracked by package heap;
// object itself never allocates or frees anything.
package object

// Kind enumerates the heap object kinds.
type Kind uint8

const (
	KindString Kind = iota
	KindArray
	KindObject
	KindClosure
	KindRefCell
	KindBoundMethod
	KindChannel
	KindBuffer
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindArray:
		return "Array"
	case KindObject:
		return "Object"
	case KindClosure:
		return "Closure"
	case KindRefCell:
		return "RefCell"
	case KindBoundMethod:
		return "BoundMethod"
	case KindChannel:
		return "Channel"
	case KindBuffer:
		return "Buffer"
	case KindJSON:
		return "JsonValue"
	default:
		return "Unknown"
	}
}

// DropFunc is an optional destructor invoked by the GC sweep phase before an
// object's backing storage is released.
type DropFunc func(h *Header)

// Header is the metadata prefix conceptually shared by every heap
// allocation. In this Go implementation
// objects are ordinary garbage-collected Go values rather than raw bytes in
// a manually managed arena, so Header is embedded as the first field of
// every concrete object struct instead of literally prefixing a byte
// buffer — the fields and their meaning are unchanged, only the storage
// strategy is adapted to be safe under Go's own runtime.
type Header struct {
	ContextID    uint64   // the isolate that owns this object
	TypeID       uint32   // opaque type tag; indexes the type's PointerMap
	Kind         Kind     // which concrete object kind this header belongs to
	Size         uint32   // approximate byte size, for sweep/stat accounting
	ElementCount uint32   // 1 for scalar objects; n for arrays of n elements
	DropFn       DropFunc // optional destructor, nil if the type is trivial
	MarkBit      bool     // cleared at the start of each GC cycle

	// Handle is the opaque heap handle this object is known by by way of
	// value.Value (see value.FromPtr's doc comment). It is assigned by the
	// owning heap at allocation time and never changes afterwards.
	Handle uint64
}

// Live reports whether the header is still tracked by its heap (a handle of
// 0 is never assigned to a real object, so it doubles as a tombstone check
// for objects that have been swept).
func (h *Header) Live() bool { return h.Handle != 0 }

// Hdr returns h itself; every concrete object kind embeds Header, so this
// method is promoted and lets package heap treat any object kind uniformly
// as a HeapObject without a type switch.
func (h *Header) Hdr() *Header { return h }

// HeapObject is satisfied by every concrete object kind (String, Array,
// Object, Closure, RefCell, BoundMethod, Channel, Buffer, JSON) by virtue of
// embedding Header.
type HeapObject interface {
	Hdr() *Header
}

// PointerMap describes, for a given TypeID, which Values inside an object's
// payload may themselves be heap pointers. The GC's tracer uses this to walk
// exactly rather than conservatively.
//
// Closure and RefCell have a static PointerMap, registered by the heap the
// first time a closure of a given function id or a RefCell is allocated.
// Object, Array, Channel, BoundMethod (its single receiver slot), and
// JsonValue are special-cased directly in the tracer (see
// heap.traceObject) and have no registered PointerMap.
type PointerMap struct {
	// Offsets holds the index (not byte offset, since payloads are typed
	// Go slices/fields rather than raw bytes) of every field that holds a
	// value.Value possibly referencing the heap.
	Offsets []int
	// Dynamic is true for kinds whose live pointer set is sized at
	// runtime (Array, Object, JsonValue) rather than fixed per TypeID.
	Dynamic bool
}
