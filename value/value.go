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

// Package value implements the NaN-boxed 64-bit tagged Value used by the
// interpreter's operand stack and locals. Every word self-describes whether
// it holds a float, an immediate primitive, or a heap reference, so a stack
// slot stays one machine word and float arithmetic keeps a branch-free
// fast path.
package value

import "math"

// Tag identifies the kind carried by a boxed (non-float) Value.
type Tag uint8

const (
	// Tags start at 1: a boxed word always has a nonzero tag field, so the
	// all-zero-mantissa patterns of +Infinity and -Infinity stay floats.
	TagNull Tag = iota + 1
	TagBool
	TagI32
	TagI64
	TagU64
	TagPtr
	// Tag 7 is unused, reserved for a future immediate kind (e.g. a short
	// inline string).
)

const (
	// expMask isolates the 11 exponent bits. A value is only eligible for
	// boxing if these bits are all set (the IEEE-754 NaN/Infinity region).
	expMask uint64 = 0x7FF0000000000000

	// sigBit is bit 51, the top bit of the mantissa. IEEE-754 arithmetic
	// on IEEE-conformant FPUs only ever produces *quiet* NaNs (sigBit=1);
	// by reserving the *signaling*-NaN half of the space (sigBit=0) for
	// our tags, a native float64 NaN produced by arithmetic can never be
	// mistaken for a boxed Value.
	sigBit uint64 = 0x0008000000000000

	// tagShift/tagMask carve out the 3 bits directly below sigBit for the
	// Tag; the low 48 bits are the payload.
	tagShift       = 48
	tagMask uint64 = 0x0007000000000000
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	// boxedPrefix is expMask with sigBit left clear: every boxed Value's
	// bit pattern starts with this prefix.
	boxedPrefix = expMask
)

// Value is a single NaN-boxed 64-bit word. The zero Value is the float64
// +0.0; null is the boxed word Null.
type Value uint64

// Null is the canonical null value.
var Null = Value(boxedPrefix | uint64(TagNull)<<tagShift)

// isBoxed reports whether bits encode a tagged non-float Value rather than
// a native float64.
func isBoxed(bits uint64) bool {
	return bits&expMask == expMask && bits&sigBit == 0 && bits&tagMask != 0
}

func box(tag Tag, payload uint64) Value {
	return Value(boxedPrefix | uint64(tag)<<tagShift | (payload & payloadMask))
}

func (v Value) bits() uint64 { return uint64(v) }

func (v Value) tag() Tag {
	return Tag((v.bits() & tagMask) >> tagShift)
}

func (v Value) payload() uint64 {
	return v.bits() & payloadMask
}

// ---- Constructors -----------------------------------------------------

// FromNull returns the null Value.
func FromNull() Value { return Null }

// FromBool boxes a boolean.
func FromBool(b bool) Value {
	var p uint64
	if b {
		p = 1
	}
	return box(TagBool, p)
}

// FromI32 boxes a signed 32-bit integer.
func FromI32(i int32) Value {
	return box(TagI32, uint64(uint32(i)))
}

// FromI64 boxes a signed integer using the NaN box's 48-bit payload.
//
// The payload width is an inherent NaN-boxing trade-off: the IEEE-754 NaN
// space only yields 51 spare bits (52 mantissa bits + 1 sign, minus the
// bits spent distinguishing the boxed region), and a 3-bit Tag takes 3 of
// those, leaving 48 for the payload. Values must fit in the signed 48-bit
// range [-2^47, 2^47). A wider value is truncated to its low 48 bits and
// AsI64 sign-extends from bit 47; there is no heap-boxed 64-bit integer
// kind to carry a full 64-bit magnitude.
func FromI64(i int64) Value {
	return box(TagI64, uint64(i)&payloadMask)
}

// FromU64 boxes an unsigned integer in the 48-bit payload (see FromI64).
func FromU64(u uint64) Value {
	return box(TagU64, u&payloadMask)
}

// FromF64 boxes a native double. Quiet NaNs produced by arithmetic pass
// through unchanged; a signaling NaN bit pattern (which would collide with
// our tag space) is quieted to the canonical qNaN so normal FPU results are
// always unambiguous.
func FromF64(f float64) Value {
	bits := math.Float64bits(f)
	if isBoxed(bits) {
		// A signaling NaN landed in our reserved tag space: quiet it so it
		// round-trips as a float rather than being misread as a tag.
		bits |= sigBit
	}
	return Value(bits)
}

// FromPtr boxes an opaque heap handle.
//
// Go's own garbage collector cannot see through bits smuggled inside a
// uint64, so this never stores a real unsafe.Pointer/uintptr — doing so
// would let Go's GC silently collect or move the referent out from under
// us. Instead the payload is an index ("handle") into the owning heap's
// handle table (see object.Header.Handle), which holds the actual *object.Header
// pointer where Go's GC can account for it normally. The mark-sweep
// algorithm in package heap is RAYA's own logical GC, layered on top of
// (not replacing) Go's runtime allocator and collector.
func FromPtr(handle uint64) Value {
	return box(TagPtr, handle&payloadMask)
}

// ---- Tag predicates -----------------------------------------------------

func (v Value) IsNull() bool { return isBoxed(v.bits()) && v.tag() == TagNull }
func (v Value) IsBool() bool { return isBoxed(v.bits()) && v.tag() == TagBool }
func (v Value) IsI32() bool  { return isBoxed(v.bits()) && v.tag() == TagI32 }
func (v Value) IsI64() bool  { return isBoxed(v.bits()) && v.tag() == TagI64 }
func (v Value) IsU64() bool  { return isBoxed(v.bits()) && v.tag() == TagU64 }
func (v Value) IsPtr() bool  { return isBoxed(v.bits()) && v.tag() == TagPtr }
func (v Value) IsF64() bool  { return !isBoxed(v.bits()) }

// Kind returns a label for the Value's dynamic kind, useful for TypeError
// messages ("expected i32, got bool").
func (v Value) Kind() string {
	if !isBoxed(v.bits()) {
		return "f64"
	}
	switch v.tag() {
	case TagNull:
		return "null"
	case TagBool:
		return "bool"
	case TagI32:
		return "i32"
	case TagI64:
		return "i64"
	case TagU64:
		return "u64"
	case TagPtr:
		return "ptr"
	default:
		return "unknown"
	}
}

// ---- Extraction ---------------------------------------------------------
//
// Extraction is unchecked at this layer: a tag mismatch
// returns the ok=false form rather than panicking. The interpreter enforces
// type correctness at the opcode level (wrong-kind operands are a
// TypeError, not a Go panic).

func (v Value) AsBool() (bool, bool) {
	if !v.IsBool() {
		return false, false
	}
	return v.payload() != 0, true
}

func (v Value) AsI32() (int32, bool) {
	if !v.IsI32() {
		return 0, false
	}
	return int32(uint32(v.payload())), true
}

// AsI64 sign-extends the 48-bit payload to a full int64.
func (v Value) AsI64() (int64, bool) {
	if !v.IsI64() {
		return 0, false
	}
	p := v.payload()
	const signBit48 = uint64(1) << 47
	if p&signBit48 != 0 {
		p |= ^payloadMask // sign-extend into the upper 16 bits
	}
	return int64(p), true
}

func (v Value) AsU64() (uint64, bool) {
	if !v.IsU64() {
		return 0, false
	}
	return v.payload(), true
}

func (v Value) AsF64() (float64, bool) {
	if !v.IsF64() {
		return 0, false
	}
	return math.Float64frombits(v.bits()), true
}

func (v Value) AsPtr() (uint64, bool) {
	if !v.IsPtr() {
		return 0, false
	}
	return v.payload(), true
}

// ---- Equality -------------------------------------------------------------

// StrictEquals is bitwise for primitives and pointer equality for
// references, backing the StrictEq/StrictNe opcodes.
func (v Value) StrictEquals(other Value) bool {
	return v.bits() == other.bits()
}

// Truthy implements the boolean-coercion rule used by conditional jumps
// (JumpIfTrue/False, ternary `?:`): null and boolean false are falsy, the
// integer/float zero values are falsy, everything else (including any
// heap reference) is truthy.
func (v Value) Truthy() bool {
	switch {
	case v.IsNull():
		return false
	case v.IsBool():
		b, _ := v.AsBool()
		return b
	case v.IsI32():
		i, _ := v.AsI32()
		return i != 0
	case v.IsI64():
		i, _ := v.AsI64()
		return i != 0
	case v.IsU64():
		u, _ := v.AsU64()
		return u != 0
	case v.IsF64():
		f, _ := v.AsF64()
		return f != 0 && !math.IsNaN(f)
	default:
		return true // ptr
	}
}

// Bits exposes the raw 64-bit word, e.g. for hashing or wire encoding.
func (v Value) Bits() uint64 { return uint64(v) }

// FromBits reconstructs a Value from a raw 64-bit word (the inverse of
// Bits), used when decoding a constant pool entry or a snapshot.
func FromBits(bits uint64) Value { return Value(bits) }
