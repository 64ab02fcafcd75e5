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

// Array is a growable sequence of Values. ElemType records the element
// type id given at creation; no opcode reads or checks it, and the backing
// Elements slice can hold any Value (the front end is responsible for only
// emitting well-typed element loads/stores).
type Array struct {
	Header

	ElemType uint32
	Elements []value.Value
}

// NewArray allocates an array with the given initial elements (copied).
func NewArray(elemType uint32, elems []value.Value) *Array {
	a := &Array{ElemType: elemType, Elements: append([]value.Value(nil), elems...)}
	a.Header.Kind = KindArray
	a.Header.ElementCount = uint32(len(elems))
	a.Header.Size = uint32(len(elems)) * 8
	return a
}

func (a *Array) Len() int { return len(a.Elements) }

func (a *Array) Get(i int) (value.Value, bool) {
	if i < 0 || i >= len(a.Elements) {
		return value.Null, false
	}
	return a.Elements[i], true
}

func (a *Array) Set(i int, v value.Value) bool {
	if i < 0 || i >= len(a.Elements) {
		return false
	}
	a.Elements[i] = v
	return true
}

func (a *Array) Push(v value.Value) {
	a.Elements = append(a.Elements, v)
	a.Header.ElementCount = uint32(len(a.Elements))
	a.Header.Size = uint32(len(a.Elements)) * 8
}

// Pop removes and returns the last element; ok is false on an empty array.
func (a *Array) Pop() (v value.Value, ok bool) {
	if len(a.Elements) == 0 {
		return value.Null, false
	}
	n := len(a.Elements) - 1
	v = a.Elements[n]
	a.Elements = a.Elements[:n]
	a.Header.ElementCount = uint32(len(a.Elements))
	a.Header.Size = uint32(len(a.Elements)) * 8
	return v, true
}
