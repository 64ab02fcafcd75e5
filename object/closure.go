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

// Closure is a function id plus its captured values. A
// captured local that lowering determined is mutated from an inner scope is
// captured as a pointer to a RefCell rather than by value; the closure
// itself doesn't need to know which — LoadCaptured/StoreCaptured opcodes
// in package interp decide whether to dereference a RefCell based on the
// captured Value's own tag.
type Closure struct {
	Header

	FuncID   uint32
	Captured []value.Value
}

func NewClosure(funcID uint32, captured []value.Value) *Closure {
	c := &Closure{FuncID: funcID, Captured: append([]value.Value(nil), captured...)}
	c.Header.Kind = KindClosure
	c.Header.ElementCount = uint32(len(captured))
	c.Header.Size = uint32(len(captured)) * 8
	return c
}

// RefCell is a single mutable value cell providing identity-backed
// capture-by-reference.
type RefCell struct {
	Header

	Cell value.Value
}

func NewRefCell(initial value.Value) *RefCell {
	r := &RefCell{Cell: initial}
	r.Header.Kind = KindRefCell
	r.Header.ElementCount = 1
	r.Header.Size = 8
	return r
}

func (r *RefCell) Load() value.Value        { return r.Cell }
func (r *RefCell) Store(v value.Value)      { r.Cell = v }

// BoundMethod captures a receiver and a method's function id, created by the
// `BindMethod` opcode for method references.
type BoundMethod struct {
	Header

	Receiver value.Value
	FuncID   uint32
}

func NewBoundMethod(receiver value.Value, funcID uint32) *BoundMethod {
	b := &BoundMethod{Receiver: receiver, FuncID: funcID}
	b.Header.Kind = KindBoundMethod
	b.Header.ElementCount = 1
	b.Header.Size = 8
	return b
}
