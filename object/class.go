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

// Class is a registry entry, not a GC object: "name, field
// count, optional parent, vtable (ordered function ids), static fields,
// optional constructor id."
type Class struct {
	ID          uint32
	Name        string
	FieldCount  uint32
	ParentID    int64 // -1 if no parent
	Vtable      []uint32
	StaticField []value.Value
	Ctor        int64 // -1 if no explicit constructor
}

func (c *Class) HasParent() bool { return c.ParentID >= 0 }
func (c *Class) HasCtor() bool   { return c.Ctor >= 0 }

// Object is a heap-allocated class instance: class_id plus a fixed-length
// sequence of field values, indexed by offset.
type Object struct {
	Header

	ClassID uint32
	Fields  []value.Value
}

// NewObject allocates a zero-initialized instance for the given class.
func NewObject(classID uint32, fieldCount uint32) *Object {
	o := &Object{ClassID: classID, Fields: make([]value.Value, fieldCount)}
	for i := range o.Fields {
		o.Fields[i] = value.Null
	}
	o.Header.Kind = KindObject
	o.Header.ElementCount = fieldCount
	o.Header.Size = fieldCount * 8
	return o
}

func (o *Object) GetField(i uint32) (value.Value, bool) {
	if int(i) >= len(o.Fields) {
		return value.Null, false
	}
	return o.Fields[i], true
}

func (o *Object) SetField(i uint32, v value.Value) bool {
	if int(i) >= len(o.Fields) {
		return false
	}
	o.Fields[i] = v
	return true
}
