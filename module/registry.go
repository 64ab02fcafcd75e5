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

package module

import (
	"sync"

	"github.com/probeum/raya/common"
	"github.com/probeum/raya/object"
	"github.com/probeum/raya/value"
)

// ClassRegistry is the per-isolate authoritative class table: guarded by a
// reader-writer lock because writes only happen during Link/specialization
// while reads (InstanceOf, Cast, field/method resolution) dominate at
// runtime, the same read-mostly shape as object.PointerMapRegistry.
type ClassRegistry struct {
	mu      sync.RWMutex
	classes map[uint32]*object.Class
	byName  map[string]uint32
}

func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{
		classes: make(map[uint32]*object.Class),
		byName:  make(map[string]uint32),
	}
}

// Register installs a class under id, replacing any prior entry (used by
// Link and by an isolate's hot-reload/specialization path).
func (r *ClassRegistry) Register(id uint32, c *object.Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[id] = c
	r.byName[c.Name] = id
}

// Lookup returns the class registered under id.
func (r *ClassRegistry) Lookup(id uint32) (*object.Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[id]
	return c, ok
}

// LookupByName resolves a class id by its declared name.
func (r *ClassRegistry) LookupByName(name string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// IsAssignable reports whether an instance of class childID may be treated
// as an instance of class ancestorID, walking the parent chain.
func (r *ClassRegistry) IsAssignable(childID, ancestorID uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id := childID
	for {
		if id == ancestorID {
			return true
		}
		c, ok := r.classes[id]
		if !ok || !c.HasParent() {
			return false
		}
		id = uint32(c.ParentID)
	}
}

// StaticRoots returns every class's static field values — GC roots, since
// statics are reachable global state.
func (r *ClassRegistry) StaticRoots() []value.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var roots []value.Value
	for _, c := range r.classes {
		roots = append(roots, c.StaticField...)
	}
	return roots
}

// MethodFuncID resolves a vtable slot, walking up the parent chain if classID's own vtable is
// too short (an inherited, unoverridden method).
func (r *ClassRegistry) MethodFuncID(classID uint32, slot uint32) (uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id := classID
	for {
		c, ok := r.classes[id]
		if !ok {
			return 0, common.New(common.KindLink, "unknown class id %d", id)
		}
		if int(slot) < len(c.Vtable) {
			return c.Vtable[slot], nil
		}
		if !c.HasParent() {
			return 0, common.New(common.KindLink, "vtable slot %d out of range for class %d", slot, classID)
		}
		id = uint32(c.ParentID)
	}
}

// Link converts a decoded Module's wire-format Classes table into a
// ClassRegistry of object.Class entries, resolving the wire format's
// unsigned NoParent/NoCtor sentinels into object.Class's signed -1
// convention. Everything is resolved once at load time and read many
// times thereafter.
func Link(m *Module) (*ClassRegistry, error) {
	reg := NewClassRegistry()
	for id, c := range m.Classes {
		oc := &object.Class{
			ID:         uint32(id),
			Name:       c.Name,
			FieldCount: c.FieldCount,
			ParentID:   -1,
			Ctor:       -1,
		}
		if c.ParentID != NoParent {
			oc.ParentID = int64(c.ParentID)
		}
		if c.CtorFuncID != NoCtor {
			oc.Ctor = int64(c.CtorFuncID)
		}
		oc.Vtable = make([]uint32, len(c.Methods))
		for i, meth := range c.Methods {
			oc.Vtable[i] = meth.FuncID
		}
		oc.StaticField = make([]value.Value, c.StaticCount)
		for i := range oc.StaticField {
			oc.StaticField[i] = value.Null
		}
		reg.Register(uint32(id), oc)
	}
	return reg, nil
}
