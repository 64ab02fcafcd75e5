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

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// PointerMapRegistry is the authoritative TypeID -> PointerMap table,
// populated once per type at class/function registration time. An LRU front-ends
// the authoritative map so the GC's mark-phase tracer — its hottest path,
// walked once per live object per cycle — can usually avoid taking the
// registry's read lock at all.
type PointerMapRegistry struct {
	mu    sync.RWMutex
	maps  map[uint32]*PointerMap
	cache *lru.Cache // TypeID -> *PointerMap, recently-traced types
}

// NewPointerMapRegistry builds a registry whose hot-type cache holds up to
// cacheSize entries.
func NewPointerMapRegistry(cacheSize int) *PointerMapRegistry {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, _ := lru.New(cacheSize)
	return &PointerMapRegistry{maps: make(map[uint32]*PointerMap), cache: c}
}

// Register installs (or replaces) the PointerMap for typeID.
func (r *PointerMapRegistry) Register(typeID uint32, pm *PointerMap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maps[typeID] = pm
	r.cache.Remove(typeID) // invalidate any stale cached copy
}

// Lookup returns the PointerMap for typeID, consulting the LRU first.
func (r *PointerMapRegistry) Lookup(typeID uint32) (*PointerMap, bool) {
	if v, ok := r.cache.Get(typeID); ok {
		return v.(*PointerMap), true
	}
	r.mu.RLock()
	pm, ok := r.maps[typeID]
	r.mu.RUnlock()
	if ok {
		r.cache.Add(typeID, pm)
	}
	return pm, ok
}
