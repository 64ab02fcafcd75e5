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

import "github.com/probeum/raya/common"

// ResourceState tracks whether a linear-type handle is live, moved, or
// dropped, tracked in a registry whose entries
// a per-isolate table so that host-resource handles (open files, sockets —
// outlive any single task's stack.
type ResourceState uint8

const (
	ResourceLive ResourceState = iota
	ResourceMoved
	ResourceDropped
)

// ResourceTable is a registry entry, not a GC object: native handlers that
// vend host resources (a file descriptor, a socket) register a handle here
// so that double-close and use-after-close are caught as a concurrency/
// resource fault rather than silently corrupting host state.
type ResourceTable struct {
	next  uint64
	state map[uint64]ResourceState
}

func NewResourceTable() *ResourceTable {
	return &ResourceTable{state: make(map[uint64]ResourceState)}
}

// New allocates a fresh live resource handle.
func (t *ResourceTable) New() uint64 {
	t.next++
	h := t.next
	t.state[h] = ResourceLive
	return h
}

// Drop marks a handle dropped; it is an error to drop a handle that is not
// currently live (double-drop or drop-after-move).
func (t *ResourceTable) Drop(handle uint64) error {
	st, ok := t.state[handle]
	if !ok || st != ResourceLive {
		return common.New(common.KindResource, "resource handle %d is not live (state=%v)", handle, st)
	}
	t.state[handle] = ResourceDropped
	return nil
}

// Move marks a handle moved (ownership transferred); like Drop, only legal
// from the live state.
func (t *ResourceTable) Move(handle uint64) error {
	st, ok := t.state[handle]
	if !ok || st != ResourceLive {
		return common.New(common.KindResource, "resource handle %d is not live (state=%v)", handle, st)
	}
	t.state[handle] = ResourceMoved
	return nil
}

// Check reports whether a handle is still live.
func (t *ResourceTable) Check(handle uint64) bool {
	return t.state[handle] == ResourceLive
}
