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

// Package native implements the native-call ABI: a host function reachable
// from bytecode via NativeCall (a stable id shared by every isolate) or
// ModuleNativeCall (a per-module name resolved to a local index at link
// time). Handlers are plain Go functions registered into an open table.
package native

import (
	"sync"

	"github.com/probeum/raya/common"
	"github.com/probeum/raya/heap"
	"github.com/probeum/raya/module"
	"github.com/probeum/raya/sched"
	"github.com/probeum/raya/value"
)

// Context is the host-side surface a Handler may use.
type Context interface {
	Heap() *heap.Heap
	Classes() *module.ClassRegistry
	Scheduler() *sched.Scheduler
	TaskID() sched.TaskID

	// ReadString copies a String object's bytes out as a Go string,
	// returning a TypeError if v is not a string handle.
	ReadString(v value.Value) (string, error)
	// ReadBytes copies a Buffer or String object's bytes out.
	ReadBytes(v value.Value) ([]byte, error)
	// NewString allocates a heap String from raw bytes.
	NewString(b []byte) (value.Value, error)
	// NewBuffer allocates a heap Buffer from raw bytes.
	NewBuffer(b []byte) (value.Value, error)
}

// ResultKind discriminates the NativeCallResult tagged union.
type ResultKind uint8

const (
	ResultValue ResultKind = iota
	ResultSuspend
	ResultUnhandled
	ResultError
)

// Result is what a Handler hands back to the interpreter's NativeCall/
// ModuleNativeCall dispatch.
type Result struct {
	Kind  ResultKind
	Value value.Value
	Io    sched.IoWork // meaningful only when Kind == ResultSuspend
	Err   error        // meaningful only when Kind == ResultError
}

// Value wraps a plain value.Value as a successful ResultValue result.
func Value_(v value.Value) Result { return Result{Kind: ResultValue, Value: v} }

// Suspend wraps a blocking host operation to be handed to the scheduler's
// I/O pool; the calling task is parked with SuspendReason{Kind: IoWait}
// until work completes.
func Suspend(work sched.IoWork) Result { return Result{Kind: ResultSuspend, Io: work} }

// Error wraps a failed call as a ResultError result.
func Error(err error) Result { return Result{Kind: ResultError, Err: err} }

// Unhandled reports that no handler exists for the requested id/name.
func Unhandled() Result { return Result{Kind: ResultUnhandled} }

// Handler implements one native function. argc is implied by len(args).
type Handler func(ctx Context, args []value.Value) Result

// Registry splits the native-call namespace in two: a fixed, cross-isolate
// table of stable small-integer ids (NativeCall) and a per-module table of
// names resolved to a dense local index at link time (ModuleNativeCall).
type Registry struct {
	mu       sync.RWMutex
	builtins map[uint32]Handler
	byName   map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{builtins: make(map[uint32]Handler), byName: make(map[string]Handler)}
}

// RegisterBuiltin installs a handler under a stable cross-isolate id.
func (r *Registry) RegisterBuiltin(id uint32, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[id] = h
}

// RegisterNamed installs a handler reachable by name, for modules that
// declare a NativeImport.
func (r *Registry) RegisterNamed(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = h
}

// Builtin dispatches a NativeCall by stable id.
func (r *Registry) Builtin(id uint32, ctx Context, args []value.Value) Result {
	r.mu.RLock()
	h, ok := r.builtins[id]
	r.mu.RUnlock()
	if !ok {
		return Unhandled()
	}
	return h(ctx, args)
}

// Named dispatches a ModuleNativeCall by resolved import name.
func (r *Registry) Named(name string, ctx Context, args []value.Value) Result {
	r.mu.RLock()
	h, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return Unhandled()
	}
	return h(ctx, args)
}

// ResolveImports builds a dense local-index -> Handler table for a module's
// declared NativeImport list, failing link if any declared
// name has no registered handler.
func (r *Registry) ResolveImports(imports []module.NativeImport) ([]Handler, error) {
	out := make([]Handler, len(imports))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, imp := range imports {
		h, ok := r.byName[imp.Name]
		if !ok {
			return nil, common.New(common.KindLink, "unresolved module native %q", imp.Name)
		}
		out[i] = h
	}
	return out, nil
}
