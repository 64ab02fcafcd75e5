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

// Package interp implements the stack-based bytecode interpreter: a
// decode-and-switch dispatch loop operating on module.Opcode instructions,
// wired to package heap for allocation, package sched for task
// spawn/await/sleep/cancel, package syncprim for mutex/channel suspension,
// and package native for the native-call ABI.
package interp

import (
	"sync"
	"time"

	"github.com/probeum/raya/common"
	"github.com/probeum/raya/heap"
	"github.com/probeum/raya/module"
	"github.com/probeum/raya/native"
	"github.com/probeum/raya/safepoint"
	"github.com/probeum/raya/sched"
	"github.com/probeum/raya/syncprim"
	"github.com/probeum/raya/value"
)

// loadedModule bundles a decoded module.Module with the per-isolate state
// derived from it at link time: the class registry, the resolved constant
// pool (string constants become real heap allocations), and resolved
// module-native handlers.
type loadedModule struct {
	mod       *module.Module
	classes   *module.ClassRegistry
	constants []value.Value
	natives   []native.Handler
}

// DefaultMaxSteps bounds how many instructions a single RunFunc invocation
// executes before yielding to the scheduler even absent a safepoint
// request, so a task that never sleeps or blocks still shares its worker.
const DefaultMaxSteps = 200_000

// Interpreter is the per-isolate stack machine: it owns no state of its
// own beyond wiring to the isolate's heap/scheduler/sync primitives and the
// table of loaded modules, since all per-task execution state lives in the
// Frame chain hanging off sched.Task.InterpState.
type Interpreter struct {
	Heap       *heap.Heap
	Sched      *sched.Scheduler
	Safepoint  *safepoint.Coordinator
	Mutexes    *syncprim.MutexRegistry
	Channels   *syncprim.Channels
	Semaphores *syncprim.SemRegistry
	Natives    *native.Registry

	MaxSteps uint64

	// PreemptThreshold is the cooperative time slice; zero disables preemption checks entirely (tests).
	PreemptThreshold time.Duration

	// Collect, when non-nil, runs a full GC cycle behind a safepoint. It is
	// installed by the isolate and invoked from allocation polling sites
	// when the heap reports ShouldCollect.
	Collect func()

	steps uint64 // atomic: total instructions executed across all tasks

	mu           sync.RWMutex
	modules      map[uint32]*loadedModule
	nextModuleID uint32
}

// New builds an interpreter bound to the given isolate subsystems. Natives
// may be nil, in which case an empty registry is created (an isolate with
// no native calls is still valid).
func New(h *heap.Heap, sc *sched.Scheduler, sp *safepoint.Coordinator, mx *syncprim.MutexRegistry, ch *syncprim.Channels, sem *syncprim.SemRegistry, nat *native.Registry) *Interpreter {
	if nat == nil {
		nat = native.NewRegistry()
	}
	return &Interpreter{
		Heap:       h,
		Sched:      sc,
		Safepoint:  sp,
		Mutexes:    mx,
		Channels:   ch,
		Semaphores: sem,
		Natives:    nat,
		MaxSteps:   DefaultMaxSteps,
		modules:    make(map[uint32]*loadedModule),
	}
}

// LoadModule links m (building its class registry and resolving its
// declared module natives against in.Natives) and assigns it a module id
// scoped to this interpreter.
func (in *Interpreter) LoadModule(m *module.Module) (uint32, error) {
	classes, err := module.Link(m)
	if err != nil {
		return 0, err
	}
	natives, err := in.Natives.ResolveImports(m.Natives)
	if err != nil {
		return 0, err
	}
	constants, err := in.resolveConstants(m.Constants)
	if err != nil {
		return 0, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	id := in.nextModuleID
	in.nextModuleID++
	in.modules[id] = &loadedModule{mod: m, classes: classes, constants: constants, natives: natives}
	return id, nil
}

func (in *Interpreter) resolveConstants(cs []module.Constant) ([]value.Value, error) {
	out := make([]value.Value, len(cs))
	for i, c := range cs {
		switch c.Kind {
		case module.ConstI32:
			out[i] = value.FromI32(c.I32)
		case module.ConstI64:
			out[i] = value.FromI64(c.I64)
		case module.ConstU64:
			out[i] = value.FromU64(c.U64)
		case module.ConstF64:
			out[i] = value.FromF64(c.F64)
		case module.ConstString:
			v, err := in.Heap.AllocConstString([]byte(c.Str))
			if err != nil {
				return nil, err
			}
			out[i] = v
		default:
			return nil, common.New(common.KindLink, "unknown constant kind %d", c.Kind)
		}
	}
	return out, nil
}

func (in *Interpreter) module(id uint32) (*loadedModule, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	lm, ok := in.modules[id]
	if !ok {
		return nil, common.New(common.KindLink, "unknown module id %d", id)
	}
	return lm, nil
}

func (in *Interpreter) function(moduleID, funcID uint32) (*loadedModule, *module.Function, error) {
	lm, err := in.module(moduleID)
	if err != nil {
		return nil, nil, err
	}
	if int(funcID) >= len(lm.mod.Functions) {
		return nil, nil, common.New(common.KindLink, "unknown function id %d in module %d", funcID, moduleID)
	}
	return lm, &lm.mod.Functions[funcID], nil
}

// EntryTask spawns a new top-level task running the named entry function of
// moduleID with the given arguments.
func (in *Interpreter) EntryTask(moduleID uint32, funcName string, args []value.Value) (sched.TaskID, error) {
	lm, err := in.module(moduleID)
	if err != nil {
		return 0, err
	}
	funcID, ok := lm.mod.EntryFuncID(funcName)
	if !ok {
		return 0, common.New(common.KindLink, "module %d has no function %q", moduleID, funcName)
	}
	return in.Sched.Spawn(moduleID, funcID, args)
}

func newEntryFrame(lm *loadedModule, moduleID, funcID uint32, fn *module.Function, params []value.Value) *Frame {
	f := newFrame(moduleID, funcID, int(fn.LocalCount), nil)
	for i := 0; i < len(params) && i < len(f.Locals); i++ {
		f.Locals[i] = params[i]
	}
	for i := len(params); i < len(f.Locals); i++ {
		f.Locals[i] = value.Null
	}
	return f
}

// GCRoots exposes the interpreter's own reachable values: resolved constant
// pool entries (string constants are heap objects) and every loaded class's
// static fields. The isolate folds these into the full root set alongside
// the scheduler's per-task roots.
func (in *Interpreter) GCRoots() []value.Value {
	in.mu.RLock()
	defer in.mu.RUnlock()
	var roots []value.Value
	for _, lm := range in.modules {
		roots = append(roots, lm.constants...)
		roots = append(roots, lm.classes.StaticRoots()...)
	}
	return roots
}

// Run implements sched.RunFunc: it executes t, starting a fresh call stack
// on first invocation or resuming a parked Frame chain otherwise, until the
// task completes, fails, suspends, or yields under cooperative preemption.
func (in *Interpreter) Run(t *sched.Task) sched.Outcome {
	cur, err := in.frameFor(t)
	if err != nil {
		return sched.Outcome{Kind: sched.OutcomeFailed, Err: err}
	}
	return in.run(t, cur)
}

func (in *Interpreter) frameFor(t *sched.Task) (*Frame, error) {
	if t.InterpState != nil {
		return t.InterpState.(*Frame), nil
	}
	lm, fn, err := in.function(t.ModuleID, t.FuncID)
	if err != nil {
		return nil, err
	}
	f := newEntryFrame(lm, t.ModuleID, t.FuncID, fn, t.Params)
	t.InterpState = f
	return f, nil
}

