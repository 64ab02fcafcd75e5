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

package interp

import (
	"github.com/probeum/raya/common"
	"github.com/probeum/raya/object"
	"github.com/probeum/raya/value"
)

// tryEntry is one active try/catch/finally scope, pushed by OpTry and
// popped by OpEndTry.
type tryEntry struct {
	catchPC   int // -1 if absent
	finallyPC int // -1 if absent
	stackBase int // operand stack depth to restore to when this scope catches
}

// pendingKind says what a finally block must do once it falls off its end
//.
type pendingKind uint8

const (
	pendingFallthrough pendingKind = iota
	pendingThrow
	pendingReturn
)

// pendingAction is the suspended exit path a finally block interrupted:
// resume normal execution at resumePC, keep unwinding exc, or keep
// returning ret.
type pendingAction struct {
	kind     pendingKind
	resumePC int
	exc      value.Value
	ret      value.Value
}

// Frame is one call frame: the function it is executing, its program
// counter, operand stack, locals vector, the active try/catch/finally
// scopes, and a back-pointer to the caller. Frame is
// stored in sched.Task.InterpState (an interface{}) rather than a concrete
// field on Task, precisely to keep package sched ignorant of package
// interp.
type Frame struct {
	ModuleID uint32
	FuncID   uint32
	PC       int

	Stack  []value.Value
	Locals []value.Value

	tries   []tryEntry
	pending []pendingAction

	// closure is non-nil while this frame executes a closure body;
	// LoadCaptured/StoreCaptured operate on its Captured slots so that
	// mutation is visible to every holder of the closure.
	closure *object.Closure

	// lastException backs the Rethrow opcode: the most recent exception
	// value that entered a catch block in this frame.
	lastException value.Value

	// isCtor marks a constructor invocation frame: on return, the caller
	// receives ctorReceiver (the freshly allocated object) rather than the
	// constructor body's own return value.
	isCtor       bool
	ctorReceiver value.Value

	Caller *Frame

	// PendingSuspend is true when this frame was left by returning
	// OutcomeSuspended; the next call to Interpreter.Run must first consume
	// the task's resume value/exception according to its SuspendReason
	// before resuming bytecode execution at PC.
	PendingSuspend bool

	// ResumePush says whether the consumed resume value is pushed onto the
	// operand stack (await, channel receive, blocking native call) or
	// discarded (sleep, mutex lock, channel send) — the stack machine's
	// version of a resume-value destination register.
	ResumePush bool
}

func newFrame(moduleID, funcID uint32, localCount int, caller *Frame) *Frame {
	return &Frame{
		ModuleID: moduleID,
		FuncID:   funcID,
		Locals:   make([]value.Value, localCount),
		Caller:   caller,
	}
}

func (f *Frame) push(v value.Value) { f.Stack = append(f.Stack, v) }

func (f *Frame) pop() (value.Value, error) {
	n := len(f.Stack)
	if n == 0 {
		return value.Null, common.ErrStackUnderflow
	}
	v := f.Stack[n-1]
	f.Stack = f.Stack[:n-1]
	return v, nil
}

func (f *Frame) peek() (value.Value, error) {
	n := len(f.Stack)
	if n == 0 {
		return value.Null, common.ErrStackUnderflow
	}
	return f.Stack[n-1], nil
}

// popN pops n values in stack (i.e. call) order: the first-pushed argument
// ends up at index 0.
func (f *Frame) popN(n int) ([]value.Value, error) {
	if len(f.Stack) < n {
		return nil, common.ErrStackUnderflow
	}
	base := len(f.Stack) - n
	out := append([]value.Value(nil), f.Stack[base:]...)
	f.Stack = f.Stack[:base]
	return out, nil
}

func (f *Frame) local(slot int) (value.Value, error) {
	if slot < 0 || slot >= len(f.Locals) {
		return value.Null, common.New(common.KindBounds, "local slot %d out of range (%d locals)", slot, len(f.Locals))
	}
	return f.Locals[slot], nil
}

func (f *Frame) setLocal(slot int, v value.Value) error {
	if slot < 0 || slot >= len(f.Locals) {
		return common.New(common.KindBounds, "local slot %d out of range (%d locals)", slot, len(f.Locals))
	}
	f.Locals[slot] = v
	return nil
}

// GCRoots implements sched.Task's InterpState Rooter contract: every Value
// reachable from this frame's operand stack and locals, and (transitively)
// from every caller up the stack.
func (f *Frame) GCRoots() []value.Value {
	var roots []value.Value
	for cur := f; cur != nil; cur = cur.Caller {
		roots = append(roots, cur.Stack...)
		roots = append(roots, cur.Locals...)
		roots = append(roots, cur.lastException, cur.ctorReceiver)
		for _, p := range cur.pending {
			roots = append(roots, p.exc, p.ret)
		}
	}
	return roots
}
