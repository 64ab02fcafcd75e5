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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probeum/raya/common"
	"github.com/probeum/raya/heap"
	"github.com/probeum/raya/module"
	"github.com/probeum/raya/object"
	"github.com/probeum/raya/safepoint"
	"github.com/probeum/raya/sched"
	"github.com/probeum/raya/syncprim"
	"github.com/probeum/raya/value"
)

// rig stands up a complete single-isolate execution core: heap, safepoint,
// scheduler, sync registries, and an interpreter wired the way the isolate
// package wires them.
type rig struct {
	h  *heap.Heap
	sp *safepoint.Coordinator
	s  *sched.Scheduler
	in *Interpreter
}

func (r *rig) GCRoots() []value.Value {
	return append(r.s.GCRoots(), r.in.GCRoots()...)
}

func newRig(t *testing.T, workers int) *rig {
	t.Helper()
	r := &rig{}
	r.h = heap.New(1, 0)
	r.sp = safepoint.New(0)

	limits := sched.DefaultLimits()
	limits.PreemptThresholdMs = 250
	r.s = sched.New(limits, r.sp, func(task *sched.Task) sched.Outcome {
		return r.in.Run(task)
	})
	mx := syncprim.NewMutexRegistry(r.s)
	ch := syncprim.NewChannels(r.h, r.s)
	sem := syncprim.NewSemRegistry(r.s)
	r.in = New(r.h, r.s, r.sp, mx, ch, sem, nil)
	r.in.PreemptThreshold = time.Duration(limits.PreemptThresholdMs) * time.Millisecond
	r.in.Collect = func() {
		if err := r.sp.Request(safepoint.ReasonGC); err != nil {
			r.sp.Poll()
			return
		}
		start := time.Now()
		r.sp.WaitOthers(2 * time.Second)
		r.h.Collect(r)
		r.sp.Resume(time.Since(start))
	}

	r.s.Start(context.Background(), workers)
	t.Cleanup(r.s.Stop)
	return r
}

func (r *rig) load(t *testing.T, m *module.Module) uint32 {
	t.Helper()
	id, err := r.in.LoadModule(m)
	require.NoError(t, err)
	return id
}

func (r *rig) runEntry(t *testing.T, modID uint32, name string, args ...value.Value) sched.TaskID {
	t.Helper()
	id, err := r.in.EntryTask(modID, name, args)
	require.NoError(t, err)
	return id
}

func (r *rig) await(t *testing.T, id sched.TaskID) (value.Value, error) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := r.s.Task(id)
		require.True(t, ok, "task %d vanished", id)
		if v, exc, done := task.TakeResult(); done {
			return v, exc
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for task %d", id)
	return value.Null, nil
}

func (r *rig) mustI32(t *testing.T, id sched.TaskID) int32 {
	t.Helper()
	v, err := r.await(t, id)
	require.NoError(t, err)
	i, ok := v.AsI32()
	require.True(t, ok, "expected i32 result, got %s", v.Kind())
	return i
}

// asm layers label tracking and back-patching over module.Encoder, so test
// programs can express jumps symbolically.
type asm struct {
	*module.Encoder
	labels  map[string]int
	patches map[int]string // jump opcode byte offset -> label
}

func newAsm() *asm {
	return &asm{Encoder: module.NewEncoder(), labels: map[string]int{}, patches: map[int]string{}}
}

func (a *asm) label(name string) { a.labels[name] = a.Len() }

func (a *asm) jump(op module.Opcode, label string) {
	a.patches[a.Len()] = label
	a.I32(op, 0)
}

// tryTo emits a Try whose catch/finally operands are labels ("" = absent).
func (a *asm) tryTo(catchLabel, finallyLabel string) {
	site := a.Len()
	a.U32U32(module.OpTry, 0xFFFFFFFF, 0xFFFFFFFF)
	if catchLabel != "" {
		a.patches[site] = "try-catch:" + catchLabel
	}
	if finallyLabel != "" {
		a.patches[site+4] = "try-fin:" + finallyLabel
	}
}

func (a *asm) code(t *testing.T) []byte {
	t.Helper()
	for site, label := range a.patches {
		switch {
		case len(label) > 10 && label[:10] == "try-catch:":
			pc, ok := a.labels[label[10:]]
			require.True(t, ok, "undefined label %q", label)
			a.PatchI32(site, int32(pc))
		case len(label) > 8 && label[:8] == "try-fin:":
			pc, ok := a.labels[label[8:]]
			require.True(t, ok, "undefined label %q", label)
			// finally operand lives 4 bytes after the catch operand; the
			// recorded site already accounts for that, so patch raw.
			a.PatchI32(site, int32(pc))
		default:
			pc, ok := a.labels[label]
			require.True(t, ok, "undefined label %q", label)
			a.PatchI32(site, int32(pc-(site+5)))
		}
	}
	return a.Bytes()
}

func fn(name string, params, locals uint32, code []byte) module.Function {
	return module.Function{Name: name, ParamCount: params, LocalCount: locals, Code: code}
}

func mod(funcs []module.Function, consts []module.Constant, classes []module.Class) *module.Module {
	return &module.Module{
		Version:   module.CurrentVersion,
		Constants: consts,
		Functions: funcs,
		Classes:   classes,
		Meta:      module.Metadata{Name: "test"},
	}
}

// counterClass is a zero-field class with one static slot, used as shared
// mutable state across tasks.
func counterClass() []module.Class {
	return []module.Class{{
		Name:        "Counter",
		ParentID:    module.NoParent,
		CtorFuncID:  module.NoCtor,
		StaticCount: 1,
	}}
}

// ---- End-to-end scenarios ---------------------------------------------------

func TestArithmeticAndReturn(t *testing.T) {
	a := newAsm()
	a.I32(module.OpConstI32, 3)
	a.I32(module.OpConstI32, 5)
	a.None(module.OpIAdd)
	a.None(module.OpReturn)

	r := newRig(t, 2)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 0, a.code(t))}, nil, nil))
	require.Equal(t, int32(8), r.mustI32(t, r.runEntry(t, modID, "main")))
}

func TestSpawnAndAwait(t *testing.T) {
	f := newAsm()
	f.I32(module.OpConstI32, 10)
	f.None(module.OpReturn)

	main := newAsm()
	main.U32U8(module.OpSpawn, 0, 0)
	main.None(module.OpAwait)
	main.None(module.OpReturn)

	r := newRig(t, 2)
	modID := r.load(t, mod([]module.Function{
		fn("f", 0, 0, f.code(t)),
		fn("main", 0, 0, main.code(t)),
	}, nil, nil))
	require.Equal(t, int32(10), r.mustI32(t, r.runEntry(t, modID, "main")))
	// Both tasks remain observable in the registry after they finish.
	require.GreaterOrEqual(t, r.s.TaskCount(), 2)
}

func TestChannelProducerConsumer(t *testing.T) {
	// producer(c): c.send(1); c.send(2); c.close()
	prod := newAsm()
	prod.None(module.OpLoadLocal0)
	prod.I32(module.OpConstI32, 1)
	prod.None(module.OpChannelSend)
	prod.None(module.OpLoadLocal0)
	prod.I32(module.OpConstI32, 2)
	prod.None(module.OpChannelSend)
	prod.None(module.OpLoadLocal0)
	prod.None(module.OpChannelClose)
	prod.None(module.OpConstNull)
	prod.None(module.OpReturn)

	// main: let c = Channel(1); spawn producer(c);
	//       a = recv; b = recv; done = recv;
	//       return a + b + (done == null ? 0 : 100)
	main := newAsm()
	main.I32(module.OpNewChannel, 1)
	main.None(module.OpStoreLocal0)
	main.None(module.OpLoadLocal0)
	main.U32U8(module.OpSpawn, 0, 1)
	main.None(module.OpPop) // task id unused
	main.None(module.OpLoadLocal0)
	main.None(module.OpChannelReceive)
	main.None(module.OpLoadLocal0)
	main.None(module.OpChannelReceive)
	main.None(module.OpIAdd)
	main.None(module.OpLoadLocal0)
	main.None(module.OpChannelReceive)
	main.jump(module.OpJumpIfNull, "done")
	main.I32(module.OpConstI32, 100)
	main.None(module.OpIAdd)
	main.label("done")
	main.None(module.OpReturn)

	r := newRig(t, 2)
	modID := r.load(t, mod([]module.Function{
		fn("producer", 1, 1, prod.code(t)),
		fn("main", 0, 1, main.code(t)),
	}, nil, nil))
	require.Equal(t, int32(3), r.mustI32(t, r.runEntry(t, modID, "main")))
}

func TestMutexExclusionCounter(t *testing.T) {
	// worker(m): for i in 0..1000 { lock(m); Counter.static0++; unlock(m) }
	worker := newAsm()
	worker.I32(module.OpConstI32, 0)
	worker.None(module.OpStoreLocal1)
	worker.label("head")
	worker.None(module.OpLoadLocal1)
	worker.I32(module.OpConstI32, 1000)
	worker.None(module.OpILt)
	worker.jump(module.OpJumpIfFalse, "exit")
	worker.None(module.OpLoadLocal0)
	worker.None(module.OpMutexLock)
	worker.U32U32(module.OpGetStatic, 0, 0)
	worker.I32(module.OpConstI32, 1)
	worker.None(module.OpIAdd)
	worker.U32U32(module.OpSetStatic, 0, 0)
	worker.None(module.OpLoadLocal0)
	worker.None(module.OpMutexUnlock)
	worker.None(module.OpLoadLocal1)
	worker.I32(module.OpConstI32, 1)
	worker.None(module.OpIAdd)
	worker.None(module.OpStoreLocal1)
	worker.jump(module.OpJump, "head")
	worker.label("exit")
	worker.None(module.OpConstNull)
	worker.None(module.OpReturn)

	main := newAsm()
	main.I32(module.OpConstI32, 0)
	main.U32U32(module.OpSetStatic, 0, 0)
	main.None(module.OpNewMutex)
	main.None(module.OpStoreLocal0)
	for i := 0; i < 8; i++ {
		main.None(module.OpLoadLocal0)
		main.U32U8(module.OpSpawn, 0, 1)
	}
	main.U8(module.OpWaitAll, 8)
	main.U32U32(module.OpGetStatic, 0, 0)
	main.None(module.OpReturn)

	r := newRig(t, 4)
	modID := r.load(t, mod([]module.Function{
		fn("worker", 1, 2, worker.code(t)),
		fn("main", 0, 1, main.code(t)),
	}, nil, counterClass()))
	require.Equal(t, int32(8000), r.mustI32(t, r.runEntry(t, modID, "main")))
}

func TestGCCollectsBytecodeGarbage(t *testing.T) {
	// main: for i in 0..3000 { discard new Array(1000) }; return 1
	a := newAsm()
	a.I32(module.OpConstI32, 0)
	a.None(module.OpStoreLocal0)
	a.label("head")
	a.None(module.OpLoadLocal0)
	a.I32(module.OpConstI32, 3000)
	a.None(module.OpILt)
	a.jump(module.OpJumpIfFalse, "exit")
	a.I32(module.OpConstI32, 1000)
	a.U32(module.OpNewArray, 0)
	a.None(module.OpPop)
	a.None(module.OpLoadLocal0)
	a.I32(module.OpConstI32, 1)
	a.None(module.OpIAdd)
	a.None(module.OpStoreLocal0)
	a.jump(module.OpJump, "head")
	a.label("exit")
	a.I32(module.OpConstI32, 1)
	a.None(module.OpReturn)

	r := newRig(t, 2)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 1, a.code(t))}, nil, nil))
	require.Equal(t, int32(1), r.mustI32(t, r.runEntry(t, modID, "main")))

	stats := r.h.Stats()
	require.Greater(t, stats.Collections, uint64(0), "allocation pressure should have triggered GC")
	require.Greater(t, stats.ObjectsFreed, uint64(0))

	// Force one more cycle with no task roots left: the allocation count
	// returns to its baseline (only interned constants survive).
	r.h.Collect(r)
	require.Less(t, r.h.LiveObjects(), 100)
}

func TestUncaughtExceptionPropagatesToAwaiter(t *testing.T) {
	bad := newAsm()
	bad.U32(module.OpLoadConst, 0) // "boom"
	bad.None(module.OpThrow)

	main := newAsm()
	main.U32U8(module.OpSpawn, 0, 0)
	main.None(module.OpAwait)
	main.None(module.OpReturn)

	r := newRig(t, 2)
	modID := r.load(t, mod([]module.Function{
		fn("bad", 0, 0, bad.code(t)),
		fn("main", 0, 0, main.code(t)),
	}, []module.Constant{{Kind: module.ConstString, Str: "boom"}}, nil))

	id := r.runEntry(t, modID, "main")
	_, err := r.await(t, id)
	require.Error(t, err)

	var ce *common.Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, common.KindUser, ce.Kind)
	excVal, ok := ce.Value.(value.Value)
	require.True(t, ok)
	obj, ok := r.h.Resolve(excVal)
	require.True(t, ok)
	require.Equal(t, "boom", obj.(*object.String).String())

	task, _ := r.s.Task(id)
	require.Equal(t, sched.Failed, task.CurrentState())
}

// ---- Control flow and exceptions -------------------------------------------

func TestTryCatchFinallyOrder(t *testing.T) {
	// try { throw 42 } catch (e) { local0 = e } finally { Counter.static0 = 1 }
	// return local0
	a := newAsm()
	a.tryTo("catch", "finally")
	a.I32(module.OpConstI32, 42)
	a.None(module.OpThrow)
	a.label("catch")
	a.None(module.OpStoreLocal0)
	a.None(module.OpEndTry)
	a.None(module.OpLoadLocal0)
	a.None(module.OpReturn)
	a.label("finally")
	a.I32(module.OpConstI32, 1)
	a.U32U32(module.OpSetStatic, 0, 0)
	a.None(module.OpEndTry)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 1, a.code(t))}, nil, counterClass()))
	require.Equal(t, int32(42), r.mustI32(t, r.runEntry(t, modID, "main")))

	lm, err := r.in.module(modID)
	require.NoError(t, err)
	cls, _ := lm.classes.Lookup(0)
	flag, _ := cls.StaticField[0].AsI32()
	require.Equal(t, int32(1), flag, "finally must run on the catch path")
}

func TestFinallyRunsOnReturnPath(t *testing.T) {
	a := newAsm()
	a.tryTo("", "finally")
	a.I32(module.OpConstI32, 7)
	a.None(module.OpReturn)
	a.label("finally")
	a.I32(module.OpConstI32, 1)
	a.U32U32(module.OpSetStatic, 0, 0)
	a.None(module.OpEndTry)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 0, a.code(t))}, nil, counterClass()))
	require.Equal(t, int32(7), r.mustI32(t, r.runEntry(t, modID, "main")))

	lm, err := r.in.module(modID)
	require.NoError(t, err)
	cls, _ := lm.classes.Lookup(0)
	flag, _ := cls.StaticField[0].AsI32()
	require.Equal(t, int32(1), flag, "finally must run on the return path")
}

func TestRethrowPreservesException(t *testing.T) {
	// try { try { throw "boom" } catch { rethrow } } catch (e) { return e }
	a := newAsm()
	a.tryTo("outerCatch", "")
	a.tryTo("innerCatch", "")
	a.U32(module.OpLoadConst, 0)
	a.None(module.OpThrow)
	a.label("innerCatch")
	a.None(module.OpPop) // discard the pushed exception; rethrow uses lastException
	a.None(module.OpRethrow)
	a.label("outerCatch")
	a.None(module.OpReturn) // returns the exception value
	r := newRig(t, 1)
	modID := r.load(t, mod(
		[]module.Function{fn("main", 0, 0, a.code(t))},
		[]module.Constant{{Kind: module.ConstString, Str: "boom"}}, nil))
	v, err := r.await(t, r.runEntry(t, modID, "main"))
	require.NoError(t, err)
	obj, ok := r.h.Resolve(v)
	require.True(t, ok)
	require.Equal(t, "boom", obj.(*object.String).String())
}

func TestDivisionByZeroFailsTask(t *testing.T) {
	a := newAsm()
	a.I32(module.OpConstI32, 1)
	a.I32(module.OpConstI32, 0)
	a.None(module.OpIDiv)
	a.None(module.OpReturn)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 0, a.code(t))}, nil, nil))
	_, err := r.await(t, r.runEntry(t, modID, "main"))
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindArithmetic))
}

func TestTrapFailsTask(t *testing.T) {
	a := newAsm()
	a.None(module.OpTrap)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 0, a.code(t))}, nil, nil))
	_, err := r.await(t, r.runEntry(t, modID, "main"))
	require.ErrorIs(t, err, common.ErrTrap)
}

// ---- Calls, closures, objects ----------------------------------------------

func TestFunctionCallAndLocals(t *testing.T) {
	// add(a, b) = a + b; main = add(20, 22)
	add := newAsm()
	add.None(module.OpLoadLocal0)
	add.None(module.OpLoadLocal1)
	add.None(module.OpIAdd)
	add.None(module.OpReturn)

	main := newAsm()
	main.I32(module.OpConstI32, 20)
	main.I32(module.OpConstI32, 22)
	main.U32U8(module.OpCall, 0, 2)
	main.None(module.OpReturn)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{
		fn("add", 2, 2, add.code(t)),
		fn("main", 0, 0, main.code(t)),
	}, nil, nil))
	require.Equal(t, int32(42), r.mustI32(t, r.runEntry(t, modID, "main")))
}

func TestClosureCaptureAndCall(t *testing.T) {
	// addN = closure(captured: 32); addN(10) = 42
	body := newAsm()
	body.U16(module.OpLoadCaptured, 0)
	body.None(module.OpLoadLocal0)
	body.None(module.OpIAdd)
	body.None(module.OpReturn)

	main := newAsm()
	main.I32(module.OpConstI32, 32)
	main.U32U16(module.OpMakeClosure, 0, 1)
	main.I32(module.OpConstI32, 10)
	main.U8(module.OpCallClosure, 1)
	main.None(module.OpReturn)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{
		fn("addN", 1, 1, body.code(t)),
		fn("main", 0, 0, main.code(t)),
	}, nil, nil))
	require.Equal(t, int32(42), r.mustI32(t, r.runEntry(t, modID, "main")))
}

func TestSpawnClosure(t *testing.T) {
	body := newAsm()
	body.U16(module.OpLoadCaptured, 0)
	body.None(module.OpReturn)

	main := newAsm()
	main.I32(module.OpConstI32, 99)
	main.U32U16(module.OpMakeClosure, 0, 1)
	main.U8(module.OpSpawnClosure, 0)
	main.None(module.OpAwait)
	main.None(module.OpReturn)

	r := newRig(t, 2)
	modID := r.load(t, mod([]module.Function{
		fn("body", 0, 0, body.code(t)),
		fn("main", 0, 0, main.code(t)),
	}, nil, nil))
	require.Equal(t, int32(99), r.mustI32(t, r.runEntry(t, modID, "main")))
}

func TestRefCellLoadStore(t *testing.T) {
	a := newAsm()
	a.I32(module.OpConstI32, 5)
	a.None(module.OpNewRefCell)
	a.None(module.OpStoreLocal0)
	a.None(module.OpLoadLocal0)
	a.I32(module.OpConstI32, 9)
	a.None(module.OpRefCellStore)
	a.None(module.OpLoadLocal0)
	a.None(module.OpRefCellLoad)
	a.None(module.OpReturn)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 1, a.code(t))}, nil, nil))
	require.Equal(t, int32(9), r.mustI32(t, r.runEntry(t, modID, "main")))
}

func TestObjectFieldsAndConstructor(t *testing.T) {
	// class Point { x; y; ctor(x) { this.x = x } }  (field 1 unused)
	ctor := newAsm()
	ctor.None(module.OpLoadLocal0) // this
	ctor.None(module.OpLoadLocal1) // x
	ctor.U32(module.OpSetField, 0)
	ctor.None(module.OpConstNull)
	ctor.None(module.OpReturn)

	main := newAsm()
	main.I32(module.OpConstI32, 17)
	main.U32U8(module.OpCallCtor, 0, 1)
	main.U32(module.OpGetField, 0)
	main.None(module.OpReturn)

	classes := []module.Class{{
		Name:       "Point",
		FieldCount: 2,
		ParentID:   module.NoParent,
		CtorFuncID: 0,
	}}
	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{
		fn("Point.ctor", 2, 2, ctor.code(t)),
		fn("main", 0, 0, main.code(t)),
	}, nil, classes))
	require.Equal(t, int32(17), r.mustI32(t, r.runEntry(t, modID, "main")))
}

func TestMethodDispatchThroughVtable(t *testing.T) {
	// class Box { v; get() { return this.v } }
	get := newAsm()
	get.None(module.OpLoadLocal0)
	get.U32(module.OpGetField, 0)
	get.None(module.OpReturn)

	main := newAsm()
	main.U32(module.OpNewObject, 0)
	main.None(module.OpStoreLocal0)
	main.None(module.OpLoadLocal0)
	main.I32(module.OpConstI32, 55)
	main.U32(module.OpSetField, 0)
	main.None(module.OpLoadLocal0)
	main.U32U8(module.OpCallMethod, 0, 0) // vtable slot 0, no args
	main.None(module.OpReturn)

	classes := []module.Class{{
		Name:       "Box",
		FieldCount: 1,
		ParentID:   module.NoParent,
		CtorFuncID: module.NoCtor,
		Methods:    []module.Method{{Name: "get", FuncID: 0}},
	}}
	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{
		fn("Box.get", 1, 1, get.code(t)),
		fn("main", 0, 1, main.code(t)),
	}, nil, classes))
	require.Equal(t, int32(55), r.mustI32(t, r.runEntry(t, modID, "main")))
}

// ---- Strings, arrays, JSON --------------------------------------------------

func TestStringConcatAndEquality(t *testing.T) {
	a := newAsm()
	a.U32(module.OpLoadConst, 0) // "foo"
	a.U32(module.OpLoadConst, 1) // "bar"
	a.None(module.OpSConcat)
	a.U32(module.OpLoadConst, 2) // "foobar"
	a.None(module.OpSEq)
	a.None(module.OpReturn)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 0, a.code(t))}, []module.Constant{
		{Kind: module.ConstString, Str: "foo"},
		{Kind: module.ConstString, Str: "bar"},
		{Kind: module.ConstString, Str: "foobar"},
	}, nil))
	v, err := r.await(t, r.runEntry(t, modID, "main"))
	require.NoError(t, err)
	b, ok := v.AsBool()
	require.True(t, ok)
	require.True(t, b)
}

func TestArrayLiteralGetSet(t *testing.T) {
	a := newAsm()
	a.I32(module.OpConstI32, 10)
	a.I32(module.OpConstI32, 20)
	a.I32(module.OpConstI32, 30)
	a.U32(module.OpArrayLiteral, 3)
	a.None(module.OpStoreLocal0)
	a.None(module.OpLoadLocal0)
	a.I32(module.OpConstI32, 1)
	a.I32(module.OpConstI32, 25)
	a.None(module.OpArraySet)
	a.None(module.OpLoadLocal0)
	a.I32(module.OpConstI32, 1)
	a.None(module.OpArrayGet)
	a.None(module.OpReturn)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 1, a.code(t))}, nil, nil))
	require.Equal(t, int32(25), r.mustI32(t, r.runEntry(t, modID, "main")))
}

func TestArrayBoundsError(t *testing.T) {
	a := newAsm()
	a.U32(module.OpArrayLiteral, 0)
	a.I32(module.OpConstI32, 0)
	a.None(module.OpArrayGet)
	a.None(module.OpReturn)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 0, a.code(t))}, nil, nil))
	_, err := r.await(t, r.runEntry(t, modID, "main"))
	require.True(t, common.IsKind(err, common.KindBounds))
}

func TestJSONSetGetRoundTrip(t *testing.T) {
	a := newAsm()
	a.None(module.OpJsonNewObject)
	a.None(module.OpStoreLocal0)
	a.None(module.OpLoadLocal0)
	a.U32(module.OpLoadConst, 0) // "k"
	a.F64(module.OpConstF64, 2.5)
	a.None(module.OpJsonSet)
	a.None(module.OpLoadLocal0)
	a.U32(module.OpLoadConst, 0)
	a.None(module.OpJsonGet)
	a.None(module.OpReturn)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 1, a.code(t))},
		[]module.Constant{{Kind: module.ConstString, Str: "k"}}, nil))
	v, err := r.await(t, r.runEntry(t, modID, "main"))
	require.NoError(t, err)
	f, ok := v.AsF64()
	require.True(t, ok)
	require.Equal(t, 2.5, f)
}

// ---- Concurrency primitives --------------------------------------------------

func TestSleepDelaysCompletion(t *testing.T) {
	a := newAsm()
	a.I32(module.OpConstI32, 30)
	a.None(module.OpSleep)
	a.I32(module.OpConstI32, 7)
	a.None(module.OpReturn)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 0, a.code(t))}, nil, nil))
	start := time.Now()
	require.Equal(t, int32(7), r.mustI32(t, r.runEntry(t, modID, "main")))
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestSemaphoreAcquireRelease(t *testing.T) {
	a := newAsm()
	a.U32(module.OpNewSemaphore, 1)
	a.None(module.OpStoreLocal0)
	a.None(module.OpLoadLocal0)
	a.None(module.OpSemAcquire)
	a.None(module.OpLoadLocal0)
	a.None(module.OpSemRelease)
	a.I32(module.OpConstI32, 1)
	a.None(module.OpReturn)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 1, a.code(t))}, nil, nil))
	require.Equal(t, int32(1), r.mustI32(t, r.runEntry(t, modID, "main")))
}

func TestYieldKeepsTaskRunnable(t *testing.T) {
	a := newAsm()
	a.None(module.OpYield)
	a.I32(module.OpConstI32, 5)
	a.None(module.OpReturn)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 0, a.code(t))}, nil, nil))
	require.Equal(t, int32(5), r.mustI32(t, r.runEntry(t, modID, "main")))
	require.GreaterOrEqual(t, r.s.Stats().Preempted, uint64(1))
}

func TestCancellationFailsTask(t *testing.T) {
	// Infinite loop with a back-edge (a polling site).
	a := newAsm()
	a.label("head")
	a.jump(module.OpJump, "head")

	r := newRig(t, 2)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 0, a.code(t))}, nil, nil))
	id := r.runEntry(t, modID, "main")
	time.Sleep(10 * time.Millisecond)
	r.s.Cancel(id)
	_, err := r.await(t, id)
	require.ErrorIs(t, err, common.ErrTaskCancelled)
}

func TestRendezvousChannel(t *testing.T) {
	// producer(c): c.send(11)
	prod := newAsm()
	prod.None(module.OpLoadLocal0)
	prod.I32(module.OpConstI32, 11)
	prod.None(module.OpChannelSend)
	prod.None(module.OpConstNull)
	prod.None(module.OpReturn)

	main := newAsm()
	main.I32(module.OpNewChannel, 0) // capacity 0: rendezvous
	main.None(module.OpStoreLocal0)
	main.None(module.OpLoadLocal0)
	main.U32U8(module.OpSpawn, 0, 1)
	main.None(module.OpPop)
	main.None(module.OpLoadLocal0)
	main.None(module.OpChannelReceive)
	main.None(module.OpReturn)

	r := newRig(t, 2)
	modID := r.load(t, mod([]module.Function{
		fn("producer", 1, 1, prod.code(t)),
		fn("main", 0, 1, main.code(t)),
	}, nil, nil))
	require.Equal(t, int32(11), r.mustI32(t, r.runEntry(t, modID, "main")))
}

func TestStepBudgetYieldsWithoutFailing(t *testing.T) {
	// A long but finite loop far exceeding MaxSteps still completes, via
	// cooperative yields rather than failure.
	a := newAsm()
	a.I32(module.OpConstI32, 0)
	a.None(module.OpStoreLocal0)
	a.label("head")
	a.None(module.OpLoadLocal0)
	a.I32(module.OpConstI32, 50_000)
	a.None(module.OpILt)
	a.jump(module.OpJumpIfFalse, "exit")
	a.None(module.OpLoadLocal0)
	a.I32(module.OpConstI32, 1)
	a.None(module.OpIAdd)
	a.None(module.OpStoreLocal0)
	a.jump(module.OpJump, "head")
	a.label("exit")
	a.None(module.OpLoadLocal0)
	a.None(module.OpReturn)

	r := newRig(t, 1)
	r.in.MaxSteps = 10_000
	modID := r.load(t, mod([]module.Function{fn("main", 0, 1, a.code(t))}, nil, nil))
	require.Equal(t, int32(50_000), r.mustI32(t, r.runEntry(t, modID, "main")))
	require.GreaterOrEqual(t, r.s.Stats().Preempted, uint64(1))
}

func TestLooseVsStrictEquality(t *testing.T) {
	// 1 == 1.0 (loose) is true; 1 === 1.0 (strict) is false.
	a := newAsm()
	a.I32(module.OpConstI32, 1)
	a.F64(module.OpConstF64, 1.0)
	a.None(module.OpEq)
	a.I32(module.OpConstI32, 1)
	a.F64(module.OpConstF64, 1.0)
	a.None(module.OpStrictEq)
	a.None(module.OpLNot)
	// both on stack: and them via IAnd? booleans: use loose Eq of the two
	a.None(module.OpEq) // true == true
	a.None(module.OpReturn)

	r := newRig(t, 1)
	modID := r.load(t, mod([]module.Function{fn("main", 0, 0, a.code(t))}, nil, nil))
	v, err := r.await(t, r.runEntry(t, modID, "main"))
	require.NoError(t, err)
	b, ok := v.AsBool()
	require.True(t, ok)
	require.True(t, b)
}
