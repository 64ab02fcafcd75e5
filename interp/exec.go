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
	"math"
	"sync/atomic"
	"time"

	"github.com/probeum/raya/common"
	"github.com/probeum/raya/heap"
	"github.com/probeum/raya/module"
	"github.com/probeum/raya/native"
	"github.com/probeum/raya/object"
	"github.com/probeum/raya/sched"
	"github.com/probeum/raya/value"
)

// noOffset sentinels an absent catch/finally operand in the Try opcode's
// wire encoding.
const noOffset = 0xFFFFFFFF

// Steps reports the cumulative instruction count executed by this
// interpreter across every task.
func (in *Interpreter) Steps() uint64 { return atomic.LoadUint64(&in.steps) }

// suspend parks the current frame chain on t and reports the suspension to
// the scheduler. The frame's PC must already point at the instruction to
// execute on resume.
func suspend(t *sched.Task, cur *Frame, push bool, reason sched.SuspendReason) sched.Outcome {
	cur.PendingSuspend = true
	cur.ResumePush = push
	t.InterpState = cur
	return sched.Outcome{Kind: sched.OutcomeSuspended, Reason: reason}
}

func failed(err error) sched.Outcome {
	return sched.Outcome{Kind: sched.OutcomeFailed, Err: err}
}

// run is the decode-and-switch hot loop. It
// executes t's frame chain until the task completes, fails, suspends, or
// yields. Safepoints are polled at every loop back-edge, call, allocation,
// and spawn/await.
func (in *Interpreter) run(t *sched.Task, cur *Frame) sched.Outcome {
	var localSteps uint64
	defer func() { atomic.AddUint64(&in.steps, localSteps) }()

	if cur.PendingSuspend {
		cur.PendingSuspend = false
		v, err := t.TakeResume()
		if err != nil {
			next, out := in.raise(t, cur, err)
			if out != nil {
				return *out
			}
			cur = next
		} else if cur.ResumePush {
			cur.push(v)
		}
	}

	lm, fn, err := in.function(cur.ModuleID, cur.FuncID)
	if err != nil {
		return failed(err)
	}

	for {
		instrStart := cur.PC
		ins, next, derr := module.DecodeInstr(fn.Code, cur.PC)
		if derr != nil {
			return failed(common.Wrap(common.KindDecode, derr, "task %d in %q", t.ID, fn.Name))
		}
		cur.PC = next
		localSteps++

		switch ins.Op {
		case module.OpNop, module.OpDebugger:

		// ---- Constants --------------------------------------------------

		case module.OpConstNull:
			cur.push(value.Null)
		case module.OpConstTrue:
			cur.push(value.FromBool(true))
		case module.OpConstFalse:
			cur.push(value.FromBool(false))
		case module.OpConstI32:
			cur.push(value.FromI32(ins.AI32()))
		case module.OpConstF64:
			cur.push(value.FromF64(ins.F))
		case module.OpLoadConst:
			if int(ins.A) >= len(lm.constants) {
				return failed(common.New(common.KindBounds, "constant index %d out of range", ins.A))
			}
			cur.push(lm.constants[ins.A])

		// ---- Stack manipulation -----------------------------------------

		case module.OpPop:
			if _, err := cur.pop(); err != nil {
				return failed(err)
			}
		case module.OpDup:
			v, err := cur.peek()
			if err != nil {
				return failed(err)
			}
			cur.push(v)
		case module.OpSwap:
			b, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			a, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			cur.push(b)
			cur.push(a)

		// ---- Locals ------------------------------------------------------

		case module.OpLoadLocal:
			v, err := cur.local(int(ins.A))
			if err != nil {
				return failed(err)
			}
			cur.push(v)
		case module.OpStoreLocal:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			if err := cur.setLocal(int(ins.A), v); err != nil {
				return failed(err)
			}
		case module.OpLoadLocal0, module.OpLoadLocal1:
			slot := 0
			if ins.Op == module.OpLoadLocal1 {
				slot = 1
			}
			v, err := cur.local(slot)
			if err != nil {
				return failed(err)
			}
			cur.push(v)
		case module.OpStoreLocal0, module.OpStoreLocal1:
			slot := 0
			if ins.Op == module.OpStoreLocal1 {
				slot = 1
			}
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			if err := cur.setLocal(slot, v); err != nil {
				return failed(err)
			}

		// ---- Integer arithmetic -----------------------------------------

		case module.OpIAdd, module.OpISub, module.OpIMul, module.OpIDiv, module.OpIMod,
			module.OpIShl, module.OpIShr, module.OpIAnd, module.OpIOr, module.OpIXor:
			a, b, err := cur.popI32Pair()
			if err != nil {
				return failed(err)
			}
			var r int32
			switch ins.Op {
			case module.OpIAdd:
				r = a + b // wrapping by Go's int32 semantics
			case module.OpISub:
				r = a - b
			case module.OpIMul:
				r = a * b
			case module.OpIDiv:
				if b == 0 {
					return failed(common.New(common.KindArithmetic, "integer division by zero"))
				}
				if a == math.MinInt32 && b == -1 {
					r = math.MinInt32 // wraps, matching the wrapping-mul/add rule
				} else {
					r = a / b
				}
			case module.OpIMod:
				if b == 0 {
					return failed(common.New(common.KindArithmetic, "integer modulo by zero"))
				}
				if a == math.MinInt32 && b == -1 {
					r = 0
				} else {
					r = a % b // Go's % follows the dividend's sign, as specified
				}
			case module.OpIShl:
				r = a << (uint32(b) & 31)
			case module.OpIShr:
				r = a >> (uint32(b) & 31)
			case module.OpIAnd:
				r = a & b
			case module.OpIOr:
				r = a | b
			case module.OpIXor:
				r = a ^ b
			}
			cur.push(value.FromI32(r))
		case module.OpINeg:
			a, err := cur.popI32(ins.Op)
			if err != nil {
				return failed(err)
			}
			cur.push(value.FromI32(-a))
		case module.OpINot:
			a, err := cur.popI32(ins.Op)
			if err != nil {
				return failed(err)
			}
			cur.push(value.FromI32(^a))
		case module.OpIPow:
			a, b, err := cur.popI32Pair()
			if err != nil {
				return failed(err)
			}
			if b < 0 {
				cur.push(value.FromF64(math.Pow(float64(a), float64(b))))
			} else {
				r := int32(1)
				base := a
				for e := b; e > 0; e >>= 1 {
					if e&1 == 1 {
						r *= base
					}
					base *= base
				}
				cur.push(value.FromI32(r))
			}

		// ---- Float arithmetic -------------------------------------------

		case module.OpFAdd, module.OpFSub, module.OpFMul, module.OpFDiv:
			a, b, err := cur.popF64Pair()
			if err != nil {
				return failed(err)
			}
			var r float64
			switch ins.Op {
			case module.OpFAdd:
				r = a + b
			case module.OpFSub:
				r = a - b
			case module.OpFMul:
				r = a * b
			case module.OpFDiv:
				r = a / b // ±Inf on zero divisor, NaN propagates
			}
			cur.push(value.FromF64(r))
		case module.OpFNeg:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			f, ok := v.AsF64()
			if !ok {
				return failed(typeError(ins.Op, "f64", v))
			}
			cur.push(value.FromF64(-f))

		// ---- Comparisons -------------------------------------------------

		case module.OpIEq, module.OpINe, module.OpILt, module.OpILe, module.OpIGt, module.OpIGe:
			a, b, err := cur.popI32Pair()
			if err != nil {
				return failed(err)
			}
			var r bool
			switch ins.Op {
			case module.OpIEq:
				r = a == b
			case module.OpINe:
				r = a != b
			case module.OpILt:
				r = a < b
			case module.OpILe:
				r = a <= b
			case module.OpIGt:
				r = a > b
			case module.OpIGe:
				r = a >= b
			}
			cur.push(value.FromBool(r))
		case module.OpFEq, module.OpFNe, module.OpFLt, module.OpFLe, module.OpFGt, module.OpFGe:
			a, b, err := cur.popF64Pair()
			if err != nil {
				return failed(err)
			}
			var r bool
			switch ins.Op {
			case module.OpFEq:
				r = a == b
			case module.OpFNe:
				r = a != b
			case module.OpFLt:
				r = a < b
			case module.OpFLe:
				r = a <= b
			case module.OpFGt:
				r = a > b
			case module.OpFGe:
				r = a >= b
			}
			cur.push(value.FromBool(r))
		case module.OpEq, module.OpNe:
			b, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			a, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			eq := in.looseEquals(a, b)
			if ins.Op == module.OpNe {
				eq = !eq
			}
			cur.push(value.FromBool(eq))
		case module.OpStrictEq, module.OpStrictNe:
			b, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			a, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			eq := a.StrictEquals(b)
			if ins.Op == module.OpStrictNe {
				eq = !eq
			}
			cur.push(value.FromBool(eq))

		case module.OpLNot:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			cur.push(value.FromBool(!v.Truthy()))

		// ---- Strings -----------------------------------------------------

		case module.OpSConcat:
			b, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			a, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			sa, err := in.asString(a)
			if err != nil {
				return failed(err)
			}
			sb, err := in.asString(b)
			if err != nil {
				return failed(err)
			}
			if out := in.pollAlloc(t, cur, &localSteps); out != nil {
				cur.push(a)
				cur.push(b)
				cur.PC = instrStart
				return *out
			}
			joined := make([]byte, 0, len(sa.Bytes)+len(sb.Bytes))
			joined = append(joined, sa.Bytes...)
			joined = append(joined, sb.Bytes...)
			sv, aerr := in.Heap.AllocString(joined)
			if aerr != nil {
				return failed(aerr)
			}
			cur.push(sv)
		case module.OpSLen:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			s, err := in.asString(v)
			if err != nil {
				return failed(err)
			}
			cur.push(value.FromI32(int32(s.Len())))
		case module.OpSEq:
			b, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			a, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			sa, err := in.asString(a)
			if err != nil {
				return failed(err)
			}
			sb, err := in.asString(b)
			if err != nil {
				return failed(err)
			}
			cur.push(value.FromBool(a.StrictEquals(b) || sa.Equals(sb)))
		case module.OpSCompare:
			b, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			a, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			sa, err := in.asString(a)
			if err != nil {
				return failed(err)
			}
			sb, err := in.asString(b)
			if err != nil {
				return failed(err)
			}
			cur.push(value.FromI32(int32(compareBytes(sa.Bytes, sb.Bytes))))

		// ---- Jumps -------------------------------------------------------

		case module.OpJump:
			cur.PC = next + int(ins.AI32())
			if int(ins.AI32()) < 0 { // loop back-edge
				if out := in.poll(t, cur, &localSteps); out != nil {
					return *out
				}
			}
		case module.OpJumpIfTrue, module.OpJumpIfFalse, module.OpJumpIfNull, module.OpJumpIfNotNull:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			var take bool
			switch ins.Op {
			case module.OpJumpIfTrue:
				take = v.Truthy()
			case module.OpJumpIfFalse:
				take = !v.Truthy()
			case module.OpJumpIfNull:
				take = v.IsNull()
			case module.OpJumpIfNotNull:
				take = !v.IsNull()
			}
			if take {
				cur.PC = next + int(ins.AI32())
				if int(ins.AI32()) < 0 {
					if out := in.poll(t, cur, &localSteps); out != nil {
						return *out
					}
				}
			}

		// ---- Calls -------------------------------------------------------

		case module.OpCall, module.OpCallStatic:
			if out := in.poll(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			args, err := cur.popN(int(ins.B))
			if err != nil {
				return failed(err)
			}
			callee, err := in.pushCall(cur, ins.A, args, nil)
			if err != nil {
				return failed(err)
			}
			cur = callee
			lm, fn, err = in.function(cur.ModuleID, cur.FuncID)
			if err != nil {
				return failed(err)
			}

		case module.OpCallMethod:
			if out := in.poll(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			args, err := cur.popN(int(ins.B))
			if err != nil {
				return failed(err)
			}
			recv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			obj, err := in.asObject(recv)
			if err != nil {
				return failed(err)
			}
			funcID, err := lm.classes.MethodFuncID(obj.ClassID, ins.A)
			if err != nil {
				return failed(err)
			}
			callee, err := in.pushCall(cur, funcID, append([]value.Value{recv}, args...), nil)
			if err != nil {
				return failed(err)
			}
			cur = callee
			lm, fn, err = in.function(cur.ModuleID, cur.FuncID)
			if err != nil {
				return failed(err)
			}

		case module.OpCallSuper:
			if out := in.poll(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			args, err := cur.popN(int(ins.B))
			if err != nil {
				return failed(err)
			}
			recv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			callee, err := in.pushCall(cur, ins.A, append([]value.Value{recv}, args...), nil)
			if err != nil {
				return failed(err)
			}
			cur = callee
			lm, fn, err = in.function(cur.ModuleID, cur.FuncID)
			if err != nil {
				return failed(err)
			}

		case module.OpCallCtor:
			if out := in.pollAlloc(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			args, err := cur.popN(int(ins.B))
			if err != nil {
				return failed(err)
			}
			cls, ok := lm.classes.Lookup(ins.A)
			if !ok {
				return failed(common.New(common.KindLink, "unknown class id %d", ins.A))
			}
			recv, aerr := in.Heap.AllocObject(ins.A, cls.FieldCount)
			if aerr != nil {
				return failed(aerr)
			}
			if !cls.HasCtor() {
				cur.push(recv)
				break
			}
			callee, err := in.pushCall(cur, uint32(cls.Ctor), append([]value.Value{recv}, args...), nil)
			if err != nil {
				return failed(err)
			}
			callee.isCtor = true
			callee.ctorReceiver = recv
			cur = callee
			lm, fn, err = in.function(cur.ModuleID, cur.FuncID)
			if err != nil {
				return failed(err)
			}

		case module.OpCallClosure:
			if out := in.poll(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			args, err := cur.popN(int(ins.A))
			if err != nil {
				return failed(err)
			}
			fv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			obj, ok := in.Heap.Resolve(fv)
			if !ok {
				return failed(typeError(ins.Op, "closure or bound method", fv))
			}
			var callee *Frame
			switch c := obj.(type) {
			case *object.Closure:
				callee, err = in.pushCall(cur, c.FuncID, args, c)
			case *object.BoundMethod:
				callee, err = in.pushCall(cur, c.FuncID, append([]value.Value{c.Receiver}, args...), nil)
			default:
				return failed(typeError(ins.Op, "closure or bound method", fv))
			}
			if err != nil {
				return failed(err)
			}
			cur = callee
			lm, fn, err = in.function(cur.ModuleID, cur.FuncID)
			if err != nil {
				return failed(err)
			}

		case module.OpReturn:
			ret := value.Null
			if len(cur.Stack) > 0 {
				ret, _ = cur.pop()
			}
			if _, ok := cur.enterFinallyFor(pendingAction{kind: pendingReturn, ret: ret}); ok {
				break
			}
			nf, out := in.doReturn(t, cur, ret)
			if out != nil {
				return *out
			}
			cur = nf
			lm, fn, err = in.function(cur.ModuleID, cur.FuncID)
			if err != nil {
				return failed(err)
			}

		// ---- Objects -----------------------------------------------------

		case module.OpNewObject:
			if out := in.pollAlloc(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			cls, ok := lm.classes.Lookup(ins.A)
			if !ok {
				return failed(common.New(common.KindLink, "unknown class id %d", ins.A))
			}
			v, aerr := in.Heap.AllocObject(ins.A, cls.FieldCount)
			if aerr != nil {
				return failed(aerr)
			}
			cur.push(v)

		case module.OpGetField, module.OpGetFieldFast, module.OpGetFieldOpt:
			recv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			if recv.IsNull() && ins.Op == module.OpGetFieldOpt {
				cur.push(value.Null)
				break
			}
			obj, err := in.asObject(recv)
			if err != nil {
				return failed(err)
			}
			fvv, ok := obj.GetField(ins.A)
			if !ok {
				return failed(common.New(common.KindBounds, "field index %d out of range for class %d", ins.A, obj.ClassID))
			}
			cur.push(fvv)
		case module.OpSetField, module.OpSetFieldFast:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			recv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			obj, err := in.asObject(recv)
			if err != nil {
				return failed(err)
			}
			if !obj.SetField(ins.A, v) {
				return failed(common.New(common.KindBounds, "field index %d out of range for class %d", ins.A, obj.ClassID))
			}

		// ---- Arrays ------------------------------------------------------

		case module.OpArrayLiteral:
			if out := in.pollAlloc(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			elems, err := cur.popN(int(ins.A))
			if err != nil {
				return failed(err)
			}
			v, aerr := in.Heap.AllocArray(0, elems)
			if aerr != nil {
				return failed(aerr)
			}
			cur.push(v)
		case module.OpNewArray:
			if out := in.pollAlloc(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			nv, err := cur.popI32(ins.Op)
			if err != nil {
				return failed(err)
			}
			if nv < 0 {
				return failed(common.New(common.KindBounds, "negative array length %d", nv))
			}
			elems := make([]value.Value, nv)
			for i := range elems {
				elems[i] = value.Null
			}
			v, aerr := in.Heap.AllocArray(ins.A, elems)
			if aerr != nil {
				return failed(aerr)
			}
			cur.push(v)
		case module.OpArrayGet:
			idx, err := cur.popI32(ins.Op)
			if err != nil {
				return failed(err)
			}
			av, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			arr, err := in.asArray(av)
			if err != nil {
				return failed(err)
			}
			v, ok := arr.Get(int(idx))
			if !ok {
				return failed(common.New(common.KindBounds, "array index %d out of range (len %d)", idx, arr.Len()))
			}
			cur.push(v)
		case module.OpArraySet:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			idx, err := cur.popI32(ins.Op)
			if err != nil {
				return failed(err)
			}
			av, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			arr, err := in.asArray(av)
			if err != nil {
				return failed(err)
			}
			if !arr.Set(int(idx), v) {
				return failed(common.New(common.KindBounds, "array index %d out of range (len %d)", idx, arr.Len()))
			}
		case module.OpArrayLen:
			av, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			arr, err := in.asArray(av)
			if err != nil {
				return failed(err)
			}
			cur.push(value.FromI32(int32(arr.Len())))
		case module.OpArrayPush:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			av, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			arr, err := in.asArray(av)
			if err != nil {
				return failed(err)
			}
			arr.Push(v)
		case module.OpArrayPop:
			av, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			arr, err := in.asArray(av)
			if err != nil {
				return failed(err)
			}
			v, ok := arr.Pop()
			if !ok {
				return failed(common.New(common.KindBounds, "pop from empty array"))
			}
			cur.push(v)

		// ---- Closures / RefCells ----------------------------------------

		case module.OpMakeClosure:
			if out := in.pollAlloc(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			captured, err := cur.popN(int(ins.B))
			if err != nil {
				return failed(err)
			}
			v, aerr := in.Heap.AllocClosure(ins.A, captured)
			if aerr != nil {
				return failed(aerr)
			}
			cur.push(v)
		case module.OpLoadCaptured:
			if cur.closure == nil {
				return failed(common.New(common.KindType, "LOAD_CAPTURED outside a closure frame"))
			}
			if int(ins.A) >= len(cur.closure.Captured) {
				return failed(common.New(common.KindBounds, "capture slot %d out of range", ins.A))
			}
			v := cur.closure.Captured[ins.A]
			if rc, ok := in.asRefCell(v); ok {
				v = rc.Load()
			}
			cur.push(v)
		case module.OpStoreCaptured:
			if cur.closure == nil {
				return failed(common.New(common.KindType, "STORE_CAPTURED outside a closure frame"))
			}
			if int(ins.A) >= len(cur.closure.Captured) {
				return failed(common.New(common.KindBounds, "capture slot %d out of range", ins.A))
			}
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			if rc, ok := in.asRefCell(cur.closure.Captured[ins.A]); ok {
				rc.Store(v)
			} else {
				cur.closure.Captured[ins.A] = v
			}
		case module.OpSetCapture:
			if cur.closure == nil {
				return failed(common.New(common.KindType, "SET_CAPTURE outside a closure frame"))
			}
			if int(ins.A) >= len(cur.closure.Captured) {
				return failed(common.New(common.KindBounds, "capture slot %d out of range", ins.A))
			}
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			cell, aerr := in.Heap.AllocRefCell(v)
			if aerr != nil {
				return failed(aerr)
			}
			cur.closure.Captured[ins.A] = cell
		case module.OpNewRefCell:
			if out := in.pollAlloc(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			cell, aerr := in.Heap.AllocRefCell(v)
			if aerr != nil {
				return failed(aerr)
			}
			cur.push(cell)
		case module.OpRefCellLoad:
			cv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			rc, ok := in.asRefCell(cv)
			if !ok {
				return failed(typeError(ins.Op, "refcell", cv))
			}
			cur.push(rc.Load())
		case module.OpRefCellStore:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			cv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			rc, ok := in.asRefCell(cv)
			if !ok {
				return failed(typeError(ins.Op, "refcell", cv))
			}
			rc.Store(v)
		case module.OpBindMethod:
			if out := in.pollAlloc(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			recv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			bm, aerr := in.Heap.AllocBoundMethod(recv, ins.A)
			if aerr != nil {
				return failed(aerr)
			}
			cur.push(bm)

		// ---- JSON --------------------------------------------------------

		case module.OpJsonNewObject, module.OpJsonNewArray,
			module.OpJsonGet, module.OpJsonSet, module.OpJsonDelete,
			module.OpJsonKeys, module.OpJsonLen, module.OpJsonIndex,
			module.OpJsonPush, module.OpJsonPop:
			if out := in.execJSON(t, cur, ins, instrStart, &localSteps); out != nil {
				return *out
			}

		// ---- Statics -----------------------------------------------------

		case module.OpGetStatic:
			cls, ok := lm.classes.Lookup(ins.A)
			if !ok {
				return failed(common.New(common.KindLink, "unknown class id %d", ins.A))
			}
			if int(ins.B) >= len(cls.StaticField) {
				return failed(common.New(common.KindBounds, "static field %d out of range for class %d", ins.B, ins.A))
			}
			cur.push(cls.StaticField[ins.B])
		case module.OpSetStatic:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			cls, ok := lm.classes.Lookup(ins.A)
			if !ok {
				return failed(common.New(common.KindLink, "unknown class id %d", ins.A))
			}
			if int(ins.B) >= len(cls.StaticField) {
				return failed(common.New(common.KindBounds, "static field %d out of range for class %d", ins.B, ins.A))
			}
			cls.StaticField[ins.B] = v

		// ---- typeof / instanceof / cast ---------------------------------

		case module.OpTypeOf:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			name := v.Kind()
			if obj, ok := in.Heap.Resolve(v); ok {
				name = obj.Hdr().Kind.String()
			}
			sv, aerr := in.Heap.AllocString([]byte(name))
			if aerr != nil {
				return failed(aerr)
			}
			cur.push(sv)
		case module.OpInstanceOf:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			r := false
			if obj, oerr := in.asObject(v); oerr == nil {
				r = lm.classes.IsAssignable(obj.ClassID, ins.A)
			}
			cur.push(value.FromBool(r))
		case module.OpCast:
			v, err := cur.peek()
			if err != nil {
				return failed(err)
			}
			obj, oerr := in.asObject(v)
			if oerr != nil || !lm.classes.IsAssignable(obj.ClassID, ins.A) {
				return failed(common.New(common.KindType, "cast to class %d failed", ins.A))
			}

		// ---- Exceptions --------------------------------------------------

		case module.OpTry:
			te := tryEntry{catchPC: -1, finallyPC: -1, stackBase: len(cur.Stack)}
			if ins.A != noOffset {
				te.catchPC = int(ins.A)
			}
			if ins.B != noOffset {
				te.finallyPC = int(ins.B)
			}
			cur.tries = append(cur.tries, te)
		case module.OpEndTry:
			nf, out := in.endTry(t, cur)
			if out != nil {
				return *out
			}
			if nf != cur {
				cur = nf
				lm, fn, err = in.function(cur.ModuleID, cur.FuncID)
				if err != nil {
					return failed(err)
				}
			}
		case module.OpThrow:
			exc, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			nf, out := in.throwValue(t, cur, exc)
			if out != nil {
				return *out
			}
			cur = nf
			lm, fn, err = in.function(cur.ModuleID, cur.FuncID)
			if err != nil {
				return failed(err)
			}
		case module.OpRethrow:
			nf, out := in.throwValue(t, cur, cur.lastException)
			if out != nil {
				return *out
			}
			cur = nf
			lm, fn, err = in.function(cur.ModuleID, cur.FuncID)
			if err != nil {
				return failed(err)
			}

		// ---- Concurrency -------------------------------------------------

		case module.OpSpawn:
			if out := in.poll(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			args, err := cur.popN(int(ins.B))
			if err != nil {
				return failed(err)
			}
			id, serr := in.Sched.SpawnFrom(t.ID, cur.ModuleID, ins.A, args)
			if serr != nil {
				return failed(serr)
			}
			cur.push(value.FromU64(uint64(id)))
		case module.OpSpawnClosure:
			if out := in.poll(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			args, err := cur.popN(int(ins.A))
			if err != nil {
				return failed(err)
			}
			cv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			cl, err := in.asClosure(cv)
			if err != nil {
				return failed(err)
			}
			_, cfn, ferr := in.function(cur.ModuleID, cl.FuncID)
			if ferr != nil {
				return failed(ferr)
			}
			moduleID := cur.ModuleID
			id, serr := in.Sched.SpawnInit(t.ID, moduleID, cl.FuncID, args, func(nt *sched.Task) {
				f := newFrame(moduleID, cl.FuncID, int(cfn.LocalCount), nil)
				copyParams(f, args)
				f.closure = cl
				nt.InterpState = f
			})
			if serr != nil {
				return failed(serr)
			}
			cur.push(value.FromU64(uint64(id)))
		case module.OpAwait:
			if out := in.poll(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			idv, err := cur.popTaskID(ins.Op)
			if err != nil {
				return failed(err)
			}
			return suspend(t, cur, true, sched.SuspendReason{Kind: sched.AwaitTask, AwaitTaskID: idv})
		case module.OpYield:
			t.InterpState = cur
			return sched.Outcome{Kind: sched.OutcomeYielded}
		case module.OpSleep:
			ms, err := cur.popInt(ins.Op)
			if err != nil {
				return failed(err)
			}
			return suspend(t, cur, false, sched.SuspendReason{
				Kind:   sched.Sleep,
				WakeAt: time.Now().Add(time.Duration(ms) * time.Millisecond),
			})
		case module.OpTaskCancel:
			idv, err := cur.popTaskID(ins.Op)
			if err != nil {
				return failed(err)
			}
			in.Sched.Cancel(idv)
		case module.OpNewMutex:
			cur.push(value.FromU64(in.Mutexes.Create()))
		case module.OpMutexLock:
			mv, err := cur.popU64(ins.Op)
			if err != nil {
				return failed(err)
			}
			ok, lerr := in.Mutexes.Lock(mv, t.ID)
			if lerr != nil {
				return failed(lerr)
			}
			if !ok {
				return suspend(t, cur, false, sched.SuspendReason{Kind: sched.MutexLock, MutexID: mv})
			}
		case module.OpMutexUnlock:
			mv, err := cur.popU64(ins.Op)
			if err != nil {
				return failed(err)
			}
			if uerr := in.Mutexes.Unlock(mv, t.ID); uerr != nil {
				return failed(uerr)
			}
		case module.OpNewChannel:
			if out := in.pollAlloc(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			cv, aerr := in.Heap.AllocChannel(int(ins.AI32()))
			if aerr != nil {
				return failed(aerr)
			}
			cur.push(cv)
		case module.OpChannelSend:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			chv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			handle, ok := chv.AsPtr()
			if !ok {
				return failed(typeError(ins.Op, "channel", chv))
			}
			sent, serr := in.Channels.Send(handle, v, t.ID)
			if serr != nil {
				return failed(serr)
			}
			if !sent {
				return suspend(t, cur, false, sched.SuspendReason{Kind: sched.ChannelSend, ChannelID: handle, SendValue: v})
			}
		case module.OpChannelReceive:
			chv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			handle, ok := chv.AsPtr()
			if !ok {
				return failed(typeError(ins.Op, "channel", chv))
			}
			v, got, rerr := in.Channels.Receive(handle, t.ID)
			if rerr != nil {
				return failed(rerr)
			}
			if !got {
				return suspend(t, cur, true, sched.SuspendReason{Kind: sched.ChannelReceive, ChannelID: handle})
			}
			cur.push(v)
		case module.OpChannelClose:
			chv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			handle, ok := chv.AsPtr()
			if !ok {
				return failed(typeError(ins.Op, "channel", chv))
			}
			if cerr := in.Channels.Close(handle); cerr != nil {
				return failed(cerr)
			}
		case module.OpChannelTrySend:
			v, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			chv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			handle, ok := chv.AsPtr()
			if !ok {
				return failed(typeError(ins.Op, "channel", chv))
			}
			sent, serr := in.Channels.TrySend(handle, v)
			if serr != nil {
				return failed(serr)
			}
			cur.push(value.FromBool(sent))
		case module.OpChannelTryReceive:
			chv, err := cur.pop()
			if err != nil {
				return failed(err)
			}
			handle, ok := chv.AsPtr()
			if !ok {
				return failed(typeError(ins.Op, "channel", chv))
			}
			v, got, rerr := in.Channels.TryReceive(handle)
			if rerr != nil {
				return failed(rerr)
			}
			cur.push(v)
			cur.push(value.FromBool(got))
		case module.OpNewSemaphore:
			cur.push(value.FromU64(in.Semaphores.Create(ins.A)))
		case module.OpSemAcquire:
			sv, err := cur.popU64(ins.Op)
			if err != nil {
				return failed(err)
			}
			ok, aerr := in.Semaphores.Acquire(sv, t.ID)
			if aerr != nil {
				return failed(aerr)
			}
			if !ok {
				return suspend(t, cur, false, sched.SuspendReason{Kind: sched.SemAcquire, MutexID: sv})
			}
		case module.OpSemRelease:
			sv, err := cur.popU64(ins.Op)
			if err != nil {
				return failed(err)
			}
			if rerr := in.Semaphores.Release(sv); rerr != nil {
				return failed(rerr)
			}
		case module.OpWaitAll:
			if out := in.poll(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			ids, err := cur.popN(int(ins.A))
			if err != nil {
				return failed(err)
			}
			var pendingID sched.TaskID
			for _, idv := range ids {
				u, ok := idv.AsU64()
				if !ok {
					return failed(typeError(ins.Op, "task id", idv))
				}
				wt, found := in.Sched.Task(sched.TaskID(u))
				if !found {
					continue // already reaped: treat as done
				}
				if st := wt.CurrentState(); st != sched.Completed && st != sched.Failed {
					pendingID = sched.TaskID(u)
					break
				}
			}
			if pendingID != 0 {
				// Re-execute the whole opcode after the blocking task
				// finishes: the ids go back on the stack and the pc rewinds.
				cur.Stack = append(cur.Stack, ids...)
				cur.PC = instrStart
				return suspend(t, cur, false, sched.SuspendReason{Kind: sched.AwaitTask, AwaitTaskID: pendingID})
			}

		// ---- Native calls ------------------------------------------------

		case module.OpNativeCall, module.OpModuleNativeCall:
			if out := in.poll(t, cur, &localSteps); out != nil {
				cur.PC = instrStart
				return *out
			}
			args, err := cur.popN(int(ins.B))
			if err != nil {
				return failed(err)
			}
			ctx := &nativeCtx{in: in, lm: lm, task: t.ID}
			var res native.Result
			if ins.Op == module.OpNativeCall {
				res = in.Natives.Builtin(ins.A, ctx, args)
			} else {
				if int(ins.A) >= len(lm.natives) {
					return failed(common.New(common.KindLink, "module native index %d out of range", ins.A))
				}
				res = lm.natives[ins.A](ctx, args)
			}
			switch res.Kind {
			case native.ResultValue:
				cur.push(res.Value)
			case native.ResultSuspend:
				return suspend(t, cur, true, sched.SuspendReason{Kind: sched.IoWait, Io: res.Io})
			case native.ResultUnhandled:
				return failed(common.New(common.KindLink, "no native handler for call id %d", ins.A))
			case native.ResultError:
				return failed(common.Wrap(common.KindType, res.Err, "native call %d failed", ins.A))
			}

		case module.OpTrap:
			return failed(common.Wrap(common.KindSafety, common.ErrTrap, "at pc %d in %q", instrStart, fn.Name))

		default:
			return failed(common.New(common.KindDecode, "unhandled opcode %s at pc %d", ins.Op, instrStart))
		}
	}
}

// copyParams installs call arguments into a frame's leading local slots and
// nulls the rest.
func copyParams(f *Frame, params []value.Value) {
	for i := range f.Locals {
		if i < len(params) {
			f.Locals[i] = params[i]
		} else {
			f.Locals[i] = value.Null
		}
	}
}

// MaxCallDepth bounds the call-frame chain.
const MaxCallDepth = 4096

// pushCall builds a callee frame on top of caller for funcID.
func (in *Interpreter) pushCall(caller *Frame, funcID uint32, params []value.Value, cl *object.Closure) (*Frame, error) {
	depth := 0
	for f := caller; f != nil; f = f.Caller {
		depth++
	}
	if depth >= MaxCallDepth {
		return nil, common.Wrap(common.KindResource, common.ErrStackOverflow, "call depth %d", depth)
	}
	_, fn, err := in.function(caller.ModuleID, funcID)
	if err != nil {
		return nil, err
	}
	f := newFrame(caller.ModuleID, funcID, int(fn.LocalCount), caller)
	copyParams(f, params)
	f.closure = cl
	return f, nil
}

// doReturn pops the current frame, delivering ret to the caller. A
// constructor frame delivers its receiver instead of its body's result.
func (in *Interpreter) doReturn(t *sched.Task, cur *Frame, ret value.Value) (*Frame, *sched.Outcome) {
	if cur.isCtor {
		ret = cur.ctorReceiver
	}
	caller := cur.Caller
	if caller == nil {
		t.InterpState = nil
		out := sched.Outcome{Kind: sched.OutcomeCompleted, Result: ret}
		return nil, &out
	}
	caller.push(ret)
	t.InterpState = caller
	return caller, nil
}

// enterFinallyFor redirects execution into the innermost finally block
// protecting the current pc, remembering the interrupted exit path. It
// reports false when no finally-bearing try scope is active, in which case
// the caller performs the exit directly.
func (f *Frame) enterFinallyFor(p pendingAction) (*Frame, bool) {
	for len(f.tries) > 0 {
		te := f.tries[len(f.tries)-1]
		f.tries = f.tries[:len(f.tries)-1]
		if te.finallyPC >= 0 {
			f.Stack = f.Stack[:te.stackBase]
			f.pending = append(f.pending, p)
			f.PC = te.finallyPC
			return f, true
		}
	}
	return f, false
}

// endTry handles the EndTry opcode's two roles: closing a protected region
// on the fall-through path, and completing a finally block (resuming
// whatever exit path the finally interrupted).
func (in *Interpreter) endTry(t *sched.Task, cur *Frame) (*Frame, *sched.Outcome) {
	if n := len(cur.pending); n > 0 {
		p := cur.pending[n-1]
		cur.pending = cur.pending[:n-1]
		switch p.kind {
		case pendingFallthrough:
			cur.PC = p.resumePC
			return cur, nil
		case pendingThrow:
			return in.throwValue(t, cur, p.exc)
		case pendingReturn:
			if nf, ok := cur.enterFinallyFor(pendingAction{kind: pendingReturn, ret: p.ret}); ok {
				return nf, nil
			}
			return in.doReturn(t, cur, p.ret)
		}
	}

	// Fall-through end of a protected region: pop the scope; if it carries
	// a finally, run it before continuing after the EndTry.
	if len(cur.tries) == 0 {
		return cur, nil
	}
	te := cur.tries[len(cur.tries)-1]
	cur.tries = cur.tries[:len(cur.tries)-1]
	if te.finallyPC >= 0 {
		cur.pending = append(cur.pending, pendingAction{kind: pendingFallthrough, resumePC: cur.PC})
		cur.PC = te.finallyPC
	}
	return cur, nil
}

// throwValue unwinds the frame stack looking for a catch handler, running finally blocks on the way. The returned
// outcome is non-nil only when the exception escapes every frame, failing
// the task.
func (in *Interpreter) throwValue(t *sched.Task, cur *Frame, exc value.Value) (*Frame, *sched.Outcome) {
	for f := cur; f != nil; f = f.Caller {
		for len(f.tries) > 0 {
			te := f.tries[len(f.tries)-1]
			f.tries = f.tries[:len(f.tries)-1]
			if te.catchPC >= 0 {
				f.Stack = f.Stack[:te.stackBase]
				f.push(exc)
				f.lastException = exc
				f.PC = te.catchPC
				if te.finallyPC >= 0 {
					// Keep a finally-only scope so leaving the catch body
					// (by any path) still runs the finally.
					f.tries = append(f.tries, tryEntry{catchPC: -1, finallyPC: te.finallyPC, stackBase: te.stackBase})
				}
				t.InterpState = f
				return f, nil
			}
			if te.finallyPC >= 0 {
				f.Stack = f.Stack[:te.stackBase]
				f.pending = append(f.pending, pendingAction{kind: pendingThrow, exc: exc})
				f.PC = te.finallyPC
				t.InterpState = f
				return f, nil
			}
		}
	}
	t.InterpState = nil
	out := failed(common.Thrown(exc))
	return nil, &out
}

// raise routes a wakeup error: a user exception carried over from a failed
// awaited task unwinds through try/catch like a local throw; anything else
// fails the task outright.
func (in *Interpreter) raise(t *sched.Task, cur *Frame, err error) (*Frame, *sched.Outcome) {
	if ce, ok := err.(*common.Error); ok && ce.Kind == common.KindUser {
		if exc, ok := ce.Value.(value.Value); ok {
			return in.throwValue(t, cur, exc)
		}
	}
	out := failed(err)
	return nil, &out
}

// poll is the shared safepoint/cancellation/preemption check for call,
// spawn, and back-edge sites. A non-nil
// result replaces the run's outcome; the caller must rewind the pc first
// for yields so the instruction re-executes on the next slice.
func (in *Interpreter) poll(t *sched.Task, cur *Frame, localSteps *uint64) *sched.Outcome {
	in.Safepoint.Poll()
	if t.IsCancelled() {
		t.InterpState = nil
		out := failed(common.ErrTaskCancelled)
		return &out
	}
	if in.PreemptThreshold > 0 && time.Since(t.StartTime) > in.PreemptThreshold {
		t.InterpState = cur
		out := sched.Outcome{Kind: sched.OutcomeYielded}
		return &out
	}
	if in.MaxSteps > 0 && *localSteps >= in.MaxSteps {
		t.InterpState = cur
		out := sched.Outcome{Kind: sched.OutcomeYielded}
		return &out
	}
	return nil
}

// pollAlloc is poll plus the GC trigger, used at allocation sites.
func (in *Interpreter) pollAlloc(t *sched.Task, cur *Frame, localSteps *uint64) *sched.Outcome {
	if out := in.poll(t, cur, localSteps); out != nil {
		return out
	}
	if in.Collect != nil && in.Heap.ShouldCollect() {
		t.InterpState = cur // make this task's frames visible as roots
		in.Collect()
	}
	return nil
}

// ---- Operand helpers ------------------------------------------------------

func typeError(op module.Opcode, want string, got value.Value) error {
	return common.New(common.KindType, "%s: expected %s, got %s", op, want, got.Kind())
}

func (f *Frame) popI32(op module.Opcode) (int32, error) {
	v, err := f.pop()
	if err != nil {
		return 0, err
	}
	i, ok := v.AsI32()
	if !ok {
		return 0, typeError(op, "i32", v)
	}
	return i, nil
}

func (f *Frame) popI32Pair() (a, b int32, err error) {
	bv, err := f.pop()
	if err != nil {
		return 0, 0, err
	}
	av, err := f.pop()
	if err != nil {
		return 0, 0, err
	}
	a, okA := av.AsI32()
	b, okB := bv.AsI32()
	if !okA {
		return 0, 0, common.New(common.KindType, "expected i32 operand, got %s", av.Kind())
	}
	if !okB {
		return 0, 0, common.New(common.KindType, "expected i32 operand, got %s", bv.Kind())
	}
	return a, b, nil
}

func (f *Frame) popF64Pair() (a, b float64, err error) {
	bv, err := f.pop()
	if err != nil {
		return 0, 0, err
	}
	av, err := f.pop()
	if err != nil {
		return 0, 0, err
	}
	a, okA := av.AsF64()
	b, okB := bv.AsF64()
	if !okA {
		return 0, 0, common.New(common.KindType, "expected f64 operand, got %s", av.Kind())
	}
	if !okB {
		return 0, 0, common.New(common.KindType, "expected f64 operand, got %s", bv.Kind())
	}
	return a, b, nil
}

// popInt accepts any integer-tagged operand, widening to int64 (Sleep's
// millisecond count may come from either an i32 literal or an i64).
func (f *Frame) popInt(op module.Opcode) (int64, error) {
	v, err := f.pop()
	if err != nil {
		return 0, err
	}
	if i, ok := v.AsI32(); ok {
		return int64(i), nil
	}
	if i, ok := v.AsI64(); ok {
		return i, nil
	}
	if u, ok := v.AsU64(); ok {
		return int64(u), nil
	}
	return 0, typeError(op, "integer", v)
}

func (f *Frame) popU64(op module.Opcode) (uint64, error) {
	v, err := f.pop()
	if err != nil {
		return 0, err
	}
	u, ok := v.AsU64()
	if !ok {
		return 0, typeError(op, "u64 handle", v)
	}
	return u, nil
}

func (f *Frame) popTaskID(op module.Opcode) (sched.TaskID, error) {
	u, err := f.popU64(op)
	if err != nil {
		return 0, err
	}
	return sched.TaskID(u), nil
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// looseEquals implements the type-coercing Eq/Ne comparison: numerics
// compare by magnitude across tags, strings by content, everything else by
// identity.
func (in *Interpreter) looseEquals(a, b value.Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if na, ok := asNumber(a); ok {
		nb, ok2 := asNumber(b)
		return ok2 && na == nb
	}
	if ba, ok := a.AsBool(); ok {
		bb, ok2 := b.AsBool()
		return ok2 && ba == bb
	}
	if a.IsPtr() && b.IsPtr() {
		if a.StrictEquals(b) {
			return true
		}
		oa, okA := in.Heap.Resolve(a)
		ob, okB := in.Heap.Resolve(b)
		if okA && okB {
			if sa, ok := oa.(*object.String); ok {
				if sb, ok := ob.(*object.String); ok {
					return sa.Equals(sb)
				}
			}
		}
		return false
	}
	return false
}

func asNumber(v value.Value) (float64, bool) {
	if i, ok := v.AsI32(); ok {
		return float64(i), true
	}
	if i, ok := v.AsI64(); ok {
		return float64(i), true
	}
	if u, ok := v.AsU64(); ok {
		return float64(u), true
	}
	if f, ok := v.AsF64(); ok {
		return f, true
	}
	return 0, false
}

// ---- Heap resolution helpers ---------------------------------------------

func (in *Interpreter) asString(v value.Value) (*object.String, error) {
	obj, ok := in.Heap.Resolve(v)
	if !ok {
		return nil, common.New(common.KindType, "expected string, got %s", v.Kind())
	}
	s, ok := obj.(*object.String)
	if !ok {
		return nil, common.New(common.KindType, "expected string, got %s", obj.Hdr().Kind)
	}
	return s, nil
}

func (in *Interpreter) asArray(v value.Value) (*object.Array, error) {
	obj, ok := in.Heap.Resolve(v)
	if !ok {
		return nil, common.New(common.KindType, "expected array, got %s", v.Kind())
	}
	a, ok := obj.(*object.Array)
	if !ok {
		return nil, common.New(common.KindType, "expected array, got %s", obj.Hdr().Kind)
	}
	return a, nil
}

func (in *Interpreter) asObject(v value.Value) (*object.Object, error) {
	obj, ok := in.Heap.Resolve(v)
	if !ok {
		return nil, common.New(common.KindType, "field access on non-object %s", v.Kind())
	}
	o, ok := obj.(*object.Object)
	if !ok {
		return nil, common.New(common.KindType, "field access on %s", obj.Hdr().Kind)
	}
	return o, nil
}

func (in *Interpreter) asClosure(v value.Value) (*object.Closure, error) {
	obj, ok := in.Heap.Resolve(v)
	if !ok {
		return nil, common.New(common.KindType, "expected closure, got %s", v.Kind())
	}
	c, ok := obj.(*object.Closure)
	if !ok {
		return nil, common.New(common.KindType, "expected closure, got %s", obj.Hdr().Kind)
	}
	return c, nil
}

func (in *Interpreter) asRefCell(v value.Value) (*object.RefCell, bool) {
	obj, ok := in.Heap.Resolve(v)
	if !ok {
		return nil, false
	}
	rc, ok := obj.(*object.RefCell)
	return rc, ok
}

func (in *Interpreter) asJSON(v value.Value) (*object.JSON, error) {
	obj, ok := in.Heap.Resolve(v)
	if !ok {
		return nil, common.New(common.KindType, "expected json value, got %s", v.Kind())
	}
	j, ok := obj.(*object.JSON)
	if !ok {
		return nil, common.New(common.KindType, "expected json value, got %s", obj.Hdr().Kind)
	}
	return j, nil
}

// ---- Native-call context ---------------------------------------------------

// nativeCtx is the per-call native.Context implementation handed to
// handlers.
type nativeCtx struct {
	in   *Interpreter
	lm   *loadedModule
	task sched.TaskID
}

func (c *nativeCtx) Heap() *heap.Heap                 { return c.in.Heap }
func (c *nativeCtx) Classes() *module.ClassRegistry   { return c.lm.classes }
func (c *nativeCtx) Scheduler() *sched.Scheduler      { return c.in.Sched }
func (c *nativeCtx) TaskID() sched.TaskID             { return c.task }

func (c *nativeCtx) ReadString(v value.Value) (string, error) {
	s, err := c.in.asString(v)
	if err != nil {
		return "", err
	}
	return string(s.Bytes), nil
}

func (c *nativeCtx) ReadBytes(v value.Value) ([]byte, error) {
	obj, ok := c.in.Heap.Resolve(v)
	if !ok {
		return nil, common.New(common.KindType, "expected string or buffer, got %s", v.Kind())
	}
	switch o := obj.(type) {
	case *object.String:
		return append([]byte(nil), o.Bytes...), nil
	case *object.Buffer:
		return append([]byte(nil), o.Bytes...), nil
	default:
		return nil, common.New(common.KindType, "expected string or buffer, got %s", obj.Hdr().Kind)
	}
}

func (c *nativeCtx) NewString(b []byte) (value.Value, error) {
	return c.in.Heap.AllocString(b)
}

func (c *nativeCtx) NewBuffer(b []byte) (value.Value, error) {
	v, err := c.in.Heap.AllocBuffer(len(b))
	if err != nil {
		return value.Null, err
	}
	obj, _ := c.in.Heap.Resolve(v)
	copy(obj.(*object.Buffer).Bytes, b)
	return v, nil
}
