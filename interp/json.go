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
	"github.com/probeum/raya/module"
	"github.com/probeum/raya/object"
	"github.com/probeum/raya/sched"
	"github.com/probeum/raya/value"
)

// jsonNodeValue exposes a JSON tree node to the operand stack. Leaf nodes
// surface as immediates or heap strings; Array/Object nodes surface as a
// ptr to the node itself, lazily tracked on first exposure so repeated gets
// of the same subtree yield the same handle.
func (in *Interpreter) jsonNodeValue(j *object.JSON) (value.Value, error) {
	switch j.JKind {
	case object.JSONNull, object.JSONUndefined:
		return value.Null, nil
	case object.JSONBool:
		return value.FromBool(j.Bool), nil
	case object.JSONNumber:
		return value.FromF64(j.Number), nil
	case object.JSONString:
		return in.Heap.AllocString([]byte(j.Str))
	default:
		if j.Header.Handle != 0 {
			return value.FromPtr(j.Header.Handle), nil
		}
		return in.Heap.AllocJSON(j)
	}
}

// valueToJSONNode converts an operand-stack value into a JSON tree node for
// JsonSet/JsonPush. Strings are copied into a JSONString leaf; a ptr to a
// JSON node grafts that node in directly.
func (in *Interpreter) valueToJSONNode(v value.Value) (*object.JSON, error) {
	switch {
	case v.IsNull():
		return object.NewJSONNull(), nil
	case v.IsBool():
		b, _ := v.AsBool()
		return object.NewJSONBool(b), nil
	case v.IsF64():
		f, _ := v.AsF64()
		return object.NewJSONNumber(f), nil
	case v.IsI32():
		i, _ := v.AsI32()
		return object.NewJSONNumber(float64(i)), nil
	case v.IsI64():
		i, _ := v.AsI64()
		return object.NewJSONNumber(float64(i)), nil
	case v.IsU64():
		u, _ := v.AsU64()
		return object.NewJSONNumber(float64(u)), nil
	case v.IsPtr():
		obj, ok := in.Heap.Resolve(v)
		if !ok {
			return nil, common.New(common.KindType, "dangling handle in json value")
		}
		switch o := obj.(type) {
		case *object.JSON:
			return o, nil
		case *object.String:
			return object.NewJSONString(string(o.Bytes)), nil
		default:
			return nil, common.New(common.KindType, "cannot store %s in a json tree", obj.Hdr().Kind)
		}
	default:
		return nil, common.New(common.KindType, "cannot store %s in a json tree", v.Kind())
	}
}

// execJSON dispatches the duck-typed JSON opcode family. A non-nil outcome terminates the run.
func (in *Interpreter) execJSON(t *sched.Task, cur *Frame, ins module.Instr, instrStart int, localSteps *uint64) *sched.Outcome {
	fail := func(err error) *sched.Outcome {
		out := failed(err)
		return &out
	}

	switch ins.Op {
	case module.OpJsonNewObject, module.OpJsonNewArray:
		if out := in.pollAlloc(t, cur, localSteps); out != nil {
			cur.PC = instrStart
			return out
		}
		var j *object.JSON
		if ins.Op == module.OpJsonNewObject {
			j = object.NewJSONObject()
		} else {
			j = object.NewJSONArray()
		}
		v, err := in.Heap.AllocJSON(j)
		if err != nil {
			return fail(err)
		}
		cur.push(v)

	case module.OpJsonGet:
		kv, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		rv, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		j, err := in.asJSON(rv)
		if err != nil {
			return fail(err)
		}
		key, err := in.readStringValue(kv)
		if err != nil {
			return fail(err)
		}
		node, ok := j.Get(key)
		if !ok {
			cur.push(value.Null)
			break
		}
		v, err := in.jsonNodeValue(node)
		if err != nil {
			return fail(err)
		}
		cur.push(v)

	case module.OpJsonSet:
		v, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		kv, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		rv, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		j, err := in.asJSON(rv)
		if err != nil {
			return fail(err)
		}
		key, err := in.readStringValue(kv)
		if err != nil {
			return fail(err)
		}
		node, err := in.valueToJSONNode(v)
		if err != nil {
			return fail(err)
		}
		j.Set(key, node)

	case module.OpJsonDelete:
		kv, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		rv, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		j, err := in.asJSON(rv)
		if err != nil {
			return fail(err)
		}
		key, err := in.readStringValue(kv)
		if err != nil {
			return fail(err)
		}
		cur.push(value.FromBool(j.Delete(key)))

	case module.OpJsonKeys:
		if out := in.pollAlloc(t, cur, localSteps); out != nil {
			cur.PC = instrStart
			return out
		}
		rv, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		j, err := in.asJSON(rv)
		if err != nil {
			return fail(err)
		}
		keys := j.Keys()
		elems := make([]value.Value, len(keys))
		for i, k := range keys {
			sv, aerr := in.Heap.AllocString([]byte(k))
			if aerr != nil {
				return fail(aerr)
			}
			elems[i] = sv
		}
		av, err := in.Heap.AllocArray(0, elems)
		if err != nil {
			return fail(err)
		}
		cur.push(av)

	case module.OpJsonLen:
		rv, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		j, err := in.asJSON(rv)
		if err != nil {
			return fail(err)
		}
		cur.push(value.FromI32(int32(j.Len())))

	case module.OpJsonIndex:
		iv, err := cur.popI32(ins.Op)
		if err != nil {
			return fail(err)
		}
		rv, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		j, err := in.asJSON(rv)
		if err != nil {
			return fail(err)
		}
		node, ok := j.Index(int(iv))
		if !ok {
			return fail(common.New(common.KindBounds, "json index %d out of range (len %d)", iv, j.Len()))
		}
		v, err := in.jsonNodeValue(node)
		if err != nil {
			return fail(err)
		}
		cur.push(v)

	case module.OpJsonPush:
		v, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		rv, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		j, err := in.asJSON(rv)
		if err != nil {
			return fail(err)
		}
		node, err := in.valueToJSONNode(v)
		if err != nil {
			return fail(err)
		}
		j.Push(node)

	case module.OpJsonPop:
		rv, err := cur.pop()
		if err != nil {
			return fail(err)
		}
		j, err := in.asJSON(rv)
		if err != nil {
			return fail(err)
		}
		node, ok := j.Pop()
		if !ok {
			return fail(common.New(common.KindBounds, "pop from empty json array"))
		}
		v, err := in.jsonNodeValue(node)
		if err != nil {
			return fail(err)
		}
		cur.push(v)
	}
	return nil
}

// readStringValue reads a string-typed key operand.
func (in *Interpreter) readStringValue(v value.Value) (string, error) {
	s, err := in.asString(v)
	if err != nil {
		return "", err
	}
	return string(s.Bytes), nil
}
