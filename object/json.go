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

// JSONKind discriminates the variant held by a JsonValue tree node
//.
type JSONKind uint8

const (
	JSONNull JSONKind = iota
	JSONUndefined
	JSONBool
	JSONNumber
	JSONString
	JSONArray
	JSONObject
)

// JSON is a heap-allocated duck-typed JSON value tree, operated on by the
// interpreter's JsonGet/JsonSet/JsonDelete/... opcode family. Its nested
// Array/Object pointers are explicitly traced by the GC, which
// is why JSON (like Array and Object) is one of the dynamically-sized kinds
// special-cased in the tracer rather than described by a static PointerMap.
type JSON struct {
	Header

	JKind  JSONKind
	Bool   bool
	Number float64
	Str    string
	Arr    []*JSON
	Obj    map[string]*JSON
	// ObjKeys preserves insertion order for the `keys` opcode, since Go map
	// iteration order is randomized.
	ObjKeys []string
}

func NewJSONNull() *JSON      { j := &JSON{JKind: JSONNull}; j.Header.Kind = KindJSON; return j }
func NewJSONUndefined() *JSON { j := &JSON{JKind: JSONUndefined}; j.Header.Kind = KindJSON; return j }
func NewJSONBool(b bool) *JSON {
	j := &JSON{JKind: JSONBool, Bool: b}
	j.Header.Kind = KindJSON
	return j
}
func NewJSONNumber(n float64) *JSON {
	j := &JSON{JKind: JSONNumber, Number: n}
	j.Header.Kind = KindJSON
	return j
}
func NewJSONString(s string) *JSON {
	j := &JSON{JKind: JSONString, Str: s}
	j.Header.Kind = KindJSON
	return j
}
func NewJSONArray() *JSON {
	j := &JSON{JKind: JSONArray}
	j.Header.Kind = KindJSON
	return j
}
func NewJSONObject() *JSON {
	j := &JSON{JKind: JSONObject, Obj: make(map[string]*JSON)}
	j.Header.Kind = KindJSON
	return j
}

// Get implements duck-typed property access: for JSONObject, a key lookup;
// for every other kind, including JSONArray, it reports not found (array
// elements are reached through Index).
func (j *JSON) Get(key string) (*JSON, bool) {
	if j.JKind != JSONObject {
		return nil, false
	}
	v, ok := j.Obj[key]
	return v, ok
}

// Set inserts or overwrites a key, tracking insertion order for new keys.
func (j *JSON) Set(key string, v *JSON) {
	if j.JKind != JSONObject {
		return
	}
	if _, exists := j.Obj[key]; !exists {
		j.ObjKeys = append(j.ObjKeys, key)
	}
	j.Obj[key] = v
}

// Delete removes a key, returning whether it was present.
func (j *JSON) Delete(key string) bool {
	if j.JKind != JSONObject {
		return false
	}
	if _, ok := j.Obj[key]; !ok {
		return false
	}
	delete(j.Obj, key)
	for i, k := range j.ObjKeys {
		if k == key {
			j.ObjKeys = append(j.ObjKeys[:i], j.ObjKeys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the object's keys in insertion order.
func (j *JSON) Keys() []string {
	if j.JKind != JSONObject {
		return nil
	}
	return append([]string(nil), j.ObjKeys...)
}

// Len reports the element/key count for Array/Object kinds.
func (j *JSON) Len() int {
	switch j.JKind {
	case JSONArray:
		return len(j.Arr)
	case JSONObject:
		return len(j.ObjKeys)
	default:
		return 0
	}
}

func (j *JSON) Push(v *JSON) {
	if j.JKind == JSONArray {
		j.Arr = append(j.Arr, v)
	}
}

func (j *JSON) Pop() (*JSON, bool) {
	if j.JKind != JSONArray || len(j.Arr) == 0 {
		return nil, false
	}
	n := len(j.Arr) - 1
	v := j.Arr[n]
	j.Arr = j.Arr[:n]
	return v, true
}

func (j *JSON) Index(i int) (*JSON, bool) {
	if j.JKind != JSONArray || i < 0 || i >= len(j.Arr) {
		return nil, false
	}
	return j.Arr[i], true
}
