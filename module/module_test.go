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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func sampleModule() *Module {
	enc := NewEncoder()
	enc.I32(OpConstI32, 41)
	enc.None(OpIAdd)
	enc.None(OpReturn)

	return &Module{
		Version: CurrentVersion,
		Constants: []Constant{
			{Kind: ConstI32, I32: 7},
			{Kind: ConstString, Str: "hello"},
			{Kind: ConstF64, F64: 3.5},
		},
		Functions: []Function{
			{Name: "add1", ParamCount: 1, LocalCount: 1, Code: enc.Bytes()},
		},
		Classes: []Class{
			{
				Name:       "Point",
				FieldCount: 2,
				ParentID:   NoParent,
				Methods:    []Method{{Name: "dist", FuncID: 0}},
				CtorFuncID: NoCtor,
			},
		},
		Natives: []NativeImport{{Name: "raya.crypto.sha3"}},
		Meta:    Metadata{Name: "sample", SourceFile: "sample.raya"},
	}
}

func TestModuleRoundTrip(t *testing.T) {
	m := sampleModule()
	raw := Encode(m)

	decoded, err := Decode(raw)
	require.NoError(t, err)

	if diff := cmp.Diff(m, decoded, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	m := sampleModule()
	raw := Encode(m)
	raw[0] = 'X'
	_, err := Decode(raw)
	require.Error(t, err)
}

func TestDecodeRejectsChecksumMismatch(t *testing.T) {
	m := sampleModule()
	raw := Encode(m)
	raw[len(raw)-1] ^= 0xFF
	_, err := Decode(raw)
	require.Error(t, err)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	m := sampleModule()
	raw := Encode(m)
	_, err := Decode(raw[:20])
	require.Error(t, err)
}

func TestClassRegistryLink(t *testing.T) {
	m := sampleModule()
	reg, err := Link(m)
	require.NoError(t, err)

	c, ok := reg.Lookup(0)
	require.True(t, ok)
	require.Equal(t, "Point", c.Name)
	require.False(t, c.HasParent())

	fid, err := reg.MethodFuncID(0, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), fid)
}

func TestDisassemble(t *testing.T) {
	m := sampleModule()
	text, err := Disassemble(&m.Functions[0])
	require.NoError(t, err)
	require.Contains(t, text, "CONST_I32")
	require.Contains(t, text, "I_ADD")
	require.Contains(t, text, "RETURN")
}

func TestOpcodeTableCoverage(t *testing.T) {
	for op := Opcode(0); op.Valid(); op++ {
		require.NotEqual(t, "UNKNOWN", op.String(), "opcode %d missing table entry", op)
	}
}
