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
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"math"

	"github.com/probeum/raya/common"
)

// Magic and format version.
var Magic = [4]byte{'R', 'A', 'Y', 'A'}

const CurrentVersion uint32 = 1

// Flags bits.
const (
	FlagHasDebugInfo  uint32 = 1 << 0
	FlagHasReflection uint32 = 1 << 1
)

// ConstKind discriminates a constant pool entry's payload.
type ConstKind uint8

const (
	ConstI32 ConstKind = iota
	ConstI64
	ConstU64
	ConstF64
	ConstString
)

// Constant is one constant pool entry.
type Constant struct {
	Kind ConstKind
	I32  int32
	I64  int64
	U64  uint64
	F64  float64
	Str  string
}

// Function is one function table entry. RegisterIR
// is the optional parallel encoding for a register-based backend; the stack
// interpreter in package interp never reads it.
type Function struct {
	Name       string
	ParamCount uint32
	LocalCount uint32
	Code       []byte
	RegisterIR []byte
}

// Method is one class vtable entry: a declared name plus the function id it
// dispatches to.
type Method struct {
	Name   string
	FuncID uint32
}

// NoParent / NoCtor sentinel a missing optional class field in the wire
// format.
const (
	NoParent uint32 = 0xFFFFFFFF
	NoCtor   uint32 = 0xFFFFFFFF
)

// Class is one class table entry.
type Class struct {
	Name        string
	FieldCount  uint32
	ParentID    uint32 // NoParent if none; otherwise an index into Module.Classes
	Methods     []Method
	StaticCount uint32
	CtorFuncID  uint32 // NoCtor if none
}

// NativeImport is a module-native name the loader must resolve against the
// host's native-call registry at link time.
type NativeImport struct {
	Name string
}

// Metadata carries the module's own name and optional source file.
type Metadata struct {
	Name       string
	SourceFile string // empty if absent
}

// Module is the fully decoded in-memory form of a .rbc-like binary
//.
type Module struct {
	Version  uint32
	Flags    uint32
	Constants []Constant
	Functions []Function
	Classes   []Class
	Natives   []NativeImport
	Meta      Metadata
}

// EntryFuncID looks up a function by name (used by isolate.RunEntry).
func (m *Module) EntryFuncID(name string) (uint32, bool) {
	for i, f := range m.Functions {
		if f.Name == name {
			return uint32(i), true
		}
	}
	return 0, false
}

// ---- Encoding --------------------------------------------------------------

// Encode serializes m into the module wire format: a 16-byte header
// (magic, version, flags, checksum) followed by length-prefixed sections.
// The checksum is a CRC32 over everything after byte 16, computed last and
// written into the fixed header slot.
func Encode(m *Module) []byte {
	var body bytes.Buffer
	encodeConstants(&body, m.Constants)
	encodeFunctions(&body, m.Functions)
	encodeClasses(&body, m.Classes)
	encodeNatives(&body, m.Natives)
	encodeMetadata(&body, m.Meta)

	payload := body.Bytes()
	checksum := crc32.ChecksumIEEE(payload)

	out := make([]byte, 16, 16+len(payload))
	copy(out[0:4], Magic[:])
	binary.LittleEndian.PutUint32(out[4:8], m.Version)
	binary.LittleEndian.PutUint32(out[8:12], m.Flags)
	binary.LittleEndian.PutUint32(out[12:16], checksum)
	out = append(out, payload...)
	return out
}

func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func encodeConstants(buf *bytes.Buffer, cs []Constant) {
	writeU32(buf, uint32(len(cs)))
	for _, c := range cs {
		buf.WriteByte(byte(c.Kind))
		switch c.Kind {
		case ConstI32:
			writeU32(buf, uint32(c.I32))
		case ConstI64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(c.I64))
			buf.Write(b[:])
		case ConstU64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], c.U64)
			buf.Write(b[:])
		case ConstF64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(c.F64))
			buf.Write(b[:])
		case ConstString:
			writeString(buf, c.Str)
		}
	}
}

func encodeFunctions(buf *bytes.Buffer, fs []Function) {
	writeU32(buf, uint32(len(fs)))
	for _, f := range fs {
		writeString(buf, f.Name)
		writeU32(buf, f.ParamCount)
		writeU32(buf, f.LocalCount)
		writeU32(buf, uint32(len(f.Code)))
		buf.Write(f.Code)
		writeU32(buf, uint32(len(f.RegisterIR)))
		buf.Write(f.RegisterIR)
	}
}

func encodeClasses(buf *bytes.Buffer, classes []Class) {
	writeU32(buf, uint32(len(classes)))
	for _, c := range classes {
		writeString(buf, c.Name)
		writeU32(buf, c.FieldCount)
		writeU32(buf, c.ParentID)
		writeU32(buf, uint32(len(c.Methods)))
		for _, mtd := range c.Methods {
			writeString(buf, mtd.Name)
			writeU32(buf, mtd.FuncID)
		}
		writeU32(buf, c.StaticCount)
		writeU32(buf, c.CtorFuncID)
	}
}

func encodeNatives(buf *bytes.Buffer, ns []NativeImport) {
	writeU32(buf, uint32(len(ns)))
	for _, n := range ns {
		writeString(buf, n.Name)
	}
}

func encodeMetadata(buf *bytes.Buffer, md Metadata) {
	writeString(buf, md.Name)
	writeString(buf, md.SourceFile)
}

// ---- Decoding ----------------------------------------------------------------

// reader is a small stream-based cursor over the section payload: every
// read checks remaining length before slicing, never panics on a short
// buffer.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return common.New(common.KindDecode, "unexpected end of module payload (need %d bytes at offset %d, have %d)", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses the full module wire format, verifying magic,
// version, and checksum before touching the payload ("unknown fields fail
// fast").
func Decode(raw []byte) (*Module, error) {
	if len(raw) < 16 {
		return nil, common.New(common.KindDecode, "module too short for header (%d bytes)", len(raw))
	}
	if !bytes.Equal(raw[0:4], Magic[:]) {
		return nil, common.New(common.KindDecode, "bad magic %q", raw[0:4])
	}
	version := binary.LittleEndian.Uint32(raw[4:8])
	if version != CurrentVersion {
		return nil, common.New(common.KindDecode, "unsupported module version %d", version)
	}
	flags := binary.LittleEndian.Uint32(raw[8:12])
	wantChecksum := binary.LittleEndian.Uint32(raw[12:16])
	payload := raw[16:]
	gotChecksum := crc32.ChecksumIEEE(payload)
	if gotChecksum != wantChecksum {
		return nil, common.New(common.KindDecode, "checksum mismatch: got %08x want %08x", gotChecksum, wantChecksum)
	}

	r := &reader{buf: payload}
	m := &Module{Version: version, Flags: flags}

	var err error
	if m.Constants, err = decodeConstants(r); err != nil {
		return nil, err
	}
	if m.Functions, err = decodeFunctions(r); err != nil {
		return nil, err
	}
	if m.Classes, err = decodeClasses(r); err != nil {
		return nil, err
	}
	if m.Natives, err = decodeNatives(r); err != nil {
		return nil, err
	}
	if m.Meta, err = decodeMetadata(r); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeConstants(r *reader) ([]Constant, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Constant, 0, n)
	for i := uint32(0); i < n; i++ {
		kindByte, err := r.byte()
		if err != nil {
			return nil, err
		}
		c := Constant{Kind: ConstKind(kindByte)}
		switch c.Kind {
		case ConstI32:
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			c.I32 = int32(v)
		case ConstI64:
			v, err := r.u64()
			if err != nil {
				return nil, err
			}
			c.I64 = int64(v)
		case ConstU64:
			v, err := r.u64()
			if err != nil {
				return nil, err
			}
			c.U64 = v
		case ConstF64:
			v, err := r.u64()
			if err != nil {
				return nil, err
			}
			c.F64 = math.Float64frombits(v)
		case ConstString:
			s, err := r.str()
			if err != nil {
				return nil, err
			}
			c.Str = s
		default:
			return nil, common.New(common.KindDecode, "unknown constant kind %d at entry %d", kindByte, i)
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeFunctions(r *reader) ([]Function, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Function, 0, n)
	for i := uint32(0); i < n; i++ {
		var f Function
		if f.Name, err = r.str(); err != nil {
			return nil, err
		}
		if f.ParamCount, err = r.u32(); err != nil {
			return nil, err
		}
		if f.LocalCount, err = r.u32(); err != nil {
			return nil, err
		}
		codeLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		code, err := r.bytes(int(codeLen))
		if err != nil {
			return nil, err
		}
		f.Code = append([]byte(nil), code...)
		irLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		ir, err := r.bytes(int(irLen))
		if err != nil {
			return nil, err
		}
		f.RegisterIR = append([]byte(nil), ir...)
		out = append(out, f)
	}
	return out, nil
}

func decodeClasses(r *reader) ([]Class, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]Class, 0, n)
	for i := uint32(0); i < n; i++ {
		var c Class
		if c.Name, err = r.str(); err != nil {
			return nil, err
		}
		if c.FieldCount, err = r.u32(); err != nil {
			return nil, err
		}
		if c.ParentID, err = r.u32(); err != nil {
			return nil, err
		}
		methodCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		c.Methods = make([]Method, 0, methodCount)
		for j := uint32(0); j < methodCount; j++ {
			var mtd Method
			if mtd.Name, err = r.str(); err != nil {
				return nil, err
			}
			if mtd.FuncID, err = r.u32(); err != nil {
				return nil, err
			}
			c.Methods = append(c.Methods, mtd)
		}
		if c.StaticCount, err = r.u32(); err != nil {
			return nil, err
		}
		if c.CtorFuncID, err = r.u32(); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeNatives(r *reader) ([]NativeImport, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]NativeImport, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		out = append(out, NativeImport{Name: name})
	}
	return out, nil
}

func decodeMetadata(r *reader) (Metadata, error) {
	name, err := r.str()
	if err != nil {
		return Metadata{}, err
	}
	src, err := r.str()
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Name: name, SourceFile: src}, nil
}
