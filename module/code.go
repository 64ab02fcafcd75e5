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
	"encoding/binary"
	"fmt"
	"math"
)

// Instr is one decoded instruction: the opcode plus up to two numeric
// operands and an optional float immediate. Which fields are meaningful
// is determined entirely by Op.Operand().
type Instr struct {
	Op Opcode
	A  uint32
	B  uint32
	F  float64
}

// DecodeInstr reads exactly one instruction starting at pc. It is a pure
// function of the code slice: the same bytes always decode to the same
// instruction and size, with no decoder state.
func DecodeInstr(code []byte, pc int) (Instr, int, error) {
	if pc < 0 || pc >= len(code) {
		return Instr{}, pc, fmt.Errorf("module: pc %d past end of code (%d bytes)", pc, len(code))
	}
	op := Opcode(code[pc])
	if !op.Valid() {
		return Instr{}, pc, fmt.Errorf("module: invalid opcode byte 0x%02x at pc %d", code[pc], pc)
	}
	next := pc + 1
	kind := op.Operand()
	size := kind.Size()
	if next+size > len(code) {
		return Instr{}, pc, fmt.Errorf("module: unexpected end of code decoding %s at pc %d", op, pc)
	}
	in := Instr{Op: op}
	switch kind {
	case OperandNone:
	case OperandU8:
		in.A = uint32(code[next])
	case OperandU16:
		in.A = uint32(binary.LittleEndian.Uint16(code[next:]))
	case OperandU32:
		in.A = binary.LittleEndian.Uint32(code[next:])
	case OperandI32:
		in.A = binary.LittleEndian.Uint32(code[next:])
	case OperandF64:
		in.F = math.Float64frombits(binary.LittleEndian.Uint64(code[next:]))
	case OperandU32U8:
		in.A = binary.LittleEndian.Uint32(code[next:])
		in.B = uint32(code[next+4])
	case OperandU32U32:
		in.A = binary.LittleEndian.Uint32(code[next:])
		in.B = binary.LittleEndian.Uint32(code[next+4:])
	case OperandU32U16:
		in.A = binary.LittleEndian.Uint32(code[next:])
		in.B = uint32(binary.LittleEndian.Uint16(code[next+4:]))
	}
	return in, next + size, nil
}

// AI32 reinterprets A as a signed 32-bit value (jump offsets, CONST_I32,
// NEW_CHANNEL's signed capacity).
func (in Instr) AI32() int32 { return int32(in.A) }

// Size returns the total encoded length in bytes of in.Op's instruction
// form (opcode byte plus operand bytes).
func (op Opcode) Size() int { return 1 + op.Operand().Size() }

// Encoder accumulates a function body's bytecode, used by module
// construction (front-end lowering, out of scope here) and by this repo's
// own test fixtures to hand-assemble small programs.
type Encoder struct {
	code []byte
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.code }

// Len reports the current instruction-index position (byte offset),
// useful for patching forward jump targets.
func (e *Encoder) Len() int { return len(e.code) }

func (e *Encoder) emit(op Opcode) {
	e.code = append(e.code, byte(op))
}

func (e *Encoder) None(op Opcode) { e.emit(op) }

func (e *Encoder) U8(op Opcode, a uint8) {
	e.emit(op)
	e.code = append(e.code, a)
}

func (e *Encoder) U16(op Opcode, a uint16) {
	e.emit(op)
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], a)
	e.code = append(e.code, buf[:]...)
}

func (e *Encoder) U32(op Opcode, a uint32) {
	e.emit(op)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], a)
	e.code = append(e.code, buf[:]...)
}

func (e *Encoder) I32(op Opcode, a int32) { e.U32(op, uint32(a)) }

func (e *Encoder) F64(op Opcode, f float64) {
	e.emit(op)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	e.code = append(e.code, buf[:]...)
}

func (e *Encoder) U32U8(op Opcode, a uint32, b uint8) {
	e.emit(op)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], a)
	e.code = append(e.code, buf[:]...)
	e.code = append(e.code, b)
}

func (e *Encoder) U32U32(op Opcode, a, b uint32) {
	e.emit(op)
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:], a)
	binary.LittleEndian.PutUint32(buf[4:], b)
	e.code = append(e.code, buf[:]...)
}

func (e *Encoder) U32U16(op Opcode, a uint32, b uint16) {
	e.emit(op)
	var buf [6]byte
	binary.LittleEndian.PutUint32(buf[:], a)
	binary.LittleEndian.PutUint16(buf[4:], b)
	e.code = append(e.code, buf[:]...)
}

// PatchI32 overwrites the i32 operand of the instruction at byteOffset
// (the opcode byte's own position) with v — used to back-patch forward
// jump targets once the jump destination is known.
func (e *Encoder) PatchI32(byteOffset int, v int32) {
	binary.LittleEndian.PutUint32(e.code[byteOffset+1:], uint32(v))
}
