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
	"fmt"
	"strings"
)

// Disassemble renders a function's bytecode as one line per instruction,
// "<pc>  <MNEMONIC>  operands".
func Disassemble(fn *Function) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "function %s(%d params, %d locals):\n", fn.Name, fn.ParamCount, fn.LocalCount)

	pc := 0
	for pc < len(fn.Code) {
		in, next, err := DecodeInstr(fn.Code, pc)
		if err != nil {
			return sb.String(), err
		}
		switch in.Op.Operand() {
		case OperandNone:
			fmt.Fprintf(&sb, "%6d  %s\n", pc, in.Op)
		case OperandF64:
			fmt.Fprintf(&sb, "%6d  %-18s %g\n", pc, in.Op, in.F)
		case OperandI32:
			fmt.Fprintf(&sb, "%6d  %-18s %d\n", pc, in.Op, in.AI32())
		case OperandU32U8, OperandU32U16, OperandU32U32:
			fmt.Fprintf(&sb, "%6d  %-18s %d, %d\n", pc, in.Op, in.A, in.B)
		default:
			fmt.Fprintf(&sb, "%6d  %-18s %d\n", pc, in.Op, in.A)
		}
		pc = next
	}
	return sb.String(), nil
}

// DisassembleModule renders every function in m, in table order.
func DisassembleModule(m *Module) (string, error) {
	var sb strings.Builder
	for i := range m.Functions {
		text, err := Disassemble(&m.Functions[i])
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
