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

package builtin

import (
	"time"

	"github.com/probeum/raya/native"
	"github.com/probeum/raya/value"
)

// IDNowMillis is the stable id for "wall clock milliseconds since epoch".
// The Sleep opcode does not go through it: the interpreter reads the clock
// directly to compute the wake time.
const IDNowMillis uint32 = 100

// RegisterTime installs the time builtin handlers into reg.
func RegisterTime(reg *native.Registry) {
	reg.RegisterBuiltin(IDNowMillis, func(ctx native.Context, args []value.Value) native.Result {
		if len(args) != 0 {
			return native.Error(arityError(0, len(args)))
		}
		return native.Value_(value.FromI64(time.Now().UnixMilli()))
	})
}
