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

// Package builtin supplies the stable, cross-isolate native-call ids every
// isolate registers by default. The crypto handlers hash through the open
// native-call registry rather than a dedicated bytecode instruction per
// hash function.
package builtin

import (
	"golang.org/x/crypto/sha3"

	"github.com/probeum/raya/native"
	"github.com/probeum/raya/value"
)

// Stable builtin native-call ids. 0 is reserved/unused so a zeroed operand is never
// mistaken for a real registration.
const (
	IDSha3_256 uint32 = 1 + iota
	IDKeccak256
	IDShake256x32
)

// RegisterCrypto installs the crypto builtin handlers into reg.
func RegisterCrypto(reg *native.Registry) {
	reg.RegisterBuiltin(IDSha3_256, hashHandler(func(b []byte) []byte {
		sum := sha3.Sum256(b)
		return sum[:]
	}))
	reg.RegisterBuiltin(IDKeccak256, hashHandler(func(b []byte) []byte {
		h := sha3.NewLegacyKeccak256()
		h.Write(b)
		return h.Sum(nil)
	}))
	reg.RegisterBuiltin(IDShake256x32, hashHandler(func(b []byte) []byte {
		out := make([]byte, 32)
		sha3.ShakeSum256(out, b)
		return out
	}))
}

// hashHandler adapts a pure []byte -> []byte digest function into a
// native.Handler: read the sole argument as bytes, hash, allocate the
// digest as a fresh Buffer.
func hashHandler(digest func([]byte) []byte) native.Handler {
	return func(ctx native.Context, args []value.Value) native.Result {
		if len(args) != 1 {
			return native.Error(arityError(1, len(args)))
		}
		b, err := ctx.ReadBytes(args[0])
		if err != nil {
			return native.Error(err)
		}
		v, err := ctx.NewBuffer(digest(b))
		if err != nil {
			return native.Error(err)
		}
		return native.Value_(v)
	}
}
