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
	"github.com/probeum/raya/common"
	"github.com/probeum/raya/native"
)

func arityError(want, got int) error {
	return common.New(common.KindType, "native call expects %d argument(s), got %d", want, got)
}

// RegisterAll installs every builtin handler group this package ships.
func RegisterAll(reg *native.Registry) {
	RegisterCrypto(reg)
	RegisterTime(reg)
}
