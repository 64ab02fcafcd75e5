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

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelsAndContextPairs(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LvlDebug)

	l := Root().New("component", "gc")
	l.Debug("cycle done", "freed", 42)
	l.Trace("dropped", "k", "v")

	out := buf.String()
	require.Contains(t, out, "cycle done")
	require.Contains(t, out, "component=gc")
	require.Contains(t, out, "freed=42")
	require.NotContains(t, out, "dropped", "trace should be filtered at debug level")
}

func TestSubLoggerInheritsContext(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LvlInfo)

	parent := Root().New("isolate", 1)
	child := parent.New("worker", 3)
	child.Info("steal")

	out := buf.String()
	require.Contains(t, out, "isolate=1")
	require.Contains(t, out, "worker=3")
}

func TestOddContextIsFlagged(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LvlInfo)

	Info("odd", "dangling")
	require.Contains(t, buf.String(), "MISSING_VALUE=dangling")
}
