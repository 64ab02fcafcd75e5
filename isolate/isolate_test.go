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

package isolate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probeum/raya/common"
	"github.com/probeum/raya/module"
	"github.com/probeum/raya/snapshot"
)

// sampleModule encodes `main() { return 3 + 5 }`.
func sampleModule() []byte {
	enc := module.NewEncoder()
	enc.I32(module.OpConstI32, 3)
	enc.I32(module.OpConstI32, 5)
	enc.None(module.OpIAdd)
	enc.None(module.OpReturn)
	return module.Encode(&module.Module{
		Version: module.CurrentVersion,
		Functions: []module.Function{
			{Name: "main", Code: enc.Bytes()},
		},
		Meta: module.Metadata{Name: "sample"},
	})
}

func startIsolate(t *testing.T) *Isolate {
	t.Helper()
	iso := New(DefaultConfig())
	iso.Start(context.Background())
	t.Cleanup(iso.Terminate)
	return iso
}

func TestLoadRunEntryAndAwait(t *testing.T) {
	iso := startIsolate(t)
	modID, err := iso.Load(sampleModule())
	require.NoError(t, err)

	tid, err := iso.RunEntry(modID, "main", nil)
	require.NoError(t, err)
	v, err := iso.AwaitTask(tid, 5*time.Second)
	require.NoError(t, err)
	i, ok := v.AsI32()
	require.True(t, ok)
	require.Equal(t, int32(8), i)
}

func TestLoadRejectsCorruptModule(t *testing.T) {
	iso := startIsolate(t)
	raw := sampleModule()
	raw[20] ^= 0xFF
	_, err := iso.Load(raw)
	require.True(t, common.IsKind(err, common.KindDecode))
}

func TestRunEntryUnknownFunction(t *testing.T) {
	iso := startIsolate(t)
	modID, err := iso.Load(sampleModule())
	require.NoError(t, err)
	_, err = iso.RunEntry(modID, "nope", nil)
	require.True(t, common.IsKind(err, common.KindLink))
}

func TestLoadFile(t *testing.T) {
	iso := startIsolate(t)
	path := filepath.Join(t.TempDir(), "sample.rbc")
	require.NoError(t, os.WriteFile(path, sampleModule(), 0o644))
	modID, err := iso.LoadFile(path)
	require.NoError(t, err)
	_, err = iso.RunEntry(modID, "main", nil)
	require.NoError(t, err)
}

func TestStatsReflectExecution(t *testing.T) {
	iso := startIsolate(t)
	modID, err := iso.Load(sampleModule())
	require.NoError(t, err)
	tid, err := iso.RunEntry(modID, "main", nil)
	require.NoError(t, err)
	_, err = iso.AwaitTask(tid, 5*time.Second)
	require.NoError(t, err)

	st := iso.Stats()
	require.Greater(t, st.TotalSteps, uint64(0))
	require.Equal(t, uint64(1), st.Scheduler.Completed)
	require.Equal(t, 1, st.Tasks)
}

func TestTerminateRefusesFurtherWork(t *testing.T) {
	iso := New(DefaultConfig())
	iso.Start(context.Background())
	iso.Terminate()

	_, err := iso.Load(sampleModule())
	require.ErrorIs(t, err, common.ErrIsolateTerminated)
	_, err = iso.RunEntry(0, "main", nil)
	require.ErrorIs(t, err, common.ErrIsolateTerminated)
	_, err = iso.NewChild(DefaultConfig())
	require.ErrorIs(t, err, common.ErrIsolateTerminated)

	// Idempotent.
	iso.Terminate()
}

func TestSubIsolateLimitsClamped(t *testing.T) {
	parentCfg := DefaultConfig()
	parentCfg.MaxWorkers = 2
	parentCfg.MaxConcurrentTasks = 10
	parentCfg.MaxHeapBytes = 1 << 20
	parent := New(parentCfg)
	t.Cleanup(parent.Terminate)

	childCfg := DefaultConfig()
	childCfg.MaxWorkers = 64
	childCfg.MaxConcurrentTasks = 1_000_000
	childCfg.MaxHeapBytes = 0 // "unlimited" must clamp to the parent's cap
	child, err := parent.NewChild(childCfg)
	require.NoError(t, err)

	require.Equal(t, 2, child.cfg.MaxWorkers)
	require.Equal(t, 10, child.cfg.MaxConcurrentTasks)
	require.Equal(t, uint64(1<<20), child.cfg.MaxHeapBytes)
	require.NotEqual(t, parent.ContextID, child.ContextID)
}

func TestSubIsolateHeapsAreDisjoint(t *testing.T) {
	parent := New(DefaultConfig())
	t.Cleanup(parent.Terminate)
	child, err := parent.NewChild(DefaultConfig())
	require.NoError(t, err)

	v, err := child.Heap.AllocString([]byte("child-owned"))
	require.NoError(t, err)
	// The parent heap must not resolve a handle minted by the child.
	_, ok := parent.Heap.Resolve(v)
	require.False(t, ok)
}

func TestSnapshotEnvelope(t *testing.T) {
	iso := startIsolate(t)
	modID, err := iso.Load(sampleModule())
	require.NoError(t, err)
	tid, err := iso.RunEntry(modID, "main", nil)
	require.NoError(t, err)
	_, err = iso.AwaitTask(tid, 5*time.Second)
	require.NoError(t, err)

	raw, err := iso.Snapshot()
	require.NoError(t, err)

	env, err := Restore(raw)
	require.NoError(t, err)
	require.Equal(t, snapshot.CurrentVersion, env.Version)

	types := map[snapshot.SegmentType]bool{}
	for _, seg := range env.Segments {
		types[seg.Type] = true
	}
	for _, want := range []snapshot.SegmentType{
		snapshot.SegMetadata, snapshot.SegHeap, snapshot.SegTask,
		snapshot.SegScheduler, snapshot.SegSync,
	} {
		require.True(t, types[want], "missing segment %s", want)
	}

	// Metadata rehydrates; the opaque segments refuse.
	require.NoError(t, iso.RestoreState(env.Segments[0]))
	require.ErrorIs(t, iso.RestoreState(env.Segments[1]), snapshot.ErrPayloadUnimplemented)
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raya.toml")
	require.NoError(t, os.WriteFile(path, []byte(
		"max_workers = 2\nmax_heap_bytes = 1048576\npreempt_threshold_ms = 10\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.MaxWorkers)
	require.Equal(t, uint64(1<<20), cfg.MaxHeapBytes)
	require.Equal(t, int64(10), cfg.PreemptThresholdMs)
	// Unset fields keep their defaults.
	require.Equal(t, DefaultConfig().MaxConcurrentTasks, cfg.MaxConcurrentTasks)
}

func TestIoThreadsEnvOverride(t *testing.T) {
	t.Setenv("RAYA_IO_THREADS", "9")
	require.Equal(t, int64(9), DefaultConfig().IoThreads)
}
