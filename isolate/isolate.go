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

// Package isolate implements the module/isolate lifecycle: one
// self-contained execution domain owning its heap, GC, class registry,
// mutex/semaphore registries, scheduler, safepoint coordinator, and native
// registry, constructed once in New and torn down as a unit in Terminate.
package isolate

import (
	"context"
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/probeum/raya/common"
	"github.com/probeum/raya/heap"
	"github.com/probeum/raya/interp"
	"github.com/probeum/raya/log"
	"github.com/probeum/raya/module"
	"github.com/probeum/raya/native"
	"github.com/probeum/raya/native/builtin"
	"github.com/probeum/raya/object"
	"github.com/probeum/raya/safepoint"
	"github.com/probeum/raya/sched"
	"github.com/probeum/raya/snapshot"
	"github.com/probeum/raya/syncprim"
	"github.com/probeum/raya/value"
)

// nextContextID hands out process-unique numeric context ids; the GC's
// cross-isolate pointer check keys on these.
var nextContextID uint64

// Isolate is one VM context.
type Isolate struct {
	ID        uuid.UUID // external identity, exposed to the host API
	ContextID uint64    // internal numeric id stamped into heap headers

	Heap       *heap.Heap
	Safepoint  *safepoint.Coordinator
	Sched      *sched.Scheduler
	Mutexes    *syncprim.MutexRegistry
	Channels   *syncprim.Channels
	Semaphores *syncprim.SemRegistry
	Natives    *native.Registry
	Interp     *interp.Interpreter
	Resources  *object.ResourceTable

	cfg    Config
	logger log.Logger

	mu         sync.Mutex
	started    bool
	terminated bool
	cancel     context.CancelFunc
	children   []*Isolate
}

// New builds an isolate from cfg. Built-in natives are always registered;
// module natives are the caller's to add before Load.
func New(cfg Config) *Isolate {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = def.MaxConcurrentTasks
	}
	if cfg.MaxPreemptions <= 0 {
		cfg.MaxPreemptions = def.MaxPreemptions
	}
	if cfg.PreemptThresholdMs <= 0 {
		cfg.PreemptThresholdMs = def.PreemptThresholdMs
	}
	if cfg.IoThreads <= 0 {
		cfg.IoThreads = def.IoThreads
	}

	iso := &Isolate{
		ID:        uuid.New(),
		ContextID: atomic.AddUint64(&nextContextID, 1),
		cfg:       cfg,
	}
	iso.logger = log.Root().New("isolate", iso.ContextID)

	iso.Heap = heap.New(iso.ContextID, cfg.MaxHeapBytes)
	iso.Safepoint = safepoint.New(0)
	iso.Natives = native.NewRegistry()
	builtin.RegisterAll(iso.Natives)
	iso.Resources = object.NewResourceTable()

	var in *interp.Interpreter
	iso.Sched = sched.New(cfg.limits(), iso.Safepoint, func(t *sched.Task) sched.Outcome {
		return in.Run(t)
	})
	iso.Mutexes = syncprim.NewMutexRegistry(iso.Sched)
	iso.Channels = syncprim.NewChannels(iso.Heap, iso.Sched)
	iso.Semaphores = syncprim.NewSemRegistry(iso.Sched)

	in = interp.New(iso.Heap, iso.Sched, iso.Safepoint, iso.Mutexes, iso.Channels, iso.Semaphores, iso.Natives)
	in.PreemptThreshold = time.Duration(cfg.PreemptThresholdMs) * time.Millisecond
	if cfg.MaxSteps > 0 {
		in.MaxSteps = cfg.MaxSteps
	}
	in.Collect = iso.CollectNow
	iso.Interp = in
	return iso
}

// Start spins up the isolate's worker pool. Idempotent.
func (iso *Isolate) Start(ctx context.Context) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	if iso.started || iso.terminated {
		return
	}
	ctx, iso.cancel = context.WithCancel(ctx)
	iso.Sched.Start(ctx, iso.cfg.MaxWorkers)
	iso.started = true
	iso.logger.Debug("isolate started", "workers", iso.cfg.MaxWorkers)
}

// Load decodes, verifies, and links a module binary, returning the module
// handle RunEntry takes.
func (iso *Isolate) Load(raw []byte) (uint32, error) {
	iso.mu.Lock()
	terminated := iso.terminated
	iso.mu.Unlock()
	if terminated {
		return 0, common.ErrIsolateTerminated
	}
	m, err := module.Decode(raw)
	if err != nil {
		return 0, err
	}
	id, err := iso.Interp.LoadModule(m)
	if err != nil {
		return 0, err
	}
	iso.logger.Info("module loaded", "name", m.Meta.Name, "functions", len(m.Functions), "classes", len(m.Classes))
	return id, nil
}

// LoadFile reads a module binary from disk and loads it.
func (iso *Isolate) LoadFile(path string) (uint32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, common.Wrap(common.KindDecode, err, "reading module %q", path)
	}
	return iso.Load(raw)
}

// RunEntry spawns a task running the named function of moduleID.
func (iso *Isolate) RunEntry(moduleID uint32, funcName string, args []value.Value) (sched.TaskID, error) {
	iso.mu.Lock()
	terminated := iso.terminated
	iso.mu.Unlock()
	if terminated {
		return 0, common.ErrIsolateTerminated
	}
	return iso.Interp.EntryTask(moduleID, funcName, args)
}

// AwaitTask blocks the host (not a VM task) until id finishes or timeout
// elapses, returning its result or exception.
func (iso *Isolate) AwaitTask(id sched.TaskID, timeout time.Duration) (value.Value, error) {
	deadline := time.Now().Add(timeout)
	for {
		t, ok := iso.Sched.Task(id)
		if !ok {
			return value.Null, common.New(common.KindConcurrency, "unknown task %d", id)
		}
		if v, exc, done := t.TakeResult(); done {
			return v, exc
		}
		if time.Now().After(deadline) {
			return value.Null, common.New(common.KindConcurrency, "timed out awaiting task %d", id)
		}
		time.Sleep(200 * time.Microsecond)
	}
}

// Cancel marks a task cancelled.
func (iso *Isolate) Cancel(id sched.TaskID) { iso.Sched.Cancel(id) }

// GCRoots implements heap.RootProvider across every root class: per-task
// stacks/locals/params via the scheduler, plus constant pools and class
// statics via the interpreter.
func (iso *Isolate) GCRoots() []value.Value {
	roots := iso.Sched.GCRoots()
	return append(roots, iso.Interp.GCRoots()...)
}

// CollectNow runs one full GC cycle behind a GC-reason safepoint. Called by the interpreter's allocation slow path
// (Terminate runs its final cycle through Heap.Collect directly); if another pause is already active the cycle is skipped — the
// current holder's cycle covers it.
func (iso *Isolate) CollectNow() {
	if err := iso.Safepoint.Request(safepoint.ReasonGC); err != nil {
		iso.Safepoint.Poll()
		return
	}
	start := time.Now()
	iso.Safepoint.WaitOthers(5 * time.Second)
	stats := iso.Heap.Collect(iso)
	iso.Safepoint.Resume(time.Since(start))
	iso.logger.Debug("gc cycle",
		"live", stats.LiveObjectsAfter,
		"freed", stats.ObjectsFreed,
		"pause", time.Duration(stats.LastPauseNanos))
}

// Stats is the host-visible isolate statistics record.
type Stats struct {
	ContextID  uuid.UUID
	HeapBytes  uint64
	HeapMax    uint64
	LiveObjs   int
	Tasks      int
	Running    int
	MaxTasks   int
	TotalSteps uint64

	GC        heap.Stats
	Scheduler sched.Stats
	Safepoint safepoint.Stats
}

// Stats returns a point-in-time snapshot of the isolate's counters.
func (iso *Isolate) Stats() Stats {
	return Stats{
		ContextID:  iso.ID,
		HeapBytes:  iso.Heap.LiveBytes(),
		HeapMax:    iso.cfg.MaxHeapBytes,
		LiveObjs:   iso.Heap.LiveObjects(),
		Tasks:      iso.Sched.TaskCount(),
		Running:    iso.Sched.ActiveCount(),
		MaxTasks:   iso.cfg.MaxConcurrentTasks,
		TotalSteps: iso.Interp.Steps(),
		GC:         iso.Heap.Stats(),
		Scheduler:  iso.Sched.Stats(),
		Safepoint:  iso.Safepoint.Stats(),
	}
}

// Terminate shuts the isolate down as a unit:
// cancel every task, stop the workers, run a final collection, and refuse
// further loads/spawns. Children are terminated first.
func (iso *Isolate) Terminate() {
	iso.mu.Lock()
	if iso.terminated {
		iso.mu.Unlock()
		return
	}
	iso.terminated = true
	children := iso.children
	started := iso.started
	iso.mu.Unlock()

	for _, child := range children {
		child.Terminate()
	}
	for _, snap := range iso.Sched.Snapshots() {
		iso.Sched.Cancel(snap.ID)
	}
	if started {
		iso.Sched.Stop()
		if iso.cancel != nil {
			iso.cancel()
		}
	}
	// Workers are gone; collect directly rather than through a safepoint.
	iso.Heap.Collect(iso)
	iso.logger.Info("isolate terminated")
}

// NewChild creates a sub-isolate whose limits are clamped to be no looser
// than this isolate's. The child has its own
// heap, GC, and scheduler; no object pointer is shared with the parent.
func (iso *Isolate) NewChild(cfg Config) (*Isolate, error) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	if iso.terminated {
		return nil, common.ErrIsolateTerminated
	}
	child := New(cfg.clampTo(iso.cfg))
	iso.children = append(iso.children, child)
	return child, nil
}

// Snapshot pauses the isolate at a Snapshot-reason safepoint and writes the
// snapshot envelope: metadata plus heap/task/scheduler/sync segments.
// Segment payloads beyond metadata are implementation-defined summaries
// (see snapshot.Restorable).
func (iso *Isolate) Snapshot() ([]byte, error) {
	if err := iso.Safepoint.Request(safepoint.ReasonSnapshot); err != nil {
		return nil, err
	}
	start := time.Now()
	// Snapshot is requested from a host thread, not a worker, so every
	// registered worker must park (unlike CollectNow's WaitOthers).
	iso.Safepoint.Wait(5 * time.Second)
	defer func() { iso.Safepoint.Resume(time.Since(start)) }()

	env := &snapshot.Envelope{
		Version:   snapshot.CurrentVersion,
		Timestamp: uint64(time.Now().UnixMilli()),
	}

	env.Segments = append(env.Segments, snapshot.Segment{
		Type:    snapshot.SegMetadata,
		Payload: iso.ID[:],
	})

	hs := iso.Heap.Stats()
	var heapSeg [24]byte
	binary.LittleEndian.PutUint64(heapSeg[0:], iso.Heap.LiveBytes())
	binary.LittleEndian.PutUint64(heapSeg[8:], uint64(iso.Heap.LiveObjects()))
	binary.LittleEndian.PutUint64(heapSeg[16:], hs.Collections)
	env.Segments = append(env.Segments, snapshot.Segment{Type: snapshot.SegHeap, Payload: heapSeg[:]})

	var taskSeg []byte
	snaps := iso.Sched.Snapshots()
	taskSeg = binary.LittleEndian.AppendUint32(taskSeg, uint32(len(snaps)))
	for _, s := range snaps {
		taskSeg = binary.LittleEndian.AppendUint64(taskSeg, uint64(s.ID))
		taskSeg = append(taskSeg, byte(s.State))
		taskSeg = binary.LittleEndian.AppendUint32(taskSeg, uint32(s.Preemptions))
		taskSeg = binary.LittleEndian.AppendUint32(taskSeg, uint32(s.WaiterCount))
	}
	env.Segments = append(env.Segments, snapshot.Segment{Type: snapshot.SegTask, Payload: taskSeg})

	ss := iso.Sched.Stats()
	var schedSeg [40]byte
	binary.LittleEndian.PutUint64(schedSeg[0:], ss.Completed)
	binary.LittleEndian.PutUint64(schedSeg[8:], ss.Failed)
	binary.LittleEndian.PutUint64(schedSeg[16:], ss.Suspended)
	binary.LittleEndian.PutUint64(schedSeg[24:], ss.Preempted)
	binary.LittleEndian.PutUint64(schedSeg[32:], ss.Cancelled)
	env.Segments = append(env.Segments, snapshot.Segment{Type: snapshot.SegScheduler, Payload: schedSeg[:]})

	env.Segments = append(env.Segments, snapshot.Segment{Type: snapshot.SegSync, Payload: nil})

	return snapshot.Encode(env), nil
}

// Restore validates a snapshot envelope and returns its decoded segments.
// Rehydrating a live isolate from the heap/task/scheduler/sync segments is
// not a stable contract: RestoreState reports
// ErrPayloadUnimplemented for those, and hosts should treat the envelope's
// non-metadata payloads as opaque.
func Restore(raw []byte) (*snapshot.Envelope, error) {
	return snapshot.Decode(raw)
}

// RestoreState attempts to rehydrate segment seg into a live isolate.
func (iso *Isolate) RestoreState(seg snapshot.Segment) error {
	if !snapshot.Restorable(seg.Type) {
		return snapshot.ErrPayloadUnimplemented
	}
	copy(iso.ID[:], seg.Payload)
	return nil
}
