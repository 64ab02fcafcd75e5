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

package sched

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/probeum/raya/common"
	"github.com/probeum/raya/safepoint"
	"github.com/probeum/raya/value"
	"golang.org/x/sync/errgroup"
)

// OutcomeKind classifies what happened the last time a RunFunc ran a task.
type OutcomeKind uint8

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeFailed
	OutcomeSuspended
	OutcomeYielded // cooperative preemption: not suspended, just out of time
)

// Outcome is what a RunFunc reports after running a task for one slice.
type Outcome struct {
	Kind   OutcomeKind
	Result value.Value
	Err    error
	Reason SuspendReason
}

// RunFunc executes one task until it completes, fails, suspends, or yields
// under preemption. It is supplied by package interp at scheduler
// construction time; sched never imports interp, avoiding a cycle.
type RunFunc func(t *Task) Outcome

// Limits bounds an isolate's scheduler.
// Sub-isolates may impose stricter limits than their parent.
type Limits struct {
	MaxWorkers         int
	MaxConcurrentTasks int
	MaxPreemptions     int
	PreemptThresholdMs int64
	MaxConcurrentIo    int64
}

// DefaultLimits provides a sane out-of-box configuration rather than
// requiring every field be set.
func DefaultLimits() Limits {
	return Limits{
		MaxWorkers:         4,
		MaxConcurrentTasks: 10_000,
		MaxPreemptions:     1000,
		PreemptThresholdMs: 50,
		MaxConcurrentIo:    64,
	}
}

// Stats are the scheduler's cumulative observability counters.
type Stats struct {
	Completed      uint64
	Failed         uint64
	Suspended      uint64
	Preempted      uint64
	Cancelled      uint64
	StealsAttempted uint64
	StealsSucceeded uint64
}

// Scheduler is the per-isolate task scheduler: worker deques, a shared
// injector, an I/O pool, and a timer thread.
type Scheduler struct {
	limits    Limits
	safepoint *safepoint.Coordinator
	run       RunFunc

	mu     sync.RWMutex
	tasks  map[TaskID]*Task
	nextID uint64

	workers  []*deque
	injector *injector
	io       *ioPool
	timer    *timerThread

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	active mapset.Set // TaskIDs currently assigned to a worker; guarded by mu

	lastWorker map[TaskID]int // which worker deque last ran a task, for spawn affinity

	stats Stats
}

// New builds a scheduler bound to safepoint coordinator sp and RunFunc run.
// Call Start to spin up worker goroutines.
func New(limits Limits, sp *safepoint.Coordinator, run RunFunc) *Scheduler {
	s := &Scheduler{
		limits:    limits,
		safepoint: sp,
		run:       run,
		tasks:      make(map[TaskID]*Task),
		injector:   newInjector(),
		io:         newIoPool(limits.MaxConcurrentIo),
		active:     mapset.NewThreadUnsafeSet(),
		lastWorker: make(map[TaskID]int),
	}
	s.timer = newTimerThread(s.wakeFromTimer)
	return s
}

// Spawn creates a task in the Created state and places it on the shared
// injector.
func (s *Scheduler) Spawn(moduleID, funcID uint32, params []value.Value) (TaskID, error) {
	return s.spawn(moduleID, funcID, params, -1)
}

// SpawnFrom creates a task the same way Spawn does, but gives it affinity
// to whichever worker last ran parentID: if that worker is still known, the
// new task is pushed onto that worker's own LIFO deque instead of the
// shared injector.
func (s *Scheduler) SpawnFrom(parentID TaskID, moduleID, funcID uint32, params []value.Value) (TaskID, error) {
	s.mu.RLock()
	idx, ok := s.lastWorker[parentID]
	s.mu.RUnlock()
	if !ok {
		idx = -1
	}
	return s.spawn(moduleID, funcID, params, idx)
}

func (s *Scheduler) spawn(moduleID, funcID uint32, params []value.Value, workerIdx int) (TaskID, error) {
	s.mu.Lock()
	if s.limits.MaxConcurrentTasks > 0 && len(s.tasks) >= s.limits.MaxConcurrentTasks {
		s.mu.Unlock()
		return 0, common.ErrTaskCapExceeded
	}
	s.nextID++
	id := TaskID(s.nextID)
	t := newTask(id, moduleID, funcID, params)
	s.tasks[id] = t
	s.mu.Unlock()

	if workerIdx >= 0 && workerIdx < len(s.workers) {
		s.workers[workerIdx].pushBack(id)
	} else {
		s.injector.push(id)
	}
	return id, nil
}

// SpawnInit creates a task with worker affinity to parentID, invoking init
// on the task before it becomes visible to any worker — used by closure
// spawns, which must install a prepared call frame (captured environment
// included) before the task can be picked up.
func (s *Scheduler) SpawnInit(parentID TaskID, moduleID, funcID uint32, params []value.Value, init func(*Task)) (TaskID, error) {
	s.mu.Lock()
	if s.limits.MaxConcurrentTasks > 0 && len(s.tasks) >= s.limits.MaxConcurrentTasks {
		s.mu.Unlock()
		return 0, common.ErrTaskCapExceeded
	}
	s.nextID++
	id := TaskID(s.nextID)
	t := newTask(id, moduleID, funcID, params)
	if init != nil {
		init(t)
	}
	s.tasks[id] = t
	idx, hasAffinity := s.lastWorker[parentID]
	s.mu.Unlock()

	if hasAffinity && idx >= 0 && idx < len(s.workers) {
		s.workers[idx].pushBack(id)
	} else {
		s.injector.push(id)
	}
	return id, nil
}

// Limits returns the scheduler's configured resource limits.
func (s *Scheduler) Limits() Limits { return s.limits }

// Snapshots returns a point-in-time copy of every known task's bookkeeping,
// for stats dumps and the snapshot envelope's Task segment.
func (s *Scheduler) Snapshots() []Snapshot {
	s.mu.RLock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	out := make([]Snapshot, len(tasks))
	for i, t := range tasks {
		out[i] = t.snapshot()
	}
	return out
}

// ActiveCount reports how many tasks are assigned to a worker right now.
func (s *Scheduler) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Cardinality()
}

// TaskCount reports how many tasks the registry currently tracks.
func (s *Scheduler) TaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Task looks up a task by id.
func (s *Scheduler) Task(id TaskID) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Enqueue pushes an already-known task back onto the shared injector
// (used when a wakeup — timer, mutex unlock, channel progress, await
// completion — transitions a task to Resumed).
func (s *Scheduler) Enqueue(id TaskID) {
	s.injector.push(id)
}

// Cancel marks a task cancelled; the interpreter observes this at
// safepoints and raises a cancellation exception.
func (s *Scheduler) Cancel(id TaskID) {
	t, ok := s.Task(id)
	if !ok {
		return
	}
	t.mu.Lock()
	t.Cancelled = true
	t.mu.Unlock()
	atomic.AddUint64(&s.stats.Cancelled, 1)
}

// Start spins up n worker goroutines (capped by limits.MaxWorkers if set)
// plus the timer thread, using an errgroup so Stop can wait for clean
// shutdown.
func (s *Scheduler) Start(ctx context.Context, n int) {
	if s.limits.MaxWorkers > 0 && n > s.limits.MaxWorkers {
		n = s.limits.MaxWorkers
	}
	if n <= 0 {
		n = 1
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.safepoint.SetWorkerCount(n)

	s.workers = make([]*deque, n)
	for i := range s.workers {
		s.workers[i] = newDeque()
	}

	eg, egCtx := errgroup.WithContext(s.ctx)
	s.eg = eg
	go s.timer.Run()
	for i := 0; i < n; i++ {
		idx := i
		eg.Go(func() error {
			s.workerLoop(egCtx, idx)
			return nil
		})
	}
}

// Stop signals every worker to exit and waits for them to drain.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.timer.Stop()
	s.injector.close()
	if s.eg != nil {
		s.eg.Wait()
	}
}

func (s *Scheduler) workerLoop(ctx context.Context, idx int) {
	own := s.workers[idx]
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.safepoint.Poll()

		id, ok := own.popBack()
		if !ok {
			id, ok = s.steal(idx)
		}
		if !ok {
			id, ok = s.injector.tryPop()
		}
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}

		t, ok := s.Task(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		s.lastWorker[id] = idx
		s.active.Add(id)
		s.mu.Unlock()
		s.runOne(t)
		s.mu.Lock()
		s.active.Remove(id)
		s.mu.Unlock()
	}
}

// steal picks a random victim worker (other than idx) and steals from the
// front of its deque.
func (s *Scheduler) steal(idx int) (TaskID, bool) {
	n := len(s.workers)
	if n <= 1 {
		return 0, false
	}
	atomic.AddUint64(&s.stats.StealsAttempted, 1)
	start := rand.Intn(n)
	for i := 0; i < n; i++ {
		victim := (start + i) % n
		if victim == idx {
			continue
		}
		if id, ok := s.workers[victim].stealFront(); ok {
			atomic.AddUint64(&s.stats.StealsSucceeded, 1)
			return id, true
		}
	}
	return 0, false
}

// runOne runs one scheduling slice of t. Cancellation is not intercepted
// here: the interpreter itself observes the cancellation flag at a
// safepoint and raises the failure, so RunFunc is always invoked and is
// expected to call t.IsCancelled() at its own polling sites (see
// common.ErrTaskCancelled).
func (s *Scheduler) runOne(t *Task) {
	t.mu.Lock()
	switch t.State {
	case Completed, Failed:
		// Stale queue entry for an already-finished task.
		t.mu.Unlock()
		return
	case Running:
		// An early wakeup raced the suspending worker's bookkeeping: the
		// task is back on a queue before its suspension was recorded.
		// Requeue and let it come around once the bookkeeping is done.
		t.mu.Unlock()
		s.Enqueue(t.ID)
		return
	}
	t.State = Running
	t.StartTime = time.Now()
	t.mu.Unlock()

	outcome := s.run(t)
	switch outcome.Kind {
	case OutcomeCompleted:
		s.completeTask(t, outcome.Result)
	case OutcomeFailed:
		s.failTask(t, outcome.Err)
	case OutcomeSuspended:
		s.suspendTask(t, outcome.Reason)
	case OutcomeYielded:
		s.yieldTask(t)
	}
}

func (s *Scheduler) completeTask(t *Task, result value.Value) {
	t.mu.Lock()
	t.State = Completed
	t.Result = result
	waiters := t.Waiters
	t.Waiters = nil
	t.mu.Unlock()

	atomic.AddUint64(&s.stats.Completed, 1)
	s.forgetAffinity(t.ID)
	for _, wid := range waiters {
		s.resumeWaiter(wid, result, nil)
	}
}

// forgetAffinity drops a finished task's worker-affinity entry so the
// lastWorker map doesn't grow unboundedly across a long-running isolate.
func (s *Scheduler) forgetAffinity(id TaskID) {
	s.mu.Lock()
	delete(s.lastWorker, id)
	s.mu.Unlock()
}

func (s *Scheduler) failTask(t *Task, err error) {
	t.mu.Lock()
	t.State = Failed
	t.Exception = err
	waiters := t.Waiters
	t.Waiters = nil
	t.mu.Unlock()

	atomic.AddUint64(&s.stats.Failed, 1)
	s.forgetAffinity(t.ID)
	for _, wid := range waiters {
		s.resumeWaiter(wid, value.Null, err)
	}
}

func (s *Scheduler) resumeWaiter(id TaskID, result value.Value, err error) {
	s.Resume(id, result, err)
}

// Resume writes a wakeup result into a parked task's resume slot,
// transitions it to Resumed, and pushes it back onto the injector. It is
// the scheduler's half of the syncprim.Waker contract used by the mutex
// registry and channel implementation to wake a task they parked.
func (s *Scheduler) Resume(id TaskID, result value.Value, err error) {
	w, ok := s.Task(id)
	if !ok {
		return
	}
	w.mu.Lock()
	w.ResumeValue = result
	w.Exception = err
	w.State = Resumed
	w.mu.Unlock()
	s.Enqueue(id)
}

// suspendTask registers a suspended task with the subsystem its
// SuspendReason names. MutexLock/ChannelSend/ChannelReceive are handled
// entirely by package syncprim, which must already have enqueued the
// waiter onto the mutex/channel before returning this outcome — sched's
// only job for those kinds is to leave the task parked (not re-enqueued)
// until syncprim calls Enqueue itself.
func (s *Scheduler) suspendTask(t *Task, reason SuspendReason) {
	t.mu.Lock()
	// A waker may already have enqueued this task (syncprim fires as soon
	// as its own lock is dropped, possibly before this worker records the
	// suspension). Only a still-Running task transitions to Suspended; a
	// raced-ahead wakeup leaves the state alone.
	if t.State == Running {
		t.State = Suspended
		t.Reason = reason
	}
	t.mu.Unlock()
	atomic.AddUint64(&s.stats.Suspended, 1)

	switch reason.Kind {
	case Sleep:
		s.timer.Schedule(t.ID, reason.WakeAt)
	case AwaitTask:
		awaited, ok := s.Task(reason.AwaitTaskID)
		if !ok {
			s.resumeWaiter(t.ID, value.Null, common.New(common.KindConcurrency, "await of unknown task %d", reason.AwaitTaskID))
			return
		}
		awaited.mu.Lock()
		switch awaited.State {
		case Completed:
			res := awaited.Result
			awaited.mu.Unlock()
			s.resumeWaiter(t.ID, res, nil)
		case Failed:
			exc := awaited.Exception
			awaited.mu.Unlock()
			s.resumeWaiter(t.ID, value.Null, exc)
		default:
			awaited.Waiters = append(awaited.Waiters, t.ID)
			awaited.mu.Unlock()
		}
	case IoWait:
		// Submitted here rather than by the interpreter so the task is
		// already in Suspended state before the completion callback can
		// race it back to Resumed.
		if reason.Io != nil {
			s.SubmitIo(t.ID, reason.Io)
		}
	case MutexLock, ChannelSend, ChannelReceive, SemAcquire:
		// Parked by syncprim; nothing further for the scheduler to do
		// until woken externally.
	}
}

// yieldTask handles cooperative preemption: the task saved its state,
// transitions to Resumed (not Suspended), and goes back on the shared
// injector — not the worker's own deque, so a preempted task doesn't
// monopolize the worker that just ran it.
func (s *Scheduler) yieldTask(t *Task) {
	t.mu.Lock()
	t.Preemptions++
	exceeded := t.Preemptions > s.limits.MaxPreemptions
	t.State = Resumed
	t.mu.Unlock()

	atomic.AddUint64(&s.stats.Preempted, 1)
	if exceeded {
		s.failTask(t, common.ErrMaxPreemptions)
		return
	}
	s.Enqueue(t.ID)
}

// wakeFromTimer is the timer thread's onWake callback: transition a
// sleeping task to Resumed and push it back onto the injector.
func (s *Scheduler) wakeFromTimer(id TaskID) {
	s.resumeWaiter(id, value.Null, nil)
}

// SubmitIo hands blocking native work to the I/O pool; completion resumes
// the originating task via the normal waiter path.
func (s *Scheduler) SubmitIo(taskID TaskID, work IoWork) {
	s.io.Submit(s.ctx, taskID, work, func(id TaskID, res value.Value, err error) {
		s.resumeWaiter(id, res, err)
	})
}

// Stats returns a snapshot of cumulative scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Completed:       atomic.LoadUint64(&s.stats.Completed),
		Failed:          atomic.LoadUint64(&s.stats.Failed),
		Suspended:       atomic.LoadUint64(&s.stats.Suspended),
		Preempted:       atomic.LoadUint64(&s.stats.Preempted),
		Cancelled:       atomic.LoadUint64(&s.stats.Cancelled),
		StealsAttempted: atomic.LoadUint64(&s.stats.StealsAttempted),
		StealsSucceeded: atomic.LoadUint64(&s.stats.StealsSucceeded),
	}
}

// GCRoots implements heap.RootProvider by flattening every task's own
// roots across the whole isolate.
func (s *Scheduler) GCRoots() []value.Value {
	s.mu.RLock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	var roots []value.Value
	for _, t := range tasks {
		roots = append(roots, t.GCRoots()...)
	}
	return roots
}
