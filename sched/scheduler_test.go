package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/probeum/raya/safepoint"
	"github.com/probeum/raya/value"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(run RunFunc) (*Scheduler, *safepoint.Coordinator) {
	limits := DefaultLimits()
	limits.PreemptThresholdMs = 1000
	sp := safepoint.New(2)
	return New(limits, sp, run), sp
}

func TestSpawnAndComplete(t *testing.T) {
	run := func(task *Task) Outcome {
		return Outcome{Kind: OutcomeCompleted, Result: value.FromI32(42)}
	}
	s, _ := newTestScheduler(run)
	s.Start(context.Background(), 2)
	defer s.Stop()

	id, err := s.Spawn(0, 0, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, _ := s.Task(id)
		return task.snapshot().State == Completed
	}, time.Second, time.Millisecond)

	task, _ := s.Task(id)
	i, _ := task.Result.AsI32()
	require.Equal(t, int32(42), i)
	require.Equal(t, uint64(1), s.Stats().Completed)
}

func TestAwaitResumesAfterCompletion(t *testing.T) {
	var childID TaskID
	var mu sync.Mutex
	scheduled := map[TaskID]int{}
	run := func(task *Task) Outcome {
		if task.ID == childID {
			return Outcome{Kind: OutcomeCompleted, Result: value.FromI32(7)}
		}
		// The "parent" suspends once, waiting on the child, then completes
		// with the child's result on its second scheduling.
		mu.Lock()
		n := scheduled[task.ID]
		scheduled[task.ID] = n + 1
		mu.Unlock()
		if n > 0 {
			return Outcome{Kind: OutcomeCompleted, Result: task.ResumeValue}
		}
		return Outcome{Kind: OutcomeSuspended, Reason: SuspendReason{Kind: AwaitTask, AwaitTaskID: childID}}
	}
	s, _ := newTestScheduler(run)
	s.Start(context.Background(), 2)
	defer s.Stop()

	var err error
	childID, err = s.Spawn(0, 0, nil)
	require.NoError(t, err)
	parentID, err := s.Spawn(0, 1, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, _ := s.Task(parentID)
		return task.snapshot().State == Completed
	}, 2*time.Second, time.Millisecond)

	task, _ := s.Task(parentID)
	i, _ := task.Result.AsI32()
	require.Equal(t, int32(7), i)
}

func TestCancelRaisesOnNextSchedule(t *testing.T) {
	ran := make(chan struct{}, 1)
	run := func(task *Task) Outcome {
		if task.IsCancelled() {
			ran <- struct{}{}
			return Outcome{Kind: OutcomeFailed, Err: context.Canceled}
		}
		return Outcome{Kind: OutcomeSuspended, Reason: SuspendReason{Kind: IoWait}}
	}
	s, _ := newTestScheduler(run)
	s.Start(context.Background(), 1)
	defer s.Stop()

	id, err := s.Spawn(0, 0, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	s.Cancel(id)
	s.Enqueue(id)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("cancellation never observed")
	}
}

func TestMaxConcurrentTasksEnforced(t *testing.T) {
	run := func(task *Task) Outcome {
		return Outcome{Kind: OutcomeSuspended, Reason: SuspendReason{Kind: IoWait}}
	}
	limits := DefaultLimits()
	limits.MaxConcurrentTasks = 1
	sp := safepoint.New(1)
	s := New(limits, sp, run)

	_, err := s.Spawn(0, 0, nil)
	require.NoError(t, err)
	_, err = s.Spawn(0, 0, nil)
	require.Error(t, err)
}
