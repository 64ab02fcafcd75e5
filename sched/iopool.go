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

	"github.com/probeum/raya/value"
	"golang.org/x/sync/semaphore"
)

// IoWork is a blocking native-call body submitted to the I/O pool — the
// host-side work backing a task suspended with SuspendReason{Kind: IoWait}.
type IoWork func() (value.Value, error)

// ioPool bounds concurrent blocking native work with a weighted semaphore
// rather than an unbounded goroutine-per-call, so a flood of slow native
// calls can't starve the scheduler's own worker threads of OS resources.
type ioPool struct {
	sem *semaphore.Weighted
}

func newIoPool(maxConcurrent int64) *ioPool {
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}
	return &ioPool{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Submit runs work on its own goroutine once a slot is available, then
// invokes onComplete with the result. onComplete is responsible for waking
// the originating task (the scheduler's SubmitIo passes a callback that
// calls resumeWaiter).
func (p *ioPool) Submit(ctx context.Context, taskID TaskID, work IoWork, onComplete func(TaskID, value.Value, error)) {
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			onComplete(taskID, value.Null, err)
			return
		}
		defer p.sem.Release(1)
		res, err := work()
		onComplete(taskID, res, err)
	}()
}
