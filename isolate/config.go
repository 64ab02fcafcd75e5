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
	"os"
	"strconv"

	"github.com/naoina/toml"

	"github.com/probeum/raya/common"
	"github.com/probeum/raya/sched"
)

// Config bounds one isolate. The
// zero value of any field falls back to its default at New time, so a
// partial raya.toml only overrides what it names.
type Config struct {
	MaxHeapBytes       uint64 `toml:"max_heap_bytes"`
	MaxWorkers         int    `toml:"max_workers"`
	MaxConcurrentTasks int    `toml:"max_concurrent_tasks"`
	MaxPreemptions     int    `toml:"max_preemptions"`
	PreemptThresholdMs int64  `toml:"preempt_threshold_ms"`
	IoThreads          int64  `toml:"io_threads"`
	MaxSteps           uint64 `toml:"max_steps"`
}

// DefaultConfig mirrors sched.DefaultLimits plus the RAYA_IO_THREADS
// environment override.
func DefaultConfig() Config {
	lim := sched.DefaultLimits()
	cfg := Config{
		MaxHeapBytes:       0, // unlimited unless capped
		MaxWorkers:         lim.MaxWorkers,
		MaxConcurrentTasks: lim.MaxConcurrentTasks,
		MaxPreemptions:     lim.MaxPreemptions,
		PreemptThresholdMs: lim.PreemptThresholdMs,
		IoThreads:          4,
		MaxSteps:           0, // interpreter default
	}
	if v := os.Getenv("RAYA_IO_THREADS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.IoThreads = n
		}
	}
	return cfg
}

// LoadConfig reads a raya.toml, layered over the defaults (flag > file >
// default precedence).
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, common.Wrap(common.KindDecode, err, "reading config %q", path)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, common.Wrap(common.KindDecode, err, "parsing config %q", path)
	}
	return cfg, nil
}

func (c Config) limits() sched.Limits {
	return sched.Limits{
		MaxWorkers:         c.MaxWorkers,
		MaxConcurrentTasks: c.MaxConcurrentTasks,
		MaxPreemptions:     c.MaxPreemptions,
		PreemptThresholdMs: c.PreemptThresholdMs,
		MaxConcurrentIo:    c.IoThreads,
	}
}

// clampTo tightens c so no bound exceeds parent's — a sub-isolate may be
// stricter than its parent, never looser.
func (c Config) clampTo(parent Config) Config {
	out := c
	if parent.MaxHeapBytes != 0 && (out.MaxHeapBytes == 0 || out.MaxHeapBytes > parent.MaxHeapBytes) {
		out.MaxHeapBytes = parent.MaxHeapBytes
	}
	if out.MaxWorkers > parent.MaxWorkers {
		out.MaxWorkers = parent.MaxWorkers
	}
	if out.MaxConcurrentTasks > parent.MaxConcurrentTasks {
		out.MaxConcurrentTasks = parent.MaxConcurrentTasks
	}
	if out.MaxPreemptions > parent.MaxPreemptions {
		out.MaxPreemptions = parent.MaxPreemptions
	}
	if out.PreemptThresholdMs > parent.PreemptThresholdMs {
		out.PreemptThresholdMs = parent.PreemptThresholdMs
	}
	if out.IoThreads > parent.IoThreads {
		out.IoThreads = parent.IoThreads
	}
	if parent.MaxSteps != 0 && (out.MaxSteps == 0 || out.MaxSteps > parent.MaxSteps) {
		out.MaxSteps = parent.MaxSteps
	}
	return out
}
