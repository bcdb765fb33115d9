// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package controller

import (
	"context"
	"sync"
	"time"

	psprocess "github.com/shirou/gopsutil/v3/process"
	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"storj.io/common/errs2"

	"vxpy.io/vxpy/internal/sync2"
	"vxpy.io/vxpy/pkg/ipc"
)

// Sample is the resource usage of a child process.
type Sample struct {
	Pid        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSS        uint64  `json:"rss"`
	Sampled    float64 `json:"sampled"`
}

// Monitor periodically samples the resource usage of all children.
type Monitor struct {
	log      *zap.Logger
	children func() []*Child
	Loop     *sync2.Cycle

	mu      sync.Mutex
	procs   map[int]*psprocess.Process
	samples map[ipc.Role]Sample
}

// NewMonitor creates a monitor sampling the processes returned by children.
func NewMonitor(log *zap.Logger, interval time.Duration, children func() []*Child) *Monitor {
	return &Monitor{
		log:      log,
		children: children,
		Loop:     sync2.NewCycle(interval),
		procs:    map[int]*psprocess.Process{},
		samples:  map[ipc.Role]Sample{},
	}
}

// Run samples until ctx is canceled.
func (monitor *Monitor) Run(ctx context.Context) error {
	err := monitor.Loop.Run(ctx, func(ctx context.Context) error {
		monitor.Sample(ctx)
		return nil
	})
	if errs2.IsCanceled(err) {
		return nil
	}
	return err
}

// Sample takes one sample of every running child.
func (monitor *Monitor) Sample(ctx context.Context) {
	now := float64(time.Now().UnixNano()) / 1e9
	for _, child := range monitor.children() {
		if child.Exited() {
			continue
		}
		sample, err := monitor.sample(ctx, child.Pid)
		if err != nil {
			monitor.log.Debug("sampling failed", zap.String("role", string(child.Role)), zap.Error(err))
			continue
		}
		sample.Sampled = now

		tag := monkit.NewSeriesTag("role", string(child.Role))
		mon.FloatVal("child_cpu_percent", tag).Observe(sample.CPUPercent)
		mon.IntVal("child_rss", tag).Observe(int64(sample.RSS))

		monitor.mu.Lock()
		monitor.samples[child.Role] = sample
		monitor.mu.Unlock()
	}
}

func (monitor *Monitor) sample(ctx context.Context, pid int) (Sample, error) {
	monitor.mu.Lock()
	proc, ok := monitor.procs[pid]
	monitor.mu.Unlock()
	if !ok {
		var err error
		proc, err = psprocess.NewProcessWithContext(ctx, int32(pid))
		if err != nil {
			return Sample{}, Error.Wrap(err)
		}
		monitor.mu.Lock()
		monitor.procs[pid] = proc
		monitor.mu.Unlock()
	}

	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return Sample{}, Error.Wrap(err)
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, Error.Wrap(err)
	}
	return Sample{Pid: pid, CPUPercent: cpu, RSS: mem.RSS}, nil
}

// Samples returns the latest sample of every child.
func (monitor *Monitor) Samples() map[ipc.Role]Sample {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()

	samples := make(map[ipc.Role]Sample, len(monitor.samples))
	for role, sample := range monitor.samples {
		samples[role] = sample
	}
	return samples
}
