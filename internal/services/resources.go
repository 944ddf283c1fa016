package services

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceSnapshot captures host and process load at a point in time.
type ResourceSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUCores      int       `json:"cpu_cores"`
	CPUUsage      float64   `json:"cpu_usage"`
	MemoryUsage   float64   `json:"memory_usage"`
	MemoryTotalMB uint64    `json:"memory_total_mb"`
	HeapAllocMB   uint64    `json:"heap_alloc_mb"`
	Goroutines    int       `json:"goroutines"`
}

// ResourceMonitor samples CPU and memory through gopsutil. Samples are cached
// for maxAge so a busy health endpoint does not hammer /proc.
type ResourceMonitor struct {
	mu     sync.Mutex
	last   ResourceSnapshot
	maxAge time.Duration
	logger *slog.Logger

	cpuPercent func(ctx context.Context) (float64, error)
	virtualMem func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	now        func() time.Time
}

func NewResourceMonitor(maxAge time.Duration, logger *slog.Logger) *ResourceMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceMonitor{
		maxAge: maxAge,
		logger: logger,
		cpuPercent: func(ctx context.Context) (float64, error) {
			// zero interval compares against the previous call
			pcts, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(pcts) == 0 {
				return 0, err
			}
			return pcts[0], nil
		},
		virtualMem: mem.VirtualMemoryWithContext,
		now:        time.Now,
	}
}

// Snapshot returns the latest sample, refreshing it when older than maxAge.
// Probe failures leave the affected fields at zero.
func (r *ResourceMonitor) Snapshot(ctx context.Context) ResourceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.last.Timestamp.IsZero() && now.Sub(r.last.Timestamp) < r.maxAge {
		return r.last
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap := ResourceSnapshot{
		Timestamp:   now,
		CPUCores:    runtime.NumCPU(),
		HeapAllocMB: ms.HeapAlloc / 1024 / 1024,
		Goroutines:  runtime.NumGoroutine(),
	}

	if pct, err := r.cpuPercent(ctx); err == nil {
		snap.CPUUsage = pct
	} else {
		r.logger.Debug("Could not read CPU usage", "error", err)
	}
	if vm, err := r.virtualMem(ctx); err == nil && vm != nil {
		snap.MemoryUsage = vm.UsedPercent
		snap.MemoryTotalMB = vm.Total / 1024 / 1024
	} else {
		r.logger.Debug("Could not read memory info", "error", err)
	}

	r.last = snap
	return snap
}
