package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/clipforge/warden/internal/monitor"
	"github.com/clipforge/warden/pkg/logger"
)

// Snapshot is one resource-usage sample of the supervised backend process.
type Snapshot struct {
	PID           int     `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	RSSBytes      uint64  `json:"rss_bytes"`
	NumThreads    int32   `json:"num_threads"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Collector samples the backend process by PID. It reads only the PID the
// supervisor hands it; it never hunts for backend processes on its own.
type Collector struct {
	log logger.Logger
}

func NewCollector() *Collector {
	return &Collector{log: logger.Log.With("component", "stats")}
}

// Collect samples the process and refreshes the exported gauges. A dead or
// foreign PID returns an error rather than a zeroed snapshot.
func (c *Collector) Collect(ctx context.Context, pid int) (*Snapshot, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("no backend process")
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("process %d: %w", pid, err)
	}

	cpuPct, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("cpu sample for %d: %w", pid, err)
	}
	memInfo, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory sample for %d: %w", pid, err)
	}
	threads, err := p.NumThreadsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("thread count for %d: %w", pid, err)
	}

	snap := &Snapshot{
		PID:        pid,
		CPUPercent: cpuPct,
		RSSBytes:   memInfo.RSS,
		NumThreads: threads,
	}

	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		snap.UptimeSeconds = time.Since(time.UnixMilli(created)).Seconds()
	}

	monitor.BackendCPUPercent.Set(snap.CPUPercent)
	monitor.BackendRSSBytes.Set(float64(snap.RSSBytes))
	return snap, nil
}
