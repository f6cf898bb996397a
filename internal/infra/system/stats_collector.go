package system

import (
	"context"
	"log/slog"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostStats is a point-in-time view of machine load.
type HostStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMPercent float64 `json:"ram_percent"`
	UptimeSec  uint64  `json:"uptime_sec"`
}

// StatsCollector samples machine load for the status API.
type StatsCollector struct {
	logger *slog.Logger
}

func NewStatsCollector(logger *slog.Logger) *StatsCollector {
	return &StatsCollector{logger: logger}
}

func (c *StatsCollector) Collect(ctx context.Context) HostStats {
	var s HostStats

	// zero interval compares against the previous call
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		c.logger.Warn("get cpu utilization", "err", err)
	} else if len(pct) > 0 {
		s.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		c.logger.Warn("get ram utilization", "err", err)
	} else {
		s.RAMPercent = vm.UsedPercent
	}

	if up, err := host.UptimeWithContext(ctx); err != nil {
		c.logger.Warn("get uptime", "err", err)
	} else {
		s.UptimeSec = up
	}
	return s
}
