// Package infra implements infrastructure concerns (processes, log sources,
// transport, persistence).
package infra

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

// ProcessTable implements domain.ProcessLister using gopsutil.
type ProcessTable struct{}

// NewProcessTable creates a new process table reader.
func NewProcessTable() *ProcessTable {
	return &ProcessTable{}
}

// Snapshot returns the unique names of running processes, sorted.
func (pt *ProcessTable) Snapshot(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	seen := make(map[string]struct{}, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // Process may have exited
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SystemUptime returns how long the host has been up.
func SystemUptime(ctx context.Context) (time.Duration, error) {
	secs, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read uptime: %w", err)
	}
	return time.Duration(secs) * time.Second, nil
}

// Hostname returns the host name reported by the kernel, or "unknown".
func Hostname(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err != nil || info.Hostname == "" {
		return "unknown"
	}
	return info.Hostname
}

// Ensure ProcessTable implements domain.ProcessLister.
var _ domain.ProcessLister = (*ProcessTable)(nil)
