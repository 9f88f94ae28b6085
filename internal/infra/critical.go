package infra

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

// CriticalProcessSource reports processes that must be running but are not.
// Each absent name becomes a "system: NAME is NOT running" line, so outages
// pass through the same classify, ignore, dedup and filter steps as log
// lines. Names match exactly, like pgrep -x.
type CriticalProcessSource struct {
	names  []string
	lister domain.ProcessLister
	logger *zap.Logger
}

// NewCriticalProcessSource watches names using lister.
func NewCriticalProcessSource(names []string, lister domain.ProcessLister, logger *zap.Logger) *CriticalProcessSource {
	return &CriticalProcessSource{names: names, lister: lister, logger: logger}
}

// MissingLine is the line emitted for an absent critical process.
func MissingLine(name string) string {
	return fmt.Sprintf("%s: %s is NOT running", domain.SystemProcess, name)
}

// Since snapshots the process table. since is unused: the check reflects
// the current state on every poll.
func (s *CriticalProcessSource) Since(ctx context.Context, _ time.Time) ([]string, error) {
	running, err := s.lister.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check critical processes: %w", err)
	}

	present := make(map[string]struct{}, len(running))
	for _, name := range running {
		present[name] = struct{}{}
	}

	var lines []string
	for _, name := range s.names {
		if _, ok := present[name]; ok {
			continue
		}
		s.logger.Debug("critical process missing", zap.String("process", name))
		lines = append(lines, MissingLine(name))
	}
	return lines, nil
}

// Ensure CriticalProcessSource implements domain.LogSource.
var _ domain.LogSource = (*CriticalProcessSource)(nil)
