// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

// ScriptedSource is a log source fed by the test. Each Since call drains
// the lines pushed since the previous call.
type ScriptedSource struct {
	mu      sync.Mutex
	pending []string
	calls   int
}

// NewScriptedSource creates an empty source.
func NewScriptedSource() *ScriptedSource {
	return &ScriptedSource{}
}

// Push queues lines for the next poll.
func (s *ScriptedSource) Push(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, lines...)
}

// Since implements domain.LogSource.
func (s *ScriptedSource) Since(ctx context.Context, _ time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := s.pending
	s.pending = nil
	return out, nil
}

// Calls returns how many times the source was polled.
func (s *ScriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// StaticProcesses reports a fixed process table.
type StaticProcesses struct {
	mu    sync.Mutex
	names []string
}

// NewStaticProcesses creates a process table with the given names.
func NewStaticProcesses(names ...string) *StaticProcesses {
	p := &StaticProcesses{}
	p.Set(names...)
	return p
}

// Set replaces the process table.
func (p *StaticProcesses) Set(names ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append([]string(nil), names...)
	sort.Strings(p.names)
}

// Snapshot implements domain.ProcessLister.
func (p *StaticProcesses) Snapshot(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...), nil
}

var (
	_ domain.LogSource     = (*ScriptedSource)(nil)
	_ domain.ProcessLister = (*StaticProcesses)(nil)
)
