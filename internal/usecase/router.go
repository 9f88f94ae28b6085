package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

// Router holds the monitoring mode, the watched process labels, the known
// package snapshot and the ignore list. A single mutex guards all of them so
// that command-driven mutations are atomic with respect to filter passes.
type Router struct {
	mu        sync.Mutex
	mode      domain.Mode
	watched   map[string]struct{}
	known     []domain.Package
	ignores   domain.IgnoreStore
	processes domain.ProcessLister
	logger    *zap.Logger
}

// NewRouter creates a router in global mode.
func NewRouter(ignores domain.IgnoreStore, processes domain.ProcessLister, logger *zap.Logger) *Router {
	return &Router{
		mode:      domain.ModeGlobal,
		watched:   make(map[string]struct{}),
		ignores:   ignores,
		processes: processes,
		logger:    logger,
	}
}

// Verdict is the outcome of the filter stages for one classified event.
type Verdict int

const (
	VerdictForward Verdict = iota
	VerdictIgnored
	VerdictDuplicate
	VerdictFiltered
)

// Decide runs the ignore check, the duplicate check and the mode filter for
// ev in that order, under one lock, so a concurrent command is either fully
// visible to the decision or not at all. Ignored events are not recorded in
// history. In scoped mode the event's process label must be watched.
func (r *Router) Decide(ev domain.ErrorEvent, fp domain.Fingerprint, history *RecentHistory) Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ignores.Contains(fp) {
		return VerdictIgnored
	}
	if history.IsDuplicate(fp) {
		return VerdictDuplicate
	}
	if r.mode == domain.ModeScoped {
		if _, ok := r.watched[ev.Process]; !ok {
			return VerdictFiltered
		}
	}
	return VerdictForward
}

// EnterScoped switches to scoped mode watching the labels of the given
// package IDs. Unknown IDs are dropped. If none resolve the mode is left
// unchanged and ErrNoPackagesResolved is returned.
func (r *Router) EnterScoped(ctx context.Context, ids []int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.known) == 0 {
		if err := r.refreshLocked(ctx); err != nil {
			r.logger.Warn("failed to refresh packages", zap.Error(err))
		}
	}

	byID := make(map[int]string, len(r.known))
	for _, p := range r.known {
		byID[p.ID] = p.Label
	}

	resolved := make(map[string]struct{})
	for _, id := range ids {
		label, ok := byID[id]
		if !ok {
			r.logger.Debug("dropping unknown package id", zap.Int("id", id))
			continue
		}
		resolved[label] = struct{}{}
	}

	if len(resolved) == 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoPackagesResolved, ids)
	}

	r.mode = domain.ModeScoped
	r.watched = resolved

	labels := sortedLabels(resolved)
	r.logger.Info("entered scoped mode", zap.Strings("labels", labels))
	return labels, nil
}

// EnterGlobal switches to global mode and clears the watched labels.
func (r *Router) EnterGlobal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mode = domain.ModeGlobal
	r.watched = make(map[string]struct{})
	r.logger.Info("entered global mode")
}

// Mode returns the current mode and the watched labels, sorted.
func (r *Router) Mode() (domain.Mode, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode, sortedLabels(r.watched)
}

// RefreshPackages re-fetches the process snapshot and renumbers it.
func (r *Router) RefreshPackages(ctx context.Context) ([]domain.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.refreshLocked(ctx); err != nil {
		return nil, err
	}
	return r.packagesLocked(), nil
}

// Packages returns the last snapshot without refreshing it.
func (r *Router) Packages() []domain.Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packagesLocked()
}

// Ignore adds fp to the ignore list. Returns false if it was already there.
func (r *Router) Ignore(fp domain.Fingerprint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ignores.Add(fp)
}

// Unignore removes fp. Returns domain.ErrNotFound if it was not ignored.
func (r *Router) Unignore(fp domain.Fingerprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ignores.Remove(fp)
}

// Ignoring returns the ignore list, sorted.
func (r *Router) Ignoring() []domain.Fingerprint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ignores.List()
}

func (r *Router) refreshLocked(ctx context.Context) error {
	names, err := r.processes.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}

	known := make([]domain.Package, 0, len(names))
	for i, name := range names {
		known = append(known, domain.Package{ID: i + 1, Label: name})
	}
	r.known = known
	r.logger.Debug("package snapshot refreshed", zap.Int("count", len(known)))
	return nil
}

func (r *Router) packagesLocked() []domain.Package {
	out := make([]domain.Package, len(r.known))
	copy(out, r.known)
	return out
}

func sortedLabels(set map[string]struct{}) []string {
	labels := make([]string, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
