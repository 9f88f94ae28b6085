package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

// IgnoreFileName is the default file name of the ignore list inside the data dir.
const IgnoreFileName = "ignored.json"

// FileIgnoreStore implements domain.IgnoreStore as a JSON array of
// fingerprints. The whole file is rewritten after every mutation. A failed
// write is logged and the in-memory set is kept.
type FileIgnoreStore struct {
	mu     sync.Mutex
	path   string
	set    map[domain.Fingerprint]struct{}
	logger *zap.Logger
}

// NewFileIgnoreStore loads the ignore list at path. A missing file is an
// empty list. Entries that are not valid fingerprints are skipped.
func NewFileIgnoreStore(path string, logger *zap.Logger) (*FileIgnoreStore, error) {
	s := &FileIgnoreStore{
		path:   path,
		set:    make(map[domain.Fingerprint]struct{}),
		logger: logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read ignore list: %w", err)
	}

	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse ignore list %s: %w", path, err)
	}

	for _, r := range raw {
		fp, err := domain.ParseFingerprint(r)
		if err != nil {
			logger.Warn("skipping invalid ignore entry", zap.String("entry", r))
			continue
		}
		s.set[fp] = struct{}{}
	}

	logger.Info("ignore list loaded", zap.String("path", path), zap.Int("count", len(s.set)))
	return s, nil
}

// Path returns the backing file path.
func (s *FileIgnoreStore) Path() string {
	return s.path
}

// Add inserts fp and persists the list.
func (s *FileIgnoreStore) Add(fp domain.Fingerprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.set[fp]; ok {
		return false
	}
	s.set[fp] = struct{}{}
	s.persistLocked()
	return true
}

// Remove deletes fp and persists the list.
func (s *FileIgnoreStore) Remove(fp domain.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.set[fp]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, fp.String())
	}
	delete(s.set, fp)
	s.persistLocked()
	return nil
}

// Contains reports whether fp is ignored.
func (s *FileIgnoreStore) Contains(fp domain.Fingerprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[fp]
	return ok
}

// List returns the ignored fingerprints, sorted.
func (s *FileIgnoreStore) List() []domain.Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *FileIgnoreStore) listLocked() []domain.Fingerprint {
	out := make([]domain.Fingerprint, 0, len(s.set))
	for fp := range s.set {
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *FileIgnoreStore) persistLocked() {
	if err := s.atomicWrite(s.listLocked()); err != nil {
		s.logger.Error("failed to persist ignore list",
			zap.String("path", s.path),
			zap.Error(err))
	}
}

// atomicWrite writes the list to file atomically (write + rename).
func (s *FileIgnoreStore) atomicWrite(fps []domain.Fingerprint) error {
	raw := make([]string, len(fps))
	for i, fp := range fps {
		raw[i] = string(fp)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create ignore list directory: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

// Ensure FileIgnoreStore implements domain.IgnoreStore.
var _ domain.IgnoreStore = (*FileIgnoreStore)(nil)
