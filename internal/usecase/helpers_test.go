package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

// mockIgnoreStore implements domain.IgnoreStore in memory
type mockIgnoreStore struct {
	set map[domain.Fingerprint]bool
}

func newMockIgnoreStore(fps ...domain.Fingerprint) *mockIgnoreStore {
	m := &mockIgnoreStore{set: make(map[domain.Fingerprint]bool)}
	for _, fp := range fps {
		m.set[fp] = true
	}
	return m
}

func (m *mockIgnoreStore) Add(fp domain.Fingerprint) bool {
	if m.set[fp] {
		return false
	}
	m.set[fp] = true
	return true
}

func (m *mockIgnoreStore) Remove(fp domain.Fingerprint) error {
	if !m.set[fp] {
		return domain.ErrNotFound
	}
	delete(m.set, fp)
	return nil
}

func (m *mockIgnoreStore) Contains(fp domain.Fingerprint) bool {
	return m.set[fp]
}

func (m *mockIgnoreStore) List() []domain.Fingerprint {
	out := make([]domain.Fingerprint, 0, len(m.set))
	for fp := range m.set {
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// mockProcessLister implements domain.ProcessLister for testing
type mockProcessLister struct {
	names []string
	err   error
	calls int
}

func (m *mockProcessLister) Snapshot(ctx context.Context) ([]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]string, len(m.names))
	copy(out, m.names)
	sort.Strings(out)
	return out, nil
}

// mockNotifier records sent messages
type mockNotifier struct {
	mu      sync.Mutex
	sent    []domain.Message
	deliver bool
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{deliver: true}
}

func (m *mockNotifier) Send(ctx context.Context, msg domain.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.deliver
}

func (m *mockNotifier) Sent() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// mockLogSource returns scripted batches, one per call
type mockLogSource struct {
	batches [][]string
	err     error
	since   []time.Time
}

func (m *mockLogSource) Since(ctx context.Context, since time.Time) ([]string, error) {
	m.since = append(m.since, since)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.batches) == 0 {
		return nil, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch, nil
}

// staticStatus implements StatusProvider
type staticStatus struct {
	status Status
}

func (s staticStatus) Status() Status {
	return s.status
}
