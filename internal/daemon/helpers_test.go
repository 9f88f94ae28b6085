package daemon

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

// scriptedSource returns one batch per call, then nothing.
type scriptedSource struct {
	mu        sync.Mutex
	batches   [][]string
	panicOnce bool
}

func (s *scriptedSource) Since(ctx context.Context, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOnce {
		s.panicOnce = false
		panic("source exploded")
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

// recordingNotifier records every message it is asked to send
type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Message
}

func (n *recordingNotifier) Send(ctx context.Context, msg domain.Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return true
}

func (n *recordingNotifier) Sent() []domain.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.Message, len(n.sent))
	copy(out, n.sent)
	return out
}

// scriptedCommands returns one batch of updates per poll, then blocks
// until the context ends. With err set every poll fails, or only the
// first failures polls when failures is positive.
type scriptedCommands struct {
	mu       sync.Mutex
	batches  [][]domain.Update
	err      error
	failures int
	offsets  []int64
	acked    []string
}

func (c *scriptedCommands) Poll(ctx context.Context, offset int64) ([]domain.Update, error) {
	c.mu.Lock()
	c.offsets = append(c.offsets, offset)
	if c.err != nil && (c.failures == 0 || len(c.offsets) <= c.failures) {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	if len(c.batches) > 0 {
		batch := c.batches[0]
		c.batches = c.batches[1:]
		c.mu.Unlock()
		return batch, nil
	}
	c.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *scriptedCommands) Acknowledge(ctx context.Context, callbackID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, callbackID)
	return nil
}

func (c *scriptedCommands) Offsets() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.offsets...)
}

func (c *scriptedCommands) Acked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.acked...)
}

// memoryCursor implements CursorStore
type memoryCursor struct {
	mu     sync.Mutex
	values map[string]string
}

func (c *memoryCursor) GetSecret(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (c *memoryCursor) SetSecret(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *memoryCursor) Get(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key]
}

// memoryIgnores implements domain.IgnoreStore
type memoryIgnores struct {
	set map[domain.Fingerprint]bool
}

func (m *memoryIgnores) Add(fp domain.Fingerprint) bool {
	if m.set[fp] {
		return false
	}
	m.set[fp] = true
	return true
}

func (m *memoryIgnores) Remove(fp domain.Fingerprint) error {
	if !m.set[fp] {
		return domain.ErrNotFound
	}
	delete(m.set, fp)
	return nil
}

func (m *memoryIgnores) Contains(fp domain.Fingerprint) bool { return m.set[fp] }

func (m *memoryIgnores) List() []domain.Fingerprint {
	out := make([]domain.Fingerprint, 0, len(m.set))
	for fp := range m.set {
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// countingLister implements domain.ProcessLister
type countingLister struct {
	mu    sync.Mutex
	names []string
	calls int
}

func (l *countingLister) Snapshot(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return append([]string(nil), l.names...), nil
}

func (l *countingLister) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
