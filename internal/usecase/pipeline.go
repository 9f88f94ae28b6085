package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

// PollResult captures what happened during a single poll.
type PollResult struct {
	Lines      int
	Classified int
	Ignored    int
	Duplicates int
	Filtered   int
	Forwarded  int
	Failed     int // forwarded but not delivered
	ExecutedAt time.Time
	DurationMs int64
}

// Pipeline runs Log Source -> Classifier -> ignore check -> Deduplicator ->
// Router -> Notifier. Poll must only be called from one goroutine.
type Pipeline struct {
	source     domain.LogSource
	classifier *Classifier
	history    *RecentHistory
	router     *Router
	notifier   domain.Notifier
	host       string
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.Mutex
	lastPoll  time.Time
	forwarded atomic.Uint64
}

// NewPipeline creates a pipeline whose first poll covers lines produced
// after start.
func NewPipeline(
	source domain.LogSource,
	classifier *Classifier,
	history *RecentHistory,
	router *Router,
	notifier domain.Notifier,
	host string,
	start time.Time,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		source:     source,
		classifier: classifier,
		history:    history,
		router:     router,
		notifier:   notifier,
		host:       host,
		logger:     logger,
		now:        time.Now,
		lastPoll:   start,
	}
}

// Poll fetches lines since the previous poll and processes them.
// A source failure counts as "no new lines".
func (p *Pipeline) Poll(ctx context.Context) PollResult {
	start := p.now()

	p.mu.Lock()
	since := p.lastPoll
	p.mu.Unlock()

	lines, err := p.source.Since(ctx, since)
	if err != nil {
		p.logger.Warn("log source query failed", zap.Error(err))
		lines = nil
	}

	p.mu.Lock()
	p.lastPoll = start
	p.mu.Unlock()

	result := p.Process(ctx, lines, start)
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// Process runs already fetched lines through the pipeline.
func (p *Pipeline) Process(ctx context.Context, lines []string, at time.Time) PollResult {
	result := PollResult{Lines: len(lines), ExecutedAt: at}

	for _, line := range lines {
		ev, ok := p.classifier.Classify(line, at)
		if !ok {
			continue
		}
		result.Classified++

		fp := Fingerprint(ev)
		switch p.router.Decide(ev, fp, p.history) {
		case VerdictIgnored:
			result.Ignored++
			continue
		case VerdictDuplicate:
			result.Duplicates++
			continue
		case VerdictFiltered:
			result.Filtered++
			continue
		}

		result.Forwarded++
		p.forwarded.Add(1)
		if !p.notifier.Send(ctx, FormatAlert(p.host, ev, fp)) {
			result.Failed++
			p.logger.Warn("alert not delivered",
				zap.String("fingerprint", fp.String()),
				zap.String("process", ev.Process))
			continue
		}

		p.logger.Info("alert forwarded",
			zap.String("fingerprint", fp.String()),
			zap.String("process", ev.Process))
	}

	return result
}

// LastPoll returns the start time of the most recent poll.
func (p *Pipeline) LastPoll() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPoll
}

// Forwarded returns the number of events forwarded since start.
func (p *Pipeline) Forwarded() uint64 {
	return p.forwarded.Load()
}
