// Package daemon runs the monitor's scheduler and command loops.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
	"github.com/eliteGoblin/focusd/errwatch/internal/usecase"
)

// MonitorConfig holds configuration for the monitor loops.
type MonitorConfig struct {
	PollInterval   time.Duration
	RefreshEvery   int           // iterations between package snapshot refreshes
	HeartbeatEvery int           // iterations between heartbeat log lines
	ErrorBackoff   time.Duration // pause after an iteration panics
	CommandRetry   time.Duration // pause after a failed command poll
	SummaryCron    string        // optional cron spec for periodic status reports
	ChatID         string        // updates from other chats are dropped

	// UnavailableRetry is the pause while the transport reports
	// domain.ErrTransportUnavailable; one warning is logged per outage.
	UnavailableRetry time.Duration
}

// DefaultMonitorConfig returns the default configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval:   10 * time.Second,
		RefreshEvery:   30,
		HeartbeatEvery: 60,
		ErrorBackoff:   60 * time.Second,
		CommandRetry:   time.Second,

		UnavailableRetry: time.Minute,
	}
}

// CursorStore persists the command cursor between restarts.
type CursorStore interface {
	GetSecret(key string) (string, error)
	SetSecret(key, value string) error
}

// UptimeFunc reports how long the host has been up.
type UptimeFunc func(ctx context.Context) (time.Duration, error)

// Monitor drives the pipeline on a fixed interval and serves operator
// commands concurrently.
type Monitor struct {
	config    MonitorConfig
	pipeline  *usecase.Pipeline
	router    *usecase.Router
	processor *usecase.CommandProcessor
	notifier  domain.Notifier
	commands  domain.CommandSource // nil disables the command loop
	cursor    CursorStore          // nil keeps the cursor in memory only
	uptime    UptimeFunc
	host      string
	runID     string
	startedAt time.Time
	logger    *zap.Logger

	iterations atomic.Uint64
}

// NewMonitor creates a new monitor. commands and cursor may be nil.
func NewMonitor(
	config MonitorConfig,
	pipeline *usecase.Pipeline,
	router *usecase.Router,
	notifier domain.Notifier,
	commands domain.CommandSource,
	cursor CursorStore,
	host string,
	logger *zap.Logger,
) *Monitor {
	m := &Monitor{
		config:    config,
		pipeline:  pipeline,
		router:    router,
		notifier:  notifier,
		commands:  commands,
		cursor:    cursor,
		host:      host,
		runID:     uuid.NewString(),
		startedAt: time.Now(),
		logger:    logger,
	}
	m.processor = usecase.NewCommandProcessor(router, m, logger)
	return m
}

// SetUptimeSource sets where the host uptime in status reports comes from.
func (m *Monitor) SetUptimeSource(fn UptimeFunc) {
	m.uptime = fn
}

// RunID identifies this monitor run.
func (m *Monitor) RunID() string {
	return m.runID
}

// Iterations returns the number of completed scheduler iterations.
func (m *Monitor) Iterations() uint64 {
	return m.iterations.Load()
}

// Status implements usecase.StatusProvider.
func (m *Monitor) Status() usecase.Status {
	st := usecase.Status{
		Host:       m.host,
		RunID:      m.runID,
		StartedAt:  m.startedAt,
		LastPoll:   m.pipeline.LastPoll(),
		Iterations: m.iterations.Load(),
		Forwarded:  m.pipeline.Forwarded(),
	}
	if m.uptime != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if up, err := m.uptime(ctx); err == nil {
			st.Uptime = up
		}
	}
	return st
}

// Run starts the monitor loops. Blocks until context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	var scheduler *cron.Cron
	if m.config.SummaryCron != "" {
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(m.config.SummaryCron, func() { m.sendSummary(ctx) }); err != nil {
			return fmt.Errorf("invalid summary schedule %q: %w", m.config.SummaryCron, err)
		}
	}

	m.logger.Info("monitor started",
		zap.String("run_id", m.runID),
		zap.String("host", m.host),
		zap.Duration("poll_interval", m.config.PollInterval),
		zap.Int("refresh_every", m.config.RefreshEvery),
		zap.Int("heartbeat_every", m.config.HeartbeatEvery))

	m.refreshPackages(ctx)

	if !m.notifier.Send(ctx, usecase.FormatStartup(m.Status())) {
		m.logger.Warn("startup notification not delivered")
	}

	var wg sync.WaitGroup
	if m.commands != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.commandLoop(ctx)
		}()
	}

	if scheduler != nil {
		scheduler.Start()
		defer scheduler.Stop()
		m.logger.Info("status summary scheduled", zap.String("cron", m.config.SummaryCron))
	}

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	m.iterate(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopping",
				zap.Uint64("iterations", m.iterations.Load()),
				zap.Uint64("forwarded", m.pipeline.Forwarded()))
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			m.iterate(ctx)
		}
	}
}

// iterate runs one scheduler iteration and backs off if it panics.
func (m *Monitor) iterate(ctx context.Context) {
	if err := m.safeIteration(ctx); err != nil {
		m.logger.Error("iteration failed, backing off",
			zap.Error(err),
			zap.Duration("backoff", m.config.ErrorBackoff))
		select {
		case <-ctx.Done():
		case <-time.After(m.config.ErrorBackoff):
		}
	}
}

func (m *Monitor) safeIteration(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	result := m.pipeline.Poll(ctx)
	n := m.iterations.Add(1)

	if result.Forwarded > 0 || result.Ignored > 0 {
		m.logger.Debug("poll completed",
			zap.Int("lines", result.Lines),
			zap.Int("classified", result.Classified),
			zap.Int("ignored", result.Ignored),
			zap.Int("duplicates", result.Duplicates),
			zap.Int("filtered", result.Filtered),
			zap.Int("forwarded", result.Forwarded),
			zap.Int64("duration_ms", result.DurationMs))
	}

	if m.config.RefreshEvery > 0 && n%uint64(m.config.RefreshEvery) == 0 {
		m.refreshPackages(ctx)
	}
	if m.config.HeartbeatEvery > 0 && n%uint64(m.config.HeartbeatEvery) == 0 {
		mode, watched := m.router.Mode()
		m.logger.Info("heartbeat",
			zap.Uint64("iterations", n),
			zap.Uint64("forwarded", m.pipeline.Forwarded()),
			zap.String("mode", string(mode)),
			zap.Strings("watched", watched))
	}
	return nil
}

func (m *Monitor) refreshPackages(ctx context.Context) {
	pkgs, err := m.router.RefreshPackages(ctx)
	if err != nil {
		m.logger.Warn("package refresh failed", zap.Error(err))
		return
	}
	m.logger.Debug("packages refreshed", zap.Int("count", len(pkgs)))
}

// commandLoop long-polls for operator commands until ctx is cancelled.
func (m *Monitor) commandLoop(ctx context.Context) {
	offset := m.loadOffset()
	m.logger.Info("command loop started", zap.Int64("offset", offset))

	unavailable := false
	for ctx.Err() == nil {
		updates, err := m.commands.Poll(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, domain.ErrNotConfigured) {
				m.logger.Info("command transport not configured, command loop disabled")
				return
			}

			wait := m.config.CommandRetry
			if errors.Is(err, domain.ErrTransportUnavailable) {
				wait = m.config.UnavailableRetry
				if !unavailable {
					m.logger.Warn("command transport unavailable",
						zap.Duration("retry", wait), zap.Error(err))
				}
				unavailable = true
			} else {
				m.logger.Warn("command poll failed", zap.Error(err))
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		if unavailable {
			m.logger.Info("command transport available again")
			unavailable = false
		}

		for _, u := range updates {
			if u.ID >= offset {
				offset = u.ID + 1
			}
			m.handleUpdate(ctx, u)
		}
		if len(updates) > 0 {
			m.saveOffset(offset)
		}
	}
}

func (m *Monitor) handleUpdate(ctx context.Context, u domain.Update) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("command handler panicked",
				zap.Int64("update_id", u.ID),
				zap.Any("panic", r))
		}
	}()

	if m.config.ChatID != "" && u.ChatID != m.config.ChatID {
		m.logger.Debug("dropping update from unknown chat",
			zap.Int64("update_id", u.ID),
			zap.String("chat_id", u.ChatID))
		return
	}

	if u.IsCallback() {
		if err := m.commands.Acknowledge(ctx, u.CallbackID); err != nil {
			m.logger.Warn("failed to acknowledge callback", zap.Error(err))
		}
	}

	msg := m.processor.Handle(ctx, u.Text)
	if msg == nil {
		return
	}
	if !m.notifier.Send(ctx, *msg) {
		m.logger.Warn("command reply not delivered", zap.String("text", u.Text))
	}
}

func (m *Monitor) sendSummary(ctx context.Context) {
	msg := m.processor.Handle(ctx, "/alive")
	if msg == nil {
		return
	}
	if !m.notifier.Send(ctx, *msg) {
		m.logger.Warn("status summary not delivered")
	}
}

func (m *Monitor) loadOffset() int64 {
	if m.cursor == nil {
		return 0
	}
	raw, err := m.cursor.GetSecret(domain.SecretUpdateOffset)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("failed to load command cursor", zap.Error(err))
		}
		return 0
	}
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.logger.Warn("ignoring invalid command cursor", zap.String("value", raw))
		return 0
	}
	return offset
}

func (m *Monitor) saveOffset(offset int64) {
	if m.cursor == nil {
		return
	}
	if err := m.cursor.SetSecret(domain.SecretUpdateOffset, strconv.FormatInt(offset, 10)); err != nil {
		m.logger.Warn("failed to persist command cursor", zap.Error(err))
	}
}

// Ensure Monitor implements usecase.StatusProvider.
var _ usecase.StatusProvider = (*Monitor)(nil)
