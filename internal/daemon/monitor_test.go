package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
	"github.com/eliteGoblin/focusd/errwatch/internal/pattern"
	"github.com/eliteGoblin/focusd/errwatch/internal/usecase"
)

type monitorFixture struct {
	monitor  *Monitor
	notifier *recordingNotifier
	lister   *countingLister
	logs     *observer.ObservedLogs
}

func fastConfig() MonitorConfig {
	cfg := DefaultMonitorConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ErrorBackoff = 10 * time.Millisecond
	cfg.CommandRetry = 10 * time.Millisecond
	cfg.ChatID = "42"
	return cfg
}

func newMonitorFixture(cfg MonitorConfig, src domain.LogSource, commands domain.CommandSource, cursor CursorStore) *monitorFixture {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	lister := &countingLister{names: []string{"sshd", "waybar"}}
	router := usecase.NewRouter(&memoryIgnores{set: map[domain.Fingerprint]bool{}}, lister, logger)
	notifier := &recordingNotifier{}
	pipeline := usecase.NewPipeline(
		src,
		usecase.NewClassifier(pattern.NewSet("Failed", "error")),
		usecase.NewRecentHistory(usecase.DefaultHistorySize),
		router,
		notifier,
		"box",
		time.Now(),
		logger,
	)

	return &monitorFixture{
		monitor:  NewMonitor(cfg, pipeline, router, notifier, commands, cursor, "box", logger),
		notifier: notifier,
		lister:   lister,
		logs:     logs,
	}
}

// start runs the monitor in the background and returns a stop function
// that cancels it and returns Run's error.
func (f *monitorFixture) start(t *testing.T) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.monitor.Run(ctx) }()

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("monitor did not stop")
			return nil
		}
	}
}

func containing(msgs []domain.Message, text string) []domain.Message {
	var out []domain.Message
	for _, m := range msgs {
		if strings.Contains(m.Text, text) {
			out = append(out, m)
		}
	}
	return out
}

func TestDefaultMonitorConfig(t *testing.T) {
	config := DefaultMonitorConfig()

	assert.Equal(t, 10*time.Second, config.PollInterval)
	assert.Equal(t, 30, config.RefreshEvery)
	assert.Equal(t, 60, config.HeartbeatEvery)
	assert.Equal(t, 60*time.Second, config.ErrorBackoff)
	assert.Equal(t, time.Second, config.CommandRetry)
	assert.Empty(t, config.SummaryCron)
	assert.Equal(t, time.Minute, config.UnavailableRetry)
}

func TestMonitor_StartupBeforeAlerts(t *testing.T) {
	batch := []string{"sshd[1]: Failed password for root"}
	src := &scriptedSource{batches: [][]string{batch, batch}}
	f := newMonitorFixture(fastConfig(), src, nil, nil)

	stop := f.start(t)
	assert.Eventually(t, func() bool { return len(f.notifier.Sent()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return f.monitor.Iterations() >= 3 }, 2*time.Second, 5*time.Millisecond)
	err := stop()
	assert.True(t, errors.Is(err, context.Canceled))

	sent := f.notifier.Sent()
	require.Len(t, sent, 2, "replayed line must be reported once")
	assert.Contains(t, sent[0].Text, "Error monitor started")
	assert.NotEmpty(t, sent[0].Controls)
	assert.Contains(t, sent[1].Text, "Failed password")

	// Initial refresh happens before the loop.
	assert.GreaterOrEqual(t, f.lister.Calls(), 1)
}

func TestMonitor_CommandLoop(t *testing.T) {
	commands := &scriptedCommands{batches: [][]domain.Update{{
		{ID: 5, ChatID: "42", Text: "/ignoring"},
		{ID: 6, ChatID: "99", Text: "/alive"},
		{ID: 7, ChatID: "42", Text: "/alive", CallbackID: "cb-1"},
		{ID: 8, ChatID: "42", Text: "hello there"},
	}}}
	cursor := &memoryCursor{values: map[string]string{domain.SecretUpdateOffset: "5"}}
	f := newMonitorFixture(fastConfig(), &scriptedSource{}, commands, cursor)

	stop := f.start(t)
	assert.Eventually(t, func() bool { return len(commands.Offsets()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []int64{5, 9}, commands.Offsets()[:2])
	assert.Equal(t, "9", cursor.Get(domain.SecretUpdateOffset))
	assert.Equal(t, []string{"cb-1"}, commands.Acked())

	sent := f.notifier.Sent()
	assert.Len(t, containing(sent, "No errors are being ignored"), 1)
	// The /alive from the foreign chat is dropped.
	assert.Len(t, containing(sent, "<b>Alive</b>"), 1)
}

func TestMonitor_CommandLoopStopsWhenNotConfigured(t *testing.T) {
	commands := &scriptedCommands{err: domain.ErrNotConfigured}
	f := newMonitorFixture(fastConfig(), &scriptedSource{}, commands, nil)

	stop := f.start(t)
	assert.Eventually(t, func() bool {
		return f.logs.FilterMessageSnippet("command loop disabled").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.Len(t, commands.Offsets(), 1)
}

func TestMonitor_CommandPollRetries(t *testing.T) {
	commands := &scriptedCommands{err: errors.New("network down")}
	f := newMonitorFixture(fastConfig(), &scriptedSource{}, commands, nil)

	stop := f.start(t)
	assert.Eventually(t, func() bool { return len(commands.Offsets()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.GreaterOrEqual(t, f.logs.FilterMessage("command poll failed").Len(), 2)
}

func TestMonitor_UnavailableTransportBacksOff(t *testing.T) {
	cfg := fastConfig()
	cfg.UnavailableRetry = time.Hour
	commands := &scriptedCommands{err: fmt.Errorf("%w: 401 Unauthorized", domain.ErrTransportUnavailable)}
	f := newMonitorFixture(cfg, &scriptedSource{}, commands, nil)

	stop := f.start(t)
	assert.Eventually(t, func() bool { return len(commands.Offsets()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	stop()

	assert.Len(t, commands.Offsets(), 1, "no retry before UnavailableRetry")
	assert.Equal(t, 1, f.logs.FilterMessage("command transport unavailable").Len())
	assert.Zero(t, f.logs.FilterMessage("command poll failed").Len())
}

func TestMonitor_UnavailableTransportWarnsOncePerOutage(t *testing.T) {
	cfg := fastConfig()
	cfg.UnavailableRetry = 10 * time.Millisecond
	commands := &scriptedCommands{
		err:      fmt.Errorf("%w: 401 Unauthorized", domain.ErrTransportUnavailable),
		failures: 4,
		batches:  [][]domain.Update{{{ID: 1, ChatID: "42", Text: "/alive"}}},
	}
	f := newMonitorFixture(cfg, &scriptedSource{}, commands, nil)

	stop := f.start(t)
	assert.Eventually(t, func() bool {
		return len(containing(f.notifier.Sent(), "<b>Alive</b>")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.GreaterOrEqual(t, len(commands.Offsets()), 5)
	assert.Equal(t, 1, f.logs.FilterMessage("command transport unavailable").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("command transport available again").Len())
}

func TestMonitor_RefreshAndHeartbeat(t *testing.T) {
	cfg := fastConfig()
	cfg.RefreshEvery = 2
	cfg.HeartbeatEvery = 3
	f := newMonitorFixture(cfg, &scriptedSource{}, nil, nil)

	stop := f.start(t)
	assert.Eventually(t, func() bool { return f.monitor.Iterations() >= 6 }, 2*time.Second, 5*time.Millisecond)
	stop()

	// One initial refresh plus one every second iteration.
	assert.GreaterOrEqual(t, f.lister.Calls(), 4)
	beats := f.logs.FilterMessage("heartbeat").All()
	require.GreaterOrEqual(t, len(beats), 2)
	assert.Equal(t, uint64(3), beats[0].ContextMap()["iterations"])
	assert.Equal(t, "global", beats[0].ContextMap()["mode"])
}

func TestMonitor_PanickingIterationBacksOff(t *testing.T) {
	src := &scriptedSource{panicOnce: true, batches: [][]string{{"kernel: disk error"}}}
	f := newMonitorFixture(fastConfig(), src, nil, nil)

	stop := f.start(t)
	assert.Eventually(t, func() bool { return len(f.notifier.Sent()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, 1, f.logs.FilterMessage("iteration failed, backing off").Len())
	assert.Contains(t, f.notifier.Sent()[1].Text, "disk error")
}

func TestMonitor_InvalidSummaryCron(t *testing.T) {
	cfg := fastConfig()
	cfg.SummaryCron = "every tuesday"
	f := newMonitorFixture(cfg, &scriptedSource{}, nil, nil)

	err := f.monitor.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every tuesday")
	assert.Empty(t, f.notifier.Sent())
}

func TestMonitor_SummaryCron(t *testing.T) {
	cfg := fastConfig()
	cfg.SummaryCron = "@every 1s"
	f := newMonitorFixture(cfg, &scriptedSource{}, nil, nil)

	stop := f.start(t)
	assert.Eventually(t, func() bool {
		return len(containing(f.notifier.Sent(), "<b>Alive</b>")) >= 1
	}, 4*time.Second, 20*time.Millisecond)
	stop()
}

func TestMonitor_Status(t *testing.T) {
	f := newMonitorFixture(fastConfig(), &scriptedSource{}, nil, nil)
	f.monitor.SetUptimeSource(func(context.Context) (time.Duration, error) {
		return 3 * time.Hour, nil
	})

	st := f.monitor.Status()
	assert.Equal(t, "box", st.Host)
	assert.Equal(t, f.monitor.RunID(), st.RunID)
	assert.Len(t, st.RunID, 36)
	assert.Equal(t, 3*time.Hour, st.Uptime)
	assert.Zero(t, st.Iterations)

	f.monitor.SetUptimeSource(func(context.Context) (time.Duration, error) {
		return 0, errors.New("no /proc")
	})
	assert.Zero(t, f.monitor.Status().Uptime)
}
