package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
	"github.com/eliteGoblin/focusd/errwatch/internal/pattern"
)

func TestExtractProcess(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"sshd[1]: Failed password for root", "sshd"},
		{"kernel: usb 1-1: device descriptor read error", "kernel"},
		{"myhost waybar[4411]: Failed to load config: no such file", "waybar"},
		{"systemd: Failed to start unit", "systemd"},
		{"no colon here, just an error", domain.SystemProcess},
		{": leading colon error", domain.SystemProcess},
		{"[12]: error with empty name", domain.SystemProcess},
		{"hyprland: [ERR] Config error in file", "hyprland"},
		{"Oct 19 11:02:33 myhost sshd[812]: Failed password for root", "sshd"},
		{"Oct  9 07:00:01 myhost kernel: usb 1-1: device descriptor read error", "kernel"},
		{"Oct 19 11:02:33 myhost systemd[1]: Failed to start unit", "systemd"},
		{"2026-10-19T11:02:33+0000 myhost waybar[4411]: Failed to load config", "waybar"},
		{"2026-10-19T11:02:33.123456+00:00 myhost mako: error", "mako"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractProcess(tt.line))
		})
	}
}

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier(pattern.NewSet("Failed", "error"))
	at := time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)

	ev, ok := c.Classify("sshd[1]: Failed password for root", at)
	require.True(t, ok)
	assert.Equal(t, "sshd", ev.Process)
	assert.Equal(t, "sshd[1]: Failed password for root", ev.Message)
	assert.Equal(t, at, ev.ObservedAt)

	_, ok = c.Classify("kernel: OK", at)
	assert.False(t, ok)

	_, ok = c.Classify("   ", at)
	assert.False(t, ok)
}

func TestStripTimestamp(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"Oct 19 11:02:33 myhost sshd[812]: Failed password", "sshd[812]: Failed password"},
		{"Oct  9 07:00:01 myhost kernel: oops", "kernel: oops"},
		{"2026-10-19T11:02:33+0000 myhost mako: error", "mako: error"},
		{"sshd[812]: Failed password", "sshd[812]: Failed password"},
		// Too short to carry a host and an ident.
		{"Oct 19 11:02:33 error", "Oct 19 11:02:33 error"},
		{"Octopus 19 11:02:33 myhost x: error", "Octopus 19 11:02:33 myhost x: error"},
		{"Oct 42 11:02:33 myhost x: error", "Oct 42 11:02:33 myhost x: error"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, StripTimestamp(tt.line))
		})
	}
}

func TestClassifier_SyslogLineMatchesJournalLine(t *testing.T) {
	c := NewClassifier(nil)
	at := time.Now()

	short, ok := c.Classify("Oct 19 11:02:33 myhost sshd[812]: Failed password for root", at)
	require.True(t, ok)
	plain, ok := c.Classify("sshd[812]: Failed password for root", at)
	require.True(t, ok)

	assert.Equal(t, "sshd", short.Process)
	assert.Equal(t, "sshd[812]: Failed password for root", short.Message)
	assert.Equal(t, Fingerprint(plain), Fingerprint(short))
}

// TestClassifier_AlwaysLabelsProcess checks that every matching line gets a
// non-empty process label.
func TestClassifier_AlwaysLabelsProcess(t *testing.T) {
	c := NewClassifier(nil)
	lines := []string{
		"error",
		"::: error :::",
		"a b c: crash",
		"[]: fatal",
		"   x[9]: permission denied",
	}
	for _, line := range lines {
		ev, ok := c.Classify(line, time.Now())
		require.True(t, ok, line)
		assert.NotEmpty(t, ev.Process, line)
	}
}
