// Package usecase contains application business logic.
package usecase

import (
	"strconv"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
	"github.com/eliteGoblin/focusd/errwatch/internal/pattern"
)

// Classifier turns raw log lines into ErrorEvents using substring patterns.
// False positives are accepted: it prefers over-notification to silence.
type Classifier struct {
	patterns *pattern.Set
}

// NewClassifier creates a classifier over the given pattern set.
func NewClassifier(patterns *pattern.Set) *Classifier {
	if patterns == nil {
		patterns = pattern.Default()
	}
	return &Classifier{patterns: patterns}
}

// Classify returns an ErrorEvent if any pattern occurs in line. A leading
// syslog or ISO timestamp and host are dropped first, so lines copied from
// "journalctl -o short" fingerprint the same as lines read by the monitor.
func (c *Classifier) Classify(line string, at time.Time) (domain.ErrorEvent, bool) {
	line = StripTimestamp(strings.TrimSpace(line))
	if line == "" {
		return domain.ErrorEvent{}, false
	}
	if _, ok := c.patterns.Match(line); !ok {
		return domain.ErrorEvent{}, false
	}

	return domain.ErrorEvent{
		Process:    ExtractProcess(line),
		Message:    line,
		ObservedAt: at,
	}, true
}

// StripTimestamp removes a leading "Oct 19 11:02:33 host " or
// "2026-10-19T11:02:33+0000 host " prefix. Other lines are returned as is.
func StripTimestamp(line string) string {
	fields := strings.Fields(line)
	skip := 0
	switch {
	case len(fields) >= 5 && isMonth(fields[0]) && isDay(fields[1]) && isClock(fields[2]):
		skip = 4
	case len(fields) >= 3 && isISOStamp(fields[0]):
		skip = 2
	default:
		return line
	}

	rest := line
	for i := 0; i < skip; i++ {
		rest = strings.TrimLeft(rest, " \t")
		j := strings.IndexAny(rest, " \t")
		if j < 0 {
			return line
		}
		rest = rest[j:]
	}
	return strings.TrimLeft(rest, " \t")
}

func isMonth(s string) bool {
	_, err := time.Parse("Jan", s)
	return err == nil
}

func isDay(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 1 && n <= 31
}

func isClock(s string) bool {
	_, err := time.Parse("15:04:05", s)
	return err == nil
}

// isISOStamp accepts the short-iso and short-iso-precise journal formats.
func isISOStamp(s string) bool {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// ExtractProcess finds the process label of a line such as
// "sshd[812]: Failed password" or "host sshd[812]: Failed: bad key".
// The line is split on its first two colons; the token ending at the first
// colon is the process-with-pid, and a trailing "[pid]" is stripped.
// Lines without a usable token are labeled "system". A syslog timestamp
// prefix is skipped, so "Oct 19 11:02:33 host sshd[812]: ..." is "sshd".
func ExtractProcess(line string) string {
	parts := strings.SplitN(StripTimestamp(line), ":", 3)
	if len(parts) < 2 {
		return domain.SystemProcess
	}

	fields := strings.Fields(parts[0])
	if len(fields) == 0 {
		return domain.SystemProcess
	}
	token := fields[len(fields)-1]

	if strings.HasSuffix(token, "]") {
		if i := strings.LastIndexByte(token, '['); i >= 0 {
			token = token[:i]
		}
	}

	if token == "" {
		return domain.SystemProcess
	}
	return token
}
