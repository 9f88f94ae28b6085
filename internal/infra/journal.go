package infra

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

const (
	// DefaultJournalPriority keeps err, crit, alert and emerg.
	DefaultJournalPriority = "err"

	journalTimeout    = 10 * time.Second
	journalTimeLayout = "2006-01-02 15:04:05"
)

// JournalSource implements domain.LogSource by querying journalctl.
type JournalSource struct {
	binary   string
	priority string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewJournalSource creates a journal source filtering at the given priority.
func NewJournalSource(priority string, logger *zap.Logger) *JournalSource {
	if priority == "" {
		priority = DefaultJournalPriority
	}
	return &JournalSource{
		binary:   "journalctl",
		priority: priority,
		timeout:  journalTimeout,
		logger:   logger,
	}
}

// journalEntry is the subset of journalctl's JSON export we render.
// MESSAGE is a string, or an array of bytes when it is not valid UTF-8.
type journalEntry struct {
	Identifier string          `json:"SYSLOG_IDENTIFIER"`
	Comm       string          `json:"_COMM"`
	PID        string          `json:"_PID"`
	Message    json.RawMessage `json:"MESSAGE"`
}

// Since returns entries logged after since, rendered as "ident[pid]: message".
func (j *JournalSource) Since(ctx context.Context, since time.Time) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, j.binary,
		"-p", j.priority,
		"--since", since.Local().Format(journalTimeLayout),
		"-o", "json",
		"--no-pager",
		"-q",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("journalctl failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return j.parse(out), nil
}

func (j *JournalSource) parse(out []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var entry journalEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			j.logger.Debug("skipping unparseable journal entry", zap.Error(err))
			continue
		}
		if line, ok := entry.render(); ok {
			lines = append(lines, line)
		}
	}
	return lines
}

func (e journalEntry) render() (string, bool) {
	msg := decodeJournalMessage(e.Message)
	if msg == "" {
		return "", false
	}

	ident := e.Identifier
	if ident == "" {
		ident = e.Comm
	}
	if ident == "" {
		return msg, true
	}
	if e.PID != "" {
		return fmt.Sprintf("%s[%s]: %s", ident, e.PID, msg), true
	}
	return ident + ": " + msg, true
}

func decodeJournalMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var b []byte
	var ints []int
	if err := json.Unmarshal(raw, &ints); err == nil {
		b = make([]byte, 0, len(ints))
		for _, v := range ints {
			b = append(b, byte(v))
		}
		return strings.TrimSpace(strings.ToValidUTF8(string(b), "?"))
	}
	return ""
}

// Ensure JournalSource implements domain.LogSource.
var _ domain.LogSource = (*JournalSource)(nil)
