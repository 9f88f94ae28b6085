// Package config loads the monitor's key=value configuration.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

// Keys recognised in config files and the environment.
const (
	KeyBotToken        = "TELEGRAM_BOT_TOKEN"
	KeyChatID          = "TELEGRAM_CHAT_ID"
	KeyPollInterval    = "POLL_INTERVAL"
	KeyRefreshEvery    = "REFRESH_EVERY"
	KeyHeartbeatEvery  = "HEARTBEAT_EVERY"
	KeyHistorySize     = "HISTORY_SIZE"
	KeyIgnoreFile      = "IGNORE_FILE"
	KeyPatternsFile    = "PATTERNS_FILE"
	KeyLogFiles        = "LOG_FILES"
	KeyJournalPriority = "JOURNAL_PRIORITY"
	KeySummaryCron     = "SUMMARY_CRON"
	KeyLogLevel        = "LOG_LEVEL"
	KeyErrorBackoff    = "ERROR_BACKOFF"

	// KeyCriticalProcesses lists process names that must stay running,
	// e.g. "Hyprland,waybar,hyprpaper,mako".
	KeyCriticalProcesses = "CRITICAL_PROCESSES"

	// EnvConfigPath names an explicit config file.
	EnvConfigPath = "ERRWATCH_CONFIG"
)

var allKeys = []string{
	KeyBotToken, KeyChatID, KeyPollInterval, KeyRefreshEvery, KeyHeartbeatEvery,
	KeyHistorySize, KeyIgnoreFile, KeyPatternsFile, KeyLogFiles, KeyJournalPriority,
	KeySummaryCron, KeyLogLevel, KeyErrorBackoff, KeyCriticalProcesses,
}

// Source labels for where the credentials came from.
const (
	SourceSecretStore = "secret store"
	SourceEnvironment = "environment"
)

// Config is the resolved runtime configuration.
type Config struct {
	BotToken string
	ChatID   string
	// Source is the file, SourceEnvironment or SourceSecretStore that
	// supplied the credentials; empty when unconfigured.
	Source string

	PollInterval    time.Duration
	RefreshEvery    int
	HeartbeatEvery  int
	HistorySize     int
	IgnoreFile      string
	PatternsFile    string
	LogFiles        []string
	JournalPriority string
	SummaryCron     string
	LogLevel        zapcore.Level
	ErrorBackoff    time.Duration

	// CriticalProcesses are reported when absent from the process table.
	CriticalProcesses []string

	DataDir string
	LogDir  string
}

// Default returns the built-in settings for the given directories.
func Default(dataDir, logDir string) *Config {
	return &Config{
		PollInterval:    10 * time.Second,
		RefreshEvery:    30,
		HeartbeatEvery:  60,
		HistorySize:     1000,
		IgnoreFile:      filepath.Join(dataDir, "ignored.json"),
		JournalPriority: "err",
		LogLevel:        zapcore.InfoLevel,
		ErrorBackoff:    60 * time.Second,
		DataDir:         dataDir,
		LogDir:          logDir,
	}
}

// Configured reports whether both bot credentials are set.
func (c *Config) Configured() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// CandidatePaths lists the config files tried, in order.
func CandidatePaths(home string) []string {
	var paths []string
	if explicit := os.Getenv(EnvConfigPath); explicit != "" {
		paths = append(paths, explicit)
	}
	return append(paths,
		"/etc/errwatch/.env",
		filepath.Join(home, ".config", "errwatch", ".env"),
		filepath.Join(home, ".config", "hypr", "scripts", ".env"),
	)
}

// SecretReader is the part of the secret store config falls back to.
type SecretReader interface {
	GetSecret(key string) (string, error)
}

// Loader resolves a Config from files, the environment and the secret store.
type Loader struct {
	Candidates []string
	Getenv     func(string) string
	Secrets    SecretReader // optional
}

// NewLoader creates a loader over the default candidates and process environment.
func NewLoader(home string, secrets SecretReader) *Loader {
	return &Loader{
		Candidates: CandidatePaths(home),
		Getenv:     os.Getenv,
		Secrets:    secrets,
	}
}

// Load resolves the configuration on top of Default(dataDir, logDir).
//
// The first candidate that defines both credentials supplies all file
// values. If none does, the first existing candidate supplies optional
// values. Environment variables override file values. Credentials still
// missing are read from the secret store.
func (l *Loader) Load(dataDir, logDir string) (*Config, error) {
	values, source, err := l.readFiles()
	if err != nil {
		return nil, err
	}

	envCreds := false
	if l.Getenv != nil {
		for _, key := range allKeys {
			if v := strings.TrimSpace(l.Getenv(key)); v != "" {
				values[key] = v
				if key == KeyBotToken || key == KeyChatID {
					envCreds = true
				}
			}
		}
	}

	cfg := Default(dataDir, logDir)
	if err := cfg.apply(values); err != nil {
		return nil, err
	}

	switch {
	case cfg.Configured() && envCreds:
		cfg.Source = SourceEnvironment
	case cfg.Configured():
		cfg.Source = source
	default:
		l.fillFromSecrets(cfg)
	}
	return cfg, nil
}

func (l *Loader) readFiles() (map[string]string, string, error) {
	var fallback map[string]string
	var fallbackPath string

	for _, path := range l.Candidates {
		values, err := ParseFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", err
		}
		if values[KeyBotToken] != "" && values[KeyChatID] != "" {
			return values, path, nil
		}
		if fallback == nil {
			fallback, fallbackPath = values, path
		}
	}
	if fallback == nil {
		return map[string]string{}, "", nil
	}
	return fallback, fallbackPath, nil
}

func (l *Loader) fillFromSecrets(cfg *Config) {
	if l.Secrets == nil {
		return
	}
	if cfg.BotToken == "" {
		if v, err := l.Secrets.GetSecret(domain.SecretBotToken); err == nil {
			cfg.BotToken = v
		}
	}
	if cfg.ChatID == "" {
		if v, err := l.Secrets.GetSecret(domain.SecretChatID); err == nil {
			cfg.ChatID = v
		}
	}
	if cfg.Configured() {
		cfg.Source = SourceSecretStore
	}
}

func (c *Config) apply(values map[string]string) error {
	var err error
	for key, raw := range values {
		switch key {
		case KeyBotToken:
			c.BotToken = raw
		case KeyChatID:
			c.ChatID = raw
		case KeyPollInterval:
			c.PollInterval, err = parseDuration(key, raw)
		case KeyErrorBackoff:
			c.ErrorBackoff, err = parseDuration(key, raw)
		case KeyRefreshEvery:
			c.RefreshEvery, err = parsePositive(key, raw)
		case KeyHeartbeatEvery:
			c.HeartbeatEvery, err = parsePositive(key, raw)
		case KeyHistorySize:
			c.HistorySize, err = parsePositive(key, raw)
		case KeyIgnoreFile:
			c.IgnoreFile = raw
		case KeyPatternsFile:
			c.PatternsFile = raw
		case KeyLogFiles:
			c.LogFiles = splitList(raw)
		case KeyCriticalProcesses:
			c.CriticalProcesses = splitList(raw)
		case KeyJournalPriority:
			c.JournalPriority = raw
		case KeySummaryCron:
			c.SummaryCron = raw
		case KeyLogLevel:
			c.LogLevel, err = zapcore.ParseLevel(raw)
			if err != nil {
				err = fmt.Errorf("invalid %s %q: %w", key, raw, err)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ParseFile reads a key=value file.
func ParseFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return values, nil
}

// Parse reads key=value lines. Blank lines and # comments are skipped, as
// are lines without '='. An optional "export " prefix and matching quotes
// around the value are removed.
func Parse(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = unquote(strings.TrimSpace(value))
	}
	return values, scanner.Err()
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// parseDuration accepts Go durations ("10s") or bare seconds ("10").
func parseDuration(key, raw string) (time.Duration, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a positive duration", key, raw)
	}
	return d, nil
}

func parsePositive(key, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a positive integer", key, raw)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
