package domain

import (
	"context"
	"time"
)

// LogSource pulls raw lines produced since a point in time.
// Implementations: journalctl (infra.JournalSource), file tail (infra.FileSource).
type LogSource interface {
	// Since returns lines observed after since, oldest first.
	Since(ctx context.Context, since time.Time) ([]string, error)
}

// Notifier delivers messages to the remote channel.
// At most one delivery attempt is made per call.
type Notifier interface {
	Send(ctx context.Context, msg Message) bool
}

// CommandSource long-polls the remote channel for inbound commands.
type CommandSource interface {
	// Poll returns updates with ID >= offset. Blocks up to the transport's long-poll timeout.
	Poll(ctx context.Context, offset int64) ([]Update, error)

	// Acknowledge dismisses the loading state of a button callback.
	Acknowledge(ctx context.Context, callbackID string) error
}

// IgnoreStore is the persistent set of suppressed fingerprints.
// Implementation: JSON array file rewritten on every mutation.
type IgnoreStore interface {
	// Add inserts fp. Returns false if it was already present.
	Add(fp Fingerprint) bool

	// Remove deletes fp. Returns ErrNotFound if absent.
	Remove(fp Fingerprint) error

	// Contains reports membership.
	Contains(fp Fingerprint) bool

	// List returns all fingerprints sorted.
	List() []Fingerprint
}

// ProcessLister takes a snapshot of running process names.
// Implementation: uses gopsutil.
type ProcessLister interface {
	// Snapshot returns unique process names, sorted.
	Snapshot(ctx context.Context) ([]string, error)
}

// SecretStore provides encrypted persistent storage for credentials
// and the command cursor.
type SecretStore interface {
	GetSecret(key string) (string, error)
	SetSecret(key, value string) error
	GetAllSecrets() (map[string]string, error)
	Close() error
}

// Secret store keys.
const (
	SecretBotToken     = "telegram_bot_token"
	SecretChatID       = "telegram_chat_id"
	SecretUpdateOffset = "update_offset"
)

// ServiceInstaller writes the init-system unit that runs the monitor.
type ServiceInstaller interface {
	Install(execPath string) error
	Uninstall() error
	IsInstalled() bool
	GetUnitPath() string
}
