// Package domain contains core business entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SystemProcess is the label used when no process can be extracted from a line.
const SystemProcess = "system"

var (
	// ErrNotFound is returned when removing a fingerprint that is not ignored.
	ErrNotFound = errors.New("not found")

	// ErrNoPackagesResolved is returned when none of the requested package IDs are known.
	ErrNoPackagesResolved = errors.New("no package ids resolved")

	// ErrInvalidArgument marks malformed command arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotConfigured is returned by transports that have no credentials.
	ErrNotConfigured = errors.New("notification transport not configured")

	// ErrTransportUnavailable is returned while a configured transport
	// cannot reach its service, e.g. a rejected bot token.
	ErrTransportUnavailable = errors.New("notification transport unavailable")
)

// ErrorEvent is one observed problem instance produced by the classifier.
// It is never persisted.
type ErrorEvent struct {
	Process    string
	Message    string
	ObservedAt time.Time
}

// Fingerprint is the 8-character uppercase identifier of an ErrorEvent.
type Fingerprint string

// FingerprintLength is the number of characters in a fingerprint.
const FingerprintLength = 8

// String renders the fingerprint the way operators see it: "#AB12CD34".
func (f Fingerprint) String() string {
	return "#" + string(f)
}

// ParseFingerprint accepts "#ab12cd34", "AB12CD34" and similar operator input.
func ParseFingerprint(s string) (Fingerprint, error) {
	s = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if len(s) != FingerprintLength {
		return "", fmt.Errorf("%w: fingerprint must be %d characters", ErrInvalidArgument, FingerprintLength)
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return "", fmt.Errorf("%w: fingerprint contains %q", ErrInvalidArgument, c)
		}
	}
	return Fingerprint(s), nil
}

// Mode is the monitoring mode of the router.
type Mode string

const (
	ModeGlobal Mode = "global"
	ModeScoped Mode = "scoped"
)

// Package is one entry of the known-process snapshot, addressed by a small ID.
type Package struct {
	ID    int
	Label string
}

// Button is an interactive control attached to an outbound message.
// Data is delivered back as a callback carrying an equivalent command string.
type Button struct {
	Text string
	Data string
}

// Message is an outbound notification.
type Message struct {
	Text      string
	ParseMode string     // "HTML" or empty
	Controls  [][]Button // rows of buttons, optional
}

// Update is one inbound event from the command transport.
type Update struct {
	ID         int64  // monotonically increasing cursor value
	ChatID     string // originating chat
	Text       string // typed text or callback data
	CallbackID string // non-empty for button callbacks
}

// IsCallback reports whether the update came from a button press.
func (u Update) IsCallback() bool {
	return u.CallbackID != ""
}
