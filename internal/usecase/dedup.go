package usecase

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

const (
	// DefaultHistorySize is the number of fingerprints remembered for dedup.
	DefaultHistorySize = 1000

	// fingerprintPrefix is how many characters of the message are hashed.
	fingerprintPrefix = 100
)

// Fingerprint derives the stable identifier of ev from its process label
// and the first 100 characters of its message.
func Fingerprint(ev domain.ErrorEvent) domain.Fingerprint {
	sum := md5.Sum([]byte(ev.Process + ":" + truncateRunes(ev.Message, fingerprintPrefix)))
	id := hex.EncodeToString(sum[:])[:domain.FingerprintLength]
	return domain.Fingerprint(strings.ToUpper(id))
}

// RecentHistory is a bounded FIFO of recently seen fingerprints.
// An evicted fingerprint may be reported as new again; memory stays bounded.
//
// RecentHistory is not safe for concurrent use. It belongs to the polling task.
type RecentHistory struct {
	ring []domain.Fingerprint
	next int
	full bool
	seen map[domain.Fingerprint]struct{}
}

// NewRecentHistory creates a history holding at most capacity fingerprints.
func NewRecentHistory(capacity int) *RecentHistory {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &RecentHistory{
		ring: make([]domain.Fingerprint, capacity),
		seen: make(map[domain.Fingerprint]struct{}, capacity),
	}
}

// IsDuplicate reports whether fp was already present and records it.
// Once full, recording a new fingerprint evicts the oldest.
func (h *RecentHistory) IsDuplicate(fp domain.Fingerprint) bool {
	if _, ok := h.seen[fp]; ok {
		return true
	}

	if h.full {
		delete(h.seen, h.ring[h.next])
	}
	h.ring[h.next] = fp
	h.seen[fp] = struct{}{}

	h.next++
	if h.next == len(h.ring) {
		h.next = 0
		h.full = true
	}
	return false
}

// Len returns the number of fingerprints currently remembered.
func (h *RecentHistory) Len() int {
	return len(h.seen)
}

// Cap returns the capacity.
func (h *RecentHistory) Cap() int {
	return len(h.ring)
}

// truncateRunes returns at most n runes of s.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
