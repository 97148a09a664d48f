// Package logring provides a bounded in-memory ring of recent hub events for
// the dashboard.
package logring

import (
	"sync"
	"time"
)

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 500

// maxMessageLen bounds stored message and body excerpts.
const maxMessageLen = 200

// Category tags an entry with the hub activity that produced it.
type Category string

const (
	CategoryRegister Category = "REGISTER"
	CategoryForward  Category = "FORWARD"
	CategorySweep    Category = "SWEEP"
	CategoryReject   Category = "REJECT"
	CategoryError    Category = "ERROR"
)

// Context carries optional structured fields attached to an entry.
type Context struct {
	Service   string `json:"service,omitempty"`
	Upstream  string `json:"upstream,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Status    int    `json:"status,omitempty"`
}

// Entry is a single dashboard log record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Category  Category  `json:"category"`
	Message   string    `json:"message"`
	Context   *Context  `json:"context,omitempty"`
}

// Ring is a fixed-capacity FIFO of entries. Append evicts the oldest entry on
// overflow; Snapshot returns newest-first. Safe for concurrent use.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	size    int
}

// New creates a Ring with the given capacity, or DefaultCapacity if n <= 0.
func New(n int) *Ring {
	if n <= 0 {
		n = DefaultCapacity
	}
	return &Ring{entries: make([]Entry, n)}
}

// Append adds an entry, evicting the oldest when full. O(1).
func (r *Ring) Append(e Entry) {
	e.Message = Truncate(e.Message)

	r.mu.Lock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.size < len(r.entries) {
		r.size++
	}
	r.mu.Unlock()
}

// Snapshot returns the stored entries, newest first.
func (r *Ring) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, r.size)
	for i := 1; i <= r.size; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Truncate bounds a message or body excerpt to the stored maximum.
func Truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxMessageLen {
		return s
	}
	return string(runes[:maxMessageLen])
}
