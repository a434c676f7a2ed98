package server

import (
	"sync"
	"time"
)

// ringLogSize is how many entries each admin log retains.
const ringLogSize = 100

// LogEntry is one line in an admin ring log.
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// ringLog is a bounded in-memory log for the admin stats surface. The
// oldest entry is dropped once the ring is full.
type ringLog struct {
	mu      sync.Mutex
	entries []LogEntry
}

func newRingLog() *ringLog {
	return &ringLog{}
}

// Append adds an entry, evicting the oldest if the ring is full.
func (l *ringLog) Append(at time.Time, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{At: at, Message: message})
	if len(l.entries) > ringLogSize {
		l.entries = l.entries[len(l.entries)-ringLogSize:]
	}
}

// Entries returns a copy of the retained entries, oldest first.
func (l *ringLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
