package client

import (
	"sync"
	"time"
)

// DefaultMoveInterval is the minimum spacing between outbound position
// updates. 100ms caps the stream at 10 per second regardless of the
// caller's frame rate.
const DefaultMoveInterval = 100 * time.Millisecond

// throttle is a monotonic-clock rate gate. The first call always
// passes; later calls pass only after the interval has elapsed since
// the last passing call.
type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time // test hook
}

func newThrottle(interval time.Duration) *throttle {
	if interval <= 0 {
		interval = DefaultMoveInterval
	}
	return &throttle{interval: interval, now: time.Now}
}

// allow reports whether a send may go out now, consuming the slot if
// so.
func (g *throttle) allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	return true
}
