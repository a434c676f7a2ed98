package server

import (
	"sync/atomic"
	"time"
)

// rateCounter tracks events per second for the admin stats endpoint. A
// background ticker snapshots and resets the running count once a
// second.
type rateCounter struct {
	current atomic.Int64
	settled atomic.Int64
}

func newRateCounter() *rateCounter {
	return &rateCounter{}
}

// start launches the per-second rollover goroutine; it exits when stop
// is closed.
func (c *rateCounter) start(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.settled.Store(c.current.Swap(0))
			case <-stop:
				return
			}
		}
	}()
}

func (c *rateCounter) inc() {
	c.current.Add(1)
}

// last returns the count settled over the most recent whole second.
func (c *rateCounter) last() int64 {
	return c.settled.Load()
}
