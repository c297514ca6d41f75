package util

import (
	"sync"
	"time"
)

var (
	UpSince = time.Now()
)

// Clock is the time source of the control loops. Tests drive a ManualClock.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ManualClock only moves when Sleep or Advance is called.
type ManualClock struct {
	mx    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.now
}

func (c *ManualClock) Sleep(d time.Duration) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
}

// After advances the clock like Sleep and returns an already fired channel.
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.Sleep(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.now = c.now.Add(d)
}

// Slept returns every duration passed to Sleep, oldest first.
func (c *ManualClock) Slept() []time.Duration {
	c.mx.Lock()
	defer c.mx.Unlock()
	out := make([]time.Duration, len(c.slept))
	copy(out, c.slept)
	return out
}

func UptimeInString() string {
	t := time.Now()
	d := t.Sub(UpSince)

	return d.Round(time.Second).String()
}

func NowInSec() float64 {
	return float64(time.Now().UnixMicro()) / 1000000.0
}

// NowInMs is a wrapping millisecond tick, the width the hashrate counters use.
func NowInMs(c Clock) uint32 {
	return uint32(c.Now().UnixMilli())
}
