package sampler

import (
	"sync"
	"time"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/clock"
)

// DefaultInterval is the minimum spacing between samples from one tab.
const DefaultInterval = 50 * time.Millisecond

// Throttle is a trailing-edge rate limiter: the first Trigger in a quiet
// period opens a window and fire runs when it closes. Triggers inside the
// window collapse into that single call, which reads the latest state, so
// the most recent event wins.
type Throttle struct {
	clock    clock.Clock
	interval time.Duration
	fire     func()

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
}

// NewThrottle returns a throttle calling fire at most once per interval.
func NewThrottle(clk clock.Clock, interval time.Duration, fire func()) *Throttle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Throttle{clock: clk, interval: interval, fire: fire}
}

// Trigger records an event.
func (t *Throttle) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.timer != nil {
		return
	}
	t.timer = t.clock.AfterFunc(t.interval, func() {
		t.mu.Lock()
		t.timer = nil
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			t.fire()
		}
	})
}

// Cancel drops a pending window without firing.
func (t *Throttle) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Stop cancels any pending window and ignores later triggers.
func (t *Throttle) Stop() {
	t.Cancel()
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}
