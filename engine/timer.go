package engine

import (
	"sync"
	"time"
)

// defaultTick is the poll interval of timer loops. Delays in the
// configuration are expressed in seconds, so a fifth of a second of slack is
// invisible to users while keeping the loops cheap.
const defaultTick = 200 * time.Millisecond

// timerCallbacks are invoked from the timer's own goroutine.
//
// onIterate runs once per tick while the timer is alive. onTimeoutReached
// runs at most once, when the deadline passes while the timer is not paused.
// onTerminated always runs exactly once, last, whether the timer timed out or
// was stopped.
type timerCallbacks struct {
	onIterate        func(*timer)
	onTimeoutReached func(*timer)
	onTerminated     func(*timer)
}

// timer is a cancellable one-shot countdown driven by a polling goroutine.
// All control methods only flip flags; the loop observes them on its next
// tick, so they are safe to call from callbacks of the same timer without
// deadlocking.
type timer struct {
	owner     string // for logs
	duration  time.Duration
	tick      time.Duration
	callbacks timerCallbacks

	mu        sync.Mutex
	deadline  time.Time // zero until armed by the loop
	paused    bool
	cancelled bool
	started   bool

	done chan struct{} // closed once the loop has fully terminated
}

func newTimer(owner string, duration, tick time.Duration, cb timerCallbacks) *timer {
	if tick <= 0 {
		tick = defaultTick
	}
	return &timer{
		owner:     owner,
		duration:  duration,
		tick:      tick,
		callbacks: cb,
		done:      make(chan struct{}),
	}
}

// start launches the countdown goroutine. Calling start on a running timer
// is a no-op.
func (t *timer) start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()
	go t.run()
}

// stop cancels the timer. The loop notices on its next tick and fires
// onTerminated; stop never blocks and is idempotent.
func (t *timer) stop() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

// pause freezes the countdown without terminating it. The deadline is
// discarded; resuming happens through reset.
func (t *timer) pause() {
	t.mu.Lock()
	t.paused = true
	t.deadline = time.Time{}
	t.mu.Unlock()
}

// reset clears the pause flag and re-arms the full duration on the next tick.
func (t *timer) reset() {
	t.mu.Lock()
	t.paused = false
	t.deadline = time.Time{}
	t.mu.Unlock()
}

// extend pushes the deadline to now + duration.
func (t *timer) extend() {
	t.mu.Lock()
	t.paused = false
	t.deadline = time.Now().Add(t.duration)
	t.mu.Unlock()
}

// forceTimeout moves the deadline into the past so the loop times out on its
// next tick. A paused timer ignores it.
func (t *timer) forceTimeout() {
	t.mu.Lock()
	t.deadline = time.Now().Add(-time.Second)
	t.mu.Unlock()
}

func (t *timer) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *timer) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *timer) run() {
	defer func() {
		if t.callbacks.onTerminated != nil {
			t.callbacks.onTerminated(t)
		}
		close(t.done)
	}()

	for {
		if t.isCancelled() {
			return
		}
		if t.callbacks.onIterate != nil {
			t.callbacks.onIterate(t)
		}
		if t.isCancelled() {
			return
		}

		t.mu.Lock()
		if !t.paused {
			if t.deadline.IsZero() {
				t.deadline = time.Now().Add(t.duration)
			}
			if !time.Now().Before(t.deadline) {
				t.mu.Unlock()
				if t.callbacks.onTimeoutReached != nil {
					t.callbacks.onTimeoutReached(t)
				}
				return
			}
		}
		t.mu.Unlock()

		time.Sleep(t.tick)
	}
}
