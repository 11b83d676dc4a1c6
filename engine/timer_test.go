package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testTick = 2 * time.Millisecond

func waitDone(t *testing.T, tm *timer) {
	t.Helper()
	select {
	case <-tm.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not terminate")
	}
}

func TestTimerTimesOut(t *testing.T) {
	var timedOut, terminated atomic.Int32
	tm := newTimer("test", 10*time.Millisecond, testTick, timerCallbacks{
		onTimeoutReached: func(*timer) { timedOut.Add(1) },
		onTerminated:     func(*timer) { terminated.Add(1) },
	})
	tm.start()
	waitDone(t, tm)

	if got := timedOut.Load(); got != 1 {
		t.Errorf("onTimeoutReached fired %d times, want 1", got)
	}
	if got := terminated.Load(); got != 1 {
		t.Errorf("onTerminated fired %d times, want 1", got)
	}
}

func TestTimerStop(t *testing.T) {
	var timedOut, terminated atomic.Int32
	tm := newTimer("test", time.Hour, testTick, timerCallbacks{
		onTimeoutReached: func(*timer) { timedOut.Add(1) },
		onTerminated:     func(*timer) { terminated.Add(1) },
	})
	tm.start()
	tm.stop()
	tm.stop() // idempotent
	waitDone(t, tm)

	if got := timedOut.Load(); got != 0 {
		t.Errorf("onTimeoutReached fired %d times, want 0", got)
	}
	if got := terminated.Load(); got != 1 {
		t.Errorf("onTerminated fired %d times, want 1", got)
	}
}

func TestTimerStopFromOwnCallback(t *testing.T) {
	// Control methods only flip flags, so a callback may stop its own timer.
	var tm *timer
	tm = newTimer("test", time.Hour, testTick, timerCallbacks{
		onIterate: func(*timer) { tm.stop() },
	})
	tm.start()
	waitDone(t, tm)
}

func TestTimerPauseFreezesCountdown(t *testing.T) {
	var timedOut atomic.Int32
	tm := newTimer("test", 10*time.Millisecond, testTick, timerCallbacks{
		onTimeoutReached: func(*timer) { timedOut.Add(1) },
	})
	tm.pause()
	tm.start()

	time.Sleep(50 * time.Millisecond)
	if got := timedOut.Load(); got != 0 {
		t.Fatalf("paused timer timed out %d times", got)
	}

	// reset resumes with the full duration
	tm.reset()
	waitDone(t, tm)
	if got := timedOut.Load(); got != 1 {
		t.Errorf("onTimeoutReached fired %d times after reset, want 1", got)
	}
}

func TestTimerForceTimeout(t *testing.T) {
	var timedOut atomic.Int32
	tm := newTimer("test", time.Hour, testTick, timerCallbacks{
		onTimeoutReached: func(*timer) { timedOut.Add(1) },
	})
	tm.start()
	time.Sleep(10 * time.Millisecond) // let the loop arm the deadline
	tm.forceTimeout()
	waitDone(t, tm)

	if got := timedOut.Load(); got != 1 {
		t.Errorf("onTimeoutReached fired %d times, want 1", got)
	}
}

func TestTimerExtendPushesDeadline(t *testing.T) {
	var mu sync.Mutex
	var firedAt time.Time
	start := time.Now()

	tm := newTimer("test", 20*time.Millisecond, testTick, timerCallbacks{
		onTimeoutReached: func(*timer) {
			mu.Lock()
			firedAt = time.Now()
			mu.Unlock()
		},
	})
	tm.start()
	time.Sleep(10 * time.Millisecond)
	tm.extend()
	waitDone(t, tm)

	mu.Lock()
	elapsed := firedAt.Sub(start)
	mu.Unlock()
	if elapsed < 25*time.Millisecond {
		t.Errorf("timer fired after %s, want at least 25ms after extend", elapsed)
	}
}

func TestTimerStartIsIdempotent(t *testing.T) {
	var terminated atomic.Int32
	tm := newTimer("test", 5*time.Millisecond, testTick, timerCallbacks{
		onTerminated: func(*timer) { terminated.Add(1) },
	})
	tm.start()
	tm.start()
	waitDone(t, tm)
	time.Sleep(20 * time.Millisecond)

	if got := terminated.Load(); got != 1 {
		t.Errorf("onTerminated fired %d times, want 1", got)
	}
}
