package http

import (
	"sync"
	"time"
)

// AfterFunc schedules f after d and returns a function that cancels it.
// Tests swap it for a manual clock.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// questionTimers holds at most one pending close per session code.
type questionTimers struct {
	afterFunc AfterFunc

	mu     sync.Mutex
	seq    uint64
	timers map[string]pendingTimer
}

type pendingTimer struct {
	seq  uint64
	stop func() bool
}

func newQuestionTimers(afterFunc AfterFunc) *questionTimers {
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	return &questionTimers{afterFunc: afterFunc, timers: make(map[string]pendingTimer)}
}

// schedule replaces any pending timer for code with one that runs f after d.
func (t *questionTimers) schedule(code string, d time.Duration, f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.timers[code]; ok {
		prev.stop()
	}
	t.scheduleLocked(code, d, f)
}

// scheduleIfAbsent arms a timer only when none is pending for code. A timer
// armed concurrently by an explicit open always wins over a re-arm.
func (t *questionTimers) scheduleIfAbsent(code string, d time.Duration, f func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.timers[code]; ok {
		return false
	}
	t.scheduleLocked(code, d, f)
	return true
}

func (t *questionTimers) scheduleLocked(code string, d time.Duration, f func()) {
	t.seq++
	seq := t.seq
	stop := t.afterFunc(d, func() {
		t.mu.Lock()
		current, ok := t.timers[code]
		if !ok || current.seq != seq {
			t.mu.Unlock()
			return
		}
		delete(t.timers, code)
		t.mu.Unlock()
		f()
	})
	t.timers[code] = pendingTimer{seq: seq, stop: stop}
}

func (t *questionTimers) cancel(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.timers[code]; ok {
		prev.stop()
		delete(t.timers, code)
	}
}

func (t *questionTimers) pending(code string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[code]
	return ok
}

func (t *questionTimers) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for code, p := range t.timers {
		p.stop()
		delete(t.timers, code)
	}
}
