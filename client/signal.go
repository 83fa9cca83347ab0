package client

import (
	"sync"
	"time"
)

// EditSignal coalesces local content-change callbacks into rate-limited
// edit-intent broadcasts. The first change in an idle window emits
// immediately; further changes inside the window collapse into one trailing
// emit, so a typing burst costs two broadcasts instead of one per keystroke.
type EditSignal struct {
	window time.Duration
	emit   func()

	mu       sync.Mutex
	timer    *time.Timer
	lastEmit time.Time
	pending  bool
	stopped  bool
}

func NewEditSignal(window time.Duration, emit func()) *EditSignal {
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &EditSignal{window: window, emit: emit}
}

// Signal records one local content change.
func (e *EditSignal) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	now := time.Now()
	if !e.pending && now.Sub(e.lastEmit) >= e.window {
		e.lastEmit = now
		e.emit()
		return
	}
	if e.pending {
		return
	}

	e.pending = true
	delay := e.window - now.Sub(e.lastEmit)
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, e.fire)
}

func (e *EditSignal) fire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || !e.pending {
		return
	}
	e.pending = false
	e.lastEmit = time.Now()
	e.emit()
}

// Stop cancels any scheduled trailing emit. Further signals are ignored.
func (e *EditSignal) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
	}
}
