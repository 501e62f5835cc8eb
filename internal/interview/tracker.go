package interview

import (
	"sync"
	"time"
)

// Tracker measures call duration. It counts whole seconds while active and
// also keeps the start and end timestamps when those are known.
type Tracker struct {
	mu      sync.Mutex
	started time.Time
	ended   time.Time
	seconds int
	active  bool
	frozen  bool
}

// Start marks the call as started at now.
func (t *Tracker) Start(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active || t.frozen {
		return
	}
	t.started = now
	t.active = true
}

// Tick advances the counter by one second while active.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active && !t.frozen {
		t.seconds++
	}
}

// Freeze stops the tracker at now. Later calls have no effect.
func (t *Tracker) Freeze(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return
	}
	t.frozen = true
	if t.active {
		t.ended = now
	}
	t.active = false
}

// Count returns the accumulated whole seconds.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seconds
}

// StartedAt returns the recorded start time, zero when the call never started.
func (t *Tracker) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Duration returns end minus start when both were recorded, otherwise the
// counted seconds.
func (t *Tracker) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started.IsZero() && !t.ended.IsZero() {
		return t.ended.Sub(t.started)
	}
	return time.Duration(t.seconds) * time.Second
}

// Elapsed returns the running duration at now.
func (t *Tracker) Elapsed(now time.Time) time.Duration {
	t.mu.Lock()
	active, started := t.active, t.started
	t.mu.Unlock()
	if active && !started.IsZero() {
		return now.Sub(started)
	}
	return t.Duration()
}
