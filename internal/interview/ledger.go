package interview

import (
	"sync"
	"time"
)

// Speaker is the party a turn belongs to.
type Speaker string

const (
	SpeakerInterviewer Speaker = "interviewer"
	SpeakerCandidate   Speaker = "candidate"
)

// Turn is one utterance. Confidence is set only on recognized candidate turns.
type Turn struct {
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// Ledger is the append-only transcript of a session. Only the machine
// appends to it; readers get copies.
type Ledger struct {
	mu    sync.RWMutex
	turns []Turn
}

func newLedger() *Ledger { return &Ledger{} }

// append records t. Timestamps never go backwards.
func (l *Ledger) append(t Turn) Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	if n := len(l.turns); n > 0 && t.Timestamp.Before(l.turns[n-1].Timestamp) {
		t.Timestamp = l.turns[n-1].Timestamp
	}
	if t.Confidence != nil {
		c := *t.Confidence
		t.Confidence = &c
	}
	l.turns = append(l.turns, t)
	return t
}

// Len returns the number of turns.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Turns returns a copy of the transcript in append order.
func (l *Ledger) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Each calls fn for every turn in order until fn returns false.
func (l *Ledger) Each(fn func(i int, t Turn) bool) {
	for i, t := range l.Turns() {
		if !fn(i, t) {
			return
		}
	}
}

// Count returns the number of turns spoken by s.
func (l *Ledger) Count(s Speaker) int {
	n := 0
	l.Each(func(_ int, t Turn) bool {
		if t.Speaker == s {
			n++
		}
		return true
	})
	return n
}
