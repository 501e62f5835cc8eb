package interview

import (
	"testing"
	"time"
)

func TestLedgerAppendOnly(t *testing.T) {
	l := newLedger()
	now := time.Now()
	l.append(Turn{Speaker: SpeakerInterviewer, Text: "Q", Timestamp: now})
	c := 73.0
	l.append(Turn{Speaker: SpeakerCandidate, Text: "A", Timestamp: now.Add(-time.Second), Confidence: &c})

	turns := l.Turns()
	if len(turns) != 2 || l.Len() != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[1].Timestamp.Before(turns[0].Timestamp) {
		t.Fatal("timestamps must not go backwards")
	}

	c = 10
	turns[0].Text = "changed"
	again := l.Turns()
	if again[0].Text != "Q" || *again[1].Confidence != 73 {
		t.Fatal("ledger exposed mutable state")
	}

	var visited int
	l.Each(func(i int, _ Turn) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Fatalf("Each must stop when fn returns false, visited %d", visited)
	}
	if l.Count(SpeakerCandidate) != 1 {
		t.Fatal("expected one candidate turn")
	}
}

func TestTrackerDuration(t *testing.T) {
	var tr Tracker
	tr.Tick()
	if tr.Count() != 0 {
		t.Fatal("inactive tracker must not count")
	}
	start := time.Now()
	tr.Start(start)
	tr.Tick()
	tr.Tick()
	tr.Freeze(start.Add(2500 * time.Millisecond))
	tr.Tick()
	if tr.Count() != 2 {
		t.Fatalf("expected 2 ticks, got %d", tr.Count())
	}
	if tr.Duration() != 2500*time.Millisecond {
		t.Fatalf("expected timestamp duration, got %v", tr.Duration())
	}
	tr.Freeze(start.Add(time.Hour))
	if tr.Duration() != 2500*time.Millisecond {
		t.Fatal("second freeze must not change duration")
	}
}

func TestTrackerFallsBackToCount(t *testing.T) {
	tr := Tracker{active: true, seconds: 7}
	tr.Freeze(time.Now())
	if tr.Duration() != 7*time.Second {
		t.Fatalf("expected counted duration, got %v", tr.Duration())
	}
}

func TestWholeSeconds(t *testing.T) {
	cases := map[time.Duration]int{
		0:                       0,
		400 * time.Millisecond:  0,
		1500 * time.Millisecond: 2,
		61 * time.Second:        61,
	}
	for d, want := range cases {
		if got := wholeSeconds(d); got != want {
			t.Fatalf("wholeSeconds(%v) = %d, want %d", d, got, want)
		}
	}
}

func TestStatusText(t *testing.T) {
	for s := StatusIdle; s <= StatusError; s++ {
		b, _ := s.MarshalText()
		var back Status
		if err := back.UnmarshalText(b); err != nil || back != s {
			t.Fatalf("status %s did not round trip", s)
		}
	}
	if Status(42).String() != "status(42)" {
		t.Fatalf("unexpected name %s", Status(42))
	}
}
