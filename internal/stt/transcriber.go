package stt

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNoHypothesis is returned when a transcriber produced no usable text.
	ErrNoHypothesis = errors.New("no transcription hypothesis")
	// ErrNoAudio is returned when a capture ended without any buffered audio.
	ErrNoAudio = errors.New("no audio captured")
)

// Hypothesis is one transcription candidate. Confidence is on a 0-100 scale.
type Hypothesis struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the winning hypothesis of a capture.
type Result struct {
	Text       string
	Confidence float64
	Audio      time.Duration
}

// Payload is a finished capture encoded for submission.
type Payload struct {
	WAV        []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
	Language   string
}

// Transcriber abstracts STT backends.
type Transcriber interface {
	Transcribe(ctx context.Context, payload Payload) ([]Hypothesis, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, payload Payload) ([]Hypothesis, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, payload Payload) ([]Hypothesis, error) {
	return f(ctx, payload)
}

// Best selects the highest-confidence hypothesis with non-empty text.
func Best(hypotheses []Hypothesis) (Hypothesis, bool) {
	var best Hypothesis
	found := false
	for _, h := range hypotheses {
		h.Text = strings.TrimSpace(h.Text)
		if h.Text == "" {
			continue
		}
		if !found || h.Confidence > best.Confidence {
			best = h
			found = true
		}
	}
	return best, found
}

// normalizeConfidence maps provider scores onto 0-100. Providers reporting
// every score within [0,1] are treated as fractional.
func normalizeConfidence(hypotheses []Hypothesis) []Hypothesis {
	fractional := true
	for _, h := range hypotheses {
		if h.Confidence > 1 {
			fractional = false
			break
		}
	}
	out := make([]Hypothesis, 0, len(hypotheses))
	for _, h := range hypotheses {
		c := h.Confidence
		if fractional {
			c *= 100
		}
		if c < 0 {
			c = 0
		}
		if c > 100 {
			c = 100
		}
		out = append(out, Hypothesis{Text: h.Text, Confidence: c})
	}
	return out
}
