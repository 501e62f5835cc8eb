package tts

import (
	"context"
	"time"
)

type mockSynth struct {
	sampleRate int
	channels   int
	delay      time.Duration
}

// NewMockSynth returns a synthesizer producing a short block of silence.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels, delay: 50 * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(m.delay):
		}
		// 20ms of silence per word keeps playback time proportional to text.
		words := max(1, countWords(req.Text))
		frames := m.sampleRate / 50 * words
		chunks <- SynthChunk{
			Sequence:   0,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        make([]byte, frames*2*m.channels),
			Final:      true,
		}
	}()
	return chunks, errs
}

func countWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

// NullPlayer waits for the audio duration without producing sound.
type NullPlayer struct {
	// Speed divides the wait; zero plays instantly.
	Speed float64
}

func (p NullPlayer) Play(ctx context.Context, audio Audio) error {
	if p.Speed <= 0 {
		return ctx.Err()
	}
	wait := time.Duration(float64(audio.Duration()) / p.Speed)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
