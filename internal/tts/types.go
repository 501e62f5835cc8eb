package tts

import (
	"context"
	"time"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	Text     string
	Voice    string
	Language string
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer produces audio locally. It is the fallback path of Output.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Reference points at audio rendered by a remote provider.
type Reference struct {
	URL    string
	Format string
}

// Provider renders speech remotely and returns a reference to the audio.
type Provider interface {
	Render(ctx context.Context, req SynthRequest) (Reference, error)
	Probe(ctx context.Context, ref Reference) error
	Fetch(ctx context.Context, ref Reference) (Audio, error)
}

// Audio is decoded 16-bit little-endian PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Duration is the playback length of the audio.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	frames := len(a.PCM) / 2 / a.Channels
	return time.Duration(frames) * time.Second / time.Duration(a.SampleRate)
}

// Player renders PCM on the local audio device. Play blocks until the audio
// finished or ctx is done.
type Player interface {
	Play(ctx context.Context, audio Audio) error
}

// Collect drains a synthesizer stream into a single Audio buffer.
func Collect(ctx context.Context, s Synthesizer, req SynthRequest) (Audio, error) {
	chunks, errs := s.Synthesize(ctx, req)
	var out Audio
	for chunk := range chunks {
		if out.SampleRate == 0 {
			out.SampleRate = chunk.SampleRate
			out.Channels = chunk.Channels
		}
		out.PCM = append(out.PCM, chunk.PCM...)
	}
	if err := <-errs; err != nil {
		return Audio{}, err
	}
	return out, nil
}
