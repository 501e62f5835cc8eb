package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/loqalabs/loqa-interview/internal/fault"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoPath is returned when neither the provider nor a fallback is configured.
var ErrNoPath = errors.New("no speech path configured")

// OutputConfig configures an Output.
type OutputConfig struct {
	Voice        string
	Language     string
	ProbeTimeout time.Duration
	// RequestTimeout bounds rendering and fetching, not playback.
	RequestTimeout time.Duration
	CacheSize      int
	StickyFallback bool
	// PreferFallbackFor is the number of calls served by the fallback after
	// it succeeded; zero keeps the fallback for the rest of the session.
	PreferFallbackFor int
}

// Output speaks text through the remote provider, falling back silently to
// the local synthesizer. Only one playback is active at a time.
type Output struct {
	cfg      OutputConfig
	provider Provider
	fallback Synthesizer
	player   Player
	logger   *slog.Logger
	tracer   trace.Tracer
	refs     *lru.Cache[string, cachedRef]

	fallbacks metric.Int64Counter

	mu          sync.Mutex
	cancelPlay  context.CancelFunc
	playing     chan struct{}
	sticky      bool
	stickyCalls int
}

type cachedRef struct {
	ref    Reference
	probed bool
}

// NewOutput builds an Output. provider or fallback may be nil but not both.
func NewOutput(cfg OutputConfig, provider Provider, fallback Synthesizer, player Player, logger *slog.Logger) (*Output, error) {
	if provider == nil && fallback == nil {
		return nil, ErrNoPath
	}
	if player == nil {
		player = NullPlayer{}
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 64
	}
	refs, err := lru.New[string, cachedRef](size)
	if err != nil {
		return nil, fmt.Errorf("tts cache: %w", err)
	}
	meter := otel.Meter("github.com/loqalabs/loqa-interview/tts")
	fallbacks, err := meter.Int64Counter("tts.fallbacks", metric.WithDescription("Utterances served by the local synthesizer after a provider failure"))
	if err != nil {
		return nil, fmt.Errorf("tts metrics: %w", err)
	}
	return &Output{
		cfg:       cfg,
		provider:  provider,
		fallback:  fallback,
		player:    player,
		logger:    logger.With(slog.String("component", "speech-output")),
		tracer:    otel.Tracer("github.com/loqalabs/loqa-interview/tts"),
		refs:      refs,
		fallbacks: fallbacks,
	}, nil
}

// Speak renders text and blocks until playback finished. An earlier playback
// still running is stopped first. A stopped playback returns ctx.Err or
// context.Canceled.
func (o *Output) Speak(ctx context.Context, text string) error {
	ctx, done := o.acquire(ctx)
	defer done()

	ctx, span := o.tracer.Start(ctx, "tts.speak", trace.WithAttributes(attribute.Int("tts.text_len", len(text))))
	defer span.End()

	var primaryErr error
	if o.provider != nil && o.usePrimary() {
		primaryErr = o.speakPrimary(ctx, text)
		if primaryErr == nil {
			span.SetAttributes(attribute.String("tts.path", "provider"))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Warn("speech provider failed, using local synthesizer", slogError(primaryErr))
	} else if o.provider == nil {
		primaryErr = ErrNoPath
	}

	if o.fallback == nil {
		span.SetStatus(codes.Error, "no fallback")
		return fault.Transient("tts.speak", primaryErr)
	}
	err := o.speakFallback(ctx, text)
	if err == nil {
		span.SetAttributes(attribute.String("tts.path", "fallback"))
		if o.provider != nil {
			o.fallbacks.Add(ctx, 1)
		}
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "speech failed")
	if primaryErr != nil {
		err = errors.Join(primaryErr, err)
	}
	return fault.Transient("tts.speak", err)
}

// StopPlayback interrupts the active playback, if any.
func (o *Output) StopPlayback() {
	o.mu.Lock()
	cancel := o.cancelPlay
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Playing reports whether a playback is active.
func (o *Output) Playing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing != nil
}

func (o *Output) acquire(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	mine := make(chan struct{})

	o.mu.Lock()
	prevCancel, prev := o.cancelPlay, o.playing
	o.cancelPlay, o.playing = cancel, mine
	o.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prev
	}
	return ctx, func() {
		cancel()
		o.mu.Lock()
		if o.playing == mine {
			o.cancelPlay, o.playing = nil, nil
		}
		o.mu.Unlock()
		close(mine)
	}
}

// usePrimary applies the sticky fallback rule and consumes one sticky call.
func (o *Output) usePrimary() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fallback == nil || !o.sticky {
		return true
	}
	if o.cfg.PreferFallbackFor <= 0 {
		return false
	}
	if o.stickyCalls >= o.cfg.PreferFallbackFor {
		o.sticky = false
		o.stickyCalls = 0
		return true
	}
	o.stickyCalls++
	return false
}

func (o *Output) speakPrimary(ctx context.Context, text string) error {
	req := SynthRequest{Text: text, Voice: o.cfg.Voice, Language: o.cfg.Language}
	key := o.cfg.Voice + "\x00" + text

	audio, err := o.withTimeout(ctx, o.cfg.RequestTimeout, func(ctx context.Context) (Audio, error) {
		entry, ok := o.refs.Get(key)
		if !ok {
			ref, err := o.provider.Render(ctx, req)
			if err != nil {
				return Audio{}, err
			}
			entry = cachedRef{ref: ref}
		}
		if !entry.probed {
			_, err := o.withTimeout(ctx, o.cfg.ProbeTimeout, func(ctx context.Context) (Audio, error) {
				return Audio{}, o.provider.Probe(ctx, entry.ref)
			})
			if err != nil {
				o.refs.Remove(key)
				return Audio{}, err
			}
			entry.probed = true
		}
		o.refs.Add(key, entry)
		audio, err := o.provider.Fetch(ctx, entry.ref)
		if err != nil {
			o.refs.Remove(key)
		}
		return audio, err
	})
	if err != nil {
		return err
	}
	return o.player.Play(ctx, audio)
}

func (o *Output) speakFallback(ctx context.Context, text string) error {
	audio, err := Collect(ctx, o.fallback, SynthRequest{Text: text, Language: o.cfg.Language})
	if err != nil {
		return err
	}
	if err := o.player.Play(ctx, audio); err != nil {
		return err
	}
	if o.provider != nil && o.cfg.StickyFallback {
		o.mu.Lock()
		if !o.sticky {
			o.sticky = true
			o.stickyCalls = 0
		}
		o.mu.Unlock()
	}
	return nil
}

func (o *Output) withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) (Audio, error)) (Audio, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

// Close stops any playback.
func (o *Output) Close() error {
	o.StopPlayback()
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", fmt.Sprint(err))
}
