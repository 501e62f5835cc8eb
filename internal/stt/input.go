package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/loqa-interview/internal/fault"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrCaptureActive is returned when a second capture is started before the
// first one was stopped.
var ErrCaptureActive = errors.New("capture already active")

// defaultStartGrace bounds how long StartCapture waits for the device to
// produce audio or fail.
const defaultStartGrace = 150 * time.Millisecond

// InputConfig configures an Input.
type InputConfig struct {
	Capture        CaptureOptions
	Language       string
	RequestTimeout time.Duration
	Retry          RetryPolicy
	// StartGrace is how long StartCapture watches a fresh stream for an
	// early failure. Zero uses 150ms.
	StartGrace time.Duration
}

// Input captures microphone audio and converts it to text. It owns at most
// one capture stream at a time.
type Input struct {
	cfg         InputConfig
	mic         Microphone
	transcriber Transcriber
	logger      *slog.Logger
	tracer      trace.Tracer

	mu      sync.Mutex
	capture *capture
	muted   bool
}

type capture struct {
	stream  io.ReadCloser
	cancel  context.CancelFunc
	started time.Time

	first     chan struct{}
	firstOnce sync.Once

	mu      sync.Mutex
	chunks  [][]byte
	readErr error
	done    chan struct{}
}

func NewInput(cfg InputConfig, mic Microphone, transcriber Transcriber, logger *slog.Logger) *Input {
	return &Input{
		cfg:         cfg,
		mic:         mic,
		transcriber: transcriber,
		logger:      logger.With(slog.String("component", "speech-input")),
		tracer:      otel.Tracer("github.com/loqalabs/loqa-interview/stt"),
	}
}

// Retry returns the retry policy the interview machine applies to failed
// transcriptions of this input.
func (in *Input) Retry() RetryPolicy { return in.cfg.Retry }

// StartCapture opens the microphone and starts buffering chunks. It returns
// once the device delivered audio or the start grace period passed; a
// recorder that exits before that fails the start.
func (in *Input) StartCapture(ctx context.Context) error {
	c, err := in.open(ctx)
	if err != nil {
		return err
	}

	grace := in.cfg.StartGrace
	if grace <= 0 {
		grace = defaultStartGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-c.first:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	case <-c.done:
	}

	c.mu.Lock()
	readErr := c.readErr
	buffered := len(c.chunks)
	c.mu.Unlock()
	if buffered > 0 {
		return nil
	}
	var closeErr error
	if in.detachIf(c) {
		closeErr = c.release()
	}
	if errors.Is(readErr, ErrPermissionDenied) || errors.Is(closeErr, ErrPermissionDenied) {
		return fault.Permission("stt.start_capture", ErrPermissionDenied)
	}
	in.logger.Debug("recorder exited before producing audio", slogError(errors.Join(readErr, closeErr)))
	return fault.Transient("stt.start_capture", ErrNoAudio)
}

func (in *Input) open(ctx context.Context) (*capture, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.capture != nil {
		return nil, fault.Protocol("stt.start_capture", ErrCaptureActive)
	}

	// The capture outlives the caller's request; it is bounded by Stop/Cancel.
	capCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := in.mic.Open(capCtx, in.cfg.Capture)
	if err != nil {
		cancel()
		if errors.Is(err, ErrPermissionDenied) {
			return nil, fault.Permission("stt.start_capture", err)
		}
		return nil, fault.Transient("stt.start_capture", err)
	}

	c := &capture{
		stream:  stream,
		cancel:  cancel,
		started: time.Now(),
		first:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	in.capture = c
	go in.readLoop(c)
	in.logger.Debug("capture started",
		slog.Bool("echo_cancellation", in.cfg.Capture.EchoCancellation),
		slog.Bool("noise_suppression", in.cfg.Capture.NoiseSuppression))
	return c, nil
}

func (in *Input) readLoop(c *capture) {
	defer close(c.done)
	buf := make([]byte, in.cfg.Capture.ChunkBytes())
	for {
		n, err := c.stream.Read(buf)
		if n > 0 {
			c.firstOnce.Do(func() { close(c.first) })
		}
		if n > 0 && !in.isMuted() {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.mu.Lock()
			c.chunks = append(c.chunks, chunk)
			c.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, ErrPermissionDenied) {
				in.logger.Debug("capture read ended", slogError(err))
			}
			if errors.Is(err, ErrPermissionDenied) {
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
			}
			return
		}
	}
}

func (in *Input) detach() *capture {
	in.mu.Lock()
	defer in.mu.Unlock()
	c := in.capture
	in.capture = nil
	return c
}

// detachIf drops c when it is still the active capture.
func (in *Input) detachIf(c *capture) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.capture != c {
		return false
	}
	in.capture = nil
	return true
}

func (c *capture) release() error {
	err := c.stream.Close()
	c.cancel()
	<-c.done
	return err
}

// StopCapture stops the microphone, concatenates the buffered chunks and
// returns the best transcription hypothesis.
func (in *Input) StopCapture(ctx context.Context) (Result, error) {
	c := in.detach()
	if c == nil {
		return Result{}, fault.Protocol("stt.stop_capture", errors.New("no active capture"))
	}
	closeErr := c.release()

	c.mu.Lock()
	readErr := c.readErr
	pcm := bytes.Join(c.chunks, nil)
	c.mu.Unlock()

	if errors.Is(readErr, ErrPermissionDenied) || errors.Is(closeErr, ErrPermissionDenied) {
		return Result{}, fault.Permission("stt.stop_capture", ErrPermissionDenied)
	}
	if len(pcm) == 0 {
		return Result{}, fault.Transient("stt.stop_capture", ErrNoAudio)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}

	opts := in.cfg.Capture
	audioLen := time.Duration(len(pcm)/2/max(opts.Channels, 1)) * time.Second / time.Duration(max(opts.SampleRate, 1))
	wavData, err := EncodeWAV(pcm, opts.SampleRate, opts.Channels)
	if err != nil {
		return Result{}, fault.Transient("stt.encode", err)
	}

	ctx, span := in.tracer.Start(ctx, "stt.transcribe", trace.WithAttributes(
		attribute.Int("stt.payload_bytes", len(wavData)),
		attribute.Int64("stt.audio_ms", audioLen.Milliseconds()),
	))
	defer span.End()

	if in.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.cfg.RequestTimeout)
		defer cancel()
	}

	in.logger.Debug("submitting capture",
		slog.String("size", humanize.Bytes(uint64(len(wavData)))),
		slog.Duration("audio", audioLen))

	hypotheses, err := in.transcriber.Transcribe(ctx, Payload{
		WAV:        wavData,
		SampleRate: opts.SampleRate,
		Channels:   opts.Channels,
		Duration:   audioLen,
		Language:   in.cfg.Language,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return Result{}, fault.Transient("stt.transcribe", err)
	}
	best, ok := Best(hypotheses)
	if !ok {
		span.SetStatus(codes.Error, "no hypothesis")
		return Result{}, fault.Transient("stt.transcribe", ErrNoHypothesis)
	}
	span.SetAttributes(attribute.Float64("stt.confidence", best.Confidence))
	return Result{Text: best.Text, Confidence: best.Confidence, Audio: audioLen}, nil
}

// CancelCapture stops any active capture and discards its audio.
func (in *Input) CancelCapture() {
	c := in.detach()
	if c == nil {
		return
	}
	if err := c.release(); err != nil && !errors.Is(err, ErrPermissionDenied) {
		in.logger.Debug("capture release failed", slogError(err))
	}
}

// SetMuted drops incoming chunks while muted without closing the device.
func (in *Input) SetMuted(muted bool) {
	in.mu.Lock()
	in.muted = muted
	in.mu.Unlock()
}

func (in *Input) isMuted() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.muted
}

// Capturing reports whether a capture stream is open.
func (in *Input) Capturing() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.capture != nil
}

// Close releases the microphone.
func (in *Input) Close() error {
	in.CancelCapture()
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", fmt.Sprint(err))
}
