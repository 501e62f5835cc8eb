package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-interview/internal/fault"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeMic yields the configured PCM once, then blocks until closed.
type fakeMic struct {
	pcm     []byte
	openErr error
	opens   int
	mu      sync.Mutex
	streams []*fakeStream
}

func (m *fakeMic) Open(_ context.Context, _ CaptureOptions) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.openErr != nil {
		return nil, m.openErr
	}
	s := &fakeStream{data: append([]byte(nil), m.pcm...), closed: make(chan struct{})}
	m.streams = append(m.streams, s)
	return s, nil
}

type fakeStream struct {
	data   []byte
	once   sync.Once
	closed chan struct{}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	if len(s.data) > 0 {
		n := copy(p, s.data)
		s.data = s.data[n:]
		return n, nil
	}
	<-s.closed
	return 0, io.EOF
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func testInput(mic Microphone, tr Transcriber) *Input {
	return NewInput(InputConfig{
		Capture:    CaptureOptions{SampleRate: 16000, Channels: 1, ChunkDuration: 10 * time.Millisecond},
		Language:   "en-US",
		StartGrace: 20 * time.Millisecond,
	}, mic, tr, newLogger())
}

func waitBuffered(t *testing.T, in *Input, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		in.mu.Lock()
		c := in.capture
		in.mu.Unlock()
		if c != nil {
			c.mu.Lock()
			n := 0
			for _, chunk := range c.chunks {
				n += len(chunk)
			}
			c.mu.Unlock()
			if n >= want {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("capture did not buffer %d bytes", want)
}

func TestStopCaptureSelectsHighestConfidence(t *testing.T) {
	mic := &fakeMic{pcm: make([]byte, 640)}
	tr := NewQueueTranscriber(QueuedResponse{Hypotheses: []Hypothesis{
		{Text: "I led the migration", Confidence: 62},
		{Text: "I let the migration", Confidence: 88},
		{Text: "", Confidence: 99},
	}})
	in := testInput(mic, tr)

	if err := in.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	waitBuffered(t, in, 640)
	res, err := in.StopCapture(context.Background())
	if err != nil {
		t.Fatalf("stop capture: %v", err)
	}
	if res.Text != "I let the migration" || res.Confidence != 88 {
		t.Fatalf("unexpected result %+v", res)
	}
	if in.Capturing() {
		t.Fatal("expected microphone released after stop")
	}
}

func TestEmptyHypothesesAreTransient(t *testing.T) {
	mic := &fakeMic{pcm: make([]byte, 320)}
	in := testInput(mic, NewQueueTranscriber(QueuedResponse{}))
	if err := in.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	waitBuffered(t, in, 320)
	_, err := in.StopCapture(context.Background())
	if !fault.Is(err, fault.KindTransient) || !errors.Is(err, ErrNoHypothesis) {
		t.Fatalf("expected transient no-hypothesis error, got %v", err)
	}
}

func TestTranscriberErrorIsTransient(t *testing.T) {
	mic := &fakeMic{pcm: make([]byte, 320)}
	in := testInput(mic, NewQueueTranscriber(QueuedResponse{Err: errors.New("503")}))
	if err := in.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	waitBuffered(t, in, 320)
	if _, err := in.StopCapture(context.Background()); !fault.Is(err, fault.KindTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestNoAudioSkipsTranscriber(t *testing.T) {
	tr := NewQueueTranscriber()
	in := testInput(&fakeMic{}, tr)
	if err := in.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	if _, err := in.StopCapture(context.Background()); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected no audio error, got %v", err)
	}
	if tr.Calls() != 0 {
		t.Fatalf("expected transcriber untouched, got %d calls", tr.Calls())
	}
}

func TestPermissionDenied(t *testing.T) {
	in := testInput(&fakeMic{openErr: ErrPermissionDenied}, NewMockTranscriber())
	err := in.StartCapture(context.Background())
	if !fault.Is(err, fault.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if in.Capturing() {
		t.Fatal("expected no capture after denial")
	}
}

func TestSingleCaptureStream(t *testing.T) {
	mic := &fakeMic{}
	in := testInput(mic, NewMockTranscriber())
	if err := in.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	t.Cleanup(func() { _ = in.Close() })
	if err := in.StartCapture(context.Background()); !errors.Is(err, ErrCaptureActive) {
		t.Fatalf("expected capture active error, got %v", err)
	}
	if mic.opens != 1 {
		t.Fatalf("expected one device open, got %d", mic.opens)
	}
}

func TestCancelCaptureReleasesDevice(t *testing.T) {
	mic := &fakeMic{}
	in := testInput(mic, NewMockTranscriber())
	if err := in.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	in.CancelCapture()
	select {
	case <-mic.streams[0].closed:
	default:
		t.Fatal("expected stream closed on cancel")
	}
	in.CancelCapture()
}

func TestMutedDropsChunks(t *testing.T) {
	mic := &fakeMic{pcm: make([]byte, 320)}
	in := testInput(mic, NewMockTranscriber())
	in.SetMuted(true)
	if err := in.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := in.StopCapture(context.Background()); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected muted capture to have no audio, got %v", err)
	}
}

func TestEncodeWAVRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80, 0x10, 0x00}
	data, err := EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		t.Fatal("expected valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buf.Data) != 4 || buf.Data[1] != 32767 || buf.Data[2] != -32768 {
		t.Fatalf("unexpected samples %v", buf.Data)
	}
	if _, err := EncodeWAV([]byte{1}, 16000, 1); err == nil {
		t.Fatal("expected unaligned pcm to fail")
	}
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, Backoff: ExponentialBackoff(100*time.Millisecond, 150*time.Millisecond, 2)}
	d, ok := p.Next(1)
	if !ok || d != 100*time.Millisecond {
		t.Fatalf("attempt 1: got %v %v", d, ok)
	}
	d, ok = p.Next(2)
	if !ok || d != 150*time.Millisecond {
		t.Fatalf("attempt 2: expected capped delay, got %v %v", d, ok)
	}
	if _, ok := p.Next(3); ok {
		t.Fatal("attempt 3 must be refused")
	}
	if _, ok := (RetryPolicy{}).Next(1); ok {
		t.Fatal("zero policy must refuse retries")
	}
}

func TestHTTPTranscriber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing auth header")
		}
		if r.URL.Query().Get("language") != "en-US" {
			t.Errorf("missing language")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"transcript": "hello there", "confidence": 0.91},
				{"transcript": "hollow there", "confidence": 0.4},
			},
		})
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL+"/", WithAPIKey("key"))
	hyps, err := tr.Transcribe(context.Background(), Payload{WAV: []byte("RIFF"), SampleRate: 16000, Channels: 1, Language: "en-US"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	best, ok := Best(hyps)
	if !ok || best.Text != "hello there" || best.Confidence != 91 {
		t.Fatalf("unexpected best %+v", best)
	}
}

func TestHTTPTranscriberError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down"}}`))
	}))
	defer srv.Close()

	_, err := NewHTTPTranscriber(srv.URL).Transcribe(context.Background(), Payload{})
	if err == nil || err.Error() != "stt: upstream down" {
		t.Fatalf("unexpected error %v", err)
	}
}
