package stt

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interview/internal/fault"
)

func execInput(t *testing.T, command string) *Input {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	mic, err := NewExecMicrophone(command, false)
	if err != nil {
		t.Fatalf("mic: %v", err)
	}
	in := NewInput(InputConfig{
		Capture:    CaptureOptions{SampleRate: 16000, Channels: 1, ChunkDuration: 10 * time.Millisecond},
		StartGrace: 2 * time.Second,
	}, mic, NewMockTranscriber(), newLogger())
	t.Cleanup(func() { _ = in.Close() })
	return in
}

func TestExecMicrophoneDeniedFailsStart(t *testing.T) {
	in := execInput(t, `sh -c "echo 'arecord: main:830: audio open error: Permission denied' >&2; exit 1"`)
	err := in.StartCapture(context.Background())
	if !fault.Is(err, fault.KindPermission) || !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if in.Capturing() {
		t.Fatal("denied capture must not stay open")
	}
}

func TestExecMicrophoneEarlyExitIsTransient(t *testing.T) {
	in := execInput(t, `sh -c "echo 'no such device' >&2; exit 1"`)
	err := in.StartCapture(context.Background())
	if !fault.Is(err, fault.KindTransient) || !errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if in.Capturing() {
		t.Fatal("failed capture must not stay open")
	}
}

func TestExecMicrophoneStreamsAudio(t *testing.T) {
	in := execInput(t, "head -c 640 /dev/zero")
	if err := in.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	waitBuffered(t, in, 640)
	res, err := in.StopCapture(context.Background())
	if err != nil {
		t.Fatalf("stop capture: %v", err)
	}
	if res.Text == "" {
		t.Fatal("expected a transcript from the mock transcriber")
	}
}
