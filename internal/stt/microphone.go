package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// ErrPermissionDenied is returned by microphones when device access is refused.
var ErrPermissionDenied = errors.New("microphone permission denied")

// CaptureOptions describes the requested capture format.
type CaptureOptions struct {
	SampleRate       int
	Channels         int
	ChunkDuration    time.Duration
	EchoCancellation bool
	NoiseSuppression bool
}

// ChunkBytes is the size of one 16-bit PCM chunk.
func (o CaptureOptions) ChunkBytes() int {
	d := o.ChunkDuration
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	n := int(int64(o.SampleRate) * int64(o.Channels) * 2 * int64(d) / int64(time.Second))
	if n%2 != 0 {
		n++
	}
	if n <= 0 {
		n = 3200
	}
	return n
}

// Microphone opens exclusive capture streams of raw 16-bit PCM.
type Microphone interface {
	Open(ctx context.Context, opts CaptureOptions) (io.ReadCloser, error)
}

// ExecMicrophone captures audio from a recorder command writing raw PCM to
// stdout (arecord, sox, parec). Echo cancellation and noise suppression are
// passed as flags only when the configured command accepts them.
type ExecMicrophone struct {
	cmd           []string
	processingArg bool
}

// NewExecMicrophone parses the recorder command. When processingArgs is true
// --echo-cancel and --noise-suppress are appended when requested.
func NewExecMicrophone(command string, processingArgs bool) (*ExecMicrophone, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse mic command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("mic command is empty")
	}
	return &ExecMicrophone{cmd: args, processingArg: processingArgs}, nil
}

func (m *ExecMicrophone) Open(ctx context.Context, opts CaptureOptions) (io.ReadCloser, error) {
	args := append([]string{}, m.cmd[1:]...)
	if m.processingArg {
		if opts.EchoCancellation {
			args = append(args, "--echo-cancel")
		}
		if opts.NoiseSuppression {
			args = append(args, "--noise-suppress")
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, m.cmd[0], args...)
	cmd.WaitDelay = time.Second
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("start mic command: %w", err)
	}
	return &execStream{cmd: cmd, stdout: stdout, stderr: stderr, cancel: cancel}, nil
}

type execStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *lockedBuffer
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func (s *execStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	// Stderr is only complete once the process was reaped.
	if err == io.EOF && errors.Is(s.wait(), ErrPermissionDenied) {
		return n, ErrPermissionDenied
	}
	return n, err
}

// Close stops the recorder process and releases the device.
func (s *execStream) Close() error {
	s.cancel()
	return s.wait()
}

func (s *execStream) wait() error {
	s.once.Do(func() {
		_ = s.cmd.Wait()
		if permissionMessage(s.stderr.String()) {
			s.err = ErrPermissionDenied
		}
	})
	return s.err
}

func permissionMessage(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "permission denied") || strings.Contains(lower, "not permitted")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
