// Package call abstracts the conversational session an interview runs on.
// A Scripted session drives local speech output and input directly; a Live
// session delegates turn detection and speech to a remote realtime service.
package call

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-interview/internal/stt"
)

var (
	// ErrAlreadyStarted is returned by Start while a session is active.
	ErrAlreadyStarted = errors.New("call session already started")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("call session closed")
	// ErrRemoteCapture is returned by listeners whose answers arrive as
	// speech turn events instead of local captures.
	ErrRemoteCapture = errors.New("capture is owned by the remote session")

	errMuteUnsupported = errors.New("listener does not support muting")
)

// EventKind identifies a normalized session event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventEnded
	EventSpeechTurn
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventEnded:
		return "ended"
	case EventSpeechTurn:
		return "speech_turn"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Role is the party a speech turn belongs to.
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// Event is a session event normalized across session kinds.
type Event struct {
	Kind    EventKind
	Speaker Role
	Text    string
	Message string
}

// AssistantConfig describes the interview the session is started for.
type AssistantConfig struct {
	SessionID      string
	AssistantID    string
	CandidateName  string
	JobDescription string
	Questions      []string
	Language       string
}

// Speaker plays interviewer speech. Speak returns when playback finished.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	StopPlayback()
}

// Listener captures one candidate answer at a time.
type Listener interface {
	StartCapture(ctx context.Context) error
	StopCapture(ctx context.Context) (stt.Result, error)
	CancelCapture()
}

// RemoteCapture reports whether l leaves answer capture to the remote side.
// Such a listener is never stopped on silence; the answer arrives as an
// EventSpeechTurn.
func RemoteCapture(l Listener) bool {
	r, ok := l.(interface{ RemoteCapture() bool })
	return ok && r.RemoteCapture()
}

// Session is a conversational session.
type Session interface {
	Start(ctx context.Context, cfg AssistantConfig) error
	Stop(ctx context.Context) error
	SetMuted(muted bool) error
	Events() <-chan Event
	Speaker() Speaker
	Listener() Listener
	// Close releases all resources regardless of state. It is idempotent.
	Close() error
}
