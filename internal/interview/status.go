package interview

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-interview/internal/fault"
)

// Status is the machine state.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusGreeting
	StatusAsking
	StatusListening
	StatusProcessing
	StatusResponding
	StatusCompleted
	StatusError
)

var statusNames = [...]string{
	StatusIdle:       "idle",
	StatusConnecting: "connecting",
	StatusGreeting:   "greeting",
	StatusAsking:     "asking",
	StatusListening:  "listening",
	StatusProcessing: "processing",
	StatusResponding: "responding",
	StatusCompleted:  "completed",
	StatusError:      "error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Notice is a recoverable problem surfaced to the user.
type Notice struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func noticeFor(err error) *Notice {
	return &Notice{Kind: fault.KindOf(err).String(), Message: err.Error(), At: time.Now()}
}

// Snapshot is an observer's view of the session.
type Snapshot struct {
	SessionID       string        `json:"session_id"`
	Status          Status        `json:"status"`
	QuestionIndex   int           `json:"question_index"`
	QuestionCount   int           `json:"question_count"`
	CurrentQuestion string        `json:"current_question,omitempty"`
	Turns           int           `json:"turns"`
	LastTurn        *Turn         `json:"last_turn,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`
	Capturing       bool          `json:"capturing"`
	AwaitingRetry   bool          `json:"awaiting_retry,omitempty"`
	Muted           bool          `json:"muted"`
	Notice          *Notice       `json:"notice,omitempty"`
	EndReason       EndReason     `json:"end_reason,omitempty"`
}
