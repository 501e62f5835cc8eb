package protocol

import "time"

// StateUpdate mirrors an interview snapshot for bus observers.
type StateUpdate struct {
	SessionID       string    `json:"session_id"`
	Status          string    `json:"status"`
	QuestionIndex   int       `json:"question_index"`
	QuestionCount   int       `json:"question_count"`
	CurrentQuestion string    `json:"current_question,omitempty"`
	Turns           int       `json:"turns"`
	ElapsedMS       int64     `json:"elapsed_ms"`
	Capturing       bool      `json:"capturing"`
	AwaitingRetry   bool      `json:"awaiting_retry"`
	Muted           bool      `json:"muted"`
	Notice          *Notice   `json:"notice,omitempty"`
	EndReason       string    `json:"end_reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Notice is a user-visible problem raised by the interview.
type Notice struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// TurnEvent carries one appended ledger entry.
type TurnEvent struct {
	SessionID  string    `json:"session_id"`
	Index      int       `json:"index"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Confidence *float64  `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ControlCommand drives a running interview remotely. An empty SessionID
// addresses whichever interview receives it.
type ControlCommand struct {
	SessionID string `json:"session_id,omitempty"`
	Action    string `json:"action"`
	Muted     bool   `json:"muted,omitempty"`
}

// ControlReply acknowledges a ControlCommand sent as a request.
type ControlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

const (
	ActionStopCapture  = "stop_capture"
	ActionCancel       = "cancel"
	ActionRetry        = "retry"
	ActionRetryCapture = "retry_capture"
	ActionMute         = "mute"
)

const (
	SubjectState     = "interview.state"
	SubjectTurn      = "interview.turn"
	SubjectCompleted = "interview.completed"
	SubjectControl   = "interview.control"

	// StreamReports is the JetStream stream retaining completed reports.
	StreamReports = "INTERVIEW_REPORTS"
)
