package interview

import (
	"context"
	"errors"
	"time"
)

// EndReason explains why a session completed.
type EndReason string

const (
	EndQuestionsExhausted EndReason = "questions_exhausted"
	EndCancelled          EndReason = "cancelled"
	EndCallEnded          EndReason = "call_ended"
	EndMaxDuration        EndReason = "max_duration"
)

// Report is the read-only result handed to evaluation once a session
// completed. SessionID, Questions and JobDescription pass through unchanged.
type Report struct {
	SessionID           string        `json:"session_id"`
	CandidateName       string        `json:"candidate_name"`
	JobDescription      string        `json:"job_description"`
	Questions           []string      `json:"questions"`
	ConversationHistory []Turn        `json:"conversation_history"`
	Duration            time.Duration `json:"duration_ns"`
	DurationSeconds     int           `json:"duration"`
	StartedAt           time.Time     `json:"started_at,omitzero"`
	EndedAt             time.Time     `json:"ended_at"`
	EndReason           EndReason     `json:"end_reason"`
	// LowConfidence lists indexes into ConversationHistory of candidate turns
	// recognized below the configured threshold.
	LowConfidence []int `json:"low_confidence,omitempty"`
}

// CandidateTurns returns the candidate turns of the transcript.
func (r Report) CandidateTurns() []Turn {
	var out []Turn
	for _, t := range r.ConversationHistory {
		if t.Speaker == SpeakerCandidate {
			out = append(out, t)
		}
	}
	return out
}

// Evaluator consumes completed reports.
type Evaluator interface {
	Evaluate(ctx context.Context, report Report) error
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, report Report) error

func (f EvaluatorFunc) Evaluate(ctx context.Context, report Report) error { return f(ctx, report) }

// Evaluators fans a report out to every evaluator and joins their errors.
type Evaluators []Evaluator

func (es Evaluators) Evaluate(ctx context.Context, report Report) error {
	var errs []error
	for _, e := range es {
		if e == nil {
			continue
		}
		if err := e.Evaluate(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func wholeSeconds(d time.Duration) int {
	return int((d + time.Second/2) / time.Second)
}

func lowConfidence(turns []Turn, threshold float64) []int {
	var out []int
	for i, t := range turns {
		if t.Speaker == SpeakerCandidate && t.Confidence != nil && *t.Confidence < threshold {
			out = append(out, i)
		}
	}
	return out
}
