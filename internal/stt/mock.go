package stt

import (
	"context"
	"fmt"
	"sync"
)

type mockTranscriber struct {
	mu    sync.Mutex
	count int
}

// NewMockTranscriber returns a transcriber that answers every capture with a
// placeholder describing the payload.
func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(_ context.Context, payload Payload) ([]Hypothesis, error) {
	m.mu.Lock()
	m.count++
	n := m.count
	m.mu.Unlock()
	return []Hypothesis{{
		Text:       fmt.Sprintf("[mock answer %d length=%d]", n, len(payload.WAV)),
		Confidence: 90,
	}}, nil
}

// QueueTranscriber replays queued responses in order. Once the queue drains
// the last response repeats.
type QueueTranscriber struct {
	mu        sync.Mutex
	responses []QueuedResponse
	calls     int
}

// QueuedResponse is one scripted transcriber reply.
type QueuedResponse struct {
	Hypotheses []Hypothesis
	Err        error
}

func NewQueueTranscriber(responses ...QueuedResponse) *QueueTranscriber {
	return &QueueTranscriber{responses: responses}
}

func (q *QueueTranscriber) Transcribe(ctx context.Context, _ Payload) ([]Hypothesis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if len(q.responses) == 0 {
		return nil, nil
	}
	idx := q.calls - 1
	if idx >= len(q.responses) {
		idx = len(q.responses) - 1
	}
	r := q.responses[idx]
	return r.Hypotheses, r.Err
}

// Calls reports how many transcriptions were requested.
func (q *QueueTranscriber) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}
