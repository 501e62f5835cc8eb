package call

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-interview/internal/fault"
)

// Muter is implemented by listeners that can drop input while muted.
type Muter interface {
	SetMuted(muted bool)
}

// Scripted is a session without a conversational backend: the interview
// machine drives the local speaker and listener itself.
type Scripted struct {
	speaker  Speaker
	listener Listener
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	events  chan Event
}

func NewScripted(speaker Speaker, listener Listener, logger *slog.Logger) *Scripted {
	return &Scripted{
		speaker:  speaker,
		listener: listener,
		logger:   logger.With(slog.String("component", "call-scripted")),
		events:   make(chan Event, 16),
	}
}

func (s *Scripted) Start(_ context.Context, cfg AssistantConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fault.Ended("call.start", ErrClosed)
	}
	if s.started {
		return fault.Protocol("call.start", ErrAlreadyStarted)
	}
	s.started = true
	s.logger.Info("session started", slog.String("session_id", cfg.SessionID), slog.Int("questions", len(cfg.Questions)))
	s.emitLocked(Event{Kind: EventStarted})
	return nil
}

func (s *Scripted) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	s.release()
	s.emitLocked(Event{Kind: EventEnded, Message: "stopped"})
	return nil
}

func (s *Scripted) release() {
	s.speaker.StopPlayback()
	s.listener.CancelCapture()
}

func (s *Scripted) SetMuted(muted bool) error {
	m, ok := s.listener.(Muter)
	if !ok {
		return fault.Protocol("call.mute", errMuteUnsupported)
	}
	m.SetMuted(muted)
	return nil
}

func (s *Scripted) Events() <-chan Event { return s.events }
func (s *Scripted) Speaker() Speaker     { return s.speaker }
func (s *Scripted) Listener() Listener   { return s.listener }

func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.started = false
	s.release()
	close(s.events)
	return nil
}

func (s *Scripted) emitLocked(ev Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("dropping session event", slog.String("kind", ev.Kind.String()))
	}
}
