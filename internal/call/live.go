package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-interview/internal/fault"
	"github.com/loqalabs/loqa-interview/internal/stt"
)

const (
	defaultDialTimeout = 15 * time.Second
	endGracePeriod     = 2 * time.Second
)

// LiveConfig configures a Live session.
type LiveConfig struct {
	URL         string
	APIKey      string
	DialTimeout time.Duration
}

// Frame is a JSON message exchanged with the realtime call service.
type Frame struct {
	Type           string `json:"type"`
	AssistantID    string `json:"assistant_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	Text           string `json:"text,omitempty"`
	Muted          *bool  `json:"muted,omitempty"`
	Role           string `json:"role,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
	TranscriptType string `json:"transcript_type,omitempty"`
	Status         string `json:"status,omitempty"`
	Message        string `json:"message,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Live is a session backed by a realtime call service over WebSocket. The
// remote side owns turn detection; final transcripts are re-emitted as
// speech turns.
type Live struct {
	cfg    LiveConfig
	dialer *websocket.Dialer
	logger *slog.Logger

	events chan Event

	mu       sync.Mutex
	conn     *websocket.Conn
	done     chan struct{}
	starting bool
	closed   bool
	waiters  []chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	muted     atomic.Bool
}

func NewLive(cfg LiveConfig, logger *slog.Logger) *Live {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Live{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		logger: logger.With(slog.String("component", "call-live")),
		events: make(chan Event, 256),
	}
}

// Start dials the call service, sends the start frame and waits for
// call-start.
func (l *Live) Start(ctx context.Context, cfg AssistantConfig) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fault.Ended("call.start", ErrClosed)
	}
	if l.conn != nil || l.starting {
		l.mu.Unlock()
		return fault.Protocol("call.start", ErrAlreadyStarted)
	}
	l.starting = true
	l.mu.Unlock()

	conn, err := l.dial(ctx, cfg)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.starting = false
	if err != nil {
		return err
	}
	if l.closed {
		_ = conn.Close()
		return fault.Ended("call.start", ErrClosed)
	}
	l.conn = conn
	l.done = make(chan struct{})
	l.emitLocked(Event{Kind: EventStarted})
	go l.readLoop(conn, l.done)
	l.logger.Info("live session started", slog.String("session_id", cfg.SessionID))
	return nil
}

func (l *Live) dial(ctx context.Context, cfg AssistantConfig) (*websocket.Conn, error) {
	headers := make(http.Header)
	if l.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+l.cfg.APIKey)
	}
	dialCtx, cancel := context.WithTimeout(ctx, l.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := l.dialer.DialContext(dialCtx, l.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fault.Permission("call.dial", fmt.Errorf("websocket dial rejected (status %d): %w", resp.StatusCode, err))
			}
			return nil, fault.Transient("call.dial", fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err))
		}
		return nil, fault.Transient("call.dial", err)
	}

	start := Frame{Type: "start", AssistantID: cfg.AssistantID, SessionID: cfg.SessionID}
	if err := conn.WriteJSON(start); err != nil {
		_ = conn.Close()
		return nil, fault.Transient("call.start", fmt.Errorf("send start: %w", err))
	}

	deadline := time.Now().Add(l.cfg.DialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	var first Frame
	if err := conn.ReadJSON(&first); err != nil {
		_ = conn.Close()
		return nil, fault.Transient("call.start", fmt.Errorf("read call-start: %w", err))
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch first.Type {
	case "call-start":
		return conn, nil
	case "error":
		_ = conn.Close()
		return nil, fault.Protocol("call.start", errors.New(strings.TrimSpace(first.Message)))
	default:
		_ = conn.Close()
		return nil, fault.Protocol("call.start", fmt.Errorf("unexpected first frame %q", first.Type))
	}
}

func (l *Live) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		l.mu.Lock()
		if l.conn == conn {
			l.conn = nil
		}
		l.releaseWaitersLocked()
		l.mu.Unlock()
		close(done)
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.emit(Event{Kind: EventEnded, Message: "remote closed"})
				return
			}
			if !l.isClosing(conn) {
				l.emit(Event{Kind: EventError, Message: err.Error()})
				l.emit(Event{Kind: EventEnded, Message: "connection lost"})
			}
			return
		}
		switch frame.Type {
		case "transcript":
			if frame.TranscriptType != "" && frame.TranscriptType != "final" {
				continue
			}
			text := strings.TrimSpace(frame.Transcript)
			if text == "" {
				continue
			}
			l.emit(Event{Kind: EventSpeechTurn, Speaker: roleOf(frame.Role), Text: text})
		case "speech-update":
			if roleOf(frame.Role) == RoleInterviewer && frame.Status == "stopped" {
				l.mu.Lock()
				l.releaseWaitersLocked()
				l.mu.Unlock()
			}
		case "call-end":
			reason := frame.Reason
			if reason == "" {
				reason = "remote ended"
			}
			l.emit(Event{Kind: EventEnded, Message: reason})
			_ = conn.Close()
			return
		case "error":
			l.emit(Event{Kind: EventError, Message: frame.Message})
		default:
			l.logger.Debug("ignoring frame", slog.String("type", frame.Type))
		}
	}
}

func roleOf(role string) Role {
	switch role {
	case "user", "customer", "candidate":
		return RoleCandidate
	default:
		return RoleInterviewer
	}
}

func (l *Live) isClosing(conn *websocket.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed || l.conn != conn
}

func (l *Live) send(frame Frame) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return fault.Ended("call.send", errors.New("live session not connected"))
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		return fault.Transient("call.send", err)
	}
	return nil
}

// Stop asks the remote side to end the call and closes the connection.
func (l *Live) Stop(ctx context.Context) error {
	l.mu.Lock()
	conn, done := l.conn, l.done
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = l.send(Frame{Type: "end"})

	timer := time.NewTimer(endGracePeriod)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.mu.Unlock()
	l.closeConn(conn)
	<-done
	return nil
}

func (l *Live) closeConn(conn *websocket.Conn) {
	l.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	l.writeMu.Unlock()
	_ = conn.Close()
}

func (l *Live) SetMuted(muted bool) error {
	l.muted.Store(muted)
	return l.send(Frame{Type: "mute", Muted: &muted})
}

// Muted reports the last requested mute state.
func (l *Live) Muted() bool { return l.muted.Load() }

func (l *Live) Events() <-chan Event { return l.events }
func (l *Live) Speaker() Speaker     { return liveSpeaker{l} }
func (l *Live) Listener() Listener   { return liveListener{} }

func (l *Live) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		conn, done := l.conn, l.done
		l.conn = nil
		l.mu.Unlock()
		if conn != nil && done != nil {
			l.closeConn(conn)
			<-done
		}
		l.mu.Lock()
		close(l.events)
		l.mu.Unlock()
	})
	return nil
}

func (l *Live) emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.emitLocked(ev)
}

func (l *Live) emitLocked(ev Event) {
	if l.closed {
		return
	}
	select {
	case l.events <- ev:
	default:
		l.logger.Warn("dropping session event", slog.String("kind", ev.Kind.String()))
	}
}

func (l *Live) addWaiter() chan struct{} {
	ch := make(chan struct{})
	l.mu.Lock()
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()
	return ch
}

func (l *Live) releaseWaitersLocked() {
	for _, ch := range l.waiters {
		close(ch)
	}
	l.waiters = nil
}

// liveSpeaker asks the remote assistant to say text and waits for its
// speech-stopped update.
type liveSpeaker struct{ l *Live }

func (s liveSpeaker) Speak(ctx context.Context, text string) error {
	stopped := s.l.addWaiter()
	if err := s.l.send(Frame{Type: "say", Text: text}); err != nil {
		s.l.mu.Lock()
		s.l.releaseWaitersLocked()
		s.l.mu.Unlock()
		return err
	}
	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Waiters are also released when the read loop exits.
	s.l.mu.Lock()
	connected := s.l.conn != nil
	s.l.mu.Unlock()
	if !connected {
		return fault.Ended("call.say", errors.New("live session ended during speech"))
	}
	return nil
}

func (s liveSpeaker) StopPlayback() {
	if err := s.l.send(Frame{Type: "interrupt"}); err != nil {
		s.l.logger.Debug("interrupt not sent", slog.String("error", err.Error()))
	}
	s.l.mu.Lock()
	s.l.releaseWaitersLocked()
	s.l.mu.Unlock()
}

// liveListener leaves capture to the remote side; candidate answers arrive
// as speech turn events.
type liveListener struct{}

func (liveListener) StartCapture(context.Context) error { return nil }

func (liveListener) StopCapture(context.Context) (stt.Result, error) {
	return stt.Result{}, fault.Transient("call.stop_capture", ErrRemoteCapture)
}

func (liveListener) CancelCapture() {}

func (liveListener) RemoteCapture() bool { return true }
