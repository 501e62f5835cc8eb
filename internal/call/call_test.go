package call

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-interview/internal/fault"
	"github.com/loqalabs/loqa-interview/internal/stt"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSpeaker struct {
	mu    sync.Mutex
	stops int
}

func (s *fakeSpeaker) Speak(context.Context, string) error { return nil }
func (s *fakeSpeaker) StopPlayback() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

type fakeListener struct {
	cancels int
	muted   bool
}

func (l *fakeListener) StartCapture(context.Context) error { return nil }
func (l *fakeListener) StopCapture(context.Context) (stt.Result, error) {
	return stt.Result{Text: "answer", Confidence: 80}, nil
}
func (l *fakeListener) CancelCapture()      { l.cancels++ }
func (l *fakeListener) SetMuted(muted bool) { l.muted = muted }

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestScriptedLifecycle(t *testing.T) {
	sp, li := &fakeSpeaker{}, &fakeListener{}
	s := NewScripted(sp, li, newLogger())

	if err := s.Start(context.Background(), AssistantConfig{SessionID: "s1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ev := nextEvent(t, s.Events()); ev.Kind != EventStarted {
		t.Fatalf("expected started, got %v", ev.Kind)
	}
	if err := s.Start(context.Background(), AssistantConfig{}); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if err := s.SetMuted(true); err != nil || !li.muted {
		t.Fatalf("expected listener muted, err=%v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if ev := nextEvent(t, s.Events()); ev.Kind != EventEnded {
		t.Fatalf("expected ended, got %v", ev.Kind)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := s.Start(context.Background(), AssistantConfig{}); !fault.Is(err, fault.KindEnded) {
		t.Fatalf("expected ended error after close, got %v", err)
	}
	if sp.stops != 2 || li.cancels != 2 {
		t.Fatalf("expected release on stop and close, got stops=%d cancels=%d", sp.stops, li.cancels)
	}
}

// callServer is a minimal realtime call service.
type callServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	mu       sync.Mutex
	frames   []Frame
	conns    int
	reject   bool
	onFrame  func(c *websocket.Conn, f Frame)
}

func (s *callServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer secret" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	s.mu.Lock()
	s.conns++
	s.mu.Unlock()
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		s.mu.Lock()
		s.frames = append(s.frames, f)
		s.mu.Unlock()
		s.mu.Lock()
		reject := s.reject
		s.mu.Unlock()
		switch f.Type {
		case "start":
			if reject {
				_ = conn.WriteJSON(Frame{Type: "error", Message: "assistant not found"})
				return
			}
			_ = conn.WriteJSON(Frame{Type: "call-start"})
		case "end":
			_ = conn.WriteJSON(Frame{Type: "call-end", Reason: "client ended"})
			return
		}
		if s.onFrame != nil {
			s.onFrame(conn, f)
		}
	}
}

func (s *callServer) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.Type)
	}
	return out
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestLiveSessionRelaysTurns(t *testing.T) {
	cs := &callServer{t: t}
	cs.onFrame = func(c *websocket.Conn, f Frame) {
		switch f.Type {
		case "say":
			_ = c.WriteJSON(Frame{Type: "transcript", Role: "assistant", Transcript: f.Text, TranscriptType: "final"})
			_ = c.WriteJSON(Frame{Type: "speech-update", Role: "assistant", Status: "stopped"})
			_ = c.WriteJSON(Frame{Type: "transcript", Role: "user", Transcript: "I wrote", TranscriptType: "partial"})
			_ = c.WriteJSON(Frame{Type: "transcript", Role: "user", Transcript: " I wrote Go services ", TranscriptType: "final"})
		}
	}
	srv := httptest.NewServer(cs)
	defer srv.Close()

	live := NewLive(LiveConfig{URL: wsURL(srv), APIKey: "secret", DialTimeout: time.Second}, newLogger())
	defer live.Close()

	if err := live.Start(context.Background(), AssistantConfig{AssistantID: "a1", SessionID: "s1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := live.Start(context.Background(), AssistantConfig{}); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if ev := nextEvent(t, live.Events()); ev.Kind != EventStarted {
		t.Fatalf("expected started, got %v", ev.Kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := live.Speaker().Speak(ctx, "Tell me about Go."); err != nil {
		t.Fatalf("speak: %v", err)
	}

	echo := nextEvent(t, live.Events())
	if echo.Kind != EventSpeechTurn || echo.Speaker != RoleInterviewer || echo.Text != "Tell me about Go." {
		t.Fatalf("unexpected echo %+v", echo)
	}
	answer := nextEvent(t, live.Events())
	if answer.Kind != EventSpeechTurn || answer.Speaker != RoleCandidate || answer.Text != "I wrote Go services" {
		t.Fatalf("unexpected answer %+v", answer)
	}

	if err := live.SetMuted(true); err != nil || !live.Muted() {
		t.Fatalf("set muted: %v", err)
	}
	if _, err := live.Listener().StopCapture(context.Background()); !fault.Is(err, fault.KindTransient) || !errors.Is(err, ErrRemoteCapture) {
		t.Fatalf("expected transient remote capture error, got %v", err)
	}
	if !RemoteCapture(live.Listener()) {
		t.Fatal("live listener must report remote capture")
	}

	if err := live.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	ended := nextEvent(t, live.Events())
	if ended.Kind != EventEnded {
		t.Fatalf("expected ended, got %+v", ended)
	}

	got := strings.Join(cs.types(), ",")
	if got != "start,say,mute,end" {
		t.Fatalf("unexpected client frames %s", got)
	}
	var start Frame
	cs.mu.Lock()
	start = cs.frames[0]
	cs.mu.Unlock()
	if start.AssistantID != "a1" || start.SessionID != "s1" {
		t.Fatalf("unexpected start frame %+v", start)
	}
}

func TestLiveSpeakEndedByRemote(t *testing.T) {
	cs := &callServer{t: t}
	cs.onFrame = func(c *websocket.Conn, f Frame) {
		if f.Type == "say" {
			_ = c.WriteJSON(Frame{Type: "call-end", Reason: "customer-ended-call"})
		}
	}
	srv := httptest.NewServer(cs)
	defer srv.Close()

	live := NewLive(LiveConfig{URL: wsURL(srv), APIKey: "secret", DialTimeout: time.Second}, newLogger())
	defer live.Close()
	if err := live.Start(context.Background(), AssistantConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := live.Speaker().Speak(ctx, "Are you there?"); !fault.Is(err, fault.KindEnded) {
		t.Fatalf("expected ended error, got %v", err)
	}
	if err := live.Speaker().Speak(ctx, "Hello?"); !fault.Is(err, fault.KindEnded) {
		t.Fatalf("expected ended error after call end, got %v", err)
	}
}

func TestLocalListenerIsNotRemote(t *testing.T) {
	if RemoteCapture(&fakeListener{}) {
		t.Fatal("local listener reported remote capture")
	}
}

func TestLiveStartRejected(t *testing.T) {
	cs := &callServer{t: t, reject: true}
	srv := httptest.NewServer(cs)
	defer srv.Close()

	live := NewLive(LiveConfig{URL: wsURL(srv), APIKey: "secret", DialTimeout: time.Second}, newLogger())
	defer live.Close()
	err := live.Start(context.Background(), AssistantConfig{AssistantID: "missing"})
	if !fault.Is(err, fault.KindProtocol) || !strings.Contains(err.Error(), "assistant not found") {
		t.Fatalf("expected protocol error, got %v", err)
	}
	// A failed start leaves the session startable.
	cs.mu.Lock()
	cs.reject = false
	cs.mu.Unlock()
	if err := live.Start(context.Background(), AssistantConfig{AssistantID: "a1"}); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestLiveUnauthorized(t *testing.T) {
	srv := httptest.NewServer(&callServer{t: t})
	defer srv.Close()
	live := NewLive(LiveConfig{URL: wsURL(srv), APIKey: "wrong", DialTimeout: time.Second}, newLogger())
	defer live.Close()
	if err := live.Start(context.Background(), AssistantConfig{}); !fault.Is(err, fault.KindPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestLiveCloseIdempotent(t *testing.T) {
	srv := httptest.NewServer(&callServer{t: t})
	defer srv.Close()
	live := NewLive(LiveConfig{URL: wsURL(srv), APIKey: "secret"}, newLogger())
	if err := live.Start(context.Background(), AssistantConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := live.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := live.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := live.Start(context.Background(), AssistantConfig{}); !fault.Is(err, fault.KindEnded) {
		t.Fatalf("expected ended error, got %v", err)
	}
	if err := live.SetMuted(true); !fault.Is(err, fault.KindEnded) {
		t.Fatalf("expected ended error on mute, got %v", err)
	}
}

func TestAssistantClientCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/assistants" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req assistantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.CandidateName != "Ada" || len(req.Questions) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"assistant_id":"asst_1","session_id":"sess_9"}`))
	}))
	defer srv.Close()

	client := NewAssistantClient(srv.URL, "k", nil)
	cfg, err := client.Create(context.Background(), AssistantConfig{CandidateName: "Ada", Questions: []string{"a", "b"}, SessionID: "local"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cfg.AssistantID != "asst_1" || cfg.SessionID != "sess_9" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestAssistantClientErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"bad questions"}}`))
	}))
	defer srv.Close()
	client := NewAssistantClient(srv.URL, "", nil)

	if _, err := client.Create(context.Background(), AssistantConfig{}); !fault.Is(err, fault.KindTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
	status = http.StatusForbidden
	if _, err := client.Create(context.Background(), AssistantConfig{}); !fault.Is(err, fault.KindPermission) {
		t.Fatalf("expected permission, got %v", err)
	}
	status = http.StatusBadRequest
	_, err := client.Create(context.Background(), AssistantConfig{})
	if !fault.Is(err, fault.KindProtocol) || !strings.Contains(err.Error(), "bad questions") {
		t.Fatalf("expected protocol error with message, got %v", err)
	}
}
