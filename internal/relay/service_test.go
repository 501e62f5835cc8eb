package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interview/internal/bus"
	"github.com/loqalabs/loqa-interview/internal/call"
	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/interview"
	"github.com/loqalabs/loqa-interview/internal/natsserver"
	"github.com/loqalabs/loqa-interview/internal/protocol"
	"github.com/loqalabs/loqa-interview/internal/stt"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type quietSpeaker struct{}

func (quietSpeaker) Speak(ctx context.Context, _ string) error { return ctx.Err() }
func (quietSpeaker) StopPlayback()                            {}

type echoListener struct {
	mu sync.Mutex
	n  int
}

func (l *echoListener) StartCapture(context.Context) error { return nil }
func (l *echoListener) CancelCapture()                     {}
func (l *echoListener) StopCapture(context.Context) (stt.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.n++
	return stt.Result{Text: "answer", Confidence: 90}, nil
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	logger := newLogger()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestRelayDrivesInterview(t *testing.T) {
	client := startBus(t)
	svc := NewService(context.Background(), client, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	t.Cleanup(svc.Close)

	turns := make(chan protocol.TurnEvent, 16)
	sub, err := client.Conn().Subscribe(protocol.SubjectTurn, func(msg *nats.Msg) {
		var evt protocol.TurnEvent
		if err := json.Unmarshal(msg.Data, &evt); err == nil {
			turns <- evt
		}
	})
	if err != nil {
		t.Fatalf("subscribe turns: %v", err)
	}
	defer sub.Unsubscribe()

	reports := make(chan interview.Report, 1)
	repSub, err := client.Conn().Subscribe(protocol.SubjectCompleted, func(msg *nats.Msg) {
		var r interview.Report
		if err := json.Unmarshal(msg.Data, &r); err == nil {
			reports <- r
		}
	})
	if err != nil {
		t.Fatalf("subscribe reports: %v", err)
	}
	defer repSub.Unsubscribe()

	sess := call.NewScripted(quietSpeaker{}, &echoListener{}, newLogger())
	m := interview.NewMachine(interview.Config{
		SessionID:      "sess-relay",
		Questions:      []string{"Why Go?"},
		Greeting:       "Hi.",
		SilenceTimeout: 10 * time.Second,
		MaxDuration:    time.Minute,
		ConnectTimeout: time.Second,
	}, sess, interview.Options{Evaluator: svc, Logger: newLogger()})
	svc.Attach(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()
	m.Start()

	deadline := time.Now().Add(2 * time.Second)
	for m.Snapshot().Status != interview.StatusListening {
		if time.Now().After(deadline) {
			t.Fatalf("interview never reached listening, status %s", m.Snapshot().Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	req, _ := json.Marshal(protocol.ControlCommand{SessionID: "sess-relay", Action: protocol.ActionStopCapture})
	msg, err := client.Conn().Request(protocol.SubjectControl, req, time.Second)
	if err != nil {
		t.Fatalf("control request: %v", err)
	}
	var reply protocol.ControlReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil || !reply.OK {
		t.Fatalf("unexpected reply %s (%v)", msg.Data, err)
	}

	select {
	case r := <-reports:
		if r.SessionID != "sess-relay" || r.EndReason != interview.EndQuestionsExhausted || len(r.ConversationHistory) != 3 {
			t.Fatalf("unexpected report %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("report not published")
	}

	got := map[int]protocol.TurnEvent{}
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case evt := <-turns:
			got[evt.Index] = evt
		case <-timeout:
			t.Fatalf("expected 3 turns, got %v", got)
		}
	}
	if got[0].Text != "Hi." || got[1].Text != "Why Go?" || got[2].Speaker != string(interview.SpeakerCandidate) {
		t.Fatalf("unexpected turns %+v", got)
	}
}

func TestRelayRejectsForeignSession(t *testing.T) {
	client := startBus(t)
	svc := NewService(context.Background(), client, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	t.Cleanup(svc.Close)

	send := func(cmd protocol.ControlCommand) protocol.ControlReply {
		t.Helper()
		data, _ := json.Marshal(cmd)
		msg, err := client.Conn().Request(protocol.SubjectControl, data, time.Second)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		var reply protocol.ControlReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		return reply
	}

	if r := send(protocol.ControlCommand{Action: protocol.ActionCancel}); r.OK {
		t.Fatal("expected failure without attached interview")
	}

	m := interview.NewMachine(interview.Config{SessionID: "mine", SilenceTimeout: time.Second, MaxDuration: time.Minute, ConnectTimeout: time.Second},
		call.NewScripted(quietSpeaker{}, &echoListener{}, newLogger()), interview.Options{Logger: newLogger()})
	svc.Attach(m)

	if r := send(protocol.ControlCommand{SessionID: "other", Action: protocol.ActionCancel}); r.OK {
		t.Fatal("expected foreign session to be rejected")
	}
	if r := send(protocol.ControlCommand{Action: "explode"}); r.OK || r.Error == "" {
		t.Fatalf("expected unknown action error, got %+v", r)
	}
	if !svc.Healthy() {
		t.Fatal("expected relay healthy")
	}
}
