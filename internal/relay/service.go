// Package relay mirrors a running interview onto the message bus and accepts
// remote control commands for it.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interview/internal/bus"
	"github.com/loqalabs/loqa-interview/internal/interview"
	"github.com/loqalabs/loqa-interview/internal/protocol"
	"github.com/nats-io/nats.go"
)

var errUnknownAction = errors.New("unknown action")

// Interview is the part of interview.Machine the relay drives.
type Interview interface {
	StopCapture()
	Cancel()
	Retry()
	RetryCapture()
	SetMuted(muted bool)
	Snapshot() interview.Snapshot
	Subscribe() (<-chan interview.Snapshot, func())
	Transcript() *interview.Ledger
}

type Service struct {
	bus    *bus.Client
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	target     Interview
	sessionID  string
	subControl *nats.Subscription
	durable    bool
	published  int
}

func NewService(parent context.Context, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:    busClient,
		logger: logger.With(slog.String("component", "relay")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the control subject and prepares the report stream.
// Reports fall back to plain publishing when JetStream is unavailable.
func (s *Service) Start() error {
	if err := s.bus.EnsureStream(protocol.StreamReports, protocol.SubjectCompleted); err != nil {
		s.logger.Warn("report stream unavailable, publishing reports without persistence", slogError(err))
	} else {
		s.durable = true
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectControl, s.handleControl)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocol.SubjectControl, err)
	}
	s.mu.Lock()
	s.subControl = sub
	s.mu.Unlock()
	return nil
}

// Attach mirrors target until its snapshot stream closes.
func (s *Service) Attach(target Interview) {
	snaps, unsubscribe := target.Subscribe()
	s.mu.Lock()
	s.target = target
	s.sessionID = target.Snapshot().SessionID
	s.published = 0
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-s.ctx.Done():
				return
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				s.mirror(target, snap)
			}
		}
	}()
}

func (s *Service) mirror(target Interview, snap interview.Snapshot) {
	// The remote assistant may replace the session id once the call starts.
	s.mu.Lock()
	s.sessionID = snap.SessionID
	s.mu.Unlock()
	s.publishTurns(snap.SessionID, target.Transcript())
	if err := s.bus.PublishJSON(protocol.SubjectState, stateUpdate(snap)); err != nil {
		s.logger.Warn("relay failed to publish state", slogError(err))
	}
}

// publishTurns walks the ledger so turns are not lost when snapshots were
// coalesced for this subscriber.
func (s *Service) publishTurns(sessionID string, ledger *interview.Ledger) {
	s.mu.Lock()
	from := s.published
	s.mu.Unlock()
	next := from
	ledger.Each(func(i int, t interview.Turn) bool {
		if i < from {
			return true
		}
		evt := protocol.TurnEvent{
			SessionID:  sessionID,
			Index:      i,
			Speaker:    string(t.Speaker),
			Text:       t.Text,
			Confidence: t.Confidence,
			Timestamp:  t.Timestamp.UTC(),
		}
		if err := s.bus.PublishJSON(protocol.SubjectTurn, evt); err != nil {
			s.logger.Warn("relay failed to publish turn", slogError(err))
			return false
		}
		next = i + 1
		return true
	})
	s.mu.Lock()
	s.published = next
	s.mu.Unlock()
}

func stateUpdate(snap interview.Snapshot) protocol.StateUpdate {
	u := protocol.StateUpdate{
		SessionID:       snap.SessionID,
		Status:          snap.Status.String(),
		QuestionIndex:   snap.QuestionIndex,
		QuestionCount:   snap.QuestionCount,
		CurrentQuestion: snap.CurrentQuestion,
		Turns:           snap.Turns,
		ElapsedMS:       snap.Elapsed.Milliseconds(),
		Capturing:       snap.Capturing,
		AwaitingRetry:   snap.AwaitingRetry,
		Muted:           snap.Muted,
		EndReason:       string(snap.EndReason),
		Timestamp:       time.Now().UTC(),
	}
	if n := snap.Notice; n != nil {
		u.Notice = &protocol.Notice{Kind: n.Kind, Message: n.Message, At: n.At.UTC()}
	}
	return u
}

func (s *Service) handleControl(msg *nats.Msg) {
	var cmd protocol.ControlCommand
	err := json.Unmarshal(msg.Data, &cmd)
	if err != nil {
		s.logger.Warn("relay failed to decode control command", slogError(err))
	} else {
		err = s.dispatch(cmd)
	}
	if msg.Reply == "" {
		return
	}
	reply := protocol.ControlReply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		s.logger.Debug("relay control reply failed", slogError(err))
	}
}

func (s *Service) dispatch(cmd protocol.ControlCommand) error {
	s.mu.Lock()
	target, sessionID := s.target, s.sessionID
	s.mu.Unlock()
	if target == nil {
		return errors.New("no interview attached")
	}
	if cmd.SessionID != "" && cmd.SessionID != sessionID {
		return fmt.Errorf("session %s is not running here", cmd.SessionID)
	}
	switch cmd.Action {
	case protocol.ActionStopCapture:
		target.StopCapture()
	case protocol.ActionCancel:
		target.Cancel()
	case protocol.ActionRetry:
		target.Retry()
	case protocol.ActionRetryCapture:
		target.RetryCapture()
	case protocol.ActionMute:
		target.SetMuted(cmd.Muted)
	default:
		return fmt.Errorf("%w %q", errUnknownAction, cmd.Action)
	}
	s.logger.Debug("control command applied", slog.String("action", cmd.Action), slog.String("session_id", sessionID))
	return nil
}

// Evaluate publishes the completed report for downstream evaluators.
func (s *Service) Evaluate(ctx context.Context, report interview.Report) error {
	if s.durable {
		return s.bus.PersistJSON(ctx, protocol.SubjectCompleted, report)
	}
	return s.bus.PublishJSON(protocol.SubjectCompleted, report)
}

func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	sub := s.subControl
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subControl != nil && s.bus.Healthy()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
