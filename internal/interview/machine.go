// Package interview runs the turn-taking state machine of a voice interview.
//
// A Machine owns one session. All state lives in the Run goroutine; speech,
// capture and call operations run in their own goroutines and post results
// back to it. Each result carries the generation it was started under and is
// dropped when the machine has moved on.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-interview/internal/call"
	"github.com/loqalabs/loqa-interview/internal/fault"
	"github.com/loqalabs/loqa-interview/internal/stt"
	"go.opentelemetry.io/otel"
)

const teardownTimeout = 5 * time.Second

// ErrRunning is returned when Run is called twice.
var ErrRunning = errors.New("machine already running")

// Config describes one interview session.
type Config struct {
	SessionID      string
	CandidateName  string
	JobDescription string
	Questions      []string
	Language       string

	Greeting         string
	Closing          string
	Acknowledgements []string
	// GreetingAwaitsReply makes the machine listen after the greeting
	// instead of asking the first question right away.
	GreetingAwaitsReply bool

	SilenceTimeout         time.Duration
	MaxDuration            time.Duration
	ConnectTimeout         time.Duration
	LowConfidenceThreshold float64
	Retry                  stt.RetryPolicy
}

// AssistantRegistrar creates the remote assistant a call is started with.
type AssistantRegistrar interface {
	Create(ctx context.Context, cfg call.AssistantConfig) (call.AssistantConfig, error)
}

// Options are the optional collaborators of a Machine.
type Options struct {
	Assistant AssistantRegistrar
	Evaluator Evaluator
	Logger    *slog.Logger
}

type captureState int

const (
	captureIdle captureState = iota
	capturePending
	captureActive
)

// Machine is the interview state machine.
type Machine struct {
	cfg       Config
	session   call.Session
	speaker   call.Speaker
	listener  call.Listener
	assistant AssistantRegistrar
	evaluator Evaluator
	logger    *slog.Logger
	metrics   *machineMetrics

	inbox   chan event
	done    chan struct{}
	running atomic.Bool

	// Owned by the Run goroutine.
	ctx            context.Context
	opCancel       context.CancelFunc
	sessionID      string
	status         Status
	index          int
	gen            uint64
	ledger         *Ledger
	tracker        *Tracker
	attempts       int
	capture        captureState
	stopPending    bool
	captureBlocked bool
	remoteCapture  bool
	callActive     bool
	endPending     bool
	muted          bool
	notice         *Notice
	afterSpeak     func()
	silenceTimer   *time.Timer
	retryTimer     *time.Timer
	maxTimer       *time.Timer
	tickStop       chan struct{}
	endReason      EndReason

	mu       sync.Mutex
	snapshot Snapshot
	subs     map[chan Snapshot]struct{}
	result   *Report
}

// NewMachine builds a machine for one session. A session id is generated
// when cfg has none; a remote assistant may replace it on start.
func NewMachine(cfg Config, session call.Session, opts Options) *Machine {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	cfg.Questions = append([]string(nil), cfg.Questions...)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "interview"))
	listener := session.Listener()
	m := &Machine{
		cfg:       cfg,
		session:   session,
		speaker:   session.Speaker(),
		listener:  listener,
		assistant: opts.Assistant,
		evaluator: opts.Evaluator,
		logger:    logger,
		metrics:   newMachineMetrics(otel.Meter(meterName), logger),
		inbox:     make(chan event, 32),
		done:      make(chan struct{}),
		sessionID: cfg.SessionID,
		status:    StatusIdle,
		index:     -1,
		ledger:    newLedger(),
		tracker:   &Tracker{},
		subs:      make(map[chan Snapshot]struct{}),

		remoteCapture: call.RemoteCapture(listener),
	}
	m.snapshot = m.buildSnapshot()
	return m
}

// Run processes events until the session completed or ctx is done. A done
// ctx cancels the session.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	m.ctx = ctx
	m.publish()

	events := m.session.Events()
	for m.status != StatusCompleted {
		select {
		case <-ctx.Done():
			m.complete(EndCancelled)
		case ev := <-m.inbox:
			m.handle(ev)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.handleCall(ev)
		}
	}
	return nil
}

// Start begins the session from idle.
func (m *Machine) Start() { m.post(startCmd{}) }

// StopCapture ends the current answer as if the candidate stopped speaking.
func (m *Machine) StopCapture() { m.post(stopCaptureCmd{}) }

// Cancel ends the session from any state.
func (m *Machine) Cancel() { m.post(cancelCmd{}) }

// Retry returns from error to idle. Start must be called again.
func (m *Machine) Retry() { m.post(retryCmd{}) }

// RetryCapture re-opens the microphone after a permission denial.
func (m *Machine) RetryCapture() { m.post(retryCaptureCmd{}) }

// SetMuted mutes or unmutes the candidate's microphone.
func (m *Machine) SetMuted(muted bool) { m.post(muteCmd{muted: muted}) }

// Done is closed once the session completed and the report was delivered.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Result returns the report of a completed session.
func (m *Machine) Result() (Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return Report{}, false
	}
	return *m.result, true
}

// Snapshot returns the latest published state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Transcript returns the ledger for read-only access.
func (m *Machine) Transcript() *Ledger { return m.ledger }

// Subscribe returns a channel receiving every snapshot published after the
// call. Slow subscribers lose older snapshots. The channel is closed when the
// session completed or cancel is called.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	m.mu.Lock()
	select {
	case <-m.done:
		ch <- m.snapshot
		close(ch)
		m.mu.Unlock()
		return ch, func() {}
	default:
	}
	m.subs[ch] = struct{}{}
	ch <- m.snapshot
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}
}

func (m *Machine) post(ev event) {
	select {
	case m.inbox <- ev:
	case <-m.done:
	}
}

func (m *Machine) handle(ev event) {
	switch e := ev.(type) {
	case startCmd:
		if m.status != StatusIdle {
			m.logger.Debug("start ignored", slog.String("status", m.status.String()))
			return
		}
		m.connect()
	case stopCaptureCmd:
		if m.status == StatusListening && !m.captureBlocked && m.retryTimer == nil {
			m.beginProcessing(nil)
		}
	case cancelCmd:
		m.complete(EndCancelled)
	case retryCmd:
		if m.status == StatusError {
			m.notice = nil
			m.setStatus(StatusIdle)
		}
	case retryCaptureCmd:
		if m.status == StatusListening && m.captureBlocked {
			m.captureBlocked = false
			m.notice = nil
			m.startCapture()
		}
	case muteCmd:
		if err := m.session.SetMuted(e.muted); err != nil {
			m.raise(err)
			return
		}
		m.muted = e.muted
		m.publish()
	case startResult:
		m.onStarted(e)
	case speakResult:
		if e.gen == m.gen {
			m.onSpoken(e.err)
		}
	case captureResult:
		if e.gen == m.gen {
			m.onCaptureStarted(e.err)
		}
	case transcriptResult:
		if e.gen == m.gen && m.status == StatusProcessing {
			m.onAnswer(e.answer, e.err)
		}
	case silenceFired:
		if e.gen == m.gen && m.status == StatusListening {
			m.logger.Debug("silence timeout", slog.Duration("timeout", m.cfg.SilenceTimeout))
			m.beginProcessing(nil)
		}
	case retryDue:
		if e.gen == m.gen && m.status == StatusListening {
			m.retryTimer = nil
			m.startCapture()
		}
	case tickFired:
		m.tracker.Tick()
		m.publish()
	case maxDurationFired:
		m.logger.Info("maximum call duration reached", slog.Duration("max", m.cfg.MaxDuration))
		m.complete(EndMaxDuration)
	}
}

func (m *Machine) handleCall(ev call.Event) {
	switch ev.Kind {
	case call.EventStarted:
		m.logger.Debug("call started")
	case call.EventEnded:
		if !m.callActive {
			if m.status == StatusConnecting {
				// The start result is still in flight; onStarted completes.
				m.logger.Info("call ended while connecting", slog.String("reason", ev.Message))
				m.endPending = true
			}
			return
		}
		m.logger.Info("call ended", slog.String("reason", ev.Message), slog.String("status", m.status.String()))
		m.callActive = false
		m.complete(EndCallEnded)
	case call.EventSpeechTurn:
		if ev.Speaker != call.RoleCandidate {
			m.logger.Debug("interviewer speech", slog.String("text", ev.Text))
			return
		}
		switch m.status {
		case StatusListening, StatusProcessing:
			if m.captureBlocked {
				return
			}
			m.beginProcessing(&answer{Text: ev.Text})
		default:
			m.logger.Debug("candidate speech outside listening dropped", slog.String("status", m.status.String()))
		}
	case call.EventError:
		m.raise(fault.Transient("call", errors.New(ev.Message)))
	}
}

func (m *Machine) nextGen() uint64 {
	m.gen++
	return m.gen
}

// opContext cancels the previous operation context and returns a new one.
func (m *Machine) opContext(timeout time.Duration) context.Context {
	if m.opCancel != nil {
		m.opCancel()
	}
	var ctx context.Context
	if timeout > 0 {
		ctx, m.opCancel = context.WithTimeout(m.ctx, timeout)
	} else {
		ctx, m.opCancel = context.WithCancel(m.ctx)
	}
	return ctx
}

func (m *Machine) setStatus(s Status) {
	if m.status == s {
		m.publish()
		return
	}
	m.logger.Debug("transition", slog.String("from", m.status.String()), slog.String("to", s.String()))
	m.status = s
	m.metrics.transition(m.ctx, s)
	m.publish()
}

func (m *Machine) raise(err error) {
	m.notice = noticeFor(err)
	m.logger.Warn("interview notice", slog.String("kind", m.notice.Kind), slogError(err))
	m.publish()
}

func (m *Machine) connect() {
	m.endPending = false
	m.setStatus(StatusConnecting)
	gen := m.nextGen()
	ctx := m.opContext(m.cfg.ConnectTimeout)
	cfg := call.AssistantConfig{
		SessionID:      m.sessionID,
		CandidateName:  m.cfg.CandidateName,
		JobDescription: m.cfg.JobDescription,
		Questions:      append([]string(nil), m.cfg.Questions...),
		Language:       m.cfg.Language,
	}
	go func() {
		if m.assistant != nil {
			created, err := m.assistant.Create(ctx, cfg)
			if err != nil {
				m.logger.Warn("assistant creation failed, using local session id", slogError(err))
			} else {
				cfg = created
			}
		}
		err := m.session.Start(ctx, cfg)
		m.post(startResult{gen: gen, cfg: cfg, err: err})
	}()
}

func (m *Machine) onStarted(e startResult) {
	if e.gen != m.gen || m.status != StatusConnecting {
		if e.err == nil {
			m.logger.Debug("late call start, stopping session")
			go func() { _ = m.session.Stop(context.WithoutCancel(m.ctx)) }()
		}
		return
	}
	if e.err != nil {
		if errors.Is(e.err, context.DeadlineExceeded) {
			e.err = fault.Transient("call.start", fmt.Errorf("call did not start within %s: %w", m.cfg.ConnectTimeout, e.err))
		}
		m.notice = noticeFor(e.err)
		m.logger.Warn("call start failed", slogError(e.err))
		m.setStatus(StatusError)
		return
	}

	if e.cfg.SessionID != "" {
		m.sessionID = e.cfg.SessionID
	}
	if m.endPending {
		m.endPending = false
		m.complete(EndCallEnded)
		return
	}
	m.callActive = true
	m.tracker.Start(time.Now())
	m.startClock()
	m.logger.Info("interview started", slog.String("session_id", m.sessionID), slog.Int("questions", len(m.cfg.Questions)))
	m.greet()
}

func (m *Machine) startClock() {
	m.tickStop = make(chan struct{})
	go func(stop <-chan struct{}) {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case m.inbox <- tickFired{}:
				default:
				}
			case <-stop:
				return
			case <-m.done:
				return
			}
		}
	}(m.tickStop)
	if m.cfg.MaxDuration > 0 {
		m.maxTimer = time.AfterFunc(m.cfg.MaxDuration, func() { m.post(maxDurationFired{}) })
	}
}

func (m *Machine) speak(text string, then func()) {
	text = strings.TrimSpace(text)
	if text == "" {
		then()
		return
	}
	gen := m.nextGen()
	ctx := m.opContext(0)
	m.afterSpeak = then
	go func() {
		err := m.speaker.Speak(ctx, text)
		m.post(speakResult{gen: gen, err: err})
	}()
}

func (m *Machine) onSpoken(err error) {
	if fault.Is(err, fault.KindEnded) {
		m.logger.Info("call ended during playback", slogError(err))
		m.callActive = false
		m.afterSpeak = nil
		m.complete(EndCallEnded)
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		// Playback failure still counts as finished playback.
		m.raise(err)
	}
	then := m.afterSpeak
	m.afterSpeak = nil
	if then != nil {
		then()
	}
}

func (m *Machine) greet() {
	m.setStatus(StatusGreeting)
	m.appendTurn(Turn{Speaker: SpeakerInterviewer, Text: m.cfg.Greeting})
	m.speak(m.cfg.Greeting, func() {
		if m.cfg.GreetingAwaitsReply {
			m.listen()
			return
		}
		m.decide()
	})
}

// decide applies the decision rule: ask the next question when one
// remains, otherwise close the interview.
func (m *Machine) decide() {
	if m.index+1 < len(m.cfg.Questions) {
		next := func() {
			m.index++
			m.ask()
		}
		if m.status == StatusResponding {
			m.speak(m.acknowledgement(), next)
			return
		}
		next()
		return
	}
	m.speak(m.cfg.Closing, func() { m.complete(EndQuestionsExhausted) })
}

func (m *Machine) acknowledgement() string {
	if len(m.cfg.Acknowledgements) == 0 {
		return ""
	}
	n := m.ledger.Count(SpeakerCandidate)
	return m.cfg.Acknowledgements[(n-1+len(m.cfg.Acknowledgements))%len(m.cfg.Acknowledgements)]
}

func (m *Machine) ask() {
	m.setStatus(StatusAsking)
	q := m.cfg.Questions[m.index]
	m.appendTurn(Turn{Speaker: SpeakerInterviewer, Text: q})
	m.speak(q, m.listen)
}

func (m *Machine) listen() {
	m.attempts = 0
	m.setStatus(StatusListening)
	m.startCapture()
}

func (m *Machine) startCapture() {
	gen := m.nextGen()
	ctx := m.opContext(0)
	m.capture = capturePending
	m.stopPending = false
	m.armSilence(gen)
	m.publish()
	go func() {
		err := m.listener.StartCapture(ctx)
		m.post(captureResult{gen: gen, err: err})
	}()
}

func (m *Machine) armSilence(gen uint64) {
	m.disarmSilence()
	if m.cfg.SilenceTimeout <= 0 {
		return
	}
	m.silenceTimer = time.AfterFunc(m.cfg.SilenceTimeout, func() { m.post(silenceFired{gen: gen}) })
}

func (m *Machine) disarmSilence() {
	if m.silenceTimer != nil {
		m.silenceTimer.Stop()
		m.silenceTimer = nil
	}
}

func (m *Machine) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Machine) onCaptureStarted(err error) {
	if err != nil {
		m.capture = captureIdle
		m.disarmSilence()
		m.onFailure(err)
		return
	}
	m.capture = captureActive
	m.publish()
	if m.stopPending {
		m.beginProcessing(nil)
	}
}

// beginProcessing ends listening. When a remote answer is given it is used
// directly; otherwise the captured audio is transcribed.
func (m *Machine) beginProcessing(remote *answer) {
	if remote == nil && m.remoteCapture {
		// Nothing to stop locally; keep waiting for the remote answer.
		m.logger.Debug("awaiting remote answer")
		m.armSilence(m.gen)
		return
	}
	if remote == nil && m.capture == capturePending {
		m.stopPending = true
		return
	}
	m.disarmSilence()
	m.stopRetryTimer()
	m.setStatus(StatusProcessing)
	gen := m.nextGen()

	if remote != nil {
		m.listener.CancelCapture()
		m.capture = captureIdle
		m.onAnswer(*remote, nil)
		return
	}

	ctx := m.opContext(0)
	m.capture = captureIdle
	go func() {
		res, err := m.listener.StopCapture(ctx)
		conf := res.Confidence
		m.post(transcriptResult{gen: gen, answer: answer{Text: res.Text, Confidence: &conf}, err: err})
	}()
}

func (m *Machine) onAnswer(a answer, err error) {
	if err == nil && strings.TrimSpace(a.Text) == "" {
		err = fault.Transient("stt.transcribe", stt.ErrNoHypothesis)
	}
	if err != nil {
		m.onFailure(err)
		return
	}
	m.attempts = 0
	m.notice = nil
	m.setStatus(StatusResponding)
	m.appendTurn(Turn{Speaker: SpeakerCandidate, Text: strings.TrimSpace(a.Text), Confidence: a.Confidence})
	m.decide()
}

// onFailure routes a capture or transcription failure by kind.
func (m *Machine) onFailure(err error) {
	switch fault.KindOf(err) {
	case fault.KindPermission:
		m.captureBlocked = true
		m.capture = captureIdle
		m.disarmSilence()
		m.notice = noticeFor(err)
		m.logger.Warn("microphone unavailable", slogError(err))
		m.setStatus(StatusListening)
		return
	case fault.KindEnded:
		m.complete(EndCallEnded)
		return
	}
	if errors.Is(err, call.ErrRemoteCapture) {
		m.capture = captureActive
		m.setStatus(StatusListening)
		m.armSilence(m.gen)
		return
	}

	m.attempts++
	delay, ok := m.cfg.Retry.Next(m.attempts)
	m.setStatus(StatusListening)
	if ok {
		m.metrics.retry(m.ctx)
		m.logger.Info("retrying capture", slog.Int("attempt", m.attempts), slog.Duration("delay", delay), slogError(err))
		gen := m.nextGen()
		m.stopRetryTimer()
		m.retryTimer = time.AfterFunc(delay, func() { m.post(retryDue{gen: gen}) })
		m.publish()
		return
	}
	attempts := m.attempts
	m.attempts = 0
	m.raise(fault.Transient("interview.capture", fmt.Errorf("no usable answer after %d attempts: %w", attempts, err)))
	m.startCapture()
}

func (m *Machine) appendTurn(t Turn) {
	t = m.ledger.append(t)
	m.metrics.turn(m.ctx, t.Speaker)
	m.logger.Debug("turn", slog.String("speaker", string(t.Speaker)), slog.Int("index", m.index))
}

func (m *Machine) complete(reason EndReason) {
	if m.status == StatusCompleted {
		return
	}
	if m.opCancel != nil {
		m.opCancel()
	}
	m.disarmSilence()
	m.stopRetryTimer()
	if m.maxTimer != nil {
		m.maxTimer.Stop()
	}
	if m.tickStop != nil {
		close(m.tickStop)
		m.tickStop = nil
	}
	m.listener.CancelCapture()
	m.speaker.StopPlayback()
	m.capture = captureIdle

	end := time.Now()
	m.tracker.Freeze(end)
	if reason == EndQuestionsExhausted {
		m.index = len(m.cfg.Questions)
	}
	m.endReason = reason
	m.status = StatusCompleted
	m.metrics.transition(m.ctx, StatusCompleted)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), teardownTimeout)
	defer cancel()
	if m.callActive {
		if err := m.session.Stop(ctx); err != nil {
			m.logger.Warn("call stop failed", slogError(err))
		}
		m.callActive = false
	}

	report := m.buildReport(end)
	m.metrics.completed(ctx, report)
	m.logger.Info("interview completed",
		slog.String("session_id", m.sessionID),
		slog.String("reason", string(reason)),
		slog.Int("turns", len(report.ConversationHistory)),
		slog.Int("duration_seconds", report.DurationSeconds))

	m.mu.Lock()
	m.result = &report
	m.mu.Unlock()
	m.publish()

	if m.evaluator != nil {
		if err := m.evaluator.Evaluate(ctx, report); err != nil {
			m.logger.Warn("report handoff failed", slogError(err))
		}
	}

	m.mu.Lock()
	close(m.done)
	for ch := range m.subs {
		close(ch)
	}
	m.subs = map[chan Snapshot]struct{}{}
	m.mu.Unlock()
}

func (m *Machine) buildReport(end time.Time) Report {
	turns := m.ledger.Turns()
	d := m.tracker.Duration()
	return Report{
		SessionID:           m.sessionID,
		CandidateName:       m.cfg.CandidateName,
		JobDescription:      m.cfg.JobDescription,
		Questions:           append([]string(nil), m.cfg.Questions...),
		ConversationHistory: turns,
		Duration:            d,
		DurationSeconds:     wholeSeconds(d),
		StartedAt:           m.tracker.StartedAt(),
		EndedAt:             end,
		EndReason:           m.endReason,
		LowConfidence:       lowConfidence(turns, m.cfg.LowConfidenceThreshold),
	}
}

func (m *Machine) buildSnapshot() Snapshot {
	s := Snapshot{
		SessionID:     m.sessionID,
		Status:        m.status,
		QuestionIndex: m.index,
		QuestionCount: len(m.cfg.Questions),
		Turns:         m.ledger.Len(),
		Elapsed:       m.tracker.Elapsed(time.Now()),
		Capturing:     m.capture == captureActive,
		AwaitingRetry: m.retryTimer != nil,
		Muted:         m.muted,
		Notice:        m.notice,
		EndReason:     m.endReason,
	}
	if m.index >= 0 && m.index < len(m.cfg.Questions) {
		s.CurrentQuestion = m.cfg.Questions[m.index]
	}
	if turns := m.ledger.Turns(); len(turns) > 0 {
		last := turns[len(turns)-1]
		s.LastTurn = &last
	}
	return s
}

func (m *Machine) publish() {
	snap := m.buildSnapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = snap
	for ch := range m.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", fmt.Sprint(err))
}
