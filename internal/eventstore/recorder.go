package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-interview/internal/interview"
)

const (
	EventStatus = "status"
	EventNotice = "notice"
	EventReport = "report"
)

// Source publishes interview snapshots.
type Source interface {
	Subscribe() (<-chan interview.Snapshot, func())
}

// Recorder writes an interview's state transitions to the store and archives
// its report once evaluation is handed off.
type Recorder struct {
	store *Store
	log   *slog.Logger

	mu       sync.Mutex
	sessions map[string]bool
	wg       sync.WaitGroup
}

func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	return &Recorder{
		store:    store,
		log:      log.With(slog.String("component", "recorder")),
		sessions: make(map[string]bool),
	}
}

// Watch records transitions from src until its snapshot stream closes.
func (r *Recorder) Watch(ctx context.Context, src Source, candidate, jobDescription string) {
	snaps, unsubscribe := src.Subscribe()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer unsubscribe()
		var last interview.Status = -1
		var lastNotice *interview.Notice
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				if err := r.ensureSession(ctx, snap.SessionID, candidate, jobDescription); err != nil {
					r.log.Warn("record session failed", slog.String("error", err.Error()))
					continue
				}
				if snap.Status != last {
					last = snap.Status
					r.append(ctx, snap, EventStatus, snap)
				}
				if snap.Notice != nil && snap.Notice != lastNotice {
					lastNotice = snap.Notice
					r.append(ctx, snap, EventNotice, snap.Notice)
				}
			}
		}
	}()
}

func (r *Recorder) ensureSession(ctx context.Context, id, candidate, jobDescription string) error {
	r.mu.Lock()
	known := r.sessions[id]
	r.mu.Unlock()
	if known {
		return nil
	}
	if err := r.store.AppendSession(ctx, id, candidate, jobDescription); err != nil {
		return err
	}
	r.mu.Lock()
	r.sessions[id] = true
	r.mu.Unlock()
	return nil
}

func (r *Recorder) append(ctx context.Context, snap interview.Snapshot, kind string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.log.Warn("encode event failed", slog.String("error", err.Error()))
		return
	}
	evt := Event{SessionID: snap.SessionID, Type: kind, Status: snap.Status.String(), Payload: payload}
	if err := r.store.AppendEvent(ctx, evt); err != nil {
		r.log.Warn("append event failed", slog.String("type", kind), slog.String("error", err.Error()))
	}
}

// Evaluate archives the completed report.
func (r *Recorder) Evaluate(ctx context.Context, report interview.Report) error {
	if err := r.store.SaveReport(ctx, report); err != nil {
		return err
	}
	r.mu.Lock()
	r.sessions[report.SessionID] = true
	r.mu.Unlock()
	return r.store.AppendEvent(ctx, Event{
		SessionID: report.SessionID,
		Type:      EventReport,
		Status:    string(report.EndReason),
		CreatedAt: report.EndedAt,
	})
}

// Wait blocks until all watched sessions finished.
func (r *Recorder) Wait() { r.wg.Wait() }
