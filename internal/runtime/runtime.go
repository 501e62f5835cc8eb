package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/interview"
)

// SessionSource exposes the current interview state.
type SessionSource interface {
	Snapshot() interview.Snapshot
}

type check struct {
	name string
	fn   func() bool
}

// Runtime owns process-wide telemetry and the HTTP status surface.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	metrics       http.Handler
	ready         atomic.Bool
	wg            sync.WaitGroup

	mu     sync.RWMutex
	source SessionSource
	checks []check
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "runtime")),
	}
}

// InitTelemetry installs the global tracer and meter providers. Call it
// before building instrumented components.
func (r *Runtime) InitTelemetry(ctx context.Context) error {
	shutdown, metrics, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdown
	r.metrics = metrics
	return nil
}

// Observe serves src on /session.
func (r *Runtime) Observe(src SessionSource) {
	r.mu.Lock()
	r.source = src
	r.mu.Unlock()
}

// AddCheck registers a readiness probe.
func (r *Runtime) AddCheck(name string, fn func() bool) {
	r.mu.Lock()
	r.checks = append(r.checks, check{name: name, fn: fn})
	r.mu.Unlock()
}

// Handler returns the status routes.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/session", r.handleSession)
	if r.metrics != nil && r.cfg.Telemetry.PrometheusBind == "" {
		mux.Handle("/metrics", r.metrics)
	}
	return mux
}

// Start serves HTTP until ctx is done, then shuts down telemetry.
func (r *Runtime) Start(ctx context.Context) error {
	if r.cfg.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
		r.httpServer = r.serve(addr, r.Handler())
		r.logger.Info("status server started", slog.String("addr", addr))
	}
	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && r.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", r.metrics)
		r.metricsServer = r.serve(bind, mux)
		r.logger.Info("metrics server started", slog.String("addr", bind))
	}
	r.ready.Store(true)

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Runtime) serve(addr string, h http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	return srv
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	r.mu.RLock()
	checks := append([]check(nil), r.checks...)
	r.mu.RUnlock()
	for _, c := range checks {
		if !c.fn() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(c.name + " not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (r *Runtime) handleSession(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.mu.RLock()
	src := r.source
	r.mu.RUnlock()
	if src == nil {
		http.Error(w, "no interview running", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(src.Snapshot()); err != nil {
		r.logger.Debug("encode snapshot failed", slog.String("error", err.Error()))
	}
}
