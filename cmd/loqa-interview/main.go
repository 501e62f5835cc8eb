package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/loqalabs/loqa-interview/internal/bus"
	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/eventstore"
	"github.com/loqalabs/loqa-interview/internal/interview"
	"github.com/loqalabs/loqa-interview/internal/natsserver"
	"github.com/loqalabs/loqa-interview/internal/questions"
	"github.com/loqalabs/loqa-interview/internal/relay"
	"github.com/loqalabs/loqa-interview/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		candidate   string
		job         string
		cvPath      string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&candidate, "candidate", "", "Candidate name")
	flag.StringVar(&job, "job", "", "Job description, or @path to read it from a file")
	flag.StringVar(&cvPath, "cv", "", "Path to the candidate CV (plain text)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// Stdout belongs to the interview transcript.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))

	jobDescription, err := readArg(job)
	if err != nil {
		logger.Error("failed to read job description", slog.String("error", err.Error()))
		os.Exit(1)
	}
	var cv string
	if cvPath != "" {
		data, err := os.ReadFile(cvPath)
		if err != nil {
			logger.Error("failed to read cv", slog.String("error", err.Error()))
			os.Exit(1)
		}
		cv = string(data)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, questions.Brief{
		CandidateName:  candidate,
		JobDescription: jobDescription,
		CV:             cv,
		Count:          cfg.Questions.Count,
	}); err != nil {
		logger.Error("interview exited with error", slog.String("error", err.Error()))
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, brief questions.Brief) error {
	rt := runtime.New(cfg, logger)
	if err := rt.InitTelemetry(ctx); err != nil {
		return err
	}
	rtCtx, stopRuntime := context.WithCancel(context.WithoutCancel(ctx))
	rtDone := make(chan struct{})
	go func() {
		defer close(rtDone)
		_ = rt.Start(rtCtx)
	}()
	defer func() {
		stopRuntime()
		<-rtDone
	}()

	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()
	recorder := eventstore.NewRecorder(store, logger)
	evaluators := interview.Evaluators{recorder, interview.EvaluatorFunc(logReport(logger))}

	var relaySvc *relay.Service
	if cfg.Bus.Enabled {
		busCfg := cfg.Bus
		embedded, err := natsserver.Start(busCfg, logger)
		if err != nil {
			return err
		}
		defer embedded.Shutdown()
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		rt.AddCheck("bus", client.Healthy)

		relaySvc = relay.NewService(ctx, client, logger)
		if err := relaySvc.Start(); err != nil {
			return err
		}
		defer relaySvc.Close()
		evaluators = append(evaluators, relaySvc)
	}

	supplier, err := questions.New(cfg.Questions, logger)
	if err != nil {
		return err
	}
	qs, err := supplier.Questions(ctx, brief)
	if err != nil {
		return fmt.Errorf("prepare questions: %w", err)
	}

	session, err := buildSession(cfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	machine := interview.NewMachine(interviewConfig(cfg, brief, qs), session, interview.Options{
		Assistant: buildAssistant(cfg),
		Evaluator: evaluators,
		Logger:    logger,
	})
	rt.Observe(machine)
	recorder.Watch(ctx, machine, brief.CandidateName, brief.JobDescription)
	if relaySvc != nil {
		relaySvc.Attach(machine)
	}

	go printProgress(os.Stdout, machine)
	go readControls(os.Stdin, machine)

	machine.Start()
	if err := machine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	recorder.Wait()

	report, ok := machine.Result()
	if !ok {
		return errors.New("interview ended without a report")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func interviewConfig(cfg config.Config, brief questions.Brief, qs []string) interview.Config {
	ic := cfg.Interview
	greeting := ic.Greeting
	if brief.CandidateName != "" {
		greeting = fmt.Sprintf("Hello %s. %s", brief.CandidateName, greeting)
	}
	return interview.Config{
		CandidateName:          brief.CandidateName,
		JobDescription:         brief.JobDescription,
		Questions:              qs,
		Language:               ic.Language,
		Greeting:               greeting,
		Closing:                ic.Closing,
		Acknowledgements:       ic.Acknowledgements,
		GreetingAwaitsReply:    ic.GreetingAwaitsReply,
		SilenceTimeout:         time.Duration(ic.SilenceTimeoutMS) * time.Millisecond,
		MaxDuration:            time.Duration(ic.MaxDurationMS) * time.Millisecond,
		ConnectTimeout:         time.Duration(ic.ConnectTimeoutMS) * time.Millisecond,
		LowConfidenceThreshold: ic.LowConfidenceThreshold,
		Retry:                  retryPolicy(cfg.STT),
	}
}

func logReport(logger *slog.Logger) func(context.Context, interview.Report) error {
	return func(_ context.Context, r interview.Report) error {
		logger.Info("report ready",
			slog.String("session_id", r.SessionID),
			slog.Int("candidate_turns", len(r.CandidateTurns())),
			slog.Int("low_confidence", len(r.LowConfidence)),
			slog.Int("duration_seconds", r.DurationSeconds))
		return nil
	}
}

func readArg(v string) (string, error) {
	if path, ok := strings.CutPrefix(v, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	return v, nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
