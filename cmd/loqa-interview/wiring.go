package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-interview/internal/call"
	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/interview"
	"github.com/loqalabs/loqa-interview/internal/stt"
	"github.com/loqalabs/loqa-interview/internal/tts"
)

func buildSession(cfg config.Config, logger *slog.Logger) (call.Session, error) {
	if cfg.Call.Mode == "live" {
		return call.NewLive(call.LiveConfig{
			URL:         cfg.Call.URL,
			APIKey:      cfg.Call.APIKey,
			DialTimeout: time.Duration(cfg.Call.DialTimeoutMS) * time.Millisecond,
		}, logger), nil
	}
	speaker, err := buildSpeaker(cfg.TTS, cfg.Interview.Language, logger)
	if err != nil {
		return nil, err
	}
	listener, err := buildListener(cfg.STT, logger)
	if err != nil {
		return nil, err
	}
	return call.NewScripted(speaker, listener, logger), nil
}

// buildAssistant returns nil when no assistant service is configured so the
// machine keeps its local session id.
func buildAssistant(cfg config.Config) interview.AssistantRegistrar {
	if cfg.Call.AssistantEndpoint == "" {
		return nil
	}
	client := &http.Client{Timeout: time.Duration(cfg.Interview.ConnectTimeoutMS) * time.Millisecond}
	return call.NewAssistantClient(cfg.Call.AssistantEndpoint, cfg.Call.AssistantAPIKey, client)
}

func buildSpeaker(cfg config.TTSConfig, language string, logger *slog.Logger) (*tts.Output, error) {
	var provider tts.Provider
	if cfg.Mode == "http" {
		opts := []tts.HTTPOption{tts.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond})}
		if cfg.APIKey != "" {
			opts = append(opts, tts.WithAPIKey(cfg.APIKey))
		}
		p, err := tts.NewHTTPProvider(cfg.Endpoint, opts...)
		if err != nil {
			return nil, fmt.Errorf("tts provider: %w", err)
		}
		provider = p
	}

	var fallback tts.Synthesizer
	switch {
	case cfg.Mode != "http":
		fallback = tts.NewMockSynth(cfg.SampleRate, cfg.Channels)
	case cfg.FallbackCommand != "":
		synth, err := tts.NewExecSynth(cfg.FallbackCommand, cfg.SampleRate, cfg.Channels, cfg.FallbackVoices)
		if err != nil {
			return nil, fmt.Errorf("tts fallback: %w", err)
		}
		fallback = synth
	}

	var player tts.Player
	switch {
	case cfg.Mode == "none":
		player = tts.NullPlayer{}
	case cfg.Mode == "mock" || cfg.PlayerCommand == "":
		player = tts.NullPlayer{Speed: 1}
	default:
		p, err := tts.NewExecPlayer(cfg.PlayerCommand)
		if err != nil {
			return nil, fmt.Errorf("tts player: %w", err)
		}
		player = p
	}

	return tts.NewOutput(tts.OutputConfig{
		Voice:             cfg.Voice,
		Language:          language,
		ProbeTimeout:      time.Duration(cfg.ProbeTimeoutMS) * time.Millisecond,
		RequestTimeout:    time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
		CacheSize:         cfg.CacheSize,
		StickyFallback:    cfg.StickyFallback,
		PreferFallbackFor: cfg.PreferFallbackFor,
	}, provider, fallback, player, logger)
}

func buildListener(cfg config.STTConfig, logger *slog.Logger) (*stt.Input, error) {
	var transcriber stt.Transcriber
	switch cfg.Mode {
	case "http":
		opts := []stt.HTTPOption{stt.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond})}
		if cfg.APIKey != "" {
			opts = append(opts, stt.WithAPIKey(cfg.APIKey))
		}
		transcriber = stt.NewHTTPTranscriber(cfg.Endpoint, opts...)
	case "exec":
		t, err := stt.NewExecTranscriber(cfg.Command, cfg.ModelPath, cfg.Language)
		if err != nil {
			return nil, fmt.Errorf("stt recognizer: %w", err)
		}
		transcriber = t
	default:
		transcriber = stt.NewMockTranscriber()
	}

	mic, err := stt.NewExecMicrophone(cfg.MicCommand, cfg.MicProcessing)
	if err != nil {
		return nil, fmt.Errorf("microphone: %w", err)
	}

	return stt.NewInput(stt.InputConfig{
		Capture: stt.CaptureOptions{
			SampleRate:       cfg.SampleRate,
			Channels:         cfg.Channels,
			ChunkDuration:    time.Duration(cfg.ChunkDurationMS) * time.Millisecond,
			EchoCancellation: cfg.EchoCancellation,
			NoiseSuppression: cfg.NoiseSuppression,
		},
		Language:       cfg.Language,
		RequestTimeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
		Retry:          retryPolicy(cfg),
	}, mic, transcriber, logger), nil
}

func retryPolicy(cfg config.STTConfig) stt.RetryPolicy {
	return stt.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		Backoff: stt.ExponentialBackoff(
			time.Duration(cfg.RetryInitialMS)*time.Millisecond,
			time.Duration(cfg.RetryMaxMS)*time.Millisecond,
			cfg.RetryMultiplier),
	}
}
