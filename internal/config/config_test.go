package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsRequiresProviderEndpoints(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error: default http tts mode has no endpoint")
	}
}

func TestLoadDefaultsWithEndpoints(t *testing.T) {
	t.Setenv("LOQA_TTS_ENDPOINT", "https://tts.example.com")
	t.Setenv("LOQA_STT_ENDPOINT", "https://stt.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Interview.SilenceTimeoutMS != 30000 {
		t.Fatalf("expected 30s silence timeout, got %d", cfg.Interview.SilenceTimeoutMS)
	}
	if cfg.Call.Mode != "scripted" {
		t.Fatalf("expected scripted call mode, got %s", cfg.Call.Mode)
	}
	if cfg.EventStore.RetentionMode != "ephemeral" {
		t.Fatalf("expected ephemeral event store, got %s", cfg.EventStore.RetentionMode)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_TTS_MODE", "mock")
	t.Setenv("LOQA_STT_MODE", "mock")
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_EMBEDDED", "false")
	t.Setenv("LOQA_INTERVIEW_SILENCE_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_INTERVIEW_ACKNOWLEDGEMENTS", "Thanks., Noted.")
	t.Setenv("LOQA_INTERVIEW_GREETING_AWAITS_REPLY", "true")
	t.Setenv("LOQA_STT_RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("LOQA_TTS_PREFER_FALLBACK_FOR", "4")
	t.Setenv("LOQA_QUESTIONS_COUNT", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Embedded {
		t.Fatal("expected embedded override false")
	}
	if cfg.Interview.SilenceTimeoutMS != 5000 {
		t.Fatalf("expected silence timeout override, got %d", cfg.Interview.SilenceTimeoutMS)
	}
	if len(cfg.Interview.Acknowledgements) != 2 || cfg.Interview.Acknowledgements[1] != "Noted." {
		t.Fatalf("unexpected acknowledgements %v", cfg.Interview.Acknowledgements)
	}
	if !cfg.Interview.GreetingAwaitsReply {
		t.Fatal("expected greeting_awaits_reply override")
	}
	if cfg.STT.RetryMaxAttempts != 3 {
		t.Fatalf("expected retry attempts override, got %d", cfg.STT.RetryMaxAttempts)
	}
	if cfg.TTS.PreferFallbackFor != 4 {
		t.Fatalf("expected prefer_fallback_for override, got %d", cfg.TTS.PreferFallbackFor)
	}
	if cfg.Questions.Count != 7 {
		t.Fatalf("expected question count override, got %d", cfg.Questions.Count)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interview.yaml")
	data := []byte(`
tts:
  mode: mock
stt:
  mode: mock
call:
  mode: live
  url: wss://call.example.com/ws
  assistant_endpoint: https://call.example.com
interview:
  language: de-DE
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Call.Mode != "live" || cfg.Interview.Language != "de-DE" {
		t.Fatalf("unexpected config %+v", cfg.Call)
	}
}

func TestValidateRejectsLiveWithoutURL(t *testing.T) {
	cfg := Default()
	cfg.TTS.Mode = "mock"
	cfg.STT.Mode = "mock"
	cfg.Call.Mode = "live"
	if err := validate(cfg); err == nil {
		t.Fatal("expected live mode without url to fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}
}
