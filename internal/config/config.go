package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	TraceStdout    bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Interview   InterviewConfig  `yaml:"interview"`
	TTS         TTSConfig        `yaml:"tts"`
	STT         STTConfig        `yaml:"stt"`
	Call        CallConfig       `yaml:"call"`
	Questions   QuestionsConfig  `yaml:"questions"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type InterviewConfig struct {
	Language               string   `yaml:"language"`
	Greeting               string   `yaml:"greeting"`
	Closing                string   `yaml:"closing"`
	Acknowledgements       []string `yaml:"acknowledgements"`
	GreetingAwaitsReply    bool     `yaml:"greeting_awaits_reply"`
	SilenceTimeoutMS       int      `yaml:"silence_timeout_ms"`
	MaxDurationMS          int      `yaml:"max_duration_ms"`
	ConnectTimeoutMS       int      `yaml:"connect_timeout_ms"`
	LowConfidenceThreshold float64  `yaml:"low_confidence_threshold"`
}

type TTSConfig struct {
	Mode              string       `yaml:"mode"` // http, mock, none
	Endpoint          string       `yaml:"endpoint"`
	APIKey            string       `yaml:"api_key"`
	Voice             string       `yaml:"voice"`
	ProbeTimeoutMS    int          `yaml:"probe_timeout_ms"`
	RequestTimeoutMS  int          `yaml:"request_timeout_ms"`
	CacheSize         int          `yaml:"cache_size"`
	StickyFallback    bool         `yaml:"sticky_fallback"`
	PreferFallbackFor int          `yaml:"prefer_fallback_for"`
	FallbackCommand   string       `yaml:"fallback_command"`
	FallbackVoices    []VoiceEntry `yaml:"fallback_voices"`
	PlayerCommand     string       `yaml:"player_command"`
	SampleRate        int          `yaml:"sample_rate"`
	Channels          int          `yaml:"channels"`
}

type VoiceEntry struct {
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
}

type STTConfig struct {
	Mode             string  `yaml:"mode"` // http, exec, mock
	Endpoint         string  `yaml:"endpoint"`
	APIKey           string  `yaml:"api_key"`
	Command          string  `yaml:"command"`
	ModelPath        string  `yaml:"model_path"`
	Language         string  `yaml:"language"`
	MicCommand       string  `yaml:"mic_command"`
	MicProcessing    bool    `yaml:"mic_processing_args"`
	SampleRate       int     `yaml:"sample_rate"`
	Channels         int     `yaml:"channels"`
	ChunkDurationMS  int     `yaml:"chunk_duration_ms"`
	EchoCancellation bool    `yaml:"echo_cancellation"`
	NoiseSuppression bool    `yaml:"noise_suppression"`
	RequestTimeoutMS int     `yaml:"request_timeout_ms"`
	RetryMaxAttempts int     `yaml:"retry_max_attempts"`
	RetryInitialMS   int     `yaml:"retry_initial_ms"`
	RetryMaxMS       int     `yaml:"retry_max_ms"`
	RetryMultiplier  float64 `yaml:"retry_multiplier"`
}

type CallConfig struct {
	Mode              string `yaml:"mode"` // scripted, live
	URL               string `yaml:"url"`
	APIKey            string `yaml:"api_key"`
	AssistantEndpoint string `yaml:"assistant_endpoint"`
	AssistantAPIKey   string `yaml:"assistant_api_key"`
	DialTimeoutMS     int    `yaml:"dial_timeout_ms"`
}

type QuestionsConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec, generic
	Count       int     `yaml:"count"`
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-interview",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: "",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-interview.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Interview: InterviewConfig{
			Language: "en-US",
			Greeting: "Hello, thank you for joining. I will ask you a few questions about your experience. Let's begin.",
			Closing:  "Thank you, that concludes our interview.",
			Acknowledgements: []string{
				"Thank you.",
				"Got it, thanks.",
				"Great, let's move on.",
			},
			SilenceTimeoutMS:       30000,
			MaxDurationMS:          30 * 60 * 1000,
			ConnectTimeoutMS:       15000,
			LowConfidenceThreshold: 50,
		},
		TTS: TTSConfig{
			Mode:              "http",
			ProbeTimeoutMS:    3000,
			RequestTimeoutMS:  20000,
			CacheSize:         64,
			StickyFallback:    true,
			PreferFallbackFor: 0,
			FallbackCommand:   "loqa-say",
			FallbackVoices: []VoiceEntry{
				{Name: "en-us", Language: "en-US"},
			},
			PlayerCommand: "aplay -q -t raw -f S16_LE -r {rate} -c {channels}",
			SampleRate:    22050,
			Channels:      1,
		},
		STT: STTConfig{
			Mode:             "http",
			MicCommand:       "arecord -q -t raw -f S16_LE -r 16000 -c 1",
			SampleRate:       16000,
			Channels:         1,
			ChunkDurationMS:  100,
			EchoCancellation: true,
			NoiseSuppression: true,
			RequestTimeoutMS: 30000,
			RetryMaxAttempts: 2,
			RetryInitialMS:   500,
			RetryMaxMS:       4000,
			RetryMultiplier:  2,
		},
		Call: CallConfig{
			Mode:          "scripted",
			DialTimeoutMS: 15000,
		},
		Questions: QuestionsConfig{
			Mode:        "generic",
			Count:       5,
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   512,
			Temperature: 0.4,
			TimeoutMS:   60000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Interview.Language, "LOQA_INTERVIEW_LANGUAGE")
	overrideString(&cfg.Interview.Greeting, "LOQA_INTERVIEW_GREETING")
	overrideString(&cfg.Interview.Closing, "LOQA_INTERVIEW_CLOSING")
	overrideStringSlice(&cfg.Interview.Acknowledgements, "LOQA_INTERVIEW_ACKNOWLEDGEMENTS")
	overrideBool(&cfg.Interview.GreetingAwaitsReply, "LOQA_INTERVIEW_GREETING_AWAITS_REPLY")
	overrideInt(&cfg.Interview.SilenceTimeoutMS, "LOQA_INTERVIEW_SILENCE_TIMEOUT_MS")
	overrideInt(&cfg.Interview.MaxDurationMS, "LOQA_INTERVIEW_MAX_DURATION_MS")
	overrideInt(&cfg.Interview.ConnectTimeoutMS, "LOQA_INTERVIEW_CONNECT_TIMEOUT_MS")
	overrideFloat(&cfg.Interview.LowConfidenceThreshold, "LOQA_INTERVIEW_LOW_CONFIDENCE_THRESHOLD")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "LOQA_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "LOQA_TTS_API_KEY")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideInt(&cfg.TTS.ProbeTimeoutMS, "LOQA_TTS_PROBE_TIMEOUT_MS")
	overrideInt(&cfg.TTS.RequestTimeoutMS, "LOQA_TTS_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.TTS.CacheSize, "LOQA_TTS_CACHE_SIZE")
	overrideBool(&cfg.TTS.StickyFallback, "LOQA_TTS_STICKY_FALLBACK")
	overrideInt(&cfg.TTS.PreferFallbackFor, "LOQA_TTS_PREFER_FALLBACK_FOR")
	overrideString(&cfg.TTS.FallbackCommand, "LOQA_TTS_FALLBACK_COMMAND")
	overrideString(&cfg.TTS.PlayerCommand, "LOQA_TTS_PLAYER_COMMAND")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_TTS_CHANNELS")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Endpoint, "LOQA_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "LOQA_STT_API_KEY")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideString(&cfg.STT.MicCommand, "LOQA_STT_MIC_COMMAND")
	overrideBool(&cfg.STT.MicProcessing, "LOQA_STT_MIC_PROCESSING_ARGS")
	overrideInt(&cfg.STT.SampleRate, "LOQA_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "LOQA_STT_CHANNELS")
	overrideInt(&cfg.STT.ChunkDurationMS, "LOQA_STT_CHUNK_DURATION_MS")
	overrideBool(&cfg.STT.EchoCancellation, "LOQA_STT_ECHO_CANCELLATION")
	overrideBool(&cfg.STT.NoiseSuppression, "LOQA_STT_NOISE_SUPPRESSION")
	overrideInt(&cfg.STT.RequestTimeoutMS, "LOQA_STT_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.STT.RetryMaxAttempts, "LOQA_STT_RETRY_MAX_ATTEMPTS")
	overrideInt(&cfg.STT.RetryInitialMS, "LOQA_STT_RETRY_INITIAL_MS")
	overrideInt(&cfg.STT.RetryMaxMS, "LOQA_STT_RETRY_MAX_MS")
	overrideFloat(&cfg.STT.RetryMultiplier, "LOQA_STT_RETRY_MULTIPLIER")
	overrideString(&cfg.Call.Mode, "LOQA_CALL_MODE")
	overrideString(&cfg.Call.URL, "LOQA_CALL_URL")
	overrideString(&cfg.Call.APIKey, "LOQA_CALL_API_KEY")
	overrideString(&cfg.Call.AssistantEndpoint, "LOQA_CALL_ASSISTANT_ENDPOINT")
	overrideString(&cfg.Call.AssistantAPIKey, "LOQA_CALL_ASSISTANT_API_KEY")
	overrideInt(&cfg.Call.DialTimeoutMS, "LOQA_CALL_DIAL_TIMEOUT_MS")
	overrideString(&cfg.Questions.Mode, "LOQA_QUESTIONS_MODE")
	overrideInt(&cfg.Questions.Count, "LOQA_QUESTIONS_COUNT")
	overrideString(&cfg.Questions.Endpoint, "LOQA_QUESTIONS_ENDPOINT")
	overrideString(&cfg.Questions.Command, "LOQA_QUESTIONS_COMMAND")
	overrideString(&cfg.Questions.Model, "LOQA_QUESTIONS_MODEL")
	overrideInt(&cfg.Questions.MaxTokens, "LOQA_QUESTIONS_MAX_TOKENS")
	overrideFloat(&cfg.Questions.Temperature, "LOQA_QUESTIONS_TEMPERATURE")
	overrideInt(&cfg.Questions.TimeoutMS, "LOQA_QUESTIONS_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Interview.SilenceTimeoutMS <= 0 {
		return errors.New("interview.silence_timeout_ms must be positive")
	}
	if cfg.Interview.MaxDurationMS <= cfg.Interview.SilenceTimeoutMS {
		return errors.New("interview.max_duration_ms must be greater than silence timeout")
	}
	if cfg.Interview.ConnectTimeoutMS <= 0 {
		return errors.New("interview.connect_timeout_ms must be positive")
	}
	if cfg.Interview.LowConfidenceThreshold < 0 || cfg.Interview.LowConfidenceThreshold > 100 {
		return errors.New("interview.low_confidence_threshold must be between 0 and 100")
	}
	switch cfg.TTS.Mode {
	case "http", "mock", "none":
	default:
		return errors.New("tts.mode must be one of http|mock|none")
	}
	if cfg.TTS.Mode == "http" && cfg.TTS.Endpoint == "" {
		return errors.New("tts.endpoint must be set when mode=http")
	}
	if cfg.TTS.PreferFallbackFor < 0 {
		return errors.New("tts.prefer_fallback_for must be >= 0")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	switch cfg.STT.Mode {
	case "http", "exec", "mock":
	default:
		return errors.New("stt.mode must be one of http|exec|mock")
	}
	if cfg.STT.Mode == "http" && cfg.STT.Endpoint == "" {
		return errors.New("stt.endpoint must be set when mode=http")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	if cfg.STT.Channels <= 0 {
		return errors.New("stt.channels must be positive")
	}
	if cfg.STT.RetryMaxAttempts < 0 {
		return errors.New("stt.retry_max_attempts must be >= 0")
	}
	switch cfg.Call.Mode {
	case "scripted":
	case "live":
		if cfg.Call.URL == "" {
			return errors.New("call.url must be set when mode=live")
		}
		if cfg.Call.AssistantEndpoint == "" {
			return errors.New("call.assistant_endpoint must be set when mode=live")
		}
	default:
		return errors.New("call.mode must be one of scripted|live")
	}
	switch cfg.Questions.Mode {
	case "generic", "mock", "ollama", "exec":
	default:
		return errors.New("questions.mode must be one of generic|mock|ollama|exec")
	}
	if cfg.Questions.Mode == "ollama" && cfg.Questions.Endpoint == "" {
		return errors.New("questions.endpoint must be set when mode=ollama")
	}
	if cfg.Questions.Mode == "exec" && cfg.Questions.Command == "" {
		return errors.New("questions.command must be set when mode=exec")
	}
	if cfg.Questions.Count <= 0 {
		return errors.New("questions.count must be positive")
	}
	return nil
}
