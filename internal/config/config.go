package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice tutoring service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	SentryDSN                string

	AllowAnyOrigin bool

	// Audio pipeline.
	TargetSampleRate int
	IngestQueueSize  int

	// Engine lifecycle.
	SilenceTimeout     time.Duration
	EngineStartTimeout time.Duration
	EngineRetryLimit   int
	EngineRetryBase    time.Duration
	EngineRetryCap     time.Duration
	GenerationTimeout  time.Duration
	SynthChunkTimeout  time.Duration
	FallbackReplyText  string

	// Speech engine (realtime websocket vendor).
	SpeechProvider     string
	SpeechAPIKey       string
	SpeechWSBaseURL    string
	SpeechSTTModel     string
	SpeechTTSModel     string
	SpeechTTSVoice     string
	SpeechOutputFormat string
	SpeechLanguage     string

	// Tutor reply generator.
	TutorMode      string
	TutorHTTPURL   string
	TutorAPIKey    string
	TutorModel     string
	TutorPersonaID string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "lanvoice"),
		SentryDSN:        trimmedEnv("SENTRY_DSN"),
		AllowAnyOrigin:   false,

		TargetSampleRate: 16000,
		IngestQueueSize:  64,

		SilenceTimeout:     1500 * time.Millisecond,
		EngineStartTimeout: 5 * time.Second,
		EngineRetryLimit:   3,
		EngineRetryBase:    200 * time.Millisecond,
		EngineRetryCap:     3 * time.Second,
		GenerationTimeout:  12 * time.Second,
		SynthChunkTimeout:  10 * time.Second,
		FallbackReplyText: envOrDefault("APP_FALLBACK_REPLY_TEXT",
			"Sorry, I didn't catch that properly. Could you try saying it again?"),

		SpeechProvider:  envOrDefault("SPEECH_PROVIDER", "auto"),
		SpeechAPIKey:    trimmedEnv("SPEECH_API_KEY"),
		SpeechWSBaseURL: envOrDefault("SPEECH_WS_BASE_URL", "wss://api.elevenlabs.io"),
		SpeechSTTModel:  envOrDefault("SPEECH_STT_MODEL_ID", "scribe_v1"),
		SpeechTTSModel:  envOrDefault("SPEECH_TTS_MODEL_ID", "eleven_multilingual_v2"),
		SpeechTTSVoice:  envOrDefault("SPEECH_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		// Low-latency raw PCM for realtime playback; the preview endpoint wraps it as WAV.
		SpeechOutputFormat: envOrDefault("SPEECH_TTS_OUTPUT_FORMAT", "pcm_16000"),
		SpeechLanguage:     envOrDefault("SPEECH_LANGUAGE", "en"),

		TutorMode:      envOrDefault("TUTOR_MODE", "auto"),
		TutorHTTPURL:   trimmedEnv("TUTOR_HTTP_URL"),
		TutorAPIKey:    trimmedEnv("TUTOR_API_KEY"),
		TutorModel:     envOrDefault("TUTOR_MODEL", "google/gemini-2.5-flash-lite"),
		TutorPersonaID: envOrDefault("TUTOR_PERSONA_ID", "teacher_lan"),

		DatabaseURL: trimmedEnv("DATABASE_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}

	var err error
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"APP_SILENCE_TIMEOUT", &cfg.SilenceTimeout},
		{"APP_ENGINE_START_TIMEOUT", &cfg.EngineStartTimeout},
		{"APP_ENGINE_RETRY_BASE", &cfg.EngineRetryBase},
		{"APP_ENGINE_RETRY_CAP", &cfg.EngineRetryCap},
		{"APP_GENERATION_TIMEOUT", &cfg.GenerationTimeout},
		{"APP_SYNTH_CHUNK_TIMEOUT", &cfg.SynthChunkTimeout},
	} {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}

	for _, n := range []struct {
		key string
		dst *int
	}{
		{"APP_TARGET_SAMPLE_RATE", &cfg.TargetSampleRate},
		{"APP_INGEST_QUEUE_SIZE", &cfg.IngestQueueSize},
		{"APP_ENGINE_RETRY_LIMIT", &cfg.EngineRetryLimit},
	} {
		*n.dst, err = intFromEnv(n.key, *n.dst)
		if err != nil {
			return Config{}, err
		}
	}

	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.TargetSampleRate < 8000 || cfg.TargetSampleRate > 48000 {
		return Config{}, fmt.Errorf("APP_TARGET_SAMPLE_RATE must be within 8000..48000")
	}
	if cfg.IngestQueueSize <= 0 {
		return Config{}, fmt.Errorf("APP_INGEST_QUEUE_SIZE must be positive")
	}
	if cfg.EngineRetryLimit <= 0 {
		return Config{}, fmt.Errorf("APP_ENGINE_RETRY_LIMIT must be positive")
	}
	if cfg.SilenceTimeout < 100*time.Millisecond {
		return Config{}, fmt.Errorf("APP_SILENCE_TIMEOUT must be at least 100ms")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if strings.TrimSpace(cfg.FallbackReplyText) == "" {
		return Config{}, fmt.Errorf("APP_FALLBACK_REPLY_TEXT must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
