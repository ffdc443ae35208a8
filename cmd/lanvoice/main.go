package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hklearn/lanvoice/internal/audio"
	"github.com/hklearn/lanvoice/internal/config"
	"github.com/hklearn/lanvoice/internal/httpapi"
	"github.com/hklearn/lanvoice/internal/memory"
	"github.com/hklearn/lanvoice/internal/observability"
	"github.com/hklearn/lanvoice/internal/session"
	"github.com/hklearn/lanvoice/internal/tutor"
	"github.com/hklearn/lanvoice/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: environment(),
		}); err != nil {
			log.Printf("sentry init failed: %v", err)
		} else {
			log.Printf("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	turnStore, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("turn store init failed: %v", err)
	}
	defer turnStore.Close()

	adapter, err := tutor.NewAdapter(tutor.Config{
		Mode:    cfg.TutorMode,
		BaseURL: cfg.TutorHTTPURL,
		APIKey:  cfg.TutorAPIKey,
		Model:   cfg.TutorModel,
	})
	if err != nil {
		log.Fatalf("tutor adapter init failed: %v", err)
	}

	var (
		sttProvider voice.STTProvider
		ttsProvider voice.TTSProvider
	)

	speechMode := strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	if speechMode == "" {
		speechMode = "auto"
	}

	tryElevenLabs := func() bool {
		if strings.TrimSpace(cfg.SpeechAPIKey) == "" {
			return false
		}
		p := voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:       cfg.SpeechAPIKey,
			WSBaseURL:    cfg.SpeechWSBaseURL,
			STTModelID:   cfg.SpeechSTTModel,
			TTSModelID:   cfg.SpeechTTSModel,
			OutputFormat: cfg.SpeechOutputFormat,
			Language:     cfg.SpeechLanguage,
		})
		sttProvider = p
		ttsProvider = p
		log.Printf("speech provider: elevenlabs realtime")
		return true
	}

	switch speechMode {
	case "elevenlabs":
		if !tryElevenLabs() {
			log.Fatalf("SPEECH_PROVIDER=elevenlabs but SPEECH_API_KEY is not set")
		}
	case "mock":
		p := voice.NewMockProvider()
		sttProvider = p
		ttsProvider = p
		log.Printf("speech provider: mock")
	case "auto":
		if !tryElevenLabs() {
			p := voice.NewMockProvider()
			sttProvider = p
			ttsProvider = p
			log.Printf("speech provider: mock (no speech api key)")
		}
	default:
		log.Fatalf("invalid SPEECH_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.SpeechProvider)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	recognizer := voice.NewRecognizer(sttProvider, cfg.EngineStartTimeout, cfg.EngineRetryLimit, cfg.EngineRetryBase, cfg.EngineRetryCap)
	responder := voice.NewResponder(adapter, cfg.GenerationTimeout, cfg.FallbackReplyText)
	synth := voice.NewSynthesizer(ttsProvider, cfg.SpeechTTSModel, cfg.SynthChunkTimeout)

	orchestrator := voice.NewOrchestrator(
		sessions,
		recognizer,
		responder,
		synth,
		turnStore,
		audio.NewConverter(cfg.TargetSampleRate),
		metrics,
		voice.Options{
			IngestQueueSize:   cfg.IngestQueueSize,
			SilenceTimeout:    cfg.SilenceTimeout,
			DefaultVoiceID:    cfg.SpeechTTSVoice,
			DefaultPersonaID:  cfg.TutorPersonaID,
			FallbackReplyText: cfg.FallbackReplyText,
		},
	)

	api := httpapi.New(cfg, sessions, orchestrator, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

func environment() string {
	if env := strings.TrimSpace(os.Getenv("APP_ENV")); env != "" {
		return env
	}
	return "development"
}
