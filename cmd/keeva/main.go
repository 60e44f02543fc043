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

	"github.com/ent0n29/keeva/internal/brain"
	"github.com/ent0n29/keeva/internal/config"
	"github.com/ent0n29/keeva/internal/httpapi"
	"github.com/ent0n29/keeva/internal/observability"
	"github.com/ent0n29/keeva/internal/session"
	"github.com/ent0n29/keeva/internal/store"
	"github.com/ent0n29/keeva/internal/summary"
	"github.com/ent0n29/keeva/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	messages, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("message store init failed: %v", err)
	}
	defer messages.Close()

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:          cfg.BrainMode,
		HTTPURL:       cfg.BrainHTTPURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModelID: cfg.GeminiModelID,
	})
	if err != nil {
		log.Fatalf("brain adapter init failed: %v", err)
	}

	var (
		recognizer voice.Recognizer
		synth      voice.Synthesizer
	)

	speechMode := strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	if speechMode == "" {
		speechMode = "auto"
	}

	tryElevenLabs := func() bool {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return false
		}
		p := voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:      cfg.ElevenLabsAPIKey,
			WSBaseURL:   cfg.ElevenLabsWSBaseURL,
			HTTPBaseURL: cfg.ElevenLabsAPIURL,
			STTModelID:  cfg.ElevenLabsSTTModel,
			Locale:      cfg.RecognitionLocale,
			TTSVoiceID:  cfg.ElevenLabsTTSVoice,
			TTSModelID:  cfg.ElevenLabsTTSModel,
		})
		// Mock speech keeps a session alive if ElevenLabs starts failing.
		recognizer, synth = voice.NewFailoverProviderPair(p, p, voice.NewMockProvider(), voice.NewMockProvider())
		log.Printf("speech provider: elevenlabs with mock fallback")
		return true
	}

	switch speechMode {
	case "elevenlabs":
		if !tryElevenLabs() {
			log.Fatalf("SPEECH_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
	case "mock":
		mock := voice.NewMockProvider()
		recognizer, synth = mock, mock
		log.Printf("speech provider: mock")
	case "auto":
		if !tryElevenLabs() {
			mock := voice.NewMockProvider()
			recognizer, synth = mock, mock
			log.Printf("speech provider: mock (no elevenlabs key)")
		}
	default:
		log.Fatalf("invalid SPEECH_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.SpeechProvider)
	}

	registry := session.NewRegistry(cfg.SessionInactivityTimeout)
	compressor := summary.NewCompressor(adapter, cfg.SummaryWordBudget)

	orchestrator := voice.NewOrchestrator(
		voice.Config{
			VoiceThreshold:    cfg.VoiceThreshold,
			SilenceTimeout:    cfg.SilenceTimeout,
			PotentialSentence: cfg.PotentialSentenceWin,
			HotStateWindow:    cfg.HotStateWindow,
			FinalGraceWindow:  cfg.FinalGraceWindow,
			InterItemGap:      cfg.InterItemGap,
			RetryBackoffBase:  cfg.RetryBackoffBase,
			RetryMaxAttempts:  cfg.RetryMaxAttempts,
			ContextLoadLimit:  cfg.ContextLoadLimit,
		},
		registry,
		adapter,
		messages,
		compressor,
		synth,
		metrics,
	)
	if err := orchestrator.InitializeSystem(ctx); err != nil {
		log.Fatalf("orchestrator init failed: %v", err)
	}
	registry.SetExpireHook(orchestrator.HandleExpiry)
	registry.SetPurgeHook(orchestrator.ForgetSession)

	api := httpapi.New(cfg, registry, orchestrator, recognizer, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartJanitor(runCtx, 5*time.Second)

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
