// SalesBot - account research and planning assistant server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/salesbot/internal/agent"
	"github.com/ashureev/salesbot/internal/api"
	"github.com/ashureev/salesbot/internal/config"
	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/health"
	"github.com/ashureev/salesbot/internal/identity"
	"github.com/ashureev/salesbot/internal/intent"
	"github.com/ashureev/salesbot/internal/knowledge"
	"github.com/ashureev/salesbot/internal/llm"
	"github.com/ashureev/salesbot/internal/middleware"
	"github.com/ashureev/salesbot/internal/orchestrator"
	"github.com/ashureev/salesbot/internal/research"
	"github.com/ashureev/salesbot/internal/store"
	"github.com/ashureev/salesbot/internal/voice"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	genaiClient, err := llm.NewClient(ctx, cfg.LLM.APIKey)
	if err != nil {
		slog.Error("Failed to initialize GenAI client", "error", err)
		os.Exit(1)
	}
	generator := llm.NewGenAI(genaiClient, llm.GenAIConfig{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	})

	kb, err := knowledge.NewIndex(repo.DB(), knowledge.NewGenAIEmbedder(genaiClient, cfg.LLM.EmbeddingModel), knowledge.IndexConfig{
		TopK:      cfg.Knowledge.TopK,
		Threshold: cfg.Knowledge.Threshold,
		MaxChars:  cfg.Knowledge.MaxChars,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize knowledge index", "error", err)
		os.Exit(1)
	}

	httpClient := research.NewHTTPClient(cfg.Search.Timeout)
	researcher := research.NewService(
		research.NewTavily(httpClient, cfg.Search.TavilyAPIKey, cfg.Search.TavilyDepth, ""),
		research.NewPerplexity(httpClient, cfg.Search.PerplexityAPIKey, cfg.Search.PerplexityMaxResults, ""),
		kb,
		cfg.Knowledge.MaxChars,
		logger,
	)

	conversationLogger, err := events.NewConversationLogger(events.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	orch := orchestrator.New(orchestrator.Deps{
		Classifier: intent.New(generator, logger),
		Agents: agent.NewTable(agent.Deps{
			Generator: generator,
			Knowledge: kb,
			Research:  researcher,
			Documents: repo,
			Logger:    logger,
		}),
		Store:        repo,
		Generator:    generator,
		Audit:        conversationLogger,
		Logger:       logger,
		HistoryLimit: cfg.HistoryLimit,
		TurnTimeout:  cfg.Timeout.Turn,
	})

	transcriber, synthesizer := voiceBackends(cfg)
	if transcriber == nil {
		slog.Info("Voice disabled (DEEPGRAM_API_KEY not set)")
	}

	handler := api.NewHandler(api.Deps{
		Repo:        repo,
		Turns:       orch,
		Transcriber: transcriber,
		Synthesizer: synthesizer,
		Config:      cfg,
		Logger:      logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	handler.RegisterRoutes(r)

	// Note: SSE and websocket connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	healthSrv := health.NewServer(repo, 15*time.Second, cfg.Timeout.HealthCheck, logger)
	healthDone := make(chan struct{})
	go func() {
		defer close(healthDone)
		if err := healthSrv.Serve(ctx, cfg.GRPCHealthAddr); err != nil {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	<-healthDone

	slog.Info("Server stopped successfully")
}

func voiceBackends(cfg *config.Config) (voice.Transcriber, voice.Synthesizer) {
	if cfg.Voice.DeepgramAPIKey == "" {
		return nil, nil
	}
	transcriber := voice.NewDeepgramTranscriber(voice.DeepgramConfig{
		APIKey:         cfg.Voice.DeepgramAPIKey,
		Model:          cfg.Voice.TranscriptionModel,
		Language:       cfg.Voice.Language,
		UtteranceEndMs: cfg.Voice.UtteranceEndMs,
		Encoding:       cfg.Voice.Encoding,
		SampleRate:     cfg.Voice.SampleRate,
	})

	var synthesizer voice.Synthesizer
	switch cfg.Voice.TTSProvider {
	case "polly":
		synthesizer = voice.NewPollySynthesizer(voice.PollyConfig{
			Region: cfg.Voice.PollyRegion,
			Voice:  cfg.Voice.PollyVoice,
			Engine: cfg.Voice.PollyEngine,
		})
	default:
		synthesizer = voice.NewDeepgramSynthesizer(cfg.Voice.DeepgramAPIKey, cfg.Voice.TTSModel, "", 0)
	}
	slog.Info("Voice enabled", "tts_provider", cfg.Voice.TTSProvider)
	return transcriber, synthesizer
}
