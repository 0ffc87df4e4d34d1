package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"github.com/holfizz/objection-trainer/internal/catalog"
	appconfig "github.com/holfizz/objection-trainer/internal/config"
	"github.com/holfizz/objection-trainer/internal/dialog"
	"github.com/holfizz/objection-trainer/internal/history"
	"github.com/holfizz/objection-trainer/internal/observability/metrics"
	"github.com/holfizz/objection-trainer/internal/session"
	"github.com/holfizz/objection-trainer/internal/speech"
	"github.com/holfizz/objection-trainer/internal/telegram"
	"github.com/holfizz/objection-trainer/internal/trainer"
	"github.com/holfizz/objection-trainer/internal/users"
	"github.com/holfizz/objection-trainer/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting objection trainer bot", "env", cfg.Env)

	if cfg.TelegramBotToken == "" || cfg.DatabaseURL == "" {
		logger.Error("bot requires TELEGRAM_BOT_TOKEN and DATABASE_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	usersRepo := users.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)
	historyStore := history.NewStore(pool)

	var sessions session.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer func() { _ = redisClient.Close() }()
		sessions = session.NewRedisStore(redisClient, cfg.SessionTTL)
		logger.Info("using redis session store", "addr", cfg.RedisAddr)
	} else {
		memStore := session.NewMemoryStore(cfg.SessionTTL)
		defer memStore.Close()
		sessions = memStore
		logger.Info("using in-memory session store")
	}

	provider, selected, reason := dialog.BuildProvider(dialog.ProviderSelectionConfig{
		Preference:   cfg.DialogProvider,
		CozeAPIKey:   cfg.CozeAPIKey,
		CozeBotID:    cfg.CozeBotID,
		CozeBaseURL:  cfg.CozeBaseURL,
		CozeTimeout:  cfg.CozeTimeout,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		OpenAIModel:  cfg.OpenAIModel,
		Recorder:     historyStore,
		Responses:    historyStore,
	}, logger)
	if provider == nil {
		logger.Error("no dialog provider available", "reason", reason)
		os.Exit(1)
	}
	logger.Info("dialog provider selected", "provider", selected)

	// The analyzer scores answers separately from the dialog reply. When the
	// openai engine already is the provider it scores inline, so a second
	// analyzer would double the calls.
	var analyzerEngine *dialog.Engine
	if selected == dialog.ProviderCoze && cfg.OpenAIAPIKey != "" {
		analyzerEngine = dialog.NewEngine(openai.NewClient(cfg.OpenAIAPIKey), cfg.OpenAIModel, historyStore, logger)
	}

	normalizer := speech.NewNormalizer(cfg.FFmpegPath, cfg.TranscodeTimeout, logger)
	transcriber := speech.NewTranscriber(speech.TranscriberConfig{
		BaseURL: cfg.DeepgramBaseURL,
		APIKey:  cfg.DeepgramAPIKey,
		Timeout: cfg.DeepgramTimeout,
		Logger:  logger,
	})
	synthesizer := speech.NewSynthesizer(speech.SynthesizerConfig{
		BaseURL:      cfg.TTSBaseURL,
		APIKey:       cfg.TTSAPIKey,
		VoiceID:      cfg.TTSVoiceID,
		PollInterval: cfg.TTSPollInterval,
		MaxAttempts:  cfg.TTSMaxAttempts,
		Timeout:      cfg.TTSTimeout,
		Logger:       logger,
	})

	pipelineMetrics := metrics.NewPipelineMetrics(nil)
	pipeline := trainer.NewPipeline(normalizer, transcriber, provider, synthesizer, pipelineMetrics, logger)

	engineCfg := trainer.EngineConfig{
		Sessions: sessions,
		Users:    usersRepo,
		Catalog:  catalogRepo,
		History:  historyStore,
		Provider: provider,
		Pipeline: pipeline,
		Metrics:  pipelineMetrics,
		Logger:   logger,
	}
	if analyzerEngine != nil {
		engineCfg.Analyzer = analyzerEngine
	}
	engine := trainer.NewEngine(engineCfg)

	pollTimeout := time.Duration(cfg.TelegramPollTimeout) * time.Second
	botClient, err := telegram.New(telegram.Config{
		Token:      cfg.TelegramBotToken,
		Timeout:    pollTimeout + 20*time.Second,
		MaxRetries: 2,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create telegram client", "error", err)
		os.Exit(1)
	}
	poller := telegram.NewPoller(botClient, engine, telegram.PollerConfig{
		PollTimeout: pollTimeout,
		Logger:      logger,
	})

	ops := chi.NewRouter()
	ops.Use(middleware.Recoverer)
	ops.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	ops.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	ops.Handle("/metrics", promhttp.Handler())

	opsSrv := &http.Server{
		Addr:         ":" + cfg.OpsPort,
		Handler:      ops,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("ops server listening", "addr", opsSrv.Addr)
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("polling for updates")
	if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("poller stopped", "error", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server forced to shutdown", "error", err)
	}
	logger.Info("stopped")
}
