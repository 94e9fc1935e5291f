// Package main is the entry point for the dispatch server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chatflow-io/chatflow/internal/config"
	"github.com/chatflow-io/chatflow/internal/engine"
	"github.com/chatflow-io/chatflow/internal/handler"
	"github.com/chatflow-io/chatflow/internal/handoff"
	"github.com/chatflow-io/chatflow/internal/llm"
	"github.com/chatflow-io/chatflow/internal/middleware"
	natsclient "github.com/chatflow-io/chatflow/internal/nats"
	"github.com/chatflow-io/chatflow/internal/store"
	"github.com/chatflow-io/chatflow/internal/whatsapp"
	"github.com/chatflow-io/chatflow/pkg/logger"
	"github.com/chatflow-io/chatflow/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting dispatch server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chatflow", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	if err := store.Migrate(cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
		log.Error("migrations failed", zap.Error(err))
		os.Exit(1)
	}

	st, err := store.New(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Error("failed to connect to postgres", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	// The audit stream is best effort: the relational store is the source
	// of truth, so a NATS outage degrades rather than aborts.
	var natsClient *natsclient.Client
	var auditStream *natsclient.StreamManager
	natsClient, err = natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Warn("NATS unavailable, audit stream disabled", zap.Error(err))
		natsClient = nil
	} else {
		defer natsClient.Close()
		auditStream = natsclient.NewStreamManager(natsClient)
		if err := auditStream.EnsureStream(ctx); err != nil {
			log.Warn("failed to ensure audit stream", zap.Error(err))
			auditStream = nil
		}
	}

	var llmClient llm.Client
	switch {
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	}
	if err != nil {
		log.Warn("failed to create LLM client, handoff replies will use fallback", zap.Error(err))
		llmClient = nil
	}

	sender := whatsapp.New(cfg.WhatsAppToken, cfg.WhatsAppPhoneID, cfg.SendTimeout, log)

	var audit engine.AuditPublisher
	if auditStream != nil {
		audit = auditStream
	}
	eng := engine.New(engine.Config{
		InitialStep:    cfg.InitialStep,
		HandoffStep:    cfg.HandoffStep,
		SessionTimeout: cfg.SessionTimeout,
		FallbackText:   cfg.FallbackText,
		RestartText:    cfg.RestartReplyText,
	}, st, st, st, st, sender, audit, log)
	eng.SetCommandRegistry(engine.DefaultCommands(eng))

	if err := st.SetAIEnabled(ctx, cfg.AIEnabled); err != nil {
		log.Warn("failed to seed ai settings", zap.Error(err))
	}

	worker := handoff.NewWorker(st, st, st, eng, llmClient, handoff.Config{
		PollInterval: cfg.AIPollInterval,
		BatchSize:    cfg.AIBatchSize,
		Lease:        cfg.ClaimLease,
		InitialStep:  cfg.InitialStep,
		FallbackText: cfg.AIFallbackText,
		Model:        cfg.AIModel,
	}, log)

	reaper := engine.NewReaper(st, cfg.InitialStep, cfg.SessionTimeout, log)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every "+cfg.ReaperInterval.String(), func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := reaper.RunOnce(runCtx); err != nil {
			log.Error("reaper run failed", zap.Error(err))
		}
	}); err != nil {
		log.Error("failed to schedule reaper", zap.Error(err))
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	healthHandler := handler.NewHealthHandler(st, natsClient)
	webhookHandler := handler.NewWebhookHandler(eng, cfg.VerifyToken, log)
	apiHandler := handler.NewAPIHandler(eng, st, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webhook", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Get("/", webhookHandler.Verify)
		r.Post("/", webhookHandler.Receive)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.SubjectRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/resolve", apiHandler.Resolve)
		r.Post("/transcripts", apiHandler.InjectTranscript)
		r.Get("/ai", apiHandler.GetAISettings)
		r.Put("/ai", apiHandler.UpdateAISettings)
		r.Route("/conversations/{sender}", func(r chi.Router) {
			r.Get("/", apiHandler.GetConversation)
			r.Get("/messages", apiHandler.GetMessages)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := worker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}
