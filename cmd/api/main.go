package main

import (
	"context"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/aiox-platform/companion/internal/api"
	"github.com/aiox-platform/companion/internal/auth"
	"github.com/aiox-platform/companion/internal/chain"
	"github.com/aiox-platform/companion/internal/chat"
	"github.com/aiox-platform/companion/internal/config"
	"github.com/aiox-platform/companion/internal/database"
	"github.com/aiox-platform/companion/internal/deposit"
	"github.com/aiox-platform/companion/internal/engagement"
	"github.com/aiox-platform/companion/internal/jobs"
	"github.com/aiox-platform/companion/internal/ledger"
	"github.com/aiox-platform/companion/internal/llm"
	"github.com/aiox-platform/companion/internal/memory"
	mw "github.com/aiox-platform/companion/internal/middleware"
	inats "github.com/aiox-platform/companion/internal/nats"
	"github.com/aiox-platform/companion/internal/personas"
	"github.com/aiox-platform/companion/internal/ratelimit"
	iredis "github.com/aiox-platform/companion/internal/redis"
	"github.com/aiox-platform/companion/internal/relationship"
	"github.com/aiox-platform/companion/internal/server"
	"github.com/aiox-platform/companion/internal/summary"
	"github.com/aiox-platform/companion/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (optional: without it real-time pushes are skipped)
	var (
		natsClient *inats.Client
		notifier   *inats.Publisher
	)
	natsClient, err = inats.NewClient(ctx, cfg.NATS)
	if err != nil {
		slog.Warn("NATS unavailable, real-time events disabled", "error", err)
	} else {
		defer natsClient.Close()
		notifier = inats.NewPublisher(natsClient.JetStream())
	}

	// Domain services
	userSvc := users.NewService(users.NewRepository(pool))
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), ledger.Config{
		StartingGrant: cfg.Ledger.StartingGrant,
		DailyReward:   cfg.Ledger.DailyReward,
	})
	personaSvc := personas.NewService(personas.NewRepository(pool))
	relationshipSvc := relationship.NewService(relationship.NewRepository(pool))
	memorySvc := memory.NewService(
		memory.NewPostgresRepository(pool),
		memory.NewShortTermStore(redisClient, cfg.Chat.ContextMessages+1, 24*time.Hour),
	)
	llmClient := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxAttempts: cfg.LLM.MaxAttempts,
		RPS:         cfg.LLM.RPS,
		Timeout:     cfg.LLM.Timeout,
	})

	// Background jobs
	summaryCfg := summary.Config{
		Delay:       cfg.Summary.Delay,
		MaxAttempts: cfg.Summary.MaxAttempts,
		Backoff:     cfg.Summary.Backoff,
		Window:      cfg.Summary.Window,
		MinMessages: cfg.Summary.MinMessages,
	}
	summaryQueue := jobs.NewQueue(redisClient, summary.QueueName)
	summaryWorker := jobs.NewWorker(summaryQueue, jobs.WorkerOptions{Concurrency: cfg.Summary.Concurrency})
	summaryWorker.Handle(summary.JobName, summary.NewHandler(memorySvc, llmClient, summaryCfg).Handle)

	engagementQueue := jobs.NewQueue(redisClient, engagement.QueueName)
	engagementWorker := jobs.NewWorker(engagementQueue, jobs.WorkerOptions{Concurrency: 1})
	routine, err := engagement.NewRoutine(relationshipSvc, memorySvc, llmClient, publisherOrNil(notifier), redisClient, engagement.Config{
		DefaultTimezone: cfg.Engagement.DefaultTimezone,
		Lookback:        cfg.Engagement.Lookback,
		QuietPeriod:     cfg.Engagement.QuietPeriod,
		MarkerTTL:       cfg.Engagement.MarkerTTL,
	})
	if err != nil {
		slog.Error("creating engagement routine", "error", err)
		os.Exit(1)
	}
	engagementWorker.Handle(engagement.JobName, routine.Handle)
	if err := engagement.NewScheduler(engagementQueue, cfg.Engagement.Schedule).Init(ctx); err != nil {
		slog.Error("initializing engagement schedule", "error", err)
		os.Exit(1)
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	summaryWorker.Start(workerCtx)
	engagementWorker.Start(workerCtx)

	// Chat
	background := chat.NewDispatcher(30 * time.Second)
	orchestrator := chat.NewOrchestrator(chat.Deps{
		Limiter:       ratelimit.New(redisClient, "rate:chat:", cfg.RateLimit.ChatMax, cfg.RateLimit.ChatWindow),
		Personas:      personaSvc,
		Ledger:        ledgerSvc,
		Conversations: memorySvc,
		Relationships: relationshipSvc,
		Users:         userSvc,
		LLM:           llmClient,
		Summaries:     summary.NewScheduler(summaryQueue, summaryCfg),
		Background:    background,
	}, chat.Config{Cost: cfg.Chat.Cost, ContextMessages: cfg.Chat.ContextMessages})

	// Handlers
	authSvc := auth.NewService(auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry), redisClient, userSvc, ledgerSvc)
	authHandler := auth.NewHandler(authSvc)
	profileHandler := auth.NewProfileHandler(userSvc, ledgerSvc, relationshipSvc)
	ledgerHandler := ledger.NewHandler(ledgerSvc, publisherOrNil(notifier))
	depositHandler := deposit.NewHandler(
		deposit.NewVerifier(ledgerSvc, chain.NewClient(cfg.Chain.RPCURL, 15*time.Second), deposit.Config{
			TreasuryAddress: cfg.Chain.TreasuryAddress,
			Tolerance:       cfg.Chain.Tolerance,
			ExchangeRate:    cfg.Ledger.ExchangeRate,
		}),
		ledgerSvc,
		publisherOrNil(notifier),
	)
	personaHandler := personas.NewHandler(personaSvc)
	chatHandler := chat.NewHandler(orchestrator, cfg.Chat.MaxMessageLen)
	memoryHandler := memory.NewHandler(memorySvc)

	authLimiter := ratelimit.New(redisClient, "rate:auth:", cfg.RateLimit.AuthMax, cfg.RateLimit.AuthWindow)

	// Router
	router := api.NewRouter(
		api.Dependencies{DB: pool, Redis: redisClient, NATS: natsClient},
		api.RouterConfig{
			CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
			AuthRateLimiter:    mw.RateLimit(authLimiter),
		},
		api.HandlerSet{
			WalletLogin: authHandler.WalletLogin,
			Logout:      authHandler.Logout,
			Profile:     profileHandler.Profile,

			Balance:      ledgerHandler.Balance,
			Transactions: ledgerHandler.Transactions,
			DailyReward:  ledgerHandler.DailyReward,
			Deposit:      depositHandler.Deposit,
			Withdraw:     depositHandler.Withdraw,

			ListPersonas:  personaHandler.List,
			SelectPersona: personaHandler.Select,

			Chat:         chatHandler.Send,
			ChatHistory:  memoryHandler.History,
			ListMemories: memoryHandler.List,

			AuthMiddleware: auth.Middleware(authSvc),
		},
	)

	// Start server; returns after SIGINT/SIGTERM and HTTP drain
	srv := server.New(cfg.Server, router)
	serveErr := srv.Start()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := background.Close(shutdownCtx); err != nil {
		slog.Warn("background tasks still running at shutdown", "error", err)
	}
	for _, w := range []*jobs.Worker{summaryWorker, engagementWorker} {
		if err := w.Stop(shutdownCtx); err != nil {
			slog.Warn("stopping worker", "error", err)
		}
	}
	summaryQueue.Close()
	engagementQueue.Close()

	if serveErr != nil {
		slog.Error("server error", "error", serveErr)
		os.Exit(1)
	}
}

// publisherOrNil keeps a nil *Publisher from becoming a non-nil interface.
func publisherOrNil(p *inats.Publisher) ledger.Notifier {
	if p == nil {
		return nil
	}
	return p
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
