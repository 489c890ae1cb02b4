package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/aiox-platform/companion/internal/database"
	iredis "github.com/aiox-platform/companion/internal/redis"
	mw "github.com/aiox-platform/companion/internal/middleware"
	inats "github.com/aiox-platform/companion/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Auth handlers
	WalletLogin http.HandlerFunc
	Logout      http.HandlerFunc
	Profile     http.HandlerFunc

	// Token handlers
	Balance      http.HandlerFunc
	Transactions http.HandlerFunc
	DailyReward  http.HandlerFunc
	Deposit      http.HandlerFunc
	Withdraw     http.HandlerFunc

	// Persona handlers
	ListPersonas  http.HandlerFunc
	SelectPersona http.HandlerFunc

	// Chat handlers
	Chat         http.HandlerFunc
	ChatHistory  http.HandlerFunc
	ListMemories http.HandlerFunc

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	AuthRateLimiter    func(http.Handler) http.Handler
}

// Dependencies are the backing services probed by the readiness check.
type Dependencies struct {
	DB    *pgxpool.Pool
	Redis redis.Cmdable
	NATS  *inats.Client
}

func NewRouter(deps Dependencies, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"redis":    "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK
		degrade := func(component, state string) {
			health[component] = state
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if err := database.HealthCheck(r.Context(), deps.DB); err != nil {
			degrade("database", "unhealthy")
		}

		if deps.Redis == nil {
			health["redis"] = "not configured"
		} else if err := iredis.HealthCheck(r.Context(), deps.Redis); err != nil {
			degrade("redis", "unhealthy")
		}

		if deps.NATS == nil {
			health["nats"] = "not configured"
		} else if !deps.NATS.Healthy() {
			degrade("nats", "unhealthy")
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes (public), optionally rate-limited
		r.Route("/auth", func(r chi.Router) {
			if cfg.AuthRateLimiter != nil {
				r.Use(cfg.AuthRateLimiter)
			}
			r.Post("/wallet-login", h.WalletLogin)

			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)
				r.Post("/logout", h.Logout)
			})
		})

		r.Get("/personas", h.ListPersonas)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Route("/user", func(r chi.Router) {
				r.Get("/profile", h.Profile)
				r.Post("/select-persona", h.SelectPersona)
			})

			r.Route("/token", func(r chi.Router) {
				r.Get("/balance", h.Balance)
				r.Get("/transactions", h.Transactions)
				r.Post("/daily-reward", h.DailyReward)
				r.Post("/deposit", h.Deposit)
				r.Post("/withdraw", h.Withdraw)
			})

			r.Route("/chat", func(r chi.Router) {
				r.Post("/", h.Chat)
				r.Get("/history", h.ChatHistory)
			})

			r.Get("/memories", h.ListMemories)
		})
	})

	return r
}
