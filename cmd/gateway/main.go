package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/Fender1992/cachegpt/config"
	"github.com/Fender1992/cachegpt/internal/admission"
	"github.com/Fender1992/cachegpt/internal/auth"
	"github.com/Fender1992/cachegpt/internal/billing"
	"github.com/Fender1992/cachegpt/internal/cache"
	"github.com/Fender1992/cachegpt/internal/embedding"
	"github.com/Fender1992/cachegpt/internal/plan"
	"github.com/Fender1992/cachegpt/internal/provider"
	"github.com/Fender1992/cachegpt/internal/provider/anthropic"
	"github.com/Fender1992/cachegpt/internal/provider/openai"
	"github.com/Fender1992/cachegpt/internal/proxy"
	"github.com/Fender1992/cachegpt/internal/seeder"
	"github.com/Fender1992/cachegpt/internal/telemetry"
	"github.com/Fender1992/cachegpt/internal/usage"
	"github.com/Fender1992/cachegpt/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("cachegpt", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 6. Init plans and usage accounting
	planStore := plan.NewPostgresStore(pool)
	policy := plan.NewPolicy(planStore)

	usageStore := usage.NewPostgresStore(pool)
	accountant := usage.NewAccountant(usageStore, 1024)
	defer accountant.Close()

	// 7. Init admission pipeline: quota, then rate, then feature
	limiter := ratelimit.NewLimiter(rdb)
	admitter := admission.NewAdmitter(policy,
		admission.NewQuotaStage(usageStore),
		admission.NewRateStage(limiter),
		admission.NewFeatureStage(),
	)

	// 8. Init two-tier cache
	embedder := embedding.NewOpenAIClient(cfg.OpenAIAPIKey)
	cacheStore := cache.NewPostgresStore(pool)
	lookup := cache.NewLookup(cacheStore, embedder, cfg.SimilarityThreshold, cfg.SemanticTopK, cfg.CacheTTL)

	// 9. Init providers and dispatcher
	providers := []provider.Provider{
		openai.New(cfg.OpenAIAPIKey),
		anthropic.New(cfg.AnthropicAPIKey),
	}
	dispatcher := proxy.NewDispatcher(providers)

	// 10. Init handlers
	tracer := otel.GetTracerProvider().Tracer("cachegpt")
	handler := proxy.NewHandler(dispatcher, admitter, lookup, accountant, usageStore, cfg.PipelineTimeout, tracer)
	subscriptions := proxy.NewSubscriptionHandler(policy, billing.NewMockProvider(), usageStore)

	// 11. Seed test credentials if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore)
		seeder.SeedTestSubscription(ctx, planStore)
	}

	// 12. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"cachegpt"}`))
	})
	r.Get("/v1/plans", subscriptions.HandlePlans)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/chat/completions", handler.HandleChatCompletion)
		r.Get("/v1/stats", handler.HandleStats)
		r.Get("/v1/usage", handler.HandleUsageHistory)
		r.Get("/v1/subscription", subscriptions.HandleGetSubscription)
		r.Post("/v1/subscription/upgrade", subscriptions.HandleUpgrade)
		r.Post("/v1/subscription/cancel", subscriptions.HandleCancel)
	})

	// 13. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("CacheGPT gateway starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
