package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tradedesk/portfolio-engine/internal/api"
	"github.com/tradedesk/portfolio-engine/internal/config"
	"github.com/tradedesk/portfolio-engine/internal/events"
	"github.com/tradedesk/portfolio-engine/internal/logger"
	"github.com/tradedesk/portfolio-engine/internal/metrics"
	"github.com/tradedesk/portfolio-engine/internal/portfolio"
	"github.com/tradedesk/portfolio-engine/internal/quote"
	"github.com/tradedesk/portfolio-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Init("portfolio-engine", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

	case cfg.MongoURL != "":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURL))
		if err != nil {
			slog.Error("mongo connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Disconnect(dctx)
		})
		ms := store.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := ms.EnsureIndexes(ctx); err != nil {
			slog.Error("mongo index setup failed", "err", err)
			os.Exit(1)
		}
		st = ms
		slog.Info("connected to MongoDB", "database", cfg.MongoDatabase)

	default:
		slog.Warn("DATABASE_URL and MONGO_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.RedisTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.RedisTTL.String())
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Order events ---
	var pub events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		cleanup = append(cleanup, func() { kp.Close() })
		pub = kp
		slog.Info("Kafka publishing enabled", "topic", cfg.KafkaTopic)
	}

	// --- Quotes ---
	breaker := quote.NewBreaker(quote.BreakerConfig{
		MaxFailures:  cfg.QuoteBreakerFailures,
		ResetTimeout: cfg.QuoteBreakerReset,
		OnStateChange: func(from, to gobreaker.State) {
			slog.Warn("quote provider breaker", "from", from.String(), "to", to.String())
		},
	})
	provider := quote.NewYahooClient(quote.YahooConfig{
		BaseURL:        cfg.QuoteBaseURL,
		UserAgent:      cfg.QuoteUserAgent,
		Timeout:        cfg.QuoteTimeout,
		ExchangeSuffix: cfg.QuoteExchangeSuffix,
		Breaker:        breaker,
	})
	quotes := quote.NewCache(provider, quote.CacheConfig{
		Window: cfg.QuoteCacheWindow,
		Delay:  cfg.QuoteRequestDelay,
	})

	// --- WebSocket hub ---
	wsHub := api.NewWSHub(cfg.CORSOrigins)
	go wsHub.Run()
	defer wsHub.Stop()

	// --- Portfolio service ---
	svc := portfolio.NewService(st, quotes, pub, wsHub)
	go portfolio.NewRefresher(svc, cfg.RefreshInterval).Run(ctx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(api.CORS(cfg.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"portfolio-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", api.NewHandler(svc, wsHub).Routes)

	// --- Server ---
	// No WriteTimeout: a refresh quotes each symbol sequentially with a
	// delay, and /ws connections are long-lived.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("portfolio-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down portfolio-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("portfolio-engine stopped")
}
