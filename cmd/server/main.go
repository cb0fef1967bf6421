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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pairwage/wager-engine/internal/ledger"
	"github.com/pairwage/wager-engine/internal/locks"
	"github.com/pairwage/wager-engine/internal/metrics"
	"github.com/pairwage/wager-engine/internal/store"
	"github.com/pairwage/wager-engine/internal/wager"
)

type config struct {
	port        string
	databaseURL string
	redisURL    string
	cacheTTL    time.Duration
}

func loadConfig() config {
	cfg := config{
		port:        os.Getenv("PORT"),
		databaseURL: os.Getenv("DATABASE_URL"),
		redisURL:    os.Getenv("REDIS_URL"),
		cacheTTL:    30 * time.Second,
	}
	if cfg.port == "" {
		cfg.port = "8080"
	}
	return cfg
}

// newStore builds the storage stack: PostgreSQL wrapped in an optional Redis
// read-through cache, or the in-memory store when no database is configured.
func newStore(ctx context.Context, cfg config) (store.Store, func(), error) {
	if cfg.databaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.databaseURL)
	if err != nil {
		return nil, nil, err
	}
	var st store.Store = store.NewPostgresStore(pool)
	cleanup := pool.Close
	slog.Info("connected to PostgreSQL")

	if cfg.redisURL != "" {
		opt, err := redis.ParseURL(cfg.redisURL)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		rdb := redis.NewClient(opt)
		st = store.NewCachedStore(st, rdb, cfg.cacheTTL)
		cleanup = func() {
			rdb.Close()
			pool.Close()
		}
		slog.Info("Redis cache enabled")
	}
	return st, cleanup, nil
}

func newRouter(svc *wager.Service, wsHub *wager.WSHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wager-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feed of fills and settlements; ?event_id= narrows it.
		r.Get("/ws", wsHub.HandleWS)

		// Event catalog surface.
		r.Get("/events", svc.ListEvents)
		r.Post("/events", svc.CreateEvent)
		r.Get("/events/{eventID}", svc.GetEvent)
		r.Post("/events/{eventID}/lock", svc.LockEvent)
		r.Post("/events/{eventID}/settle", svc.SettleEvent)
		r.Get("/events/{eventID}/book", svc.GetEventBook)
		r.Get("/events/{eventID}/fills", svc.ListEventFills)

		// Wagers.
		r.Post("/wagers", svc.PlaceWager)
		r.Get("/wagers/{wagerID}", svc.GetWager)
		r.Post("/wagers/{wagerID}/cancel", svc.CancelWager)
		r.Get("/users/{userID}/wagers", svc.ListUserWagers)

		// Wallets.
		r.Get("/wallets/{userID}", svc.GetWallet)
		r.Post("/wallets/{userID}/deposit", svc.Deposit)
		r.Post("/wallets/{userID}/withdraw", svc.Withdraw)
		r.Get("/wallets/{userID}/transactions", svc.ListTransactions)
	})
	return r
}

func run() error {
	cfg := loadConfig()

	st, cleanup, err := newStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	eventLocks := locks.NewKeyedMutex()
	lgr := ledger.New(st)

	wsHub := wager.NewWSHub()
	go wsHub.Run()

	svc := wager.NewService(st, lgr, eventLocks, wsHub)

	srv := &http.Server{
		Addr:         ":" + cfg.port,
		Handler:      newRouter(svc, wsHub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("wager-engine listening", "port", cfg.port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("wager-engine failed", "err", err)
		os.Exit(1)
	}
}
