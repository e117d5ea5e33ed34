package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/betpitch/wallet-engine/internal/api"
	"github.com/betpitch/wallet-engine/internal/bet"
	"github.com/betpitch/wallet-engine/internal/funds"
	"github.com/betpitch/wallet-engine/internal/ledger"
	"github.com/betpitch/wallet-engine/internal/metrics"
	"github.com/betpitch/wallet-engine/internal/payout"
	"github.com/betpitch/wallet-engine/internal/push"
	"github.com/betpitch/wallet-engine/internal/referral"
	"github.com/betpitch/wallet-engine/internal/settle"
	"github.com/betpitch/wallet-engine/internal/stake"
	"github.com/betpitch/wallet-engine/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.InitSchema(context.Background()); err != nil {
			slog.Error("schema init failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hub := push.NewHub()
	go hub.Run()

	// --- Services ---
	refCfg := referral.DefaultConfig()
	if v := os.Getenv("REFERRAL_PROGRAM"); v != "" {
		refCfg.Enabled = v != "off" && v != "false" && v != "0"
	}
	refCfg.SignupBonus = envDecimal("SIGNUP_BONUS", refCfg.SignupBonus)
	refCfg.ReferrerBonus = envDecimal("REFERRER_BONUS", refCfg.ReferrerBonus)
	referrals := referral.NewEngine(st, refCfg, hub)

	fundsCfg := funds.DefaultConfig()
	fundsCfg.MinDeposit = envDecimal("MIN_DEPOSIT", fundsCfg.MinDeposit)
	fundsCfg.MinWithdrawal = envDecimal("MIN_WITHDRAWAL", fundsCfg.MinWithdrawal)
	fundsSvc := funds.NewService(st, fundsCfg, hub)

	tiers := stake.NewTiers(nil, nil)
	policy := payout.Default()
	if os.Getenv("PAYOUT_MODE") == string(payout.ModeProportional) {
		policy.Mode = payout.ModeProportional
	}
	bets := bet.NewService(st, tiers, policy, referrals, hub)

	chunkSize := settle.DefaultChunkSize
	if v := os.Getenv("SETTLE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			chunkSize = n
		}
	}
	settler := settle.NewEngine(st, policy, chunkSize, hub)
	led := ledger.NewService(st)

	srv := api.NewServer(st, bets, fundsSvc, referrals, settler, led)

	// --- HTTP router ---
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
		w.Write([]byte(`{"status":"ok","service":"wallet-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for balance/settlement refresh events.
		r.Get("/ws", hub.HandleWS)
		srv.Routes(r)
	})

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wallet-engine listening", "port", port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down wallet-engine...")
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("wallet-engine stopped")
}

// envDecimal parses a decimal environment variable, keeping the default
// on absence or parse failure.
func envDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Warn("invalid decimal env var, using default", "key", key, "value", v)
		return def
	}
	return d
}
