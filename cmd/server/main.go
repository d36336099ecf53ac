package main

import (
	"context"
	"errors"
	"flag"
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
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/fund-ledger/internal/archive"
	"github.com/atmx/fund-ledger/internal/config"
	"github.com/atmx/fund-ledger/internal/engine"
	"github.com/atmx/fund-ledger/internal/fund"
	"github.com/atmx/fund-ledger/internal/lock"
	"github.com/atmx/fund-ledger/internal/metrics"
	"github.com/atmx/fund-ledger/internal/stats"
	"github.com/atmx/fund-ledger/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("fund-ledger exited with error", "err", err)
		os.Exit(1)
	}
	fmt.Println("fund-ledger stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if cfg.Postgres.DSN != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("parse postgres dsn: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Postgres.PoolMaxConns)

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)

		if cfg.Postgres.RunMigrations {
			if err := store.RunMigrations(ctx, pool); err != nil {
				return err
			}
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("postgres dsn not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL.String())
	}

	// --- Recalculation engine ---
	wsHub := fund.NewWSHub()
	opts := []engine.Option{
		engine.WithPublisher(wsHub),
		engine.WithPublishTimeout(cfg.Engine.PublishTimeout.Duration),
	}

	if rdb != nil && cfg.Redis.LockEnabled {
		opts = append(opts, engine.WithDistributedLock(lock.NewRedis(rdb), cfg.Engine.LockTTL.Duration, cfg.Engine.LockWait.Duration))
		slog.Info("distributed fund lock enabled")
	}

	if cfg.S3.Enabled {
		archiver, err := archive.New(ctx, archive.Options{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithPublisher(archiver))
		slog.Info("snapshot archive enabled", "bucket", cfg.S3.Bucket)
	}

	eng := engine.New(st, opts...)
	fundSvc := fund.NewService(st, eng, stats.NewReader(st))

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout.Duration))
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"fund-ledger"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for recalculation events.
		r.Get("/ws", wsHub.HandleWS)

		r.Get("/funds", fundSvc.ListFunds)
		r.Post("/funds", fundSvc.CreateFund)

		r.Route("/funds/{fundID}", func(r chi.Router) {
			r.Get("/", fundSvc.GetFund)
			r.Put("/yield-policy", fundSvc.SetYieldPolicy)
			r.Post("/recalculate", fundSvc.Recalculate)
			r.Get("/holdings", fundSvc.GetHoldings)
			r.Get("/summary", fundSvc.GetSummary)
			r.Get("/summary/pairs", fundSvc.GetPairSummary)

			r.Get("/transactions", fundSvc.ListTransactions)
			r.Post("/transactions", fundSvc.RecordTransaction)
			r.Get("/transactions/{txID}", fundSvc.GetTransaction)
			r.Put("/transactions/{txID}", fundSvc.AmendTransaction)
			r.Delete("/transactions/{txID}", fundSvc.RemoveTransaction)
		})
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return wsHub.Run(gctx)
	})

	if cfg.Engine.ReplayOnStart {
		g.Go(func() error {
			slog.Info("replaying all funds", "concurrency", cfg.Engine.ReplayConcurrency)
			if err := eng.RecalculateAll(gctx, cfg.Engine.ReplayConcurrency); err != nil {
				// A broken fund must not keep the others offline.
				slog.Error("boot replay finished with failures", "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("fund-ledger listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()

		slog.Info("shutting down fund-ledger...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// cors allows the configured origins; "*" allows any.
func cors(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowed["*"] {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
