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
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/atmx/tradesim/internal/catalog"
	"github.com/atmx/tradesim/internal/config"
	"github.com/atmx/tradesim/internal/game"
	"github.com/atmx/tradesim/internal/gateway"
	"github.com/atmx/tradesim/internal/market"
	"github.com/atmx/tradesim/internal/metrics"
	"github.com/atmx/tradesim/internal/store"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "tradesim",
		Short:        "Round-driven trading simulation server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file; environment variables override it")

	serve := newServeCmd(&configPath)
	root.AddCommand(serve, newResetStateCmd(&configPath))
	root.RunE = serve.RunE

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setup(configPath string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	lvl, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openStore picks PostgreSQL (optionally behind Redis) when DATABASE_URL is
// set and the JSON file store otherwise. The returned cleanup closes any
// connections opened.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		logger.Info("using file store", "path", cfg.DataFile)
		return store.NewFileStore(cfg.DataFile), closeAll, nil
	}

	pool, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	cleanup = append(cleanup, pool.Close)
	pg := store.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}
	logger.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		logger.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
	}
	return st, closeAll, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			svc := game.New(ctx, game.Config{
				TotalRounds:  cfg.TotalRounds,
				StartingCash: cfg.StartingCash,
				LotCap:       cfg.LotCap,
				HostSecret:   cfg.HostSecret,
			}, catalog.Default(), market.NewEngine(nil), st, logger)

			// --- WebSocket hub ---
			hub := gateway.NewHub(logger)
			go hub.Run(ctx)
			dispatcher := gateway.NewDispatcher(svc, hub, logger)
			api := gateway.NewAPI(svc, cfg.HostSecret)

			srv := &http.Server{
				Addr:         cfg.Addr(),
				Handler:      newRouter(cfg, hub, dispatcher, api),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				logger.Info("tradesim listening", "port", cfg.Port, "total_rounds", cfg.TotalRounds)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errc <- err
				}
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			logger.Info("shutting down tradesim...")
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown error", "err", err)
			}
			return nil
		},
	}
}

func newRouter(cfg config.Config, hub *gateway.Hub, dispatcher *gateway.Dispatcher, api *gateway.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for browser clients served from another origin.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+gateway.HostSecretHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"tradesim"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", hub.ServeWS(dispatcher))
		api.Routes(r)
	})

	if cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}
	return r
}

func newResetStateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-state",
		Short: "Delete the saved session so the next start begins at round 0",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			st, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := st.Clear(cmd.Context()); err != nil {
				return err
			}
			logger.Info("saved session deleted")
			return nil
		},
	}
}
