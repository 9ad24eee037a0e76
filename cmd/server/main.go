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
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ctrader_gateway/internal/broker"
	"ctrader_gateway/internal/broker/brokerobs"
	"ctrader_gateway/internal/broker/ctrader"
	"ctrader_gateway/internal/broker/simulator"
	"ctrader_gateway/internal/config"
	"ctrader_gateway/internal/database"
	"ctrader_gateway/internal/demo"
	"ctrader_gateway/internal/handlers"
	"ctrader_gateway/internal/logger"
	"ctrader_gateway/internal/mapper"
	"ctrader_gateway/internal/middleware"
	"ctrader_gateway/internal/pool"
	"ctrader_gateway/internal/repository"
	"ctrader_gateway/internal/services"
	"ctrader_gateway/internal/symbols"
	"ctrader_gateway/internal/sync"
	"ctrader_gateway/internal/trace"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

// App holds the application dependencies.
type App struct {
	config    *config.Config
	db        *database.DB
	pool      *pool.Pool
	limiter   *middleware.RateLimiter
	snapshots *sync.Service
	router    *chi.Mux
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "ctrader-gateway",
		Short:        "Pooled cTrader connections behind a broker-neutral HTTP API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	root.AddCommand(newSymbolsCmd(&configPath))
	return root
}

// loadConfig reads .env (when present) and the config file, then installs the logger.
func loadConfig(path string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, nil
}

func serve(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if err := trace.Init(cfg.TracingEnabled, version); err != nil {
		return fmt.Errorf("initialising tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := trace.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "Tracer shutdown failed", "error", err)
		}
	}()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.db.Close()
	defer app.limiter.Close()

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      app.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "Server starting", "address", cfg.Address(), "broker", cfg.Broker, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error { return app.pool.Run(gctx) })
	g.Go(func() error { return app.snapshots.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithErr(shutdownCtx, "Server forced to shutdown", err)
		}
		return app.pool.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info(context.Background(), "Server stopped")
	return nil
}

// newApp opens the store, loads the symbol mapping and builds the pool.
func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info(ctx, "Database migrations completed", "path", cfg.DBPath)

	table, err := symbols.Open(ctx, cfg.SymbolsPath, cfg.SymbolsStrict)
	if err != nil {
		db.Close()
		return nil, err
	}

	enc, err := broker.NewEncryptor(cfg.EncryptionSecret)
	if err != nil {
		db.Close()
		return nil, err
	}

	credentialRepo := repository.NewCredentialRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)

	vault := services.NewCredentialVault(credentialRepo, enc)
	journal := services.NewJournal(tradeRepo)

	var exchange *simulator.Exchange
	var factory broker.Factory
	switch cfg.Broker {
	case config.BrokerCTrader:
		factory = ctrader.NewFactory(ctrader.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Limiter:      rate.NewLimiter(rate.Limit(cfg.VendorRequestRate), int(cfg.VendorRequestRate)+1),
		})
	default:
		exchange = simulator.NewExchange()
		factory = exchange.Factory()
	}

	p := pool.New(brokerobs.WrapFactory(factory), mapper.New(table), pool.Options{
		MaxSessions:   cfg.MaxSessions,
		IdleTimeout:   cfg.IdleTimeout,
		SweepInterval: cfg.SweepInterval,
	}, pool.WithCredentials(vault), pool.WithRecorder(journal))

	if cfg.DemoMode {
		if exchange == nil {
			logger.Warn(ctx, "Demo mode needs the simulator broker, skipping demo seed", "broker", cfg.Broker)
		} else if err := demo.NewSeeder(exchange, table, vault, tradeRepo, snapshotRepo).SeedIfEmpty(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("seeding demo data: %w", err)
		}
	}

	analytics := services.NewAnalytics(tradeRepo, snapshotRepo, p)
	deps := handlers.NewDependencies(p).
		WithDB(db).
		WithVault(vault).
		WithAnalytics(analytics).
		WithDefaultEnvironment(cfg.DefaultEnvironment).
		WithVersion(version)

	app := &App{
		config:    cfg,
		db:        db,
		pool:      p,
		limiter:   middleware.NewRateLimiter(cfg.APIRateLimit, cfg.APIRateBurst),
		snapshots: sync.NewService(p, snapshotRepo, cfg.SnapshotInterval),
	}
	app.setupRouter(deps)
	return app, nil
}
