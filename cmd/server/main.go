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
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/admin"
	"github.com/stockpick/trade-engine/internal/api"
	"github.com/stockpick/trade-engine/internal/config"
	"github.com/stockpick/trade-engine/internal/feed"
	"github.com/stockpick/trade-engine/internal/leaderboard"
	"github.com/stockpick/trade-engine/internal/ledger"
	"github.com/stockpick/trade-engine/internal/logging"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/order"
	"github.com/stockpick/trade-engine/internal/pricecache"
	"github.com/stockpick/trade-engine/internal/season"
	"github.com/stockpick/trade-engine/internal/store"
	"github.com/stockpick/trade-engine/internal/symbols"
	"github.com/stockpick/trade-engine/internal/txlog"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logCloser.Close()
	slog.SetDefault(logger)

	decimal.MarshalJSONWithoutQuotes = true

	if err := run(cfg, logger); err != nil {
		logger.Error("trade-engine failed", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		st = pg
		logger.Info("connected to PostgreSQL")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Season ---
	startingCash, _ := cfg.StartingCash()
	ssn, err := season.Bootstrap(ctx, st, model.Season{
		ID:           cfg.Season.ID,
		Name:         cfg.Season.Name,
		StartingCash: startingCash,
	})
	if err != nil {
		return err
	}
	logger.Info("season active", "season", ssn.ID, "starting_cash", ssn.StartingCash.String())

	// --- Symbols ---
	dir := symbols.NewDirectory(st)
	if err := dir.Load(ctx); err != nil {
		return fmt.Errorf("load symbols: %w", err)
	}

	// --- WebSocket hub ---
	hub := api.NewWSHub(logger)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	// --- Price cache ---
	var backend pricecache.Backend
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		backend = pricecache.NewRedisBackend(rdb)
		logger.Info("Redis price cache enabled")
	} else {
		backend = pricecache.NewMemoryBackend()
	}

	var fetcher pricecache.Fetcher
	if cfg.Feed.QuoteURL != "" {
		fetcher = feed.NewQuoteClient(cfg.Feed.QuoteURL, cfg.Feed.APIKey)
	} else {
		logger.Warn("no quote feed configured, prices come from tick streams only")
	}
	prices := pricecache.New(backend, fetcher, pricecache.Options{
		Freshness:    cfg.Prices.Freshness,
		FetchTimeout: cfg.Prices.FetchTimeout,
		Logger:       logger,
		OnUpdate:     hub.BroadcastQuote,
	})

	// --- Tick streams ---
	if cfg.Feed.NATSURL != "" {
		sub, err := feed.NewNATSSubscriber(cfg.Feed.NATSURL, cfg.Feed.NATSSubject, prices, logger)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, sub.Close)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("nats subscriber stopped", "error", err)
			}
		}()
	}
	if len(cfg.Feed.KafkaBrokers) > 0 {
		consumer, err := feed.NewKafkaConsumer(cfg.Feed.KafkaBrokers, cfg.Feed.KafkaGroup, cfg.Feed.KafkaTopic, prices, logger)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, consumer.Close)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka consumer stopped", "error", err)
			}
		}()
	}

	// --- Ledger, orders, admin ---
	retry := ledger.DefaultRetry()
	retry.MaxAttempts = cfg.Ledger.MaxAttempts
	retry.InitialDelay = cfg.Ledger.InitialDelay
	retry.MaxDelay = cfg.Ledger.MaxDelay
	l := ledger.New(st, ledger.Options{Retry: retry, Logger: logger})

	gate := season.NewGate()
	engine := order.NewEngine(l, st, prices, dir, gate, order.Options{
		Logger: logger,
		OnFill: hub.BroadcastTrade,
	})
	sweeper := order.NewSweeper(engine, ssn.ID, cfg.SweepInterval, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	log := txlog.New(st)
	adminSvc := admin.New(st, l, gate, dir, log, engine, prices, ssn.ID, admin.Options{Logger: logger})

	tokens, err := tokenParser(cfg.Auth)
	if err != nil {
		return err
	}
	if !tokens.Verified() {
		logger.Warn("bearer token signatures are not checked; the gateway must verify them")
	}

	srv := api.NewServer(api.Deps{
		Store:           st,
		Ledger:          l,
		Orders:          engine,
		Prices:          prices,
		Symbols:         dir,
		Leaderboard:     leaderboard.New(st, prices),
		Admin:           adminSvc,
		Log:             log,
		Hub:             hub,
		Season:          ssn,
		Tokens:          tokens,
		AdminGroup:      cfg.AdminGroup,
		LeaderboardSize: cfg.LeaderboardSize,
		Logger:          logger,
	})

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      srv.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("trade-engine listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down trade-engine...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	wg.Wait()
	logger.Info("trade-engine stopped")
	return nil
}

func tokenParser(cfg config.Auth) (*api.TokenParser, error) {
	opts := api.TokenOptions{
		HMACSecret: []byte(cfg.HMACSecret),
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
	}
	if cfg.PublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read auth public key: %w", err)
		}
		opts.PublicKeyPEM = pem
	}
	return api.NewTokenParser(opts)
}
