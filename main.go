package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/grisha2077/vortex-trader-pro/internal/api"
	"github.com/grisha2077/vortex-trader-pro/internal/connectivity"
	"github.com/grisha2077/vortex-trader-pro/internal/engine"
	"github.com/grisha2077/vortex-trader-pro/internal/events"
	"github.com/grisha2077/vortex-trader-pro/internal/monitor"
	"github.com/grisha2077/vortex-trader-pro/internal/order"
	"github.com/grisha2077/vortex-trader-pro/internal/persistence"
	"github.com/grisha2077/vortex-trader-pro/internal/state"
	"github.com/grisha2077/vortex-trader-pro/pkg/config"
	"github.com/grisha2077/vortex-trader-pro/pkg/db"
	futures "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/binance/futures_usdt"
	exchange "github.com/grisha2077/vortex-trader-pro/pkg/exchanges/common"
	"github.com/grisha2077/vortex-trader-pro/pkg/logging"
	market "github.com/grisha2077/vortex-trader-pro/pkg/market/binance"
)

const (
	buildVersion = "0.4.0"
	venueName    = "binance-usdtfut"
)

func main() {
	issueToken := flag.String("issue-token", "", "print an API token for the named operator and exit")
	tokenTTL := flag.Duration("token-ttl", 72*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		token, expiresAt, err := api.IssueToken(*issueToken, cfg.JWTSecret, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s\n# expires %s\n", token, expiresAt.UTC().Format(time.RFC3339))
		return
	}

	logger := logging.New(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("trading core stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting trading core",
		zap.String("version", buildVersion),
		zap.Bool("testnet", cfg.BinanceTestnet),
		zap.String("db", cfg.DBPath))

	// Journal
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	metrics := monitor.NewMetrics()
	journal := persistence.NewJournal(database, 500*time.Millisecond, logger)
	journal.OnFlush(metrics.JournalFlushed)
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Warn("journal flush failed", zap.Error(err))
		}
		if sum, err := journal.Summary(context.Background()); err == nil {
			logger.Info("journal closed",
				zap.Int("trades", sum.Count),
				zap.Float64("total_pnl", sum.TotalPnL),
				zap.Uint64("batches", sum.Writer.Batches),
				zap.Uint64("replays", sum.Writer.Replays))
		}
	}()

	bus := events.NewBus()
	(&monitor.Monitor{Bus: bus, Metrics: metrics, Log: logger.Named("monitor")}).Start(ctx)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, event fan-out disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			go events.NewRedisSink(rdb, cfg.RedisChannel, logger).Run(ctx, bus)
		}
	}

	// Venue
	es := cfg.Engine
	limiter := exchange.NewRateLimiter(logger,
		exchange.NewRateBucket(exchange.ClassOrder, es.OrderLimit, es.OrderWindow),
		exchange.NewRateBucket(exchange.ClassRequest, es.RequestLimit, es.RequestWindow),
	)
	limiter.OnWait(func(class exchange.CallClass, _ time.Duration) {
		metrics.RateLimitWait(string(class))
	})
	client := futures.NewClient(futures.Config{
		APIKey:    cfg.BinanceUSDTKey,
		APISecret: cfg.BinanceUSDTSecret,
		Testnet:   cfg.BinanceTestnet,
	}, limiter, logger)
	client.Clock().Start(ctx, 30*time.Minute)

	streams := connectivity.NewManager(client, client,
		connectivity.WebsocketDialer{Client: market.NewStreamClient(cfg.BinanceTestnet)},
		limiter,
		connectivity.Config{
			GroupSize:            es.GroupSize,
			ReconnectBaseDelay:   es.ReconnectBaseDelay,
			ReconnectMaxAttempts: es.ReconnectMaxAttempts,
			PingInterval:         es.PingInterval,
		}, logger)
	streams.Metrics = metrics

	ledger := state.NewManager(state.Config{
		HistoryLimit: es.HistoryLimit,
		Cooldown:     es.Cooldown,
		MaxErrors:    es.MaxErrors,
	}, logger)

	executor := order.NewExecutor(client, streams, order.NewInstrumentCache(), ledger, logger)
	executor.Journal = journal
	executor.Metrics = metrics

	svc := engine.NewImpl(engine.Config{
		Gateway:  client,
		Streams:  streams,
		Executor: executor,
		Ledger:   ledger,
		Bus:      bus,
		Journal:  journal,
		Klines:   client,
		Metrics:  metrics,
		Settings: es,
		Log:      logger,
		Meta: engine.SystemStatus{
			Testnet: cfg.BinanceTestnet,
			Venue:   venueName,
			Symbols: cfg.BinanceSymbols,
			Version: buildVersion,
		},
	})

	// API
	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(bus, svc, metrics, cfg.JWTSecret, logger)
	defer server.Close()
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if cfg.AutoStart {
		if err := autoStart(ctx, cfg, svc, logger); err != nil {
			logger.Error("auto start failed", zap.Error(err))
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		logger.Error("api server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.StopTrading(shutdownCtx); err != nil {
		logger.Warn("stop trading", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	streams.Close()
	return nil
}

// autoStart begins a session from TRADING_PROFILE, falling back to the
// environment symbol list when no profile symbols are set.
func autoStart(ctx context.Context, cfg *config.Config, svc engine.Service, logger *zap.Logger) error {
	if cfg.TradingProfile == "" {
		return errors.New("AUTO_START requires TRADING_PROFILE")
	}
	profile, err := config.LoadTradingProfile(cfg.TradingProfile)
	if err != nil {
		return err
	}
	if len(profile.Symbols) == 0 {
		profile.Symbols = cfg.BinanceSymbols
	}
	logger.Info("auto starting trading",
		zap.String("profile", cfg.TradingProfile),
		zap.Strings("symbols", profile.Symbols))
	return svc.StartTrading(ctx, profile)
}
