package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/OstapBender-commits/ema-signal-bot/internal/api"
	"github.com/OstapBender-commits/ema-signal-bot/internal/api/handlers"
	"github.com/OstapBender-commits/ema-signal-bot/internal/cache"
	"github.com/OstapBender-commits/ema-signal-bot/internal/config"
	"github.com/OstapBender-commits/ema-signal-bot/internal/database"
	"github.com/OstapBender-commits/ema-signal-bot/internal/logging"
	"github.com/OstapBender-commits/ema-signal-bot/internal/metrics"
	"github.com/OstapBender-commits/ema-signal-bot/internal/services"
	"github.com/OstapBender-commits/ema-signal-bot/internal/signal"
	"github.com/OstapBender-commits/ema-signal-bot/internal/telemetry"
	"github.com/OstapBender-commits/ema-signal-bot/pkg/marketdata"
)

const serviceName = "ema-signal-bot"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal in containers
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	stdLogger, otlpLogger := logging.NewStandardOTLPLogger(logging.OTLPConfig{
		Enabled:        cfg.Telemetry.Enabled && cfg.Telemetry.Logs,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Environment,
		LogLevel:       cfg.LogLevel,
	})
	log := logging.NewLogrus(cfg.LogLevel, cfg.LogFormat)

	if err := telemetry.InitTelemetry(telemetry.FromConfig(cfg.Telemetry, cfg.Environment)); err != nil {
		log.WithError(err).Warn("Tracing disabled")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shutdown telemetry: %v\n", err)
		}
		if otlpLogger != nil {
			_ = otlpLogger.Shutdown(ctx)
		}
	}()

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mc := metrics.NewMetricsCollector(stdLogger, serviceName)
	breakers := services.NewCircuitBreakerManager(services.BreakerConfigFrom(cfg.Sources.CircuitBreaker), log)
	binance := marketdata.NewBinance(cfg.Sources.Binance)
	source, err := buildSource(cfg.Sources, binance, breakers)
	if err != nil {
		return err
	}

	checks := map[string]handlers.HealthChecker{}

	var redisClient *database.RedisClient
	if cfg.Redis.Enabled {
		redisClient, err = database.NewRedisConnection(ctx, cfg.Redis)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, using the file sample store")
			redisClient = nil
		} else {
			defer redisClient.Close()
			checks["redis"] = redisClient
		}
	}

	var (
		repo    *database.SignalRepository
		history services.SignalHistory
	)
	if cfg.Database.Enabled {
		pg, err := database.NewPostgresConnection(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pg.Close()
		checks["database"] = pg

		repo = database.NewSignalRepository(database.NewTracedPool(pg.Pool, otel.GetTracerProvider()))
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		history = repo
	}

	store := newSampleStore(cfg.Cache, redisClient, log)

	bot, err := services.NewTelegramBot(cfg.Telegram)
	if err != nil {
		return err
	}
	notifier := services.NewNotificationService(bot, cfg.Telegram.ChatID, log, mc)

	tracker := signal.NewTracker(cfg.Signal.Cooldown, cfg.Signal.DailyCap, nil)
	evaluator := signal.NewEvaluator(cfg.Signal, tracker, nil)

	warmer := services.NewCacheWarmingService(history, tracker, source, store, marketdata.Request{
		Interval: cfg.Scanner.Interval,
		Limit:    cfg.Scanner.HistoryLimit,
	}, stdLogger.WithComponent("warmup"))
	if err := warmer.WarmCache(ctx, cfg.Scanner.Symbols); err != nil {
		log.WithError(err).Warn("Starting with an empty signal tracker")
	}

	scanner := services.NewScanner(cfg, source, binance, evaluator, notifier, log).
		WithStore(store).
		WithMetrics(mc).
		WithEventLog(stdLogger)
	if cfg.Cache.AuditCSV != "" {
		scanner.WithSinks(cache.NewCSVAuditLog(cfg.Cache.AuditCSV))
	}
	if repo != nil {
		scanner.WithSinks(repo)
	}
	if cfg.Scanner.Stream {
		scanner.WithStream(marketdata.NewTradeStream(cfg.Sources.Stream, log))
	}

	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	if cfg.Reporter.Enabled {
		reporter := services.NewReporter(tracker, scanner, notifier, cfg.Reporter.Interval, log)
		scanner.WithSinks(reporter)
		spawn(reporter.Run)
	}
	spawn(func(ctx context.Context) { _ = scanner.Run(ctx) })
	if cfg.Newcomers.Enabled {
		spawn(services.NewNewcomerScanner(cfg.Newcomers, binance, scanner, notifier, log).Run)
	}
	if cfg.Telegram.KeepAlive {
		spawn(services.NewKeepAlive(notifier, cfg.Telegram.KeepAliveInterval, log).Run)
	}
	if repo != nil {
		spawn(services.NewCleanupService(repo, services.CleanupConfig{
			Retention: cfg.Database.Retention,
			Interval:  cfg.Database.CleanupInterval,
		}, log).Run)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(serviceName, stdLogger, api.Dependencies{
		Health:  handlers.NewHealthHandler(checks, services.NewResourceMonitor(10*time.Second, stdLogger.WithComponent("resources")), cfg.Telemetry.ServiceVersion),
		Status:  handlers.NewStatusHandler(scanner, breakers, history),
		Metrics: mc.Handler(),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		stdLogger.LogStartup(serviceName, cfg.Telemetry.ServiceVersion, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	reason := "signal received"
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.WithError(err).Error("HTTP server failed")
		reason = "http server failed"
		stop()
	}
	stdLogger.LogShutdown(serviceName, reason)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	wg.Wait()
	log.Info("Server exited gracefully")
	return nil
}

// buildSource chains the configured kline sources in order, each behind its
// own circuit breaker.
func buildSource(cfg config.SourcesConfig, binance *marketdata.Binance, breakers *services.CircuitBreakerManager) (*marketdata.Fallback, error) {
	var sources []marketdata.SampleSource
	for _, name := range cfg.Order {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "binance":
			sources = append(sources, binance)
		case "cryptocompare":
			sources = append(sources, marketdata.NewCryptoCompare(cfg.CryptoCompare))
		default:
			return nil, fmt.Errorf("unknown market data source %q", name)
		}
	}
	if len(sources) == 0 {
		return nil, errors.New("no market data sources configured")
	}
	return marketdata.NewFallback(breakers.Guard, sources...), nil
}

// newSampleStore prefers Redis, then the JSON file, and returns nil when
// neither is configured.
func newSampleStore(cfg config.CacheConfig, redisClient *database.RedisClient, log *logrus.Logger) cache.SampleStore {
	if redisClient != nil && redisClient.Client != nil {
		return cache.NewRedisSampleCache(redisClient.Client, cfg.RedisTTL, cfg.KeyPrefix, log)
	}
	if cfg.FilePath != "" {
		return cache.NewFileStore(cfg.FilePath, log)
	}
	return nil
}
