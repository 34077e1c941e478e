package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cimillas/ticket-ledger/internal/app"
	"github.com/cimillas/ticket-ledger/internal/auth"
	"github.com/cimillas/ticket-ledger/internal/clock"
	"github.com/cimillas/ticket-ledger/internal/config"
	"github.com/cimillas/ticket-ledger/internal/logger"
	"github.com/cimillas/ticket-ledger/internal/metrics"
	"github.com/cimillas/ticket-ledger/internal/notify"
	"github.com/cimillas/ticket-ledger/internal/storage/memory"
	"github.com/cimillas/ticket-ledger/internal/storage/postgres"
	"github.com/cimillas/ticket-ledger/internal/telemetry"
	transporthttp "github.com/cimillas/ticket-ledger/internal/transport/http"
	"github.com/cimillas/ticket-ledger/migrations"
)

const startupTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.App.Environment, cfg.App.Name, cfg.App.Version)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("ledger stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	if cfg.EnvFile != "" {
		zl.Info("loaded env file", zap.String("path", cfg.EnvFile))
	}
	if cfg.App.Environment == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	tp, err := telemetry.Init(startupCtx, telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	clk := clock.NewSystem()

	catalogRepo, ledgerRepo, closeStore, err := openStore(startupCtx, cfg.Store, cfg.OTel.Enabled, zl)
	if err != nil {
		return err
	}
	defer closeStore()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(startupCtx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	notifier, closeNotifier, err := buildNotifier(startupCtx, cfg, rdb, clk, zl)
	if err != nil {
		return err
	}

	var (
		recorder app.Recorder
		exporter transporthttp.MetricsExporter
	)
	if cfg.Metrics.Enabled {
		m := metrics.New()
		recorder, exporter = m, m
	}

	policy := auth.NewPolicy(cfg.Auth.AdminRole).Allow(auth.ActionRedeemTickets, cfg.Auth.RedeemRoles...)
	opts := []app.Option{
		app.WithNotifier(notifier),
		app.WithRecorder(recorder),
		app.WithLogger(zl),
	}
	catalogSvc := app.NewCatalogService(catalogRepo, clk, policy, opts...)
	ledgerSvc := app.NewLedgerService(ledgerRepo, clk, policy, opts...)

	routerCfg := transporthttp.RouterConfig{
		Logger:      zl,
		CORSOrigins: cfg.Server.CORSOrigins,
		Tokens:      auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, clk),
		Metrics:     exporter,
		Tracing:     cfg.OTel.Enabled,
	}
	if rdb != nil {
		routerCfg.Idempotency = &transporthttp.IdempotencyConfig{
			Store:  rdb,
			TTL:    cfg.Redis.IdempotencyTTL,
			Logger: zl,
		}
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      transporthttp.NewRouter(catalogSvc, ledgerSvc, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	zl.Info("ledger listening",
		zap.String("addr", server.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.Strings("notify", cfg.Notify.Sinks),
	)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("server error", zap.Error(err))
		}
	case <-stopCtx.Done():
		zl.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zl.Error("server shutdown error", zap.Error(err))
	}
	if err := closeNotifier(shutdownCtx); err != nil {
		zl.Warn("notifier shutdown error", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		zl.Warn("tracer shutdown error", zap.Error(err))
	}
	zl.Info("server stopped")
	return nil
}

// openStore returns the catalog and ledger repositories for the configured driver.
func openStore(ctx context.Context, cfg config.StoreConfig, tracing bool, zl *zap.Logger) (app.CatalogRepository, app.LedgerRepository, func(), error) {
	if cfg.Driver == config.StoreMemory {
		store := memory.NewStore()
		return store, store, func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if tracing {
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("db ping: %w", err)
	}
	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	if len(applied) > 0 {
		zl.Info("applied migrations", zap.Strings("names", applied))
	}
	return postgres.NewCatalogRepository(pool), postgres.NewLedgerRepository(pool), pool.Close, nil
}

// buildNotifier fans notifications out to every configured sink. The returned close func flushes
// sinks that buffer.
func buildNotifier(ctx context.Context, cfg *config.Config, rdb *redis.Client, clk clock.Clock, zl *zap.Logger) (app.Notifier, func(context.Context) error, error) {
	var (
		sinks  notify.FanOut
		closer = func(context.Context) error { return nil }
	)
	if cfg.Notify.Has(config.SinkLog) {
		sinks = append(sinks, notify.NewLog(zl))
	}
	if cfg.Notify.Has(config.SinkKafka) {
		k, err := notify.NewKafka(ctx, notify.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		}, clk, zl)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, k)
		closer = k.Close
	}
	if cfg.Notify.Has(config.SinkRedis) {
		if rdb == nil {
			return nil, nil, errors.New("redis notify sink requires REDIS_ENABLED=true")
		}
		sinks = append(sinks, notify.NewRedisStream(rdb, cfg.Redis.Stream, clk, zl))
	}
	return sinks, closer, nil
}
