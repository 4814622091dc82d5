// Command quillsyncd is the quillsync network server: it relays document
// channels over Redis pub/sub to websocket clients and serves the version
// history API backed by PostgreSQL.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"quillsync/internal/config"
	"quillsync/internal/observability"
	"quillsync/internal/server"
	"quillsync/internal/store/postgres"
	"quillsync/internal/transport"
	"quillsync/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.DefaultLogger.Error("config load failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger := observability.NewStandardLogger("quillsyncd").WithLevel(observability.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Error("redis connection failed", map[string]interface{}{"addr": cfg.Redis.Addr, "error": err.Error()})
		os.Exit(1)
	}
	defer rdb.Close()
	logger.Info("connected to redis", map[string]interface{}{"addr": cfg.Redis.Addr})

	st, err := connectPostgres(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("database connection failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		logger.Error("migration failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("connected to postgres", nil)

	gateway := version.NewGateway(st.Documents(), st.Versions(), logger)
	tr := transport.NewRedis(rdb, logger)
	srv := server.New(st.Documents(), gateway, tr, server.Options{
		Snapshot: version.SchedulerOptions{
			Settle:   cfg.Collab.SnapshotSettle,
			Interval: cfg.Collab.SnapshotInterval,
			Logger:   logger,
		},
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	go func() {
		logger.Info("quillsync server starting", map[string]interface{}{"addr": cfg.Server.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
}

// connectRedis dials Redis with exponential backoff so the server survives
// starting before its dependencies.
func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	op := func() error {
		return client.Ping(ctx).Err()
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func connectPostgres(ctx context.Context, dsn string) (*postgres.Store, error) {
	var st *postgres.Store
	op := func() error {
		var err error
		st, err = postgres.Connect(ctx, dsn)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return st, nil
}
