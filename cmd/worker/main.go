// The worker process pulls dispatched jobs from Redis and executes them
// through the handler registry with bounded concurrency.
package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/relayq/internal/config"
	"github.com/you/relayq/internal/queue"
	"github.com/you/relayq/internal/storage"
	"github.com/you/relayq/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connect", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := storage.New(db, logger)
	q := queue.New(rdb)

	registry := worker.NewRegistry()
	registerHandlers(registry)

	workerID := worker.NewWorkerID()
	executor := worker.NewExecutor(registry, store, workerID,
		cfg.Lease, cfg.BackoffMax, cfg.Classification(), logger)
	pool := worker.NewPool(q, executor, cfg.Concurrency, cfg.DequeueBlock, logger)

	if err := pool.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker pool exited", zap.Error(err))
	}
}

// registerHandlers binds application job types to their business logic.
// Deployments replace or extend this set; an unregistered type fails its
// jobs with a configuration-defect error rather than a silent no-op.
func registerHandlers(r *worker.Registry) {
	// queue:noop exists for smoke-testing a deployed pipeline end to end.
	r.Register("queue:noop", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		return payload, nil
	})
}

func newLogger(cfg config.Config) *zap.Logger {
	if cfg.Dev() {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
