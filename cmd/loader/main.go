// The loader process claims ready job records into the dispatch queue,
// runs the stale-lease reclaim sweep, promotes due delayed envelopes, and
// applies retention cleanup. A Postgres advisory lock elects a single
// leader so only one instance ticks at a time.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/relayq/internal/config"
	"github.com/you/relayq/internal/loader"
	"github.com/you/relayq/internal/queue"
	"github.com/you/relayq/internal/storage"
)

// loaderLockID is the advisory-lock key for loader leader election.
const loaderLockID = 0x71420

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

	if err := waitForLeadership(ctx, db, logger); err != nil {
		return
	}

	ld := loader.New(store, q, cfg.BatchSize, cfg.LoaderInterval, cfg.DispatchLookahead, logger)
	sw := loader.NewSweeper(store, q, cfg.ReclaimInterval, cfg.BatchGrace, logger)
	jn := loader.NewJanitor(store, cfg.CleanupInterval, cfg.Retention, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ld.Run(ctx) })
	g.Go(func() error { return sw.Run(ctx) })
	g.Go(func() error { return jn.Run(ctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("loader exited", zap.Error(err))
	}
}

// waitForLeadership blocks until this process holds the advisory lock.
// The lock is session-scoped, so it is taken on a dedicated connection
// that stays pinned for the process lifetime.
func waitForLeadership(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) error {
	conn, err := db.Acquire(ctx)
	if err != nil {
		logger.Error("acquire leader connection", zap.Error(err))
		return err
	}
	// The connection is held for the process lifetime, never released:
	// the lock dies with the session.
	for {
		var ok bool
		if err := conn.QueryRow(ctx, `select pg_try_advisory_lock($1)`, loaderLockID).Scan(&ok); err != nil {
			logger.Error("leader election query", zap.Error(err))
		} else if ok {
			logger.Info("acquired loader leadership")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func newLogger(cfg config.Config) *zap.Logger {
	if cfg.Dev() {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
