// Package worker consumes dispatched jobs with bounded concurrency and
// owns the retry/escalation policy for handler failures.
package worker

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/relayq/internal/queue"
)

// Queue is the pull side of the dispatch queue.
type Queue interface {
	Dequeue(ctx context.Context, block time.Duration) (*queue.Envelope, error)
}

// Pool runs a fixed number of consumer goroutines. A slow handler blocks
// only the slot it occupies; a failing one is contained by the executor.
type Pool struct {
	queue       Queue
	executor    *Executor
	concurrency int
	block       time.Duration
	workerID    string
	logger      *zap.Logger
}

func NewPool(q Queue, executor *Executor, concurrency int, block time.Duration, logger *zap.Logger) *Pool {
	return &Pool{
		queue:       q,
		executor:    executor,
		concurrency: concurrency,
		block:       block,
		workerID:    executor.workerID,
		logger:      logger,
	}
}

// NewWorkerID builds a process-unique worker identity for lease fields.
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Run blocks until ctx is cancelled, consuming with p.concurrency slots.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting",
		zap.String("worker_id", p.workerID),
		zap.Int("concurrency", p.concurrency),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error {
			p.consume(ctx)
			return nil
		})
	}
	err := g.Wait()

	p.logger.Info("worker pool stopped", zap.String("worker_id", p.workerID))
	return err
}

func (p *Pool) consume(ctx context.Context) {
	for ctx.Err() == nil {
		env, err := p.queue.Dequeue(ctx, p.block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if env == nil {
			continue
		}

		// One job per slot; failures and panics stay inside Execute, so a
		// bad job never takes down its sibling consumers.
		if err := p.executor.Execute(ctx, env.JobID); err != nil {
			p.sleep(ctx)
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-time.After(p.block):
	case <-ctx.Done():
	}
}
