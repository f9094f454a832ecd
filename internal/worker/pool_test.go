package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/relayq/internal/domain"
	"github.com/you/relayq/internal/queue"
)

// fakeQueue feeds envelopes from a channel and idles once drained.
type fakeQueue struct {
	ch chan *queue.Envelope
}

func (f *fakeQueue) Dequeue(ctx context.Context, block time.Duration) (*queue.Envelope, error) {
	select {
	case env := <-f.ch:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

func TestPool_ProcessesJobsWithIsolation(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry()
	registry.Register("email:send", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})
	registry.Register("report:build", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("always fails")
	})

	var ids []string
	for i := 0; i < 4; i++ {
		j := seedJob(store, "email:send", 0, 3)
		ids = append(ids, j.JobID)
	}
	bad := seedJob(store, "report:build", 0, 3)

	q := &fakeQueue{ch: make(chan *queue.Envelope, 8)}
	for _, id := range append(ids, bad.JobID) {
		q.ch <- &queue.Envelope{JobID: id}
	}

	exec := newTestExecutor(store, registry)
	pool := NewPool(q, exec, 3, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()

	// Wait until every job settled.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		settled := 0
		for _, id := range ids {
			if j, ok := store.jobs[id]; ok && j.Status == domain.StatusCompleted {
				settled++
			}
		}
		if j, ok := store.jobs[bad.JobID]; ok && j.Status == domain.StatusPending {
			settled++
		}
		store.mu.Unlock()
		if settled == 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	for _, id := range ids {
		if got := store.job(t, id); got.Status != domain.StatusCompleted {
			t.Errorf("job %s status = %s, want completed", id, got.Status)
		}
	}
	got := store.job(t, bad.JobID)
	if got.Status != domain.StatusPending || got.Attempts != 1 {
		t.Errorf("failing job must retry without affecting siblings: status=%s attempts=%d", got.Status, got.Attempts)
	}
}

func TestNewWorkerID_Unique(t *testing.T) {
	a, b := NewWorkerID(), NewWorkerID()
	if a == "" || a == b {
		t.Errorf("worker ids must be unique and non-empty: %q %q", a, b)
	}
}
