package loader

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/you/relayq/internal/domain"
)

type fakeSweepStore struct {
	reclaimed []*domain.Job
	gotGrace  time.Duration
	err       error
}

func (f *fakeSweepStore) ReclaimStaleLeases(_ context.Context, _ time.Time, grace time.Duration) ([]*domain.Job, error) {
	f.gotGrace = grace
	return f.reclaimed, f.err
}

type fakeDelayQueue struct{ moved int }

func (f *fakeDelayQueue) MoveDue(_ context.Context, _ time.Time, _ int64) error {
	f.moved++
	return nil
}

func TestSweeper_TickReclaimsAndPromotes(t *testing.T) {
	j, _ := domain.NewJob("email:send", nil, domain.Options{})
	store := &fakeSweepStore{reclaimed: []*domain.Job{j}}
	q := &fakeDelayQueue{}

	s := NewSweeper(store, q, time.Second, 2*time.Minute, zap.NewNop())
	s.Tick(context.Background())

	if store.gotGrace != 2*time.Minute {
		t.Errorf("grace = %v, want 2m", store.gotGrace)
	}
	if q.moved != 1 {
		t.Errorf("MoveDue called %d times, want 1", q.moved)
	}
}

func TestSweeper_StoreFailureStillPromotesDelayed(t *testing.T) {
	store := &fakeSweepStore{err: domain.ErrStoreUnavailable}
	q := &fakeDelayQueue{}

	NewSweeper(store, q, time.Second, time.Minute, zap.NewNop()).Tick(context.Background())

	if q.moved != 1 {
		t.Error("delay promotion must not depend on the reclaim outcome")
	}
}
