package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/relayq/internal/domain"
)

const (
	readyKey   = "dispatch:ready"
	delayKey   = "dispatch:delay"
	payloadKey = "dispatch:payload"
)

// Envelope is the message carried through the dispatch queue between the
// batch loader and the worker pool. The durable record stays in Postgres;
// losing an envelope only delays the job until the reclaim sweep.
type Envelope struct {
	JobID       string          `json:"job_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// RedisQ is the fast priority dispatch queue. Ready jobs live in a sorted
// set scored so that higher priority pops first and equal priorities pop
// FIFO; delayed jobs wait in a second sorted set scored by due time.
type RedisQ struct{ rdb *r.Client }

func New(rdb *r.Client) *RedisQ { return &RedisQ{rdb} }

// Score orders the ready set: priority first (higher pops earlier), then
// enqueue time for the FIFO tie-break. Pure so it can be tested directly.
func Score(priority int, enqueuedAt time.Time) float64 {
	if priority < domain.MinPriority {
		priority = domain.MinPriority
	}
	if priority > domain.MaxPriority {
		priority = domain.MaxPriority
	}
	// 2^42 ms ≈ 139 years of tie-break space per priority band.
	return float64(int64(domain.MaxPriority-priority)<<42 + enqueuedAt.UnixMilli())
}

// Enqueue pushes an envelope for dispatch. Jobs scheduled in the future
// go to the delay set and are promoted by MoveDue. Membership is keyed by
// job id, so re-enqueueing an id already queued is a no-op (dedup).
func (q *RedisQ) Enqueue(ctx context.Context, env Envelope, runAt time.Time) error {
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSetNX(ctx, payloadKey, env.JobID, body)
	if time.Until(runAt) > 0 {
		pipe.ZAddNX(ctx, delayKey, r.Z{Score: float64(runAt.Unix()), Member: env.JobID})
	} else {
		pipe.ZAddNX(ctx, readyKey, r.Z{Score: Score(env.Priority, env.EnqueuedAt), Member: env.JobID})
	}
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "enqueue")
}

// Dequeue pops the highest-priority ready envelope, blocking up to block.
// Returns nil when nothing became ready in time.
func (q *RedisQ) Dequeue(ctx context.Context, block time.Duration) (*Envelope, error) {
	res, err := q.rdb.BZPopMin(ctx, block, readyKey).Result()
	if err != nil {
		if errors.Is(err, r.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "dequeue")
	}

	jobID, ok := res.Member.(string)
	if !ok {
		return nil, errors.Errorf("dequeue: unexpected member %T", res.Member)
	}

	body, err := q.rdb.HGet(ctx, payloadKey, jobID).Result()
	if err != nil {
		if errors.Is(err, r.Nil) {
			// Envelope body evicted; the job id alone is enough for the
			// worker to refetch the record.
			return &Envelope{JobID: jobID}, nil
		}
		return nil, errors.Wrap(err, "dequeue: payload")
	}
	if err := q.rdb.HDel(ctx, payloadKey, jobID).Err(); err != nil {
		return nil, errors.Wrap(err, "dequeue: payload cleanup")
	}

	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, errors.Wrap(err, "unmarshal envelope")
	}
	return &env, nil
}

// MoveDue promotes delayed jobs whose due time has passed into the ready
// set, re-scored for priority ordering.
func (q *RedisQ) MoveDue(ctx context.Context, now time.Time, batch int64) error {
	ids, err := q.rdb.ZRangeByScore(ctx, delayKey, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.Unix()), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return errors.Wrap(err, "move due")
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		body, hErr := q.rdb.HGet(ctx, payloadKey, id).Result()
		priority := domain.DefaultPriority
		if hErr == nil {
			var env Envelope
			if json.Unmarshal([]byte(body), &env) == nil {
				priority = env.Priority
			}
		}
		pipe.ZAddNX(ctx, readyKey, r.Z{Score: Score(priority, now), Member: id})
		pipe.ZRem(ctx, delayKey, id)
	}
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "move due")
}

// Len returns the number of ready envelopes.
func (q *RedisQ) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, readyKey).Result()
	return n, errors.Wrap(err, "queue len")
}
