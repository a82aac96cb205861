package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueEmpty is returned by ClaimBlocking when nothing arrived before the timeout.
var ErrQueueEmpty = errors.New("queue empty")

type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error)
}

type QueueKeys struct {
	Queue      string // pending ids, LPUSH in / consumed from the right
	Processing string // ids claimed by a worker and not yet acked
	Claimed    string // sorted set: id -> claim time (unix ms)
}

// redisQueue is a reliable queue on Redis lists.
// Claim: BLMOVE queue -> processing, then record claim time in the Claimed zset.
// Ack:   LREM from processing + ZREM from Claimed.
// Reaper: ids claimed longer than a threshold go back to the queue.
type redisQueue struct {
	rdb  redis.UniversalClient
	keys QueueKeys
	now  func() time.Time
}

func NewRedisQueue(rdb redis.UniversalClient, keys QueueKeys) Queue {
	return &redisQueue{rdb: rdb, keys: keys, now: time.Now}
}

func (q *redisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.keys.Queue, jobID).Err()
}

func (q *redisQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	id, err := q.rdb.BLMove(ctx, q.keys.Queue, q.keys.Processing, "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrQueueEmpty
		}
		return "", err
	}

	score := float64(q.now().UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.keys.Claimed, redis.Z{Score: score, Member: id}).Err(); err != nil {
		// an unrecorded claim would never be reaped: hand the id back instead
		_, _ = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.keys.Processing, 1, id)
			pipe.RPush(ctx, q.keys.Queue, id)
			return nil
		})
		return "", err
	}
	return id, nil
}

func (q *redisQueue) Ack(ctx context.Context, jobID string) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.keys.Processing, 1, jobID)
		pipe.ZRem(ctx, q.keys.Claimed, jobID)
		return nil
	})
	return err
}

// RequeueStale moves ids claimed more than olderThan ago back to the queue.
// Delivery is at-least-once; consumers must tolerate a redelivered id.
func (q *redisQueue) RequeueStale(ctx context.Context, olderThan time.Duration, max int64) (int64, error) {
	cutoff := q.now().Add(-olderThan).UnixMilli()

	stale, err := q.rdb.ZRangeByScore(ctx, q.keys.Claimed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff, 10),
		Count: max,
	}).Result()
	if err != nil {
		return 0, err
	}

	var moved int64
	for _, id := range stale {
		var removed *redis.IntCmd
		_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			removed = pipe.LRem(ctx, q.keys.Processing, 1, id)
			pipe.ZRem(ctx, q.keys.Claimed, id)
			return nil
		})
		if err != nil {
			return moved, err
		}
		// acked between the range read and now: nothing to return
		if removed.Val() == 0 {
			continue
		}
		if err := q.rdb.RPush(ctx, q.keys.Queue, id).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
