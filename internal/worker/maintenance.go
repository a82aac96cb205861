package worker

import (
	"context"
	"log/slog"
	"time"

	"receipt-scan-service/internal/logging"
	"receipt-scan-service/internal/service"
)

// Reaper returns ids whose claim went stale (a crashed or stuck worker) to the queue.
type Reaper struct {
	queue      service.Queue
	interval   time.Duration
	staleAfter time.Duration
	batch      int64
	log        *slog.Logger
}

func NewReaper(queue service.Queue, interval, staleAfter time.Duration, log *slog.Logger) *Reaper {
	return &Reaper{
		queue:      queue,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      100,
		log:        logging.Component(log, "reaper"),
	}
}

func (r *Reaper) Run(ctx context.Context) error {
	return tick(ctx, r.interval, func(ctx context.Context) {
		moved, err := r.queue.RequeueStale(ctx, r.staleAfter, r.batch)
		if err != nil {
			r.log.Warn("requeue stale claims", logging.FieldError, err)
			return
		}
		if moved > 0 {
			r.log.Info("requeued stale claims", "count", moved)
		}
	})
}

type FinishedJobDeleter interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

type ImageDeleter interface {
	DeleteImage(ctx context.Context, key string) error
}

// Janitor removes terminal jobs past the retention window together with their images.
type Janitor struct {
	jobs      FinishedJobDeleter
	images    ImageDeleter
	interval  time.Duration
	retention time.Duration
	batch     int
	now       func() time.Time
	log       *slog.Logger
}

func NewJanitor(jobs FinishedJobDeleter, images ImageDeleter, interval, retention time.Duration, log *slog.Logger) *Janitor {
	return &Janitor{
		jobs:      jobs,
		images:    images,
		interval:  interval,
		retention: retention,
		batch:     500,
		now:       time.Now,
		log:       logging.Component(log, "janitor"),
	}
}

func (j *Janitor) Run(ctx context.Context) error {
	return tick(ctx, j.interval, func(ctx context.Context) {
		if _, err := j.Sweep(ctx); err != nil {
			j.log.Warn("retention sweep", logging.FieldError, err)
		}
	})
}

// Sweep deletes expired jobs batch by batch and returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.retention)
	total := 0
	for {
		keys, err := j.jobs.DeleteFinishedBefore(ctx, cutoff, j.batch)
		if err != nil {
			return total, err
		}
		for _, key := range keys {
			if err := j.images.DeleteImage(ctx, key); err != nil {
				j.log.Warn("delete image", "key", key, logging.FieldError, err)
			}
		}
		total += len(keys)
		if len(keys) < j.batch {
			break
		}
	}
	if total > 0 {
		j.log.Info("expired jobs removed", "count", total, "cutoff", cutoff)
	}
	return total, nil
}

// tick runs fn immediately and then every interval until ctx is done.
func tick(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
