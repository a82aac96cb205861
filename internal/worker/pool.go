package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"receipt-scan-service/internal/logging"
	"receipt-scan-service/internal/service"
)

// JobProcessor is satisfied by *Processor.
type JobProcessor interface {
	Process(ctx context.Context, jobID string) error
}

type Pool struct {
	queue      service.Queue
	processor  JobProcessor
	workers    int
	claimDelay time.Duration
	retryDelay time.Duration
	log        *slog.Logger
}

func NewPool(queue service.Queue, processor JobProcessor, workers int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
		retryDelay: time.Second,
		log:        logging.Component(log, "pool"),
	}
}

// Run claims jobs until ctx is done, then waits for in-flight jobs to finish.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("worker pool started", "workers", p.workers)

	jobCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log := p.log.With(logging.FieldWorker, n)
			for jobID := range jobCh {
				if err := p.processor.Process(ctx, jobID); err != nil {
					// left unacked: the reaper hands it back once the claim goes stale
					log.Error("process job", logging.FieldJobID, jobID, logging.FieldError, err)
					continue
				}
				if err := p.queue.Ack(context.WithoutCancel(ctx), jobID); err != nil {
					log.Error("ack job", logging.FieldJobID, jobID, logging.FieldError, err)
				}
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		p.log.Info("worker pool stopped")
	}()

	// listener: atomically claim from queue -> processing
	for {
		if ctx.Err() != nil {
			return nil
		}

		jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if errors.Is(err, service.ErrQueueEmpty) || ctx.Err() != nil {
				continue
			}
			p.log.Warn("claim failed", logging.FieldError, err)
			select {
			case <-time.After(p.retryDelay):
			case <-ctx.Done():
			}
			continue
		}

		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			// claimed but not started: the reaper returns it to the queue
			return nil
		}
	}
}
