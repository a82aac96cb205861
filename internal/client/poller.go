package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"receipt-scan-service/internal/entity"
)

const (
	DefaultInterval = 1500 * time.Millisecond
	DefaultTimeout  = 5 * time.Minute
)

type State string

const (
	StateIdle      State = "idle"
	StateUploading State = "uploading"
	StatePolling   State = "polling"
	StateDone      State = "done"
	StateError     State = "error"
)

// Progress is what a UI shows while a job runs.
type Progress struct {
	Percent int
	Step    string
}

// Clock lets tests drive the poll interval and timeout without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type Option func(*Poller)

func WithInterval(d time.Duration) Option { return func(p *Poller) { p.interval = d } }
func WithTimeout(d time.Duration) Option  { return func(p *Poller) { p.timeout = d } }
func WithClock(c Clock) Option            { return func(p *Poller) { p.clock = c } }

// WithProgress registers a callback invoked on every progress change, from the
// goroutine running Scan or Poll.
func WithProgress(fn func(Progress)) Option { return func(p *Poller) { p.onProgress = fn } }

// Poller drives one scan at a time: idle -> uploading -> polling -> done | error.
// Cancelling the context returns it to idle; the server-side job is unaffected.
type Poller struct {
	api        API
	interval   time.Duration
	timeout    time.Duration
	clock      Clock
	onProgress func(Progress)

	mu       sync.Mutex
	state    State
	jobID    string
	progress Progress
}

func NewPoller(api API, opts ...Option) *Poller {
	p := &Poller{
		api:      api,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		clock:    realClock{},
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller) JobID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID
}

func (p *Poller) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Scan uploads the image and polls the resulting job to completion.
func (p *Poller) Scan(ctx context.Context, filename, contentType string, content []byte) (*entity.ScanResult, error) {
	if err := p.begin(StateUploading, ""); err != nil {
		return nil, err
	}

	resp, err := p.api.Submit(ctx, filename, contentType, content)
	if err != nil {
		if ctx.Err() != nil {
			p.finish(StateIdle)
			return nil, ctx.Err()
		}
		p.finish(StateError)
		return nil, err
	}

	p.mu.Lock()
	p.state, p.jobID = StatePolling, resp.JobID
	p.mu.Unlock()
	return p.poll(ctx, resp.JobID)
}

// Poll follows an already submitted job.
func (p *Poller) Poll(ctx context.Context, jobID string) (*entity.ScanResult, error) {
	if err := p.begin(StatePolling, jobID); err != nil {
		return nil, err
	}
	return p.poll(ctx, jobID)
}

func (p *Poller) begin(state State, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateUploading || p.state == StatePolling {
		return ErrBusy
	}
	p.state, p.jobID, p.progress = state, jobID, Progress{}
	return nil
}

func (p *Poller) poll(ctx context.Context, jobID string) (*entity.ScanResult, error) {
	start := p.clock.Now()
	deadline := start.Add(p.timeout)
	p.report(0)

	for {
		if ctx.Err() != nil {
			p.finish(StateIdle)
			return nil, ctx.Err()
		}
		if !p.clock.Now().Before(deadline) {
			p.finish(StateError)
			return nil, ErrTimeout
		}

		snap, err := p.status(ctx, jobID, deadline)
		if err != nil {
			if ctx.Err() != nil {
				p.finish(StateIdle)
				return nil, ctx.Err()
			}
			if errors.Is(err, errPollDeadline) {
				p.finish(StateError)
				return nil, ErrTimeout
			}
			p.finish(StateError)
			return nil, fmt.Errorf("poll job %s: %w", jobID, err)
		}

		switch snap.Status {
		case entity.StatusCompleted:
			var res entity.ScanResult
			if err := json.Unmarshal(snap.Data, &res); err != nil {
				p.finish(StateError)
				return nil, fmt.Errorf("decode scan result: %w", err)
			}
			p.emit(Progress{Percent: 100, Step: DoneLabel})
			p.finish(StateDone)
			return &res, nil
		case entity.StatusFailed:
			p.finish(StateError)
			return nil, &JobFailedError{Reason: snap.Error}
		case entity.StatusNotFound:
			p.finish(StateError)
			return nil, ErrJobNotFound
		default:
			if snap.Progress != nil {
				p.report(*snap.Progress)
			}
		}

		wait := p.interval
		if remaining := deadline.Sub(p.clock.Now()); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
		case <-p.clock.After(wait):
		}
	}
}

// errPollDeadline marks a status request cut off by the polling deadline.
var errPollDeadline = errors.New("poll deadline reached")

// status bounds one request by the polling deadline.
func (p *Poller) status(ctx context.Context, jobID string, deadline time.Time) (entity.Snapshot, error) {
	remaining := deadline.Sub(p.clock.Now())
	if remaining <= 0 {
		return entity.Snapshot{}, errPollDeadline
	}
	reqCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	snap, err := p.api.Status(reqCtx, jobID)
	if err != nil && ctx.Err() == nil && reqCtx.Err() != nil {
		return entity.Snapshot{}, errPollDeadline
	}
	return snap, err
}

// report shows progress for a pending job; the display never moves backwards.
func (p *Poller) report(percent int) {
	p.mu.Lock()
	if percent < p.progress.Percent || (percent == p.progress.Percent && p.progress.Step != "") {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.emit(Progress{Percent: percent, Step: StepLabel(percent)})
}

func (p *Poller) emit(pr Progress) {
	p.mu.Lock()
	p.progress = pr
	p.mu.Unlock()
	if p.onProgress != nil {
		p.onProgress(pr)
	}
}

// finish leaves polling and clears the display so the next scan starts clean.
func (p *Poller) finish(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	p.progress = Progress{}
}
