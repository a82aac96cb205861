package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"receipt-scan-service/internal/client"
	"receipt-scan-service/internal/entity"
)

// steppingClock advances virtual time by exactly the requested wait, so a poll
// loop runs to completion synchronously.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// scriptedAPI answers Status with the next scripted snapshot, repeating the last one.
type scriptedAPI struct {
	clock     *steppingClock
	submitErr error
	statuses  []entity.Snapshot
	statusErr error
	onStatus  func(call int)

	submits   int
	calls     int
	callTimes []time.Time
}

func (a *scriptedAPI) Submit(ctx context.Context, filename, contentType string, content []byte) (client.SubmitResponse, error) {
	a.submits++
	if a.submitErr != nil {
		return client.SubmitResponse{}, a.submitErr
	}
	return client.SubmitResponse{JobID: "abc", Status: entity.StatusWaiting}, nil
}

func (a *scriptedAPI) Status(ctx context.Context, jobID string) (entity.Snapshot, error) {
	a.calls++
	a.callTimes = append(a.callTimes, a.clock.Now())
	if a.onStatus != nil {
		a.onStatus(a.calls)
	}
	if err := ctx.Err(); err != nil {
		return entity.Snapshot{}, err
	}
	if a.statusErr != nil {
		return entity.Snapshot{}, a.statusErr
	}
	i := a.calls - 1
	if i >= len(a.statuses) {
		i = len(a.statuses) - 1
	}
	return a.statuses[i], nil
}

func active(p int) entity.Snapshot {
	return entity.Snapshot{JobID: "abc", Status: entity.StatusActive, Progress: &p}
}

var _ = Describe("StepLabel", func() {
	DescribeTable("maps progress bands to labels",
		func(progress int, want string) {
			Expect(client.StepLabel(progress)).To(Equal(want))
		},
		Entry("start", 0, "Reading receipt..."),
		Entry("reading", 6, "Reading receipt..."),
		Entry("loading", 7, "Loading your items..."),
		Entry("loading upper", 9, "Loading your items..."),
		Entry("analyzing", 10, "Analyzing items..."),
		Entry("analyzing upper", 54, "Analyzing items..."),
		Entry("cleaning", 55, "Cleaning up results..."),
		Entry("cleaning upper", 89, "Cleaning up results..."),
		Entry("finishing", 90, "Finishing up..."),
		Entry("full", 100, "Finishing up..."),
	)
})

var _ = Describe("Poller", func() {
	var (
		clock  *steppingClock
		api    *scriptedAPI
		seen   []client.Progress
		poller *client.Poller
		ctx    context.Context
	)

	BeforeEach(func() {
		clock = newSteppingClock()
		api = &scriptedAPI{clock: clock}
		seen = nil
		ctx = context.Background()
		poller = client.NewPoller(api,
			client.WithClock(clock),
			client.WithProgress(func(p client.Progress) { seen = append(seen, p) }),
		)
	})

	It("reports step labels and resolves with the result", func() {
		api.statuses = []entity.Snapshot{
			{JobID: "abc", Status: entity.StatusWaiting},
			active(5),
			active(40),
			{JobID: "abc", Status: entity.StatusCompleted, Data: json.RawMessage(`{"rawText":"TOTAL 3.00","confidence":0.9,"items":[]}`)},
		}

		res, err := poller.Scan(ctx, "r.jpg", "image/jpeg", []byte("img"))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.RawText).To(Equal("TOTAL 3.00"))

		Expect(seen).To(Equal([]client.Progress{
			{Percent: 0, Step: "Reading receipt..."},
			{Percent: 5, Step: "Reading receipt..."},
			{Percent: 40, Step: "Analyzing items..."},
			{Percent: 100, Step: "Done!"},
		}))
		Expect(poller.State()).To(Equal(client.StateDone))
		Expect(poller.JobID()).To(Equal("abc"))
		Expect(poller.Progress()).To(Equal(client.Progress{}))
	})

	It("polls on the fixed interval", func() {
		api.statuses = []entity.Snapshot{
			active(10), active(20),
			{JobID: "abc", Status: entity.StatusCompleted, Data: json.RawMessage(`{}`)},
		}

		_, err := poller.Scan(ctx, "r.png", "image/png", []byte("img"))
		Expect(err).NotTo(HaveOccurred())
		Expect(api.callTimes).To(HaveLen(3))
		Expect(api.callTimes[1].Sub(api.callTimes[0])).To(Equal(1500 * time.Millisecond))
		Expect(api.callTimes[2].Sub(api.callTimes[1])).To(Equal(1500 * time.Millisecond))
	})

	It("never shows progress moving backwards", func() {
		api.statuses = []entity.Snapshot{
			active(40), active(30),
			{JobID: "abc", Status: entity.StatusCompleted, Data: json.RawMessage(`{}`)},
		}

		_, err := poller.Scan(ctx, "r.png", "image/png", []byte("img"))
		Expect(err).NotTo(HaveOccurred())
		for i := 1; i < len(seen); i++ {
			Expect(seen[i].Percent).To(BeNumerically(">=", seen[i-1].Percent))
		}
	})

	It("rejects with the server reason when the job failed", func() {
		api.statuses = []entity.Snapshot{
			active(10),
			{JobID: "abc", Status: entity.StatusFailed, Error: "OCR timeout"},
		}

		_, err := poller.Scan(ctx, "r.png", "image/png", []byte("img"))
		var failed *client.JobFailedError
		Expect(errors.As(err, &failed)).To(BeTrue())
		Expect(err.Error()).To(Equal("OCR timeout"))
		Expect(poller.State()).To(Equal(client.StateError))
		Expect(poller.Progress()).To(Equal(client.Progress{}))
	})

	It("falls back to a generic failure message", func() {
		api.statuses = []entity.Snapshot{{JobID: "abc", Status: entity.StatusFailed}}

		_, err := poller.Scan(ctx, "r.png", "image/png", []byte("img"))
		Expect(err).To(MatchError("Failed to process receipt"))
	})

	It("rejects with job not found", func() {
		api.statuses = []entity.Snapshot{entity.NotFoundSnapshot("abc")}

		_, err := poller.Scan(ctx, "r.png", "image/png", []byte("img"))
		Expect(err).To(MatchError(client.ErrJobNotFound))
		Expect(err.Error()).To(Equal("job not found"))
		Expect(poller.State()).To(Equal(client.StateError))
	})

	It("never polls when the upload fails", func() {
		api.submitErr = &client.APIError{StatusCode: 413, Message: "invalid file: file too large"}

		_, err := poller.Scan(ctx, "big.jpg", "image/jpeg", []byte("img"))
		Expect(err).To(MatchError(client.ErrInvalidFile))
		Expect(api.calls).To(BeZero())
		Expect(poller.State()).To(Equal(client.StateError))
		Expect(seen).To(BeEmpty())
	})

	It("times out after five minutes and stops polling", func() {
		api.statuses = []entity.Snapshot{active(20)}

		_, err := poller.Scan(ctx, "r.png", "image/png", []byte("img"))
		Expect(err).To(MatchError(client.ErrTimeout))
		Expect(poller.State()).To(Equal(client.StateError))

		start := api.callTimes[0]
		last := api.callTimes[len(api.callTimes)-1]
		Expect(last.Sub(start)).To(BeNumerically("<", 5*time.Minute))
		Expect(api.calls).To(Equal(200))

		calls := api.calls
		Expect(clock.Now().Sub(start)).To(Equal(5 * time.Minute))
		Expect(api.calls).To(Equal(calls))
	})

	It("stops polling and returns to idle when cancelled", func() {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		api.statuses = []entity.Snapshot{active(10)}
		api.onStatus = func(call int) {
			if call == 3 {
				cancel()
			}
		}

		_, err := poller.Scan(cctx, "r.png", "image/png", []byte("img"))
		Expect(err).To(MatchError(context.Canceled))
		Expect(api.calls).To(Equal(3))
		Expect(poller.State()).To(Equal(client.StateIdle))
		Expect(poller.Progress()).To(Equal(client.Progress{}))
	})

	It("treats a transport error while polling as terminal", func() {
		api.statusErr = errors.New("connection reset")

		_, err := poller.Scan(ctx, "r.png", "image/png", []byte("img"))
		Expect(err).To(MatchError(ContainSubstring("connection reset")))
		Expect(api.calls).To(Equal(1))
		Expect(poller.State()).To(Equal(client.StateError))
	})

	It("refuses a second scan while one is running", func() {
		api.statuses = []entity.Snapshot{active(10)}
		var nested error
		api.onStatus = func(call int) {
			if call == 1 {
				_, nested = poller.Scan(ctx, "other.png", "image/png", []byte("img"))
				api.statusErr = errors.New("stop")
			}
		}

		_, _ = poller.Scan(ctx, "r.png", "image/png", []byte("img"))
		Expect(nested).To(MatchError(client.ErrBusy))
		Expect(api.submits).To(Equal(1))
	})

	It("starts clean on the next scan", func() {
		api.statuses = []entity.Snapshot{{JobID: "abc", Status: entity.StatusFailed, Error: "bad"}}
		_, err := poller.Scan(ctx, "r.png", "image/png", []byte("img"))
		Expect(err).To(HaveOccurred())

		api.calls = 0
		api.statuses = []entity.Snapshot{active(5), {JobID: "abc", Status: entity.StatusCompleted, Data: json.RawMessage(`{}`)}}
		seen = nil

		_, err = poller.Scan(ctx, "r.png", "image/png", []byte("img"))
		Expect(err).NotTo(HaveOccurred())
		Expect(seen[0]).To(Equal(client.Progress{Percent: 0, Step: "Reading receipt..."}))
	})
})
