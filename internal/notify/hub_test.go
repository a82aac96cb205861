package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-scan-service/internal/entity"
)

func progressSnap(jobID string, p int) entity.Snapshot {
	return entity.Snapshot{JobID: jobID, Status: entity.StatusActive, Progress: &p}
}

func TestHub_DeliversOnlyToSubscribersOfTheJob(t *testing.T) {
	hub := NewHub()

	a, cancelA := hub.Subscribe("job-a")
	defer cancelA()
	b, cancelB := hub.Subscribe("job-b")
	defer cancelB()

	hub.Broadcast(progressSnap("job-a", 40))

	select {
	case got := <-a:
		require.NotNil(t, got.Progress)
		assert.Equal(t, 40, *got.Progress)
	default:
		t.Fatal("subscriber of job-a got nothing")
	}

	select {
	case got := <-b:
		t.Fatalf("subscriber of job-b got %+v", got)
	default:
	}
}

func TestHub_SlowSubscriberKeepsLatest(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("job")
	defer cancel()

	hub.Broadcast(progressSnap("job", 5))
	hub.Broadcast(progressSnap("job", 40))
	hub.Broadcast(entity.Snapshot{JobID: "job", Status: entity.StatusCompleted})

	got := <-ch
	assert.Equal(t, entity.StatusCompleted, got.Status)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra snapshot %+v", extra)
	default:
	}
}

func TestHub_CancelRemovesEmptyKeys(t *testing.T) {
	hub := NewHub()

	_, cancel1 := hub.Subscribe("job")
	_, cancel2 := hub.Subscribe("job")
	assert.Equal(t, 2, hub.Subscribers("job"))

	cancel1()
	cancel1()
	assert.Equal(t, 1, hub.Subscribers("job"))

	cancel2()
	assert.Equal(t, 0, hub.Subscribers("job"))
	assert.Empty(t, hub.subs)

	// broadcasting to a job without subscribers is a no-op
	hub.Broadcast(progressSnap("job", 10))
}
