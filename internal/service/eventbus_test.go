package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/transcoder/internal/domain"
)

func TestEventBus_DeliversOnlySubscribedJobs(t *testing.T) {
	bus := NewEventBus()
	a := bus.Subscribe("job-a")
	both := bus.Subscribe("job-a", "job-b")
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(both)

	bus.Publish("job-b", domain.Event{Type: domain.EventProgress, JobID: "job-b", Progress: 10})
	bus.Publish("job-c", domain.Event{Type: domain.EventProgress, JobID: "job-c"})

	select {
	case e := <-both:
		assert.Equal(t, "job-b", e.JobID)
	default:
		t.Fatal("expected event for job-b")
	}
	assert.Len(t, a, 0)
	assert.Len(t, both, 0)
}

func TestEventBus_DropsForSlowSubscriber(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("job-1")
	defer bus.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		bus.Publish("job-1", domain.Event{Type: domain.EventProgress, JobID: "job-1", Progress: i})
	}

	assert.Equal(t, cap(ch), len(ch))
	first := <-ch
	assert.Equal(t, 0, first.Progress)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("job-1", "job-2")
	require.Equal(t, 1, bus.Subscribers("job-1"))

	bus.Unsubscribe(ch)

	assert.Zero(t, bus.Subscribers("job-1"))
	assert.Zero(t, bus.Subscribers("job-2"))
	_, open := <-ch
	assert.False(t, open)

	// Unknown channels are ignored.
	bus.Unsubscribe(make(chan domain.Event))
	bus.Publish("job-1", domain.Event{})
}
