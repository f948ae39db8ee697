package service

import (
	"sync"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/port"
)

// EventBus fans job events out to in-process subscribers. Delivery is best
// effort: a subscriber whose buffer is full misses events.
type EventBus struct {
	subscribers map[string][]chan domain.Event
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan domain.Event),
	}
}

// Subscribe returns one channel receiving the events of every given job.
func (eb *EventBus) Subscribe(jobIDs ...string) chan domain.Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan domain.Event, 16)
	for _, id := range jobIDs {
		eb.subscribers[id] = append(eb.subscribers[id], ch)
	}
	return ch
}

// Unsubscribe detaches ch from all jobs and closes it.
func (eb *EventBus) Unsubscribe(ch chan domain.Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	found := false
	for id, subs := range eb.subscribers {
		for i, sub := range subs {
			if sub == ch {
				subs = append(subs[:i], subs[i+1:]...)
				found = true
				break
			}
		}
		if len(subs) == 0 {
			delete(eb.subscribers, id)
		} else {
			eb.subscribers[id] = subs
		}
	}
	if found {
		close(ch)
	}
}

func (eb *EventBus) Publish(jobID string, event domain.Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[jobID] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is slow
		}
	}
}

// Subscribers reports how many channels listen to jobID.
func (eb *EventBus) Subscribers(jobID string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers[jobID])
}

var _ port.EventPublisher = (*EventBus)(nil)
