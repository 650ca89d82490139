package hub

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/larder/larder/pkg/event"
)

// Subscriber receives batches of accepted events. Each batch targets a
// single entity and carries server-assigned versions.
type Subscriber struct {
	ID      string
	Filters []event.EntityType
	Ch      chan []event.Event

	// mu orders sends against close: sessions unsubscribe on every
	// disconnect, concurrently with publishes.
	mu     sync.Mutex
	closed bool
}

// trySend delivers the batch unless the subscriber is closed or its
// buffer is full. It reports false only for a full buffer.
func (s *Subscriber) trySend(events []event.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.Ch <- events:
		return true
	default:
		return false
	}
}

// Broadcaster fans accepted event batches out to connected sessions.
type Broadcaster struct {
	subscribers sync.Map
	bufferSize  int
	nextID      atomic.Uint64
	log         *logrus.Entry
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold up
// to bufferSize pending batches.
func NewBroadcaster(bufferSize int) *Broadcaster {
	return &Broadcaster{
		bufferSize: bufferSize,
		log:        logrus.WithField("component", "broadcaster"),
	}
}

// Publish delivers a batch to every matching subscriber. Non-blocking: a
// subscriber with a full channel misses the batch and is expected to
// recover through catch-up sync.
func (b *Broadcaster) Publish(events []event.Event, entityType event.EntityType) {
	if len(events) == 0 {
		return
	}
	b.subscribers.Range(func(_, value interface{}) bool {
		sub := value.(*Subscriber)
		if !sub.matches(entityType) {
			return true
		}
		if !sub.trySend(events) {
			b.log.WithField("subscriber", sub.ID).
				Warn("subscriber channel full, dropping batch")
		}
		return true
	})
}

// Subscribe registers a subscriber. With no filters it receives every
// batch; with filters, only batches for the listed entity kinds.
func (b *Broadcaster) Subscribe(id string, filters ...event.EntityType) *Subscriber {
	sub := &Subscriber{
		ID:      id,
		Filters: filters,
		Ch:      make(chan []event.Event, b.bufferSize),
	}
	b.subscribers.Store(sub.ID, sub)
	return sub
}

// SubscribeAutoID registers a subscriber under a generated id.
func (b *Broadcaster) SubscribeAutoID(filters ...event.EntityType) *Subscriber {
	return b.Subscribe(b.generateID(), filters...)
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	value, ok := b.subscribers.LoadAndDelete(id)
	if !ok {
		return
	}
	sub := value.(*Subscriber)
	sub.mu.Lock()
	sub.closed = true
	close(sub.Ch)
	sub.mu.Unlock()
}

func (s *Subscriber) matches(entityType event.EntityType) bool {
	if len(s.Filters) == 0 {
		return true
	}
	for _, f := range s.Filters {
		if f == entityType {
			return true
		}
	}
	return false
}

func (b *Broadcaster) generateID() string {
	return "sub_" + strconv.FormatUint(b.nextID.Add(1), 10)
}
