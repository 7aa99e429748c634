// Package eventbus is an in-process fan-out of pipeline signals (dispatch outcomes,
// control-plane changes) to optional observers such as the periodic report.
//
// Publish never blocks: each subscriber owns a buffered channel and misses signals
// when it falls behind. Missed signals are counted per subscriber.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	TopicDelivered    = "dispatch.delivered"
	TopicFiltered     = "dispatch.filtered"
	TopicFailed       = "dispatch.failed"
	TopicSubscribed   = "subscription.added"
	TopicUnsubscribed = "subscription.removed"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Dispatch is the payload of the dispatch.* topics.
type Dispatch struct {
	CorrelationID string
	StrategyID    int64
	EventType     string
	Destination   string
	Reason        string
	Duration      time.Duration
}

// Subscription is the payload of the subscription.* topics.
type Subscription struct {
	Destination string
	EventType   string
	Source      string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns the in-memory bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

type MemBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  uint64
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock so unsubscribe (write lock) cannot close a
	// channel mid-send; sends are non-blocking so the lock is held briefly.
	b.mu.RLock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
	b.mu.RUnlock()
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Dropped returns the number of signals missed by slow subscribers.
func (b *MemBus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n uint64
	for _, s := range b.subs {
		n += s.dropped.Load()
	}
	return n
}
