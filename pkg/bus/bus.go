// Package bus is the in-process pub/sub broker behind the SSE endpoints.
// Topics are plain strings: the list-wide topic plus one topic per
// execution. Subscribers receive a snapshot frame on subscribe and
// incremental frames afterwards; a subscriber that stops draining its
// channel is dropped once its backlog fills.
package bus

import (
	"sync"

	"github.com/google/uuid"
)

// Frame event names match the SSE `event:` field written by the API.
const (
	EventSnapshot   = "snapshot"
	EventExecutions = "executions"
	EventUpdate     = "update"
	EventTerminal   = "terminal"
)

// TopicList is the list-wide topic; per-execution topics come from
// ExecutionTopic.
const TopicList = "executions"

// ExecutionTopic returns the topic carrying one execution's transitions.
func ExecutionTopic(executionID string) string {
	return "execution:" + executionID
}

// Frame is one published event.
type Frame struct {
	Event string
	Data  any
}

// Subscription is a live subscriber handle. C is closed when the
// subscriber is dropped, the topic is closed, or Unsubscribe is called.
type Subscription struct {
	ID string
	C  <-chan Frame

	topic string
	ch    chan Frame
}

// Bus is an in-memory broker. The zero value is not usable; call New.
type Bus struct {
	mu      sync.Mutex
	backlog int
	topics  map[string]map[string]*Subscription
}

// New creates a bus whose subscribers buffer up to backlog frames.
func New(backlog int) *Bus {
	if backlog < 1 {
		backlog = 1
	}
	return &Bus{
		backlog: backlog,
		topics:  make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers a subscriber on a topic. When snapshot is non-nil it
// is delivered as the first frame, before any subsequent publish.
func (b *Bus) Subscribe(topic string, snapshot *Frame) *Subscription {
	sub := &Subscription{
		ID:    uuid.NewString(),
		topic: topic,
		ch:    make(chan Frame, b.backlog),
	}
	sub.C = sub.ch
	if snapshot != nil {
		sub.ch <- *snapshot
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[string]*Subscription)
		b.topics[topic] = subs
	}
	subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(sub)
}

// Publish delivers a frame to every subscriber on the topic. A subscriber
// whose backlog is full is dropped rather than blocking the publisher.
func (b *Bus) Publish(topic string, frame Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.topics[topic] {
		select {
		case sub.ch <- frame:
		default:
			b.dropLocked(sub)
		}
	}
}

// CloseTopic drops every subscriber on a topic. The API calls this once an
// execution's terminal frame has been published.
func (b *Bus) CloseTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.topics[topic] {
		b.dropLocked(sub)
	}
}

func (b *Bus) dropLocked(sub *Subscription) {
	subs := b.topics[sub.topic]
	if _, ok := subs[sub.ID]; !ok {
		return
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
	close(sub.ch)
}
