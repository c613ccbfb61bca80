// Package eventbus implements topic-scoped publish/subscribe with
// non-blocking fan-out.
package eventbus

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const (
	defaultBuffer = 16
	stripes       = 64
)

// TopicBus delivers events published on a topic to the subscribers of that
// topic, plus any firehose subscribers registered with SubscribeAll.
//
// Publishes on the same topic are serialised, so every subscriber observes
// them in publish order. Delivery never blocks: a subscriber whose buffer is
// full misses the event. There is no replay for late subscribers.
type TopicBus[T any] struct {
	mu      sync.RWMutex
	topics  map[string][]chan T
	all     []chan T
	closed  bool
	buffer  int
	order   [stripes]sync.Mutex
	dropped atomic.Uint64
}

// NewTopicBus creates a bus whose subscriber channels hold buffer events.
// A non-positive buffer selects the default.
func NewTopicBus[T any](buffer int) *TopicBus[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &TopicBus[T]{topics: make(map[string][]chan T), buffer: buffer}
}

func (b *TopicBus[T]) stripe(topic string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return &b.order[h.Sum32()%stripes]
}

// Publish sends e to the topic subscribers and to firehose subscribers.
func (b *TopicBus[T]) Publish(topic string, e T) {
	lock := b.stripe(topic)
	lock.Lock()
	defer lock.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.topics[topic] {
		b.send(ch, e)
	}
	for _, ch := range b.all {
		b.send(ch, e)
	}
}

func (b *TopicBus[T]) send(ch chan T, e T) {
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// Subscribe registers a subscriber on topic and returns its channel.
func (b *TopicBus[T]) Subscribe(topic string) <-chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.topics[topic] = append(b.topics[topic], ch)
	return ch
}

// SubscribeAll registers a subscriber receiving events of every topic.
func (b *TopicBus[T]) SubscribeAll() <-chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.all = append(b.all, ch)
	return ch
}

// Unsubscribe removes the subscriber from topic and closes its channel.
// An empty topic is forgotten.
func (b *TopicBus[T]) Unsubscribe(topic string, sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, ch := range subs {
		if ch == sub {
			subs = append(subs[:i], subs[i+1:]...)
			if len(subs) == 0 {
				delete(b.topics, topic)
			} else {
				b.topics[topic] = subs
			}
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// UnsubscribeAll removes a firehose subscriber and closes its channel.
func (b *TopicBus[T]) UnsubscribeAll(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.all {
		if ch == sub {
			b.all = append(b.all[:i], b.all[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Subscribers returns the number of subscribers on topic.
func (b *TopicBus[T]) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// FirehoseSubscribers returns the number of SubscribeAll subscribers.
func (b *TopicBus[T]) FirehoseSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.all)
}

// Dropped returns how many deliveries were skipped because a subscriber
// buffer was full.
func (b *TopicBus[T]) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscriber channel. Later publishes are ignored.
func (b *TopicBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
	b.topics = nil
	b.all = nil
}
