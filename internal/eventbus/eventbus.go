// Package eventbus fans out queue lifecycle events to live subscribers.
//
// Delivery is best-effort: a slow subscriber never blocks a publisher. When
// a subscriber's buffer is full, the oldest buffered event for that
// subscriber is dropped to make room for the new one, and the drop is
// logged. Ordering is only guaranteed per-task-id, per-subscriber; there is
// no cross-subscriber or cross-task ordering guarantee.
package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kmkr/telegrab-go/internal/task"
)

// EventKind discriminates the QueueEvent variants emitted over the wire.
type EventKind string

const (
	TaskAdded    EventKind = "TaskAdded"
	TaskUpdated  EventKind = "TaskUpdated"
	TaskRemoved  EventKind = "TaskRemoved"
	TaskProgress EventKind = "TaskProgress"
	QueueCleared EventKind = "QueueCleared"
)

// QueueEvent is the JSON-encodable shape streamed to ingress subscribers.
type QueueEvent struct {
	Kind     EventKind  `json:"kind"`
	Task     *task.Task `json:"task,omitempty"`
	TaskID   string     `json:"taskId,omitempty"`
	Progress float64    `json:"progress,omitempty"`
}

// DefaultBufferSize is the per-subscriber channel capacity used when the
// caller doesn't need a tighter bound.
const DefaultBufferSize = 1024

type subscriber struct {
	id     uint64
	ch     chan QueueEvent
	mu     sync.Mutex
	closed bool
}

// send drops the oldest queued event for this subscriber if the buffer is
// full, then enqueues the new one. Never blocks.
func (s *subscriber) send(ev QueueEvent, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case dropped := <-s.ch:
			if logger != nil {
				logger.Warn("eventbus: subscriber buffer full, dropping oldest event",
					"subscriber_id", s.id, "dropped_kind", dropped.Kind)
			}
		default:
			// Raced with a concurrent receive; loop back to try sending again.
		}
	}
}

// Bus is a multi-subscriber broadcast channel of QueueEvents.
type Bus struct {
	logger     *slog.Logger
	bufferSize int

	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  atomic.Uint64
	clients atomic.Int64 // live subscriber count, for diagnostics
}

// New creates a Bus with the given per-subscriber buffer size. Pass 0 to
// use DefaultBufferSize.
func New(logger *slog.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		logger:     logger,
		bufferSize: bufferSize,
		subs:       make(map[uint64]*subscriber),
	}
}

// Subscribe registers a new listener and returns its receive channel plus a
// cleanup function the caller must invoke when done listening.
func (b *Bus) Subscribe() (<-chan QueueEvent, func()) {
	id := b.nextID.Add(1)
	sub := &subscriber{id: id, ch: make(chan QueueEvent, b.bufferSize)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	b.clients.Add(1)

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		b.clients.Add(-1)

		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Publish delivers ev to every current subscriber. Never blocks the caller.
func (b *Bus) Publish(ev QueueEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.send(ev, b.logger)
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	return int(b.clients.Load())
}
