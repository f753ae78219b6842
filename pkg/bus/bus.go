package bus

import (
	"sync"
	"time"

	"mirrorhub/pkg/models"
)

// Kind labels a lifecycle event.
type Kind string

const (
	KindQueued         Kind = "queued"
	KindStarted        Kind = "started"
	KindProgressed     Kind = "progressed"
	KindPostProcessing Kind = "post_processing"
	KindUploading      Kind = "uploading"
	KindCompleted      Kind = "completed"
	KindFailed         Kind = "failed"
	KindCanceled       Kind = "canceled"
)

// Terminal reports whether the event ends the task's pipeline.
func (k Kind) Terminal() bool {
	return k == KindCompleted || k == KindFailed || k == KindCanceled
}

// Event is one lifecycle notification. The full task snapshot rides along
// so subscribers never reach into the scheduler's store.
type Event struct {
	TaskID   string              `json:"task_id"`
	Kind     Kind                `json:"kind"`
	Snapshot models.TaskSnapshot `json:"snapshot"`
	At       time.Time           `json:"at"`
}

type subscriber struct {
	ch       chan Event
	done     chan struct{}
	doneOnce sync.Once
	chOnce   sync.Once
}

// detach unblocks publishers waiting on this subscriber.
func (s *subscriber) detach() {
	s.doneOnce.Do(func() { close(s.done) })
}

// closeCh closes the delivery channel. Callers must guarantee no publisher
// can still be sending, i.e. the subscriber is out of the subs list or the
// caller holds the write lock.
func (s *subscriber) closeCh() {
	s.chOnce.Do(func() { close(s.ch) })
}

// Bus is a multi-producer broadcast channel of lifecycle events. Events of
// one task are published by that task's single runner, so per-task order is
// preserved for every subscriber; no ordering holds across tasks. Delivery
// blocks when a subscriber's buffer fills: backpressure is explicit rather
// than silently dropping events.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
}

// New creates an event bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a consumer with the given channel buffer. The
// returned cancel function detaches the subscriber and closes its channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	s := &subscriber{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	cancel := func() {
		s.detach()
		b.mu.Lock()
		for i, sub := range b.subs {
			if sub == s {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		s.closeCh()
	}
	return s.ch, cancel
}

// Publish delivers the event to every subscriber. Blocks on a full
// subscriber buffer until the consumer drains or detaches.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		case <-s.done:
		}
	}
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.detach()
		s.closeCh()
	}
	b.subs = nil
}
