package engine

import (
	"sync"

	"mirrorhub/pkg/models"
)

const streamBuffer = 64

// Stream is the Handle implementation shared by the in-repo engines. It
// enforces single-terminal-event semantics: progress events are dropped
// once the buffer fills (only the latest matters downstream), the terminal
// event is delivered exactly once and closes the stream, and anything
// emitted after the terminal event is discarded.
type Stream struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewStream creates an open event stream.
func NewStream() *Stream {
	return &Stream{ch: make(chan Event, streamBuffer)}
}

// Events implements Handle.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Progress emits a progress sample. Non-blocking: a full buffer drops the
// sample rather than stalling the transfer loop.
func (s *Stream) Progress(transferred int64, total *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- Event{Type: EventProgress, Transferred: transferred, Total: total}:
	default:
	}
}

// Succeed emits the successful terminal event carrying the result locator.
func (s *Stream) Succeed(resultLocator string) {
	s.terminal(Event{Type: EventSucceeded, ResultLocator: resultLocator})
}

// Fail emits the failed terminal event.
func (s *Stream) Fail(kind models.ErrorKind, message string, retryable bool) {
	s.terminal(Event{Type: EventFailed, Kind: kind, Message: message, Retryable: retryable})
}

// Canceled emits the canceled terminal event.
func (s *Stream) Canceled() {
	s.terminal(Event{Type: EventCanceled})
}

func (s *Stream) terminal(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// the consumer drains until it sees the terminal event; if the buffer
	// is full of stale progress samples, make room rather than stall
	for {
		select {
		case s.ch <- ev:
			s.closed = true
			close(s.ch)
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}
