package engine

import (
	"context"

	"mirrorhub/pkg/models"
)

// EventType discriminates engine events.
type EventType int

const (
	EventProgress EventType = iota
	EventSucceeded
	EventFailed
	EventCanceled
)

// Event is one notification from a running transfer. Every started transfer
// emits any number of progress events followed by exactly one terminal
// event (succeeded, failed or canceled).
type Event struct {
	Type EventType

	// progress
	Transferred int64
	Total       *int64 // nil when the source reports no size

	// succeeded
	ResultLocator string

	// failed
	Kind      models.ErrorKind
	Message   string
	Retryable bool
}

// Terminal reports whether the event ends the transfer.
func (e Event) Terminal() bool {
	return e.Type != EventProgress
}

// Handle represents one started transfer. The scheduler never starts a
// second transfer on a handle and never cancels after observing the
// terminal event.
type Handle interface {
	Events() <-chan Event
}

// Engine is the capability interface every transfer backend implements,
// regardless of direction. Concrete engines are registered against the
// source or destination tag they service.
//
// workPath is the local side of the transfer: for a download engine the
// directory to write into, for an upload engine the payload to ship.
type Engine interface {
	Start(ctx context.Context, locator, workPath string) (Handle, error)
	Cancel(h Handle) error
}
