package task

import (
	"fmt"
	"time"

	"mirrorhub/pkg/models"
)

// Record is the authoritative orchestration state of one transfer pipeline.
// Only the scheduler mutates a Record; every other component works on
// Snapshot copies.
type Record struct {
	ID           string
	OwnerID      string
	Source       models.Source
	Destinations []models.Destination
	State        models.TaskState
	CurrentDest  int
	PostProcess  bool
	Priority     models.Priority
	Progress     models.Progress
	RetryCount   int
	MaxRetries   int
	QueuePos     int
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Err          *models.TaskError

	// SlotHeld tracks whether the task currently occupies a gate slot,
	// guaranteeing release is called exactly once per admission.
	SlotHeld bool

	// CancelCh is closed when cancellation is requested. The runner
	// bound to this record observes the close between engine events.
	CancelCh     chan struct{}
	cancelClosed bool

	// PayloadPath is where the download engine left the payload. Set on
	// download success so an upload retry does not transfer it again.
	PayloadPath string
}

// New creates a queued record for a freshly submitted pipeline.
func New(id, ownerID string, source models.Source, dests []models.Destination, priority models.Priority, maxRetries int) *Record {
	return &Record{
		ID:           id,
		OwnerID:      ownerID,
		Source:       source,
		Destinations: dests,
		State:        models.StateQueued,
		Priority:     priority,
		MaxRetries:   maxRetries,
		CreatedAt:    time.Now().UTC(),
		CancelCh:     make(chan struct{}),
	}
}

// FromSnapshot rebuilds a record from its persisted form. Used on startup
// recovery of queued tasks.
func FromSnapshot(snap models.TaskSnapshot) *Record {
	r := &Record{
		ID:           snap.ID,
		OwnerID:      snap.OwnerID,
		Source:       snap.Source,
		Destinations: append([]models.Destination(nil), snap.Destinations...),
		State:        snap.State,
		CurrentDest:  snap.CurrentDest,
		PostProcess:  snap.PostProcess,
		Priority:     snap.Priority,
		PayloadPath:  snap.PayloadPath,
		Progress:     snap.Progress,
		RetryCount:   snap.RetryCount,
		MaxRetries:   snap.MaxRetries,
		CreatedAt:    snap.CreatedAt,
		CancelCh:     make(chan struct{}),
	}
	if snap.StartedAt != nil {
		t := *snap.StartedAt
		r.StartedAt = &t
	}
	if snap.FinishedAt != nil {
		t := *snap.FinishedAt
		r.FinishedAt = &t
	}
	if snap.Error != nil {
		e := *snap.Error
		r.Err = &e
	}
	return r
}

// transitions is the legal edge set of the task state machine. The
// failed -> queued edge exists only for the manual retry override.
var transitions = map[models.TaskState][]models.TaskState{
	models.StateQueued:         {models.StateDownloading, models.StateCanceled},
	models.StateDownloading:    {models.StatePostProcessing, models.StateUploading, models.StateQueued, models.StateFailed, models.StateCanceled},
	models.StatePostProcessing: {models.StateUploading, models.StateFailed},
	models.StateUploading:      {models.StateUploading, models.StateCompleted, models.StateQueued, models.StateFailed, models.StateCanceled},
	models.StateFailed:         {models.StateQueued},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.TaskState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the record to the given state, stamping the lifecycle
// timestamps. An undefined edge is an internal fault: it returns an error
// and leaves the record untouched.
func (r *Record) Transition(to models.TaskState) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("illegal transition %s -> %s for task %s", r.State, to, r.ID)
	}

	now := time.Now().UTC()
	if r.State == models.StateQueued && to == models.StateDownloading && r.StartedAt == nil {
		r.StartedAt = &now
	}
	if to.IsTerminal() {
		r.FinishedAt = &now
	}
	if to == models.StateQueued {
		// back in the wait queue after a retryable failure
		r.Progress = models.Progress{}
	}

	r.State = to
	return nil
}

// RequestCancel marks the record for cancellation. Returns false if a
// cancel was already requested. Idempotent with respect to the channel.
func (r *Record) RequestCancel() bool {
	if r.cancelClosed {
		return false
	}
	r.cancelClosed = true
	close(r.CancelCh)
	return true
}

// CancelRequested reports whether cancellation has been requested.
func (r *Record) CancelRequested() bool {
	return r.cancelClosed
}

// ResetCancel re-arms the cancel channel. Called when a failed task is
// manually requeued, so a stale cancel request does not kill the retry.
func (r *Record) ResetCancel() {
	r.CancelCh = make(chan struct{})
	r.cancelClosed = false
}

// Snapshot returns a deep copy safe to hand outside the scheduler.
func (r *Record) Snapshot() models.TaskSnapshot {
	snap := models.TaskSnapshot{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Source:        r.Source,
		State:         r.State,
		CurrentDest:   r.CurrentDest,
		PostProcess:   r.PostProcess,
		Priority:      r.Priority,
		PayloadPath:   r.PayloadPath,
		Progress:      r.Progress,
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		QueuePosition: r.QueuePos,
		CreatedAt:     r.CreatedAt,
	}
	snap.Destinations = make([]models.Destination, len(r.Destinations))
	copy(snap.Destinations, r.Destinations)
	if r.Progress.TotalBytes != nil {
		total := *r.Progress.TotalBytes
		snap.Progress.TotalBytes = &total
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		snap.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		snap.FinishedAt = &t
	}
	if r.Err != nil {
		e := *r.Err
		snap.Error = &e
	}
	return snap
}
