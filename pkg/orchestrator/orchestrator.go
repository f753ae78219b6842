package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"mirrorhub/pkg/bus"
	"mirrorhub/pkg/engine"
	"mirrorhub/pkg/gate"
	"mirrorhub/pkg/models"
	"mirrorhub/pkg/state"
	"mirrorhub/pkg/status"
	"mirrorhub/pkg/task"
)

// Config holds orchestrator tunables. Zero values fall back to defaults.
type Config struct {
	GlobalMax         int
	PerOwnerMax       int
	WorkDir           string
	CancelGrace       time.Duration
	RetryBackoff      time.Duration
	Retention         time.Duration
	DefaultMaxRetries int
}

func (c *Config) applyDefaults() {
	if c.GlobalMax <= 0 {
		c.GlobalMax = 4
	}
	if c.PerOwnerMax <= 0 {
		c.PerOwnerMax = 2
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
}

// Orchestrator is the scheduler: it owns the authoritative task store,
// admits queued tasks through the concurrency gate, dispatches them to
// transfer engines, reacts to terminal events and drives retries and
// cancellation. All record mutation happens here, one transition per task
// at a time.
type Orchestrator struct {
	cfg      Config
	registry *engine.Registry
	store    state.StateManager
	gate     *gate.Gate
	bus      *bus.Bus
	tracker  *status.Tracker
	post     PostProcessor

	mu     sync.Mutex
	tasks  map[string]*task.Record
	closed bool

	cron *cron.Cron
	wg   sync.WaitGroup
}

// New wires an orchestrator. Call Start to recover persisted tasks and
// begin the background jobs, then Shutdown for teardown.
func New(cfg Config, registry *engine.Registry, store state.StateManager) *Orchestrator {
	cfg.applyDefaults()
	b := bus.New()
	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		store:    store,
		gate:     gate.New(cfg.GlobalMax, cfg.PerOwnerMax),
		bus:      b,
		tracker:  status.NewTracker(b),
		post:     payloadVerifier{},
		tasks:    make(map[string]*task.Record),
		cron:     cron.New(),
	}
	return o
}

// Bus exposes the event bus for external notifiers (chat message editor
// and friends). Events are forwarded verbatim, ordered per task.
func (o *Orchestrator) Bus() *bus.Bus {
	return o.bus
}

// SetPostProcessor replaces the hook invoked between download and upload
// for tasks submitted with post_process.
func (o *Orchestrator) SetPostProcessor(p PostProcessor) {
	if p != nil {
		o.post = p
	}
}

// Start recovers persisted tasks and starts the janitor jobs. Tasks that
// were mid-transfer when the process died are failed with
// interrupted_by_restart; queued tasks re-enter the wait queue.
func (o *Orchestrator) Start() error {
	snaps, err := o.store.ListTasks()
	if err != nil {
		fmt.Printf("Warning: failed to load persisted tasks: %v\n", err)
	}

	for _, snap := range snaps {
		switch {
		case snap.State.IsActive():
			prior := snap.State
			now := time.Now().UTC()
			snap.State = models.StateFailed
			snap.FinishedAt = &now
			snap.Error = &models.TaskError{
				Kind:    models.KindInterruptedByRestart,
				Message: "transfer interrupted by restart",
			}
			if err := o.store.SaveTask(snap); err != nil {
				fmt.Printf("Warning: failed to persist recovered task %s: %v\n", snap.ID, err)
			}
			fmt.Printf("Recovered task %s as failed (was %s before restart)\n", snap.ID, prior)
		case snap.State == models.StateQueued:
			rec := task.FromSnapshot(snap)
			o.mu.Lock()
			o.tasks[rec.ID] = rec
			adm := o.gate.TryAdmit(rec.ID, rec.OwnerID, rec.Priority)
			if adm.Granted {
				rec.SlotHeld = true
				o.wg.Add(1)
				go o.run(rec.ID)
			} else {
				rec.QueuePos = adm.Position
			}
			s := rec.Snapshot()
			o.mu.Unlock()
			o.publish(bus.KindQueued, s)
			fmt.Printf("Recovered queued task %s for owner %s\n", rec.ID, rec.OwnerID)
		}
	}

	if _, err := o.cron.AddFunc("@every 1h", o.sweep); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}
	if _, err := o.cron.AddFunc("@every 15s", o.flush); err != nil {
		return fmt.Errorf("failed to schedule state flush: %w", err)
	}
	o.cron.Start()
	return nil
}

// Submit validates and registers a new transfer pipeline, returning its
// task ID. Structural errors (invalid source, empty destinations, missing
// engine) surface immediately and never enter the queue.
func (o *Orchestrator) Submit(req models.SubmitRequest) (string, error) {
	source, err := models.ClassifySource(req.Source)
	if err != nil {
		return "", err
	}
	if len(req.Destinations) == 0 {
		return "", models.ErrNoDestinations
	}
	if _, err := o.registry.Downloader(source.Tag); err != nil {
		return "", err
	}
	for _, dest := range req.Destinations {
		if _, err := o.registry.Uploader(dest.Tag); err != nil {
			return "", err
		}
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = o.cfg.DefaultMaxRetries
	}

	id := uuid.New().String()
	rec := task.New(id, req.OwnerID, source, req.Destinations, req.Priority, maxRetries)
	rec.PostProcess = req.PostProcess

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", fmt.Errorf("orchestrator is shutting down")
	}
	o.tasks[id] = rec
	adm := o.gate.TryAdmit(id, rec.OwnerID, rec.Priority)
	if adm.Granted {
		rec.SlotHeld = true
	} else {
		rec.QueuePos = adm.Position
	}
	snap := rec.Snapshot()
	dispatch := adm.Granted
	o.mu.Unlock()

	o.persist(snap)
	o.publish(bus.KindQueued, snap)

	if dispatch {
		o.wg.Add(1)
		go o.run(id)
	}
	return id, nil
}

// Cancel requests cancellation of a task. A queued task leaves the wait
// queue immediately with no engine interaction; an active task is canceled
// through its engine, bounded by the configured grace period.
func (o *Orchestrator) Cancel(taskID string) error {
	o.mu.Lock()
	rec, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return models.ErrNotFound
	}
	if rec.State.IsTerminal() {
		o.mu.Unlock()
		return models.ErrAlreadyTerminal
	}

	if rec.State == models.StateQueued && !rec.SlotHeld {
		// waiting in the gate queue or in a retry-backoff window
		o.gate.Remove(taskID)
		rec.RequestCancel()
		if err := rec.Transition(models.StateCanceled); err != nil {
			o.mu.Unlock()
			fmt.Printf("ERROR: %v\n", err)
			return nil
		}
		snap := rec.Snapshot()
		o.mu.Unlock()
		o.persist(snap)
		o.publish(bus.KindCanceled, snap)
		o.refreshQueuePositions()
		return nil
	}

	// admitted or already bound to an engine: the runner observes the
	// cancel channel and drives the terminal transition
	rec.RequestCancel()
	o.mu.Unlock()
	return nil
}

// RetryNow is the manual override for a failed task still within its retry
// budget: it re-enters the queue immediately, skipping the backoff.
func (o *Orchestrator) RetryNow(taskID string) error {
	o.mu.Lock()
	rec, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return models.ErrNotFound
	}
	if rec.State != models.StateFailed || rec.RetryCount >= rec.MaxRetries {
		o.mu.Unlock()
		return models.ErrNotRetryable
	}

	rec.RetryCount++
	rec.Err = nil
	rec.ResetCancel()
	if err := rec.Transition(models.StateQueued); err != nil {
		o.mu.Unlock()
		return err
	}
	snap := rec.Snapshot()
	o.mu.Unlock()

	o.persist(snap)
	o.publish(bus.KindQueued, snap)
	o.enqueue(taskID)
	return nil
}

// GetStatus returns a point-in-time snapshot of one task.
func (o *Orchestrator) GetStatus(taskID string) (models.TaskSnapshot, error) {
	if snap, ok := o.tracker.Get(taskID); ok {
		return snap, nil
	}

	// the tracker may lag the bus by a beat; fall back to the
	// authoritative store, then to persisted history
	o.mu.Lock()
	if rec, ok := o.tasks[taskID]; ok {
		snap := rec.Snapshot()
		o.mu.Unlock()
		return snap, nil
	}
	o.mu.Unlock()

	if persisted, err := o.store.LoadTask(taskID); err == nil && persisted != nil {
		return *persisted, nil
	}
	return models.TaskSnapshot{}, models.ErrNotFound
}

// ListStatus returns snapshots of known tasks, optionally filtered by
// owner: active by start time, then queued by position, then terminal.
func (o *Orchestrator) ListStatus(ownerID string) []models.TaskSnapshot {
	return o.tracker.List(ownerID)
}

// Acknowledge evicts a terminal task from the live view. The persisted
// record is kept for history until the retention sweep.
func (o *Orchestrator) Acknowledge(taskID string) error {
	o.mu.Lock()
	rec, ok := o.tasks[taskID]
	if ok && !rec.State.IsTerminal() {
		o.mu.Unlock()
		return models.ErrNotTerminal
	}
	delete(o.tasks, taskID)
	o.mu.Unlock()

	if err := o.tracker.Ack(taskID); err != nil && !ok {
		return models.ErrNotFound
	}
	return nil
}

// SetLimits reconfigures the gate; raising a limit admits waiting tasks.
func (o *Orchestrator) SetLimits(globalMax, perOwnerMax int) {
	admitted := o.gate.SetLimits(globalMax, perOwnerMax)
	o.dispatchAdmitted(admitted)
}

// Limits returns the configured gate maxima.
func (o *Orchestrator) Limits() (int, int) {
	return o.gate.Limits()
}

// Shutdown stops intake, cancels active tasks, waits for runners to wind
// down, flushes state and tears down the background jobs. Queued tasks
// stay persisted as queued for the next start.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, rec := range o.tasks {
		if rec.State.IsActive() || (rec.State == models.StateQueued && rec.SlotHeld) {
			rec.RequestCancel()
		}
	}
	o.mu.Unlock()

	o.wg.Wait()
	o.cron.Stop()
	o.flush()
	o.tracker.Stop()
	o.bus.Close()
	if err := o.store.Close(); err != nil {
		fmt.Printf("Warning: failed to close state store: %v\n", err)
	}
}

// enqueue asks the gate for a slot for a queued task, dispatching the
// runner on grant. Called after the retry backoff and by RetryNow.
func (o *Orchestrator) enqueue(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.tasks[taskID]
	if !ok || o.closed || rec.State != models.StateQueued || rec.SlotHeld {
		return
	}

	// retries compete at normal priority so a flapping task cannot
	// monopolize admission
	adm := o.gate.TryAdmit(taskID, rec.OwnerID, models.PriorityNormal)
	if adm.Granted {
		rec.SlotHeld = true
		rec.QueuePos = 0
		o.wg.Add(1)
		go o.run(taskID)
	} else {
		rec.QueuePos = adm.Position
	}
}

// dispatchAdmitted starts runners for waiters the gate just admitted, then
// republishes the tasks still waiting so their queue positions stay current.
func (o *Orchestrator) dispatchAdmitted(admitted []*gate.Waiter) {
	defer o.refreshQueuePositions()
	for _, w := range admitted {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return
		}
		rec, ok := o.tasks[w.TaskID]
		if !ok || rec.State != models.StateQueued || rec.SlotHeld {
			o.mu.Unlock()
			// slot granted to a task that is gone; hand it back
			o.dispatchAdmitted(o.gate.Release(w.TaskID))
			continue
		}
		rec.SlotHeld = true
		rec.QueuePos = 0
		o.wg.Add(1)
		go o.run(w.TaskID)
		o.mu.Unlock()
	}
}

// refreshQueuePositions republishes queued tasks whose gate position moved,
// so list ordering tracks the queue as it drains ahead of them.
func (o *Orchestrator) refreshQueuePositions() {
	var snaps []models.TaskSnapshot
	o.mu.Lock()
	for id, rec := range o.tasks {
		if rec.State != models.StateQueued || rec.SlotHeld {
			continue
		}
		pos := o.gate.Position(id)
		if pos != 0 && pos != rec.QueuePos {
			rec.QueuePos = pos
			snaps = append(snaps, rec.Snapshot())
		}
	}
	o.mu.Unlock()

	for _, snap := range snaps {
		o.publish(bus.KindQueued, snap)
	}
}

func (o *Orchestrator) publish(kind bus.Kind, snap models.TaskSnapshot) {
	o.bus.Publish(bus.Event{TaskID: snap.ID, Kind: kind, Snapshot: snap})
}

func (o *Orchestrator) persist(snap models.TaskSnapshot) {
	if err := o.store.SaveTask(snap); err != nil {
		fmt.Printf("Warning: failed to persist task %s: %v\n", snap.ID, err)
	}
}

func (o *Orchestrator) workDirFor(taskID string) string {
	return filepath.Join(o.cfg.WorkDir, taskID)
}
