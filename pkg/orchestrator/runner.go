package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"mirrorhub/pkg/bus"
	"mirrorhub/pkg/engine"
	"mirrorhub/pkg/models"
	"mirrorhub/pkg/progress"
	"mirrorhub/pkg/task"
)

// run drives one admitted task through its pipeline: download, optional
// post-processing, then one upload leg per destination in order. It owns
// the gate slot acquired at admission and guarantees it is released
// exactly once, whatever path the pipeline takes.
func (o *Orchestrator) run(taskID string) {
	defer o.wg.Done()

	o.mu.Lock()
	rec, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		o.dispatchAdmitted(o.gate.Release(taskID))
		return
	}
	cancelCh := rec.CancelCh
	canceled := rec.CancelRequested()
	rec.QueuePos = 0
	source := rec.Source
	payload := rec.PayloadPath
	postProcess := rec.PostProcess
	o.mu.Unlock()

	if canceled {
		o.finalize(taskID, models.StateCanceled, nil, bus.KindCanceled)
		return
	}
	if o.advance(rec, models.StateDownloading, bus.KindStarted) != nil {
		return
	}

	workDir := o.workDirFor(taskID)
	downloaded := false

	// a payload left by an earlier attempt means the download already
	// succeeded; only the remaining upload legs need to run
	if payload == "" || !fileExists(payload) {
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			o.finalize(taskID, models.StateFailed, &models.TaskError{
				Kind:    models.KindTransferError,
				Message: fmt.Sprintf("failed to create work dir: %v", err),
			}, bus.KindFailed)
			return
		}
		dl, err := o.registry.Downloader(source.Tag)
		if err != nil {
			o.finalize(taskID, models.StateFailed, &models.TaskError{
				Kind:    models.KindEngineUnavailable,
				Message: err.Error(),
			}, bus.KindFailed)
			return
		}

		ev := o.runStage(rec, dl, source.Locator, workDir, cancelCh)
		switch ev.Type {
		case engine.EventCanceled:
			o.finalize(taskID, models.StateCanceled, nil, bus.KindCanceled)
			return
		case engine.EventFailed:
			o.handleFailure(taskID, ev)
			return
		}
		payload = ev.ResultLocator
		downloaded = true

		o.mu.Lock()
		rec.PayloadPath = payload
		snap := rec.Snapshot()
		o.mu.Unlock()
		o.persist(snap)
	}

	if downloaded && postProcess {
		if o.advance(rec, models.StatePostProcessing, bus.KindPostProcessing) != nil {
			return
		}
		if err := o.post.Process(context.Background(), taskID, payload); err != nil {
			o.finalize(taskID, models.StateFailed, &models.TaskError{
				Kind:    models.KindTransferError,
				Message: fmt.Sprintf("post-processing failed: %v", err),
			}, bus.KindFailed)
			return
		}
	}

	for {
		o.mu.Lock()
		idx := rec.CurrentDest
		done := idx >= len(rec.Destinations)
		var dest models.Destination
		if !done {
			dest = rec.Destinations[idx]
		}
		o.mu.Unlock()

		if done {
			o.finalize(taskID, models.StateCompleted, nil, bus.KindCompleted)
			return
		}

		if o.advance(rec, models.StateUploading, bus.KindUploading) != nil {
			return
		}

		// a cancel requested between stages takes effect here, before
		// the next engine is started
		select {
		case <-cancelCh:
			o.finalize(taskID, models.StateCanceled, nil, bus.KindCanceled)
			return
		default:
		}

		up, err := o.registry.Uploader(dest.Tag)
		if err != nil {
			o.finalize(taskID, models.StateFailed, &models.TaskError{
				Kind:    models.KindEngineUnavailable,
				Message: err.Error(),
			}, bus.KindFailed)
			return
		}

		ev := o.runStage(rec, up, dest.Target, payload, cancelCh)
		switch ev.Type {
		case engine.EventCanceled:
			o.finalize(taskID, models.StateCanceled, nil, bus.KindCanceled)
			return
		case engine.EventFailed:
			o.handleFailure(taskID, ev)
			return
		}

		o.mu.Lock()
		rec.CurrentDest++
		snap := rec.Snapshot()
		o.mu.Unlock()
		o.persist(snap)
	}
}

// runStage starts one engine transfer and pumps its events until the
// terminal one, relaying progress onto the bus. Cancellation is forwarded
// to the engine; if it does not confirm within the grace period the stage
// ends with a cancel_timeout failure.
func (o *Orchestrator) runStage(rec *task.Record, eng engine.Engine, locator, workPath string, cancelCh chan struct{}) engine.Event {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := eng.Start(ctx, locator, workPath)
	if err != nil {
		return engine.Event{
			Type:      engine.EventFailed,
			Kind:      models.KindTransferError,
			Message:   err.Error(),
			Retryable: true,
		}
	}

	est := progress.NewEstimator()
	canceling := false
	var graceCh <-chan time.Time

	for {
		select {
		case ev, open := <-h.Events():
			if !open {
				return engine.Event{
					Type:    engine.EventFailed,
					Kind:    models.KindTransferError,
					Message: "engine closed its event stream without a terminal event",
				}
			}
			if ev.Terminal() {
				if canceling && ev.Type == engine.EventFailed {
					// the cancel raced an engine failure; the cancel wins
					return engine.Event{Type: engine.EventCanceled}
				}
				return ev
			}
			o.mu.Lock()
			rec.Progress = est.Observe(ev.Transferred, ev.Total)
			snap := rec.Snapshot()
			o.mu.Unlock()
			o.publish(bus.KindProgressed, snap)

		case <-cancelCh:
			cancelCh = nil
			canceling = true
			if err := eng.Cancel(h); err != nil {
				fmt.Printf("Warning: engine cancel for task %s: %v\n", rec.ID, err)
			}
			cancel()
			timer := time.NewTimer(o.cfg.CancelGrace)
			defer timer.Stop()
			graceCh = timer.C

		case <-graceCh:
			return engine.Event{
				Type:    engine.EventFailed,
				Kind:    models.KindCancelTimeout,
				Message: fmt.Sprintf("engine did not confirm cancellation within %s", o.cfg.CancelGrace),
			}
		}
	}
}

// handleFailure decides between a backoff requeue and a terminal failure
// after an engine reported failed.
func (o *Orchestrator) handleFailure(taskID string, ev engine.Event) {
	kind := ev.Kind
	if kind == "" {
		kind = models.KindTransferError
	}
	terr := &models.TaskError{Kind: kind, Message: ev.Message, Retryable: ev.Retryable}

	o.mu.Lock()
	rec, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		o.dispatchAdmitted(o.gate.Release(taskID))
		return
	}
	// a cancel that raced this failure wins, except when the failure IS
	// the cancel not confirming in time
	if rec.CancelRequested() && kind != models.KindCancelTimeout {
		o.mu.Unlock()
		o.finalize(taskID, models.StateCanceled, nil, bus.KindCanceled)
		return
	}

	if ev.Retryable && rec.RetryCount < rec.MaxRetries && !o.closed {
		rec.RetryCount++
		if err := rec.Transition(models.StateQueued); err != nil {
			released := rec.SlotHeld
			rec.SlotHeld = false
			o.mu.Unlock()
			fmt.Printf("ERROR: %v\n", err)
			if released {
				o.dispatchAdmitted(o.gate.Release(taskID))
			}
			return
		}
		delay := o.cfg.RetryBackoff << uint(rec.RetryCount-1)
		released := rec.SlotHeld
		rec.SlotHeld = false
		snap := rec.Snapshot()
		o.mu.Unlock()

		if released {
			o.dispatchAdmitted(o.gate.Release(taskID))
		}
		o.persist(snap)
		o.publish(bus.KindQueued, snap)
		fmt.Printf("Task %s failed (%s), retry %d/%d in %s\n", taskID, kind, snap.RetryCount, snap.MaxRetries, delay)
		time.AfterFunc(delay, func() { o.enqueue(taskID) })
		return
	}
	o.mu.Unlock()

	o.finalize(taskID, models.StateFailed, terr, bus.KindFailed)
}

// finalize drives the terminal transition, releases the gate slot exactly
// once, persists and publishes. The work dir survives a failure so a
// manual retry can reuse the payload; completed and canceled tasks are
// cleaned up immediately.
func (o *Orchestrator) finalize(taskID string, to models.TaskState, terr *models.TaskError, kind bus.Kind) {
	o.mu.Lock()
	rec, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		o.dispatchAdmitted(o.gate.Release(taskID))
		return
	}
	if err := rec.Transition(to); err != nil {
		released := rec.SlotHeld
		rec.SlotHeld = false
		o.mu.Unlock()
		fmt.Printf("ERROR: %v\n", err)
		if released {
			o.dispatchAdmitted(o.gate.Release(taskID))
		}
		return
	}
	rec.Err = terr
	released := rec.SlotHeld
	rec.SlotHeld = false
	snap := rec.Snapshot()
	o.mu.Unlock()

	if released {
		o.dispatchAdmitted(o.gate.Release(taskID))
	}
	o.persist(snap)
	o.publish(kind, snap)

	if to != models.StateFailed {
		if err := os.RemoveAll(o.workDirFor(taskID)); err != nil {
			fmt.Printf("Warning: failed to remove work dir for task %s: %v\n", taskID, err)
		}
	}
}

// advance moves the record along a non-terminal pipeline edge, resetting
// per-stage progress, then persists and publishes. An illegal edge is an
// internal fault: the pipeline halts and its slot is handed back.
func (o *Orchestrator) advance(rec *task.Record, to models.TaskState, kind bus.Kind) error {
	o.mu.Lock()
	if err := rec.Transition(to); err != nil {
		released := rec.SlotHeld
		rec.SlotHeld = false
		o.mu.Unlock()
		fmt.Printf("ERROR: %v\n", err)
		if released {
			o.dispatchAdmitted(o.gate.Release(rec.ID))
		}
		return err
	}
	rec.Progress = models.Progress{}
	snap := rec.Snapshot()
	o.mu.Unlock()

	o.persist(snap)
	o.publish(kind, snap)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
