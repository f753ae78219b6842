package status

import (
	"fmt"
	"sort"
	"sync"

	"mirrorhub/pkg/bus"
	"mirrorhub/pkg/models"
)

// Tracker maintains the read-optimized view of all live tasks. It subscribes
// to the event bus and overwrites its snapshot on every event, so progress
// events coalesce naturally: only the latest matters for display. Terminal
// snapshots stay until acknowledged or evicted by the retention sweep.
// All queries are non-blocking snapshot reads.
type Tracker struct {
	mu     sync.RWMutex
	snaps  map[string]models.TaskSnapshot
	cancel func()
	done   chan struct{}
}

// NewTracker subscribes to the bus and starts consuming events.
func NewTracker(b *bus.Bus) *Tracker {
	ch, cancel := b.Subscribe(256)
	t := &Tracker{
		snaps:  make(map[string]models.TaskSnapshot),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.consume(ch)
	return t
}

func (t *Tracker) consume(ch <-chan bus.Event) {
	defer close(t.done)
	for ev := range ch {
		t.mu.Lock()
		t.snaps[ev.TaskID] = ev.Snapshot
		t.mu.Unlock()
	}
}

// Stop detaches from the bus and waits for the consumer to drain.
func (t *Tracker) Stop() {
	t.cancel()
	<-t.done
}

// Get returns the latest snapshot for a task.
func (t *Tracker) Get(taskID string) (models.TaskSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.snaps[taskID]
	return snap, ok
}

// List returns snapshots, optionally filtered by owner: active tasks by
// start time ascending, then queued tasks by queue position, then terminal
// tasks by finish time.
func (t *Tracker) List(ownerID string) []models.TaskSnapshot {
	t.mu.RLock()
	var active, queued, done []models.TaskSnapshot
	for _, snap := range t.snaps {
		if ownerID != "" && snap.OwnerID != ownerID {
			continue
		}
		switch {
		case snap.State.IsActive():
			active = append(active, snap)
		case snap.State == models.StateQueued:
			queued = append(queued, snap)
		default:
			done = append(done, snap)
		}
	}
	t.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		si, sj := active[i].StartedAt, active[j].StartedAt
		if si == nil || sj == nil {
			return sj == nil && si != nil
		}
		return si.Before(*sj)
	})
	sort.Slice(queued, func(i, j int) bool {
		return queued[i].QueuePosition < queued[j].QueuePosition
	})
	sort.Slice(done, func(i, j int) bool {
		fi, fj := done[i].FinishedAt, done[j].FinishedAt
		if fi == nil || fj == nil {
			return fj == nil && fi != nil
		}
		return fi.Before(*fj)
	})

	out := make([]models.TaskSnapshot, 0, len(active)+len(queued)+len(done))
	out = append(out, active...)
	out = append(out, queued...)
	out = append(out, done...)
	return out
}

// Ack acknowledges a terminal task and evicts its snapshot.
func (t *Tracker) Ack(taskID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.snaps[taskID]
	if !ok {
		return models.ErrNotFound
	}
	if !snap.State.IsTerminal() {
		return fmt.Errorf("%w: task %s is still %s", models.ErrNotTerminal, taskID, snap.State)
	}
	delete(t.snaps, taskID)
	return nil
}

// Evict drops a snapshot unconditionally. Used by the retention sweep.
func (t *Tracker) Evict(taskID string) {
	t.mu.Lock()
	delete(t.snaps, taskID)
	t.mu.Unlock()
}
