package orchestrator

import (
	"fmt"
	"os"
	"time"

	"mirrorhub/pkg/models"
)

// sweep evicts terminal tasks past retention from the live view, their
// work dirs and the persisted history. Runs on the cron schedule.
func (o *Orchestrator) sweep() {
	cutoff := time.Now().UTC().Add(-o.cfg.Retention)

	o.mu.Lock()
	var evict []string
	for id, rec := range o.tasks {
		if rec.State.IsTerminal() && rec.FinishedAt != nil && rec.FinishedAt.Before(cutoff) {
			evict = append(evict, id)
		}
	}
	for _, id := range evict {
		delete(o.tasks, id)
	}
	o.mu.Unlock()

	for _, id := range evict {
		o.tracker.Evict(id)
		if err := os.RemoveAll(o.workDirFor(id)); err != nil {
			fmt.Printf("Warning: failed to remove work dir for task %s: %v\n", id, err)
		}
	}

	if err := o.store.CleanupOldTasks(o.cfg.Retention); err != nil {
		fmt.Printf("Warning: retention cleanup failed: %v\n", err)
	}
	if len(evict) > 0 {
		fmt.Printf("Retention sweep evicted %d terminal tasks\n", len(evict))
	}
}

// flush persists a snapshot of every live task so queue position and
// progress survive an unclean exit between transition writes.
func (o *Orchestrator) flush() {
	o.mu.Lock()
	snaps := make([]models.TaskSnapshot, 0, len(o.tasks))
	for _, rec := range o.tasks {
		snaps = append(snaps, rec.Snapshot())
	}
	o.mu.Unlock()

	for _, snap := range snaps {
		o.persist(snap)
	}
}
