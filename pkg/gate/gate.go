package gate

import (
	"fmt"
	"sync"
	"time"

	"mirrorhub/pkg/models"
)

// Waiter is a queued admission request.
type Waiter struct {
	TaskID   string
	OwnerID  string
	Priority models.Priority
	Enqueued time.Time
	seq      uint64
}

// Admission is the result of a TryAdmit call.
type Admission struct {
	Granted  bool
	Position int // 1-based wait-queue position when not granted
}

// Gate enforces the global and per-owner limits on simultaneously active
// transfers. Excess requests wait in a FIFO queue; high-priority entries are
// dequeued ahead of normal-priority entries of equal or later enqueue time.
// A single mutex guards the counters and the queue; every operation is O(1)
// amortized plus a bounded look at the queue head.
type Gate struct {
	mu          sync.Mutex
	globalMax   int
	perOwnerMax int
	active      map[string]string // taskID -> ownerID of held slots
	ownerActive map[string]int
	queue       []*Waiter
	seq         uint64
}

// New creates a gate with the given limits.
func New(globalMax, perOwnerMax int) *Gate {
	if globalMax <= 0 {
		globalMax = 1
	}
	if perOwnerMax <= 0 {
		perOwnerMax = 1
	}
	return &Gate{
		globalMax:   globalMax,
		perOwnerMax: perOwnerMax,
		active:      make(map[string]string),
		ownerActive: make(map[string]int),
	}
}

// TryAdmit admits the task immediately when both the global count and the
// owner's count are below their maxima, otherwise queues it.
func (g *Gate) TryAdmit(taskID, ownerID string, priority models.Priority) Admission {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.active[taskID]; held {
		// already holds a slot; admitting twice would break the
		// one-slot-per-task invariant
		fmt.Printf("Warning: gate admit for task %s which already holds a slot\n", taskID)
		return Admission{Granted: true}
	}

	if g.canAdmitLocked(ownerID) {
		g.admitLocked(taskID, ownerID)
		return Admission{Granted: true}
	}

	g.seq++
	w := &Waiter{
		TaskID:   taskID,
		OwnerID:  ownerID,
		Priority: priority,
		Enqueued: time.Now(),
		seq:      g.seq,
	}

	// insert before the first queued entry of lower priority
	idx := len(g.queue)
	for i, q := range g.queue {
		if q.Priority < priority {
			idx = i
			break
		}
	}
	g.queue = append(g.queue, nil)
	copy(g.queue[idx+1:], g.queue[idx:])
	g.queue[idx] = w

	return Admission{Position: idx + 1}
}

// Release frees the slot held by taskID and admits waiters from the head of
// the queue while limits permit. Releasing an unknown or already-released
// task is a warning, not a fault. The returned waiters must be dispatched by
// the caller.
func (g *Gate) Release(taskID string) []*Waiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	ownerID, held := g.active[taskID]
	if !held {
		fmt.Printf("Warning: gate release for task %s which holds no slot\n", taskID)
		return nil
	}

	delete(g.active, taskID)
	g.ownerActive[ownerID]--
	if g.ownerActive[ownerID] <= 0 {
		delete(g.ownerActive, ownerID)
	}

	return g.drainLocked()
}

// Remove drops a queued task from the wait queue. Returns false when the
// task is not waiting (already admitted or unknown).
func (g *Gate) Remove(taskID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, w := range g.queue {
		if w.TaskID == taskID {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			return true
		}
	}
	return false
}

// SetLimits reconfigures the maxima. Raising a limit admits waiters that now
// fit; lowering one never evicts active tasks. Returns newly admitted
// waiters for the caller to dispatch.
func (g *Gate) SetLimits(globalMax, perOwnerMax int) []*Waiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if globalMax > 0 {
		g.globalMax = globalMax
	}
	if perOwnerMax > 0 {
		g.perOwnerMax = perOwnerMax
	}
	return g.drainLocked()
}

// Position returns the 1-based queue position of a waiting task, or 0 when
// the task is not queued.
func (g *Gate) Position(taskID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, w := range g.queue {
		if w.TaskID == taskID {
			return i + 1
		}
	}
	return 0
}

// ActiveCount returns the number of held slots.
func (g *Gate) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

// ActiveFor returns the number of slots held by one owner.
func (g *Gate) ActiveFor(ownerID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ownerActive[ownerID]
}

// QueueLen returns the number of waiting tasks.
func (g *Gate) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Limits returns the configured maxima.
func (g *Gate) Limits() (globalMax, perOwnerMax int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.globalMax, g.perOwnerMax
}

func (g *Gate) canAdmitLocked(ownerID string) bool {
	if len(g.active) >= g.globalMax {
		return false
	}
	return g.ownerActive[ownerID] < g.perOwnerMax
}

func (g *Gate) admitLocked(taskID, ownerID string) {
	if len(g.active) >= g.globalMax {
		// must never happen: admission is checked under the same lock
		panic(fmt.Sprintf("gate: admitting task %s past global limit %d", taskID, g.globalMax))
	}
	g.active[taskID] = ownerID
	g.ownerActive[ownerID]++
}

// drainLocked admits from the queue head while the head fits the limits.
// FIFO order within a priority class guarantees eventual admission; a head
// blocked on its owner's limit waits without being skipped.
func (g *Gate) drainLocked() []*Waiter {
	var admitted []*Waiter
	for len(g.queue) > 0 {
		head := g.queue[0]
		if !g.canAdmitLocked(head.OwnerID) {
			break
		}
		g.queue = g.queue[1:]
		g.admitLocked(head.TaskID, head.OwnerID)
		admitted = append(admitted, head)
	}
	return admitted
}
