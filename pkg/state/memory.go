package state

import (
	"sync"
	"time"

	"mirrorhub/pkg/models"
)

// MemoryStateManager keeps task records in memory. Used when no database is
// configured and in tests; recovery across restarts obviously does not
// apply.
type MemoryStateManager struct {
	mu    sync.RWMutex
	tasks map[string]models.TaskSnapshot
}

// NewMemoryStateManager creates an empty in-memory store.
func NewMemoryStateManager() *MemoryStateManager {
	return &MemoryStateManager{tasks: make(map[string]models.TaskSnapshot)}
}

// SaveTask stores or replaces one record.
func (m *MemoryStateManager) SaveTask(snap models.TaskSnapshot) error {
	m.mu.Lock()
	m.tasks[snap.ID] = snap
	m.mu.Unlock()
	return nil
}

// LoadTask returns the stored record, or nil when unknown.
func (m *MemoryStateManager) LoadTask(taskID string) (*models.TaskSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// ListTasks returns all stored records.
func (m *MemoryStateManager) ListTasks() ([]models.TaskSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TaskSnapshot, 0, len(m.tasks))
	for _, snap := range m.tasks {
		out = append(out, snap)
	}
	return out, nil
}

// DeleteTask removes one record.
func (m *MemoryStateManager) DeleteTask(taskID string) error {
	m.mu.Lock()
	delete(m.tasks, taskID)
	m.mu.Unlock()
	return nil
}

// CleanupOldTasks removes terminal records older than the window.
func (m *MemoryStateManager) CleanupOldTasks(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, snap := range m.tasks {
		if !snap.State.IsTerminal() {
			continue
		}
		if snap.FinishedAt != nil && snap.FinishedAt.Before(cutoff) {
			delete(m.tasks, id)
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStateManager) Close() error {
	return nil
}
