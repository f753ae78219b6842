package state

import (
	"time"

	"mirrorhub/pkg/models"
)

// StateManager persists task records for crash recovery. The scheduler
// writes on every transition plus a periodic flush; on restart it reloads
// the store and fails tasks that were mid-transfer.
type StateManager interface {
	SaveTask(snap models.TaskSnapshot) error
	LoadTask(taskID string) (*models.TaskSnapshot, error)
	ListTasks() ([]models.TaskSnapshot, error)
	DeleteTask(taskID string) error
	CleanupOldTasks(olderThan time.Duration) error
	Close() error
}
