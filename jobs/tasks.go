// Package jobs wires background work through Asynq.
package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantsReap is the task type for purging expired grant rows.
	TaskGrantsReap = "grants:reap"
)

// NewGrantsReapTask constructs the reaper task. The reaper is storage
// hygiene only; reads already ignore expired rows.
func NewGrantsReapTask() *asynq.Task {
	return asynq.NewTask(TaskGrantsReap, nil)
}
