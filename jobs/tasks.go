package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAdjustmentsSync drains pending adjustment records to the remote ledger.
	TaskAdjustmentsSync = "adjustments:sync"

	// TriggerAPI marks a sync enqueued by the HTTP trigger endpoint.
	TriggerAPI = "api"
	// TriggerSchedule marks a sync fired by the cron scheduler.
	TriggerSchedule = "schedule"
)

// AdjustmentsSyncPayload carries trigger metadata for a sync run. Scheduled
// tasks leave RequestedAt zero: the scheduler registers one task at startup
// and re-enqueues it on every fire, so any timestamp baked in would be stale.
type AdjustmentsSyncPayload struct {
	Trigger     string    `json:"trigger"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewAdjustmentsSyncTask constructs a task for an API-triggered sync run,
// stamped with the time the request was accepted.
func NewAdjustmentsSyncTask(at time.Time) (*asynq.Task, error) {
	return newSyncTask(AdjustmentsSyncPayload{Trigger: TriggerAPI, RequestedAt: at})
}

// NewScheduledSyncTask constructs the task the cron scheduler re-enqueues on
// each fire.
func NewScheduledSyncTask() (*asynq.Task, error) {
	return newSyncTask(AdjustmentsSyncPayload{Trigger: TriggerSchedule})
}

func newSyncTask(p AdjustmentsSyncPayload) (*asynq.Task, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAdjustmentsSync, body, asynq.Queue(QueueDefault)), nil
}
