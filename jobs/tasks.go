package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/xu-registrar/doctrack/internal/requests"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep expires sessions older than the configured lifetime.
	TaskSessionSweep = "sessions:sweep"
	// TaskRequestStatusNotify tells an applicant that their request changed status.
	TaskRequestStatusNotify = "requests:notify_status"
)

// SessionSweepSpec runs the sweep every 15 minutes.
const SessionSweepSpec = "*/15 * * * *"

// SessionSweepPayload carries optional overrides for a sweep run.
type SessionSweepPayload struct {
	// MaxAge overrides the store's lifetime when positive.
	MaxAge time.Duration `json:"max_age,omitempty"`
}

// NewSessionSweepTask constructs the periodic sweep task.
func NewSessionSweepTask(maxAge time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(SessionSweepPayload{MaxAge: maxAge})
	if err != nil {
		return nil, fmt.Errorf("jobs: encode sweep payload: %w", err)
	}
	return asynq.NewTask(TaskSessionSweep, data), nil
}

// NewStatusNotificationTask constructs a notification task for n.
func NewStatusNotificationTask(n requests.StatusNotification) (*asynq.Task, error) {
	if n.RequestID == "" || n.EmailAddress == "" {
		return nil, fmt.Errorf("jobs: notification for %q has no recipient", n.RequestID)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode notification payload: %w", err)
	}
	return asynq.NewTask(TaskRequestStatusNotify, data), nil
}
