package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/xu-registrar/doctrack/internal/jobs"
	"github.com/xu-registrar/doctrack/internal/session"
)

// SessionSweepJob destroys stale sessions in the shared store.
type SessionSweepJob struct {
	Store   *session.Store
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSessionSweepJob wires dependencies for the sweep handler.
func NewSessionSweepJob(store *session.Store, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionSweepJob {
	return &SessionSweepJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle processes TaskSessionSweep tasks.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("session sweep: handler not configured")
	}
	var payload SessionSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	maxAge := j.Store.MaxAge()
	if payload.MaxAge > 0 {
		maxAge = payload.MaxAge
	}

	tracker := j.Metrics.Track(TaskSessionSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	expired, err := j.Store.SweepExpired(ctx, j.Store.Now(), maxAge)
	j.Metrics.AddExpiredSessions(expired)
	if err != nil {
		j.logger().Error("session sweep", slog.Int("expired", expired), slog.Any("error", err))
		return err
	}
	if expired > 0 {
		j.logger().Info("expired sessions", slog.Int("count", expired))
	}
	return nil
}

func (j *SessionSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
