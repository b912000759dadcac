package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/xu-registrar/doctrack/internal/jobs"
	"github.com/xu-registrar/doctrack/internal/requests"
)

// Sender delivers a rendered notification to a single recipient.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender writes notifications to the log instead of a mail server.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, to, subject, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "status notification",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("body", body),
	)
	return nil
}

// StatusNotifyJob renders and delivers request status notifications.
type StatusNotifyJob struct {
	Sender  Sender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStatusNotifyJob wires dependencies for the notification handler.
func NewStatusNotifyJob(sender Sender, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatusNotifyJob {
	return &StatusNotifyJob{Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle processes TaskRequestStatusNotify tasks.
func (j *StatusNotifyJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Sender == nil {
		return errors.New("status notify: handler not configured")
	}
	var n requests.StatusNotification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return asynq.SkipRetry
	}
	if n.EmailAddress == "" {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskRequestStatusNotify)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	subject, body := renderNotification(n)
	err := j.Sender.Send(ctx, n.EmailAddress, subject, body)
	j.Metrics.ObserveNotification("email", err == nil)
	if err != nil {
		if j.Logger != nil {
			j.Logger.Warn("deliver status notification", slog.String("request_id", n.RequestID), slog.Any("error", err))
		}
		return err
	}
	return nil
}

func renderNotification(n requests.StatusNotification) (string, string) {
	subject := fmt.Sprintf("Document request %s: %s", n.TrackingCode, n.Status)
	var body string
	switch n.Status {
	case requests.StatusReady:
		body = fmt.Sprintf("Your document request %s is ready for pickup at the Office of the University Registrar.", n.TrackingCode)
	default:
		body = fmt.Sprintf("Your document request %s is now %q.", n.TrackingCode, n.Status)
	}
	return subject, body
}

// DirectNotifier delivers notifications synchronously when no queue is configured.
type DirectNotifier struct {
	Sender Sender
}

// NotifyStatus implements requests.Notifier.
func (d DirectNotifier) NotifyStatus(ctx context.Context, n requests.StatusNotification) error {
	if d.Sender == nil || n.EmailAddress == "" {
		return nil
	}
	subject, body := renderNotification(n)
	return d.Sender.Send(ctx, n.EmailAddress, subject, body)
}

var _ requests.Notifier = DirectNotifier{}
