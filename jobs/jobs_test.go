package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/xu-registrar/doctrack/internal/jobs"
	"github.com/xu-registrar/doctrack/internal/rbac"
	"github.com/xu-registrar/doctrack/internal/requests"
	"github.com/xu-registrar/doctrack/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionSweepJobExpiresStaleSessions(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	store := session.NewStore(session.StoreConfig{
		Logger: discardLogger(),
		MaxAge: time.Hour,
		Clock:  func() time.Time { return now },
	})
	ctx := context.Background()
	old, err := store.Create(ctx, session.User{Email: "evaluator@xu.edu.ph", Role: rbac.RoleEvaluator}, "email_password")
	require.NoError(t, err)

	now = now.Add(50 * time.Minute)
	fresh, err := store.Create(ctx, session.User{Email: "intern@my.xu.edu.ph", Role: rbac.RoleIntern}, "email_password")
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	task, err := NewSessionSweepTask(0)
	require.NoError(t, err)
	job := NewSessionSweepJob(store, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, job.Handle(ctx, task))

	got, err := store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, session.ReasonTimeout, got.DestroyedBy)

	got, err = store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestSessionSweepJobHonoursMaxAgeOverride(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	store := session.NewStore(session.StoreConfig{
		Logger: discardLogger(),
		Clock:  func() time.Time { return now },
	})
	ctx := context.Background()
	sess, err := store.Create(ctx, session.User{Email: "registrar@xu.edu.ph", Role: rbac.RoleUniversityRegistrar}, "email_password")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	task, err := NewSessionSweepTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, NewSessionSweepJob(store, nil, nil).Handle(ctx, task))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestSessionSweepJobRejectsBadPayload(t *testing.T) {
	store := session.NewStore(session.StoreConfig{Logger: discardLogger()})
	err := NewSessionSweepJob(store, nil, nil).Handle(context.Background(), asynq.NewTask(TaskSessionSweep, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	var unconfigured *SessionSweepJob
	assert.Error(t, unconfigured.Handle(context.Background(), asynq.NewTask(TaskSessionSweep, nil)))
}

type recordingSender struct {
	to, subject, body string
	err               error
}

func (s *recordingSender) Send(_ context.Context, to, subject, body string) error {
	s.to, s.subject, s.body = to, subject, body
	return s.err
}

func readyNotification() requests.StatusNotification {
	return requests.StatusNotification{
		RequestID:    "req_1",
		TrackingCode: "ERASMO_12345",
		Status:       requests.StatusReady,
		EmailAddress: "student@my.xu.edu.ph",
		UpdatedBy:    "evaluator@xu.edu.ph",
		UpdatedAt:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestStatusNotifyJobDelivers(t *testing.T) {
	sender := &recordingSender{}
	task, err := NewStatusNotificationTask(readyNotification())
	require.NoError(t, err)
	assert.Equal(t, TaskRequestStatusNotify, task.Type())

	job := NewStatusNotifyJob(sender, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, "student@my.xu.edu.ph", sender.to)
	assert.Equal(t, "Document request ERASMO_12345: Ready for Pickup", sender.subject)
	assert.Contains(t, sender.body, "ready for pickup")
}

func TestStatusNotifyJobFailures(t *testing.T) {
	boom := errors.New("smtp down")
	sender := &recordingSender{err: boom}
	task, err := NewStatusNotificationTask(readyNotification())
	require.NoError(t, err)
	job := NewStatusNotifyJob(sender, discardLogger(), nil)
	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)

	assert.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskRequestStatusNotify, []byte("nope"))), asynq.SkipRetry)

	payload, err := json.Marshal(requests.StatusNotification{RequestID: "req_2"})
	require.NoError(t, err)
	assert.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskRequestStatusNotify, payload)), asynq.SkipRetry)
}

func TestNewStatusNotificationTaskRequiresRecipient(t *testing.T) {
	n := readyNotification()
	n.EmailAddress = ""
	_, err := NewStatusNotificationTask(n)
	assert.Error(t, err)
}

func TestLogSenderNeverFails(t *testing.T) {
	assert.NoError(t, LogSender{Logger: discardLogger()}.Send(context.Background(), "a@my.xu.edu.ph", "s", "b"))
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestHealthHandler(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   int
	}{
		{"no inspector", nil, http.StatusOK, 0},
		{"queue info", fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4}}, http.StatusOK, 4},
		{"missing queue", fakeInspector{err: asynq.ErrQueueNotFound}, http.StatusOK, 0},
		{"redis down", fakeInspector{err: errors.New("dial tcp")}, http.StatusServiceUnavailable, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, discardLogger()).MountRoutes(r)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rr.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body queueHealth
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, QueueDefault, body.Queue)
			assert.Equal(t, tc.pending, body.Pending)
		})
	}
}

func TestDirectNotifierSendsImmediately(t *testing.T) {
	sender := &recordingSender{}
	require.NoError(t, DirectNotifier{Sender: sender}.NotifyStatus(context.Background(), readyNotification()))
	assert.Equal(t, "student@my.xu.edu.ph", sender.to)

	sender = &recordingSender{}
	n := readyNotification()
	n.EmailAddress = ""
	require.NoError(t, DirectNotifier{Sender: sender}.NotifyStatus(context.Background(), n))
	assert.Empty(t, sender.to)
}
