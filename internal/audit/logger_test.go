package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordAndRecent(t *testing.T) {
	l := NewLogger(discardLogger(), 3)
	ctx := context.Background()

	l.Record(ctx, TypeLoginAttempt, "INVALID_DOMAIN", map[string]any{"email": "a@gmail.com"})
	l.Record(ctx, TypeLoginAttempt, "INVALID_PASSWORD", nil)

	events := l.Recent(10)
	require.Len(t, events, 2)
	assert.Equal(t, "INVALID_DOMAIN", events[0].Action)
	assert.Equal(t, SeverityMedium, events[0].Severity)
	assert.Equal(t, SeverityHigh, events[1].Severity)
	assert.Equal(t, 2, l.Count())
}

func TestRingBufferDropsOldest(t *testing.T) {
	l := NewLogger(discardLogger(), 3)
	ctx := context.Background()
	for _, action := range []string{"A", "B", "C", "D", "E"} {
		l.Record(ctx, TypeSession, action, nil)
	}

	events := l.Recent(0)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"C", "D", "E"}, []string{events[0].Action, events[1].Action, events[2].Action})

	last := l.Recent(2)
	require.Len(t, last, 2)
	assert.Equal(t, "D", last[0].Action)
	assert.Equal(t, "E", last[1].Action)
}

func TestRecordCopiesDetails(t *testing.T) {
	l := NewLogger(discardLogger(), 0)
	details := map[string]any{"email": "x@xu.edu.ph"}
	l.Record(context.Background(), TypeLoginSuccess, "USER_AUTHENTICATED", details)
	details["email"] = "changed"

	events := l.Recent(1)
	require.Len(t, events, 1)
	assert.Equal(t, "x@xu.edu.ph", events[0].Details["email"])
	assert.Equal(t, SeverityInfo, events[0].Severity)
}

func TestSeverityOf(t *testing.T) {
	assert.Equal(t, SeverityHigh, SeverityOf(TypeLoginAttempt, "ACCOUNT_LOCKED"))
	assert.Equal(t, SeverityHigh, SeverityOf(TypeLoginAttempt, "UNAUTHORIZED_USER"))
	assert.Equal(t, SeverityMedium, SeverityOf(TypeLoginAttempt, "SESSION_CREATION_FAILED"))
	assert.Equal(t, SeverityInfo, SeverityOf(TypeLoginSuccess, "USER_AUTHENTICATED"))
	assert.Equal(t, SeverityLow, SeverityOf(TypeSession, "LOGOUT"))
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Record(context.Background(), TypeSession, "X", nil)
	assert.Nil(t, l.Recent(5))
	assert.Zero(t, l.Count())
}
