// Package audit records security-relevant events for administrators.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Severity grades an event for triage.
type Severity string

// Severity levels.
const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityInfo   Severity = "INFO"
	SeverityLow    Severity = "LOW"
)

// Event types.
const (
	TypeLoginAttempt      = "LOGIN_ATTEMPT"
	TypeLoginSuccess      = "LOGIN_SUCCESS"
	TypeSessionCreation   = "SESSION_CREATION"
	TypeSession           = "SESSION"
	TypeOAuth             = "OAUTH"
	TypeAdministration    = "ADMINISTRATION"
	TypeRequestManagement = "REQUEST_MANAGEMENT"
)

// DefaultCapacity bounds the in-memory event buffer.
const DefaultCapacity = 1000

// Event is a single audit record.
type Event struct {
	At       time.Time      `json:"timestamp"`
	Type     string         `json:"eventType"`
	Action   string         `json:"action"`
	Severity Severity       `json:"severity"`
	Details  map[string]any `json:"details,omitempty"`
}

// Logger keeps the most recent events in a ring buffer and mirrors them to slog.
type Logger struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
	logger *slog.Logger
	clock  func() time.Time
}

// NewLogger returns a Logger holding up to capacity events.
func NewLogger(logger *slog.Logger, capacity int) *Logger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		events: make([]Event, capacity),
		logger: logger.With(slog.String("component", "security_audit")),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Record stores an event. The severity is derived from type and action.
func (l *Logger) Record(ctx context.Context, eventType, action string, details map[string]any) {
	if l == nil {
		return
	}
	ev := Event{
		At:       l.clock(),
		Type:     eventType,
		Action:   action,
		Severity: SeverityOf(eventType, action),
		Details:  copyDetails(details),
	}

	l.mu.Lock()
	l.events[l.next] = ev
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	attrs := []any{
		slog.String("event_type", ev.Type),
		slog.String("action", ev.Action),
		slog.String("severity", string(ev.Severity)),
	}
	if len(ev.Details) > 0 {
		attrs = append(attrs, slog.Any("details", ev.Details))
	}
	level := slog.LevelInfo
	if ev.Severity == SeverityHigh {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "security event", attrs...)
}

// Recent returns up to limit of the newest events, oldest first.
func (l *Logger) Recent(limit int) []Event {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.events)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]Event, 0, limit)
	start := l.next - limit
	for i := 0; i < limit; i++ {
		idx := (start + i + len(l.events)) % len(l.events)
		out = append(out, l.events[idx])
	}
	return out
}

// Count returns the number of buffered events.
func (l *Logger) Count() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.events)
	}
	return l.next
}

// SeverityOf grades an event.
func SeverityOf(eventType, action string) Severity {
	switch action {
	case "ACCOUNT_LOCKED", "INVALID_PASSWORD", "UNAUTHORIZED_USER":
		return SeverityHigh
	case "INVALID_DOMAIN", "SESSION_CREATION_FAILED", "INVALID_ROLE_FOR_DOMAIN":
		return SeverityMedium
	}
	if eventType == TypeLoginSuccess {
		return SeverityInfo
	}
	return SeverityLow
}

func copyDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}
