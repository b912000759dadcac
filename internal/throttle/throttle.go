// Package throttle counts failed logins per identity and enforces lockouts.
package throttle

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultMaxAttempts = 5
	DefaultLockout     = 30 * time.Minute
)

// Config tunes the throttle.
type Config struct {
	MaxAttempts int
	Lockout     time.Duration
}

// Record tracks failures for one identity.
type Record struct {
	FailedCount   int        `json:"failedAttempts"`
	LastAttemptAt time.Time  `json:"lastAttempt"`
	LockedUntil   *time.Time `json:"lockedUntil,omitempty"`
}

// Throttle is safe for concurrent use.
type Throttle struct {
	mu          sync.Mutex
	records     map[string]*Record
	maxAttempts int
	lockout     time.Duration
}

// New constructs a Throttle.
func New(cfg Config) *Throttle {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = DefaultLockout
	}
	return &Throttle{
		records:     make(map[string]*Record),
		maxAttempts: cfg.MaxAttempts,
		lockout:     cfg.Lockout,
	}
}

// MaxAttempts returns the lockout threshold.
func (t *Throttle) MaxAttempts() int { return t.maxAttempts }

// IsLocked reports whether identity is locked at now. An expired lock is cleared.
func (t *Throttle) IsLocked(identity string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockedLocked(key(identity), now)
}

// RecordFailure counts a failed attempt and starts the lockout at the threshold.
func (t *Throttle) RecordFailure(identity string, now time.Time) {
	k := key(identity)
	t.mu.Lock()
	defer t.mu.Unlock()
	// An attempt after the window is evaluated against a fresh record.
	t.lockedLocked(k, now)
	rec, ok := t.records[k]
	if !ok {
		rec = &Record{}
		t.records[k] = rec
	}
	rec.FailedCount++
	rec.LastAttemptAt = now
	if rec.FailedCount >= t.maxAttempts && rec.LockedUntil == nil {
		until := now.Add(t.lockout)
		rec.LockedUntil = &until
	}
}

// RecordSuccess forgets every failure for identity.
func (t *Throttle) RecordSuccess(identity string) {
	t.mu.Lock()
	delete(t.records, key(identity))
	t.mu.Unlock()
}

// RemainingLockSeconds returns whole seconds left on the lock, rounded up. Zero when unlocked.
func (t *Throttle) RemainingLockSeconds(identity string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(identity)
	if !t.lockedLocked(k, now) {
		return 0
	}
	left := t.records[k].LockedUntil.Sub(now)
	return int(math.Ceil(left.Seconds()))
}

// State returns a copy of identity's record, if any.
func (t *Throttle) State(identity string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key(identity)]
	if !ok {
		return Record{}, false
	}
	out := *rec
	if rec.LockedUntil != nil {
		until := *rec.LockedUntil
		out.LockedUntil = &until
	}
	return out, true
}

// LockedCount returns how many identities are locked at now.
func (t *Throttle) LockedCount(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k := range t.records {
		if t.lockedLocked(k, now) {
			n++
		}
	}
	return n
}

func (t *Throttle) lockedLocked(k string, now time.Time) bool {
	rec, ok := t.records[k]
	if !ok || rec.LockedUntil == nil {
		return false
	}
	if rec.FailedCount >= t.maxAttempts && now.Before(*rec.LockedUntil) {
		return true
	}
	if !now.Before(*rec.LockedUntil) {
		delete(t.records, k)
	}
	return false
}

func key(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
