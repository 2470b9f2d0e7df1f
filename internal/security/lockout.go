package security

import (
	"sync"
	"time"
)

// LoginGuard tracks authentication failures per identifier and temporarily
// locks identifiers that fail too often. State is process-local and never
// persisted; locked-out identifiers are blocked from new login attempts,
// not from using already-issued sessions.
type LoginGuard interface {
	// RecordFailure notes a failed attempt and reports whether the
	// identifier is now locked.
	RecordFailure(id string) bool
	// IsLocked reports whether the identifier is currently locked and, if
	// so, how long until the lock expires. An expired lock is cleared
	// (along with its failure history) on read.
	IsLocked(id string) (bool, time.Duration)
	// ClearFailures wipes the failure history for the identifier. Called
	// on any successful authentication.
	ClearFailures(id string)
}

type lockoutEntry struct {
	failures    []time.Time
	lockedUntil time.Time
}

// lockoutGuard implements LoginGuard with a sliding window of failure
// timestamps behind an in-process map. Suitable only for single-instance
// deployments; swap the LoginGuard implementation for a shared store when
// running multiple replicas.
type lockoutGuard struct {
	mu        sync.Mutex
	entries   map[string]*lockoutEntry
	threshold int
	window    time.Duration
	duration  time.Duration
	now       func() time.Time
}

// NewLockoutGuard constructs a LoginGuard that locks an identifier for
// `duration` once `threshold` failures accumulate within `window`.
func NewLockoutGuard(threshold int, window, duration time.Duration) LoginGuard {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	if duration <= 0 {
		duration = 15 * time.Minute
	}
	return &lockoutGuard{
		entries:   make(map[string]*lockoutEntry),
		threshold: threshold,
		window:    window,
		duration:  duration,
		now:       time.Now,
	}
}

func (g *lockoutGuard) RecordFailure(id string) bool {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[id]
	if !ok {
		entry = &lockoutEntry{}
		g.entries[id] = entry
	}

	entry.failures = append(entry.failures, now)
	entry.failures = pruneOlderThan(entry.failures, now.Add(-g.window))

	if len(entry.failures) >= g.threshold {
		entry.lockedUntil = now.Add(g.duration)
		return true
	}
	return false
}

func (g *lockoutGuard) IsLocked(id string) (bool, time.Duration) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[id]
	if !ok {
		return false, 0
	}

	if entry.lockedUntil.IsZero() {
		return false, 0
	}

	if now.Before(entry.lockedUntil) {
		return true, entry.lockedUntil.Sub(now)
	}

	// Lock expired: clear it and the history that produced it.
	delete(g.entries, id)
	return false, 0
}

func (g *lockoutGuard) ClearFailures(id string) {
	g.mu.Lock()
	delete(g.entries, id)
	g.mu.Unlock()
}

func pruneOlderThan(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
