package hotkey

import (
	"sort"
	"sync"
	"time"
)

// Tracker records which normalized keys are physically held and when each
// press began. The controller and the watchdog share one instance.
type Tracker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewTracker() *Tracker {
	return &Tracker{held: make(map[string]time.Time)}
}

// Press records a key-down edge. It returns false when the key is already
// held, which is how OS auto-repeat events are filtered out.
func (t *Tracker) Press(key string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.held[key]; ok {
		return false
	}
	t.held[key] = at
	return true
}

// Release clears a key and reports whether it was held.
func (t *Tracker) Release(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.held[key]; !ok {
		return false
	}
	delete(t.held, key)
	return true
}

func (t *Tracker) Held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[key]
	return ok
}

func (t *Tracker) HeldSince(key string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.held[key]
	return at, ok
}

// HeldLongerThan returns the keys that have been held for more than d as of
// now, sorted for stable output.
func (t *Tracker) HeldLongerThan(d time.Duration, now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var overdue []string
	for key, at := range t.held {
		if now.Sub(at) > d {
			overdue = append(overdue, key)
		}
	}
	sort.Strings(overdue)
	return overdue
}

// Snapshot returns the currently held keys, sorted.
func (t *Tracker) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.held))
	for key := range t.held {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clear drops all held state. Called when bindings are replaced so stale
// presses cannot satisfy the new set.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.held = make(map[string]time.Time)
}
