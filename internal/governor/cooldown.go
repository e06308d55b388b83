package governor

import (
	"sync"
	"time"
)

// CooldownTable tracks, per endpoint key, the instant until which requests
// are suppressed. Expiries only ever move forward.
type CooldownTable struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewCooldownTable returns an empty table using the wall clock.
func NewCooldownTable() *CooldownTable {
	return &CooldownTable{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Until reports the expiry for key and whether it is still in the future.
func (t *CooldownTable) Until(key string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exp, ok := t.expires[key]
	if !ok {
		return time.Time{}, false
	}
	if !t.now().Before(exp) {
		delete(t.expires, key)
		return time.Time{}, false
	}
	return exp, true
}

// Arm suppresses key for d from now. An existing later expiry wins; the
// stored expiry is returned either way.
func (t *CooldownTable) Arm(key string, d time.Duration) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	target := t.now().Add(d)
	if cur, ok := t.expires[key]; ok && !target.After(cur) {
		return cur
	}
	t.expires[key] = target
	return target
}
