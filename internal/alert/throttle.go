package alert

import (
	"sync"
	"time"
)

// DefaultBaseCooldown is the notification cooldown for low-tier labels.
const DefaultBaseCooldown = 30 * time.Second

// Tiered cooldowns for urgent labels.
const (
	CriticalCooldown = 10 * time.Second
	HighCooldown     = 20 * time.Second
)

// Throttle rate-limits side notifications per label. Urgent labels get
// shorter cooldowns so a repeating fire alarm keeps notifying.
//
// Throttle is safe for concurrent use. The mutex is held only for the map
// access.
type Throttle struct {
	base time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottle returns a Throttle whose low-tier cooldown is base. A
// non-positive base selects DefaultBaseCooldown.
func NewThrottle(base time.Duration) *Throttle {
	if base <= 0 {
		base = DefaultBaseCooldown
	}
	return &Throttle{base: base, last: make(map[string]time.Time)}
}

// Cooldown returns the cooldown applied to a label of the given priority.
func (t *Throttle) Cooldown(priority int) time.Duration {
	switch TierOf(priority) {
	case TierCritical:
		return CriticalCooldown
	case TierHigh:
		return HighCooldown
	default:
		return t.base
	}
}

// ShouldFire reports whether a notification for label may be sent at now and,
// if so, records now as the label's last notification. A label that has never
// fired always may. Throttled calls leave the state untouched.
//
// Elapsed time uses [time.Time.Sub], so instants taken from time.Now compare
// on the monotonic clock and are immune to wall-clock jumps.
func (t *Throttle) ShouldFire(label string, priority int, now time.Time) bool {
	cooldown := t.Cooldown(priority)

	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.last[label]; ok && now.Sub(last) < cooldown {
		return false
	}
	t.last[label] = now
	return true
}

// Remaining returns how long label stays throttled at now, or zero if a
// notification would be allowed.
func (t *Throttle) Remaining(label string, priority int, now time.Time) time.Duration {
	cooldown := t.Cooldown(priority)

	t.mu.Lock()
	last, ok := t.last[label]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	return max(cooldown-now.Sub(last), 0)
}
