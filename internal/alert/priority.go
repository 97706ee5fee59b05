package alert

import "maps"

// Priority bounds. Labels without an entry in the table get MinPriority.
const (
	MinPriority = 1
	MaxPriority = 10
)

// defaultPriorities ranks the labels worth waking someone up for.
var defaultPriorities = map[string]int{
	"Fire alarm":                      10,
	"Smoke detector, smoke alarm":     10,
	"Siren":                           9,
	"Police car (siren)":              9,
	"Ambulance (siren)":               9,
	"Fire engine, fire truck (siren)": 9,
	"Civil defense siren":             9,
	"Shatter":                         8,
	"Glass":                           8,
	"Explosion":                       8,
	"Baby cry, infant cry":            7,
	"Crying, sobbing":                 7,
	"Screaming":                       7,
	"Car alarm":                       6,
	"Doorbell":                        3,
	"Knock":                           3,
	"Ding-dong":                       3,
}

// DefaultPriorities returns a copy of the built-in priority table.
func DefaultPriorities() map[string]int {
	return maps.Clone(defaultPriorities)
}

// PriorityPolicy maps labels to an urgency in [MinPriority, MaxPriority].
// It is immutable after construction.
type PriorityPolicy struct {
	table map[string]int
}

// NewPriorityPolicy returns a policy built from the default table with
// overrides applied on top. Override values are clamped into range.
func NewPriorityPolicy(overrides map[string]int) *PriorityPolicy {
	table := DefaultPriorities()
	for label, p := range overrides {
		table[label] = clampPriority(p)
	}
	return &PriorityPolicy{table: table}
}

// PriorityOf returns the priority of label, or MinPriority if the label is
// not in the table. Matching is exact and case-sensitive.
func (p *PriorityPolicy) PriorityOf(label string) int {
	if v, ok := p.table[label]; ok {
		return v
	}
	return MinPriority
}

// Table returns a copy of the effective priority table.
func (p *PriorityPolicy) Table() map[string]int {
	return maps.Clone(p.table)
}

func clampPriority(v int) int {
	return min(max(v, MinPriority), MaxPriority)
}

// Tier groups priorities into the bands that drive cooldowns and
// presentation.
type Tier int

const (
	TierLow Tier = iota
	TierHigh
	TierCritical
)

// TierOf returns the tier of a priority: critical at 8 and above, high at 6
// and 7, low otherwise.
func TierOf(priority int) Tier {
	switch {
	case priority >= 8:
		return TierCritical
	case priority >= 6:
		return TierHigh
	default:
		return TierLow
	}
}

// String returns "critical", "high" or "low".
func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	default:
		return "low"
	}
}
