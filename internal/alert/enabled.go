package alert

import (
	"slices"
	"strings"
)

// EnabledSet is the set of labels the user wants alerts for. The zero value
// and any empty set allow every label. EnabledSet values are immutable.
type EnabledSet struct {
	labels map[string]struct{}
}

// NewEnabledSet returns a set of the given labels. Empty strings are ignored.
func NewEnabledSet(labels ...string) EnabledSet {
	m := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if l != "" {
			m[l] = struct{}{}
		}
	}
	return EnabledSet{labels: m}
}

// Allows reports whether label passes the filter: always when the set is
// empty, otherwise only on an exact, case-sensitive match.
func (s EnabledSet) Allows(label string) bool {
	if len(s.labels) == 0 {
		return true
	}
	_, ok := s.labels[label]
	return ok
}

// Len returns the number of labels in the set.
func (s EnabledSet) Len() int { return len(s.labels) }

// Labels returns the members in sorted order.
func (s EnabledSet) Labels() []string {
	out := make([]string, 0, len(s.labels))
	for l := range s.labels {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

// ParseEnabledList splits a comma-separated label list such as
// "Fire alarm,Doorbell". Many vocabulary labels contain ", " themselves
// ("Baby cry, infant cry"), so only a comma that is not followed by a space
// separates entries. Surrounding whitespace is trimmed and empty entries are
// dropped.
func ParseEnabledList(s string) []string {
	var (
		out   []string
		start int
	)
	for i := 0; i < len(s); i++ {
		if s[i] != ',' || (i+1 < len(s) && s[i+1] == ' ') {
			continue
		}
		if part := strings.TrimSpace(s[start:i]); part != "" {
			out = append(out, part)
		}
		start = i + 1
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		out = append(out, part)
	}
	return out
}
