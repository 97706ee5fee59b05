package config

import (
	"maps"
	"reflect"
	"slices"

	"github.com/MrWong99/soundalert/internal/alert"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	EnabledChanged bool
	NewEnabled     []string

	ScheduleChanged bool
	NewSchedule     alert.Schedule

	// RestartRequired names top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.EnabledChanged && !d.ScheduleChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
// Both configs are expected to have passed [Validate].
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Enabled sounds compare as sets.
	if !sameSet(old.Monitor.EnabledSounds, new.Monitor.EnabledSounds) {
		d.EnabledChanged = true
		d.NewEnabled = slices.Clone(new.Monitor.EnabledSounds)
	}

	// Schedule compares by effective value, so "Mon" and "Monday" are equal.
	oldSched, oldErr := old.Schedule.Schedule()
	newSched, newErr := new.Schedule.Schedule()
	if newErr == nil && (oldErr != nil || oldSched != newSched) {
		d.ScheduleChanged = true
		d.NewSchedule = newSched
	}

	// Everything else needs a restart.
	oldMon, newMon := old.Monitor, new.Monitor
	oldMon.EnabledSounds, newMon.EnabledSounds = nil, nil
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"monitor", oldMon, newMon},
		{"alerts", old.Alerts, new.Alerts},
		{"providers", old.Providers, new.Providers},
		{"eventlog", old.EventLog, new.EventLog},
		{"notify", old.Notify, new.Notify},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}

// sameSet reports whether a and b hold the same labels, ignoring order and
// duplicates.
func sameSet(a, b []string) bool {
	set := func(s []string) map[string]struct{} {
		m := make(map[string]struct{}, len(s))
		for _, v := range s {
			m[v] = struct{}{}
		}
		return m
	}
	return maps.Equal(set(a), set(b))
}
