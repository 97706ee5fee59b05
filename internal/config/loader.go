package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"capture":    {"alsa", "pipe"},
	"classifier": {"tfserving"},
	"eventlog":   {EventLogCSV, EventLogPostgres},
	"notify":     {NotifyNone, NotifyLive, NotifyDiscord, NotifyWebhook},
}

// suggestThreshold is the minimum Jaro-Winkler similarity for a "did you
// mean" hint.
const suggestThreshold = 0.8

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. An empty document yields the defaults.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Monitor
	m := cfg.Monitor
	for _, f := range []struct {
		name string
		v    int
	}{
		{"monitor.sample_rate", m.SampleRate},
		{"monitor.channels", m.Channels},
		{"monitor.target_rate", m.TargetRate},
		{"monitor.target_length", m.TargetLength},
		{"alerts.history_size", cfg.Alerts.HistorySize},
		{"alerts.timeline_size", cfg.Alerts.TimelineSize},
		{"notify.breaker.max_failures", cfg.Notify.Breaker.MaxFailures},
		{"notify.breaker.half_open_max", cfg.Notify.Breaker.HalfOpenMax},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", f.name, f.v))
		}
	}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("monitor.threshold %.2f is out of range (0, 1)", m.Threshold))
	}
	for _, f := range []struct {
		name string
		v    time.Duration
	}{
		{"monitor.window", m.Window},
		{"monitor.idle_interval", m.IdleInterval},
		{"monitor.error_backoff", m.ErrorBackoff},
		{"alerts.base_cooldown", cfg.Alerts.BaseCooldown},
		{"notify.dashboard_interval", cfg.Notify.DashboardInterval},
		{"notify.breaker.reset_timeout", cfg.Notify.Breaker.ResetTimeout},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", f.name))
		}
	}

	// Schedule
	if _, err := cfg.Schedule.Schedule(); err != nil {
		errs = append(errs, err)
	}

	// Priorities
	for _, label := range slices.Sorted(maps.Keys(cfg.Alerts.Priorities)) {
		if p := cfg.Alerts.Priorities[label]; p < 1 || p > 10 {
			errs = append(errs, fmt.Errorf("alerts.priorities[%q] %d is out of range [1, 10]", label, p))
		}
	}

	// Providers
	if cfg.Providers.Capture.Name == "" {
		errs = append(errs, errors.New("providers.capture.name is required"))
	}
	if cfg.Providers.Classifier.Name == "" {
		errs = append(errs, errors.New("providers.classifier.name is required"))
	}
	if cfg.Providers.Vocabulary == "" {
		errs = append(errs, errors.New("providers.vocabulary is required"))
	}
	validateProviderName("capture", cfg.Providers.Capture.Name)
	validateProviderName("classifier", cfg.Providers.Classifier.Name)
	validateProviderName("eventlog", cfg.EventLog.Name)
	validateProviderName("notify", cfg.Notify.Name)

	// Event log
	if cfg.EventLog.Name == EventLogPostgres && cfg.EventLog.PostgresDSN == "" {
		errs = append(errs, errors.New("eventlog.postgres_dsn is required when eventlog.name is postgres"))
	}

	// Notify
	n := cfg.Notify
	switch n.Name {
	case NotifyDiscord:
		if n.Token == "" {
			errs = append(errs, errors.New("notify.token is required when notify.name is discord"))
		}
		if n.ChannelID == "" {
			errs = append(errs, errors.New("notify.channel_id is required when notify.name is discord"))
		}
	case NotifyWebhook:
		if n.URL == "" {
			errs = append(errs, errors.New("notify.url is required when notify.name is webhook"))
		}
	}
	if n.Dashboard && n.Name != NotifyDiscord {
		slog.Warn("notify.dashboard is only supported with the discord notifier; ignoring", "notify", n.Name)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	args := []any{"kind", kind, "name", name, "known", known}
	if hint, ok := suggest(name, known); ok {
		args = append(args, "did_you_mean", hint)
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider", args...)
}

// suggest returns the candidate most similar to name when it is similar
// enough to be a likely typo.
func suggest(name string, candidates []string) (string, bool) {
	var (
		best  string
		score float64
	)
	for _, c := range candidates {
		if s := matchr.JaroWinkler(strings.ToLower(name), strings.ToLower(c), false); s > score {
			best, score = c, s
		}
	}
	return best, score >= suggestThreshold
}

// LabelSet is the vocabulary surface used by [CheckLabels].
// *classifier.Vocabulary satisfies it.
type LabelSet interface {
	Contains(label string) bool
	Suggest(label string) (string, float64)
}

// LabelWarning describes a configured label the classifier can never emit.
type LabelWarning struct {
	Field      string
	Label      string
	Suggestion string
}

// CheckLabels reports labels in monitor.enabled_sounds and alerts.priorities
// that are not in vocab, logging one warning per label. Such labels are kept;
// they simply never match.
func CheckLabels(cfg *Config, vocab LabelSet) []LabelWarning {
	var out []LabelWarning
	check := func(field, label string) {
		if vocab.Contains(label) {
			return
		}
		w := LabelWarning{Field: field, Label: label}
		if hint, score := vocab.Suggest(label); score >= suggestThreshold {
			w.Suggestion = hint
		}
		out = append(out, w)
		if w.Suggestion != "" {
			slog.Warn("configured label is not in the classifier vocabulary", "field", field, "label", label, "did_you_mean", w.Suggestion)
		} else {
			slog.Warn("configured label is not in the classifier vocabulary", "field", field, "label", label)
		}
	}

	for _, label := range cfg.Monitor.EnabledSounds {
		check("monitor.enabled_sounds", label)
	}
	for _, label := range slices.Sorted(maps.Keys(cfg.Alerts.Priorities)) {
		check("alerts.priorities", label)
	}
	return out
}
