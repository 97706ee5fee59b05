package discord

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/soundalert/internal/stats"
)

// embedColorGreen is the dashboard sidebar colour while monitoring runs.
const embedColorGreen = 0x2ECC71

// embedColorGrey is the dashboard sidebar colour while monitoring is stopped.
const embedColorGrey = 0x95A5A6

// defaultInterval is the default dashboard update interval.
const defaultInterval = 30 * time.Second

// StatusSource provides the data rendered on the dashboard.
type StatusSource interface {
	Running() bool
	Stats() stats.Snapshot
}

// Dashboard renders and periodically updates a Discord embed showing live
// monitoring statistics. The embed is created on the first update and edited
// in place afterwards.
//
// Thread-safe for concurrent use.
type Dashboard struct {
	mu        sync.Mutex
	session   Session
	channelID string
	messageID string // embed message; created on first update
	interval  time.Duration
	source    StatusSource
	done      chan struct{}
	stopOnce  sync.Once
}

// DashboardConfig holds dependencies for creating a Dashboard.
type DashboardConfig struct {
	Session   Session
	ChannelID string
	Interval  time.Duration // Default: 30 seconds
	Source    StatusSource
}

// NewDashboard creates a Dashboard.
func NewDashboard(cfg DashboardConfig) *Dashboard {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Dashboard{
		session:   cfg.Session,
		channelID: cfg.ChannelID,
		interval:  interval,
		source:    cfg.Source,
		done:      make(chan struct{}),
	}
}

// Run posts the dashboard immediately and then refreshes it every interval
// until ctx is cancelled or Stop is called. It blocks.
func (d *Dashboard) Run(ctx context.Context) error {
	d.update(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.update(ctx)
		}
	}
}

// Stop halts the update loop. Safe to call multiple times.
func (d *Dashboard) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}

// update builds the embed from current data and creates or edits the message.
func (d *Dashboard) update(ctx context.Context) {
	embed := buildDashboardEmbed(d.source.Running(), d.source.Stats(), time.Now())

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.messageID == "" {
		msg, err := d.session.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx))
		if err != nil {
			slog.Warn("dashboard: failed to create embed message", "channel", d.channelID, "err", err)
			return
		}
		d.messageID = msg.ID
		slog.Debug("dashboard: created embed message", "message_id", msg.ID, "channel", d.channelID)
		return
	}
	if _, err := d.session.ChannelMessageEditEmbed(d.channelID, d.messageID, embed, discordgo.WithContext(ctx)); err != nil {
		slog.Warn("dashboard: failed to edit embed message", "message_id", d.messageID, "err", err)
	}
}

// buildDashboardEmbed creates the dashboard embed from a stats snapshot.
func buildDashboardEmbed(running bool, snap stats.Snapshot, now time.Time) *discordgo.MessageEmbed {
	state, color := "Stopped", embedColorGrey
	if running {
		state, color = "Monitoring", embedColorGreen
	}

	uptime := "-"
	if !snap.SessionStart.IsZero() {
		uptime = formatDuration(now.Sub(snap.SessionStart))
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "State", Value: state, Inline: true},
		{Name: "Session", Value: uptime, Inline: true},
		{Name: "Detections", Value: fmt.Sprintf("%d", snap.Total), Inline: true},
	}
	if top := formatTopSounds(snap.SoundFrequency, 5); top != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Top Sounds", Value: top})
	}
	if latency := formatLatencyField(snap); latency != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Pipeline Latency", Value: latency})
	}

	return &discordgo.MessageEmbed{
		Title:     "Sound Alert Pro",
		Color:     color,
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: "Live status"},
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// formatTopSounds lists the n most frequent labels, most frequent first.
func formatTopSounds(freq map[string]int, n int) string {
	labels := make([]string, 0, len(freq))
	for l := range freq {
		labels = append(labels, l)
	}
	slices.SortFunc(labels, func(a, b string) int {
		if freq[a] != freq[b] {
			return freq[b] - freq[a]
		}
		return strings.Compare(a, b)
	})
	if len(labels) > n {
		labels = labels[:n]
	}
	var b strings.Builder
	for _, l := range labels {
		fmt.Fprintf(&b, "%s: %d\n", l, freq[l])
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// formatLatencyField builds a compact multi-line string showing pipeline
// latencies. Returns empty string if no latency data is available.
func formatLatencyField(snap stats.Snapshot) string {
	var lines []string
	if snap.Capture.P50 > 0 || snap.Capture.P95 > 0 {
		lines = append(lines, fmt.Sprintf("Capture:  p50=%s p95=%s", formatMs(snap.Capture.P50), formatMs(snap.Capture.P95)))
	}
	if snap.Classify.P50 > 0 || snap.Classify.P95 > 0 {
		lines = append(lines, fmt.Sprintf("Classify: p50=%s p95=%s", formatMs(snap.Classify.P50), formatMs(snap.Classify.P95)))
	}
	if len(lines) == 0 {
		return ""
	}
	return "```\n" + strings.Join(lines, "\n") + "\n```"
}

// formatMs formats a duration as milliseconds with one decimal place.
func formatMs(d time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)
	return fmt.Sprintf("%.1fms", ms)
}

// formatDuration formats a duration as "Xh Ym Zs".
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
