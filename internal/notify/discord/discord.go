// Package discord delivers detection notifications and a live monitoring
// dashboard to a Discord channel.
//
// [Notifier] posts one embed per notification, coloured by priority tier.
// [Dashboard] keeps a single embed in the same channel up to date with
// monitoring statistics, editing it in place on every tick.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/soundalert/internal/alert"
	"github.com/MrWong99/soundalert/internal/notify"
)

// Embed sidebar colours by tier.
const (
	colorCritical = 0xF44336
	colorHigh     = 0xFF9800
	colorLow      = 0x3498DB
)

// Session is the subset of *discordgo.Session used by this package.
type Session interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Session = (*discordgo.Session)(nil)

// NewSession creates a REST-only discordgo session for a bot token. No
// gateway connection is opened; posting embeds needs none.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: bot token must not be empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return s, nil
}

// Notifier posts notifications as embeds into one channel.
type Notifier struct {
	session   Session
	channelID string
}

var _ notify.Notifier = (*Notifier)(nil)

// NewNotifier returns a Notifier posting into channelID.
func NewNotifier(session Session, channelID string) (*Notifier, error) {
	if session == nil {
		return nil, fmt.Errorf("discord: session must not be nil")
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord: channel ID must not be empty")
	}
	return &Notifier{session: session, channelID: channelID}, nil
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, note notify.Notification) error {
	if _, err := n.session.ChannelMessageSendEmbed(n.channelID, buildAlertEmbed(note), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: discord: %w", notify.ErrDelivery, err)
	}
	return nil
}

// buildAlertEmbed renders one notification.
func buildAlertEmbed(note notify.Notification) *discordgo.MessageEmbed {
	ev := note.Event
	return &discordgo.MessageEmbed{
		Title:       note.Title,
		Description: note.Body,
		Color:       tierColor(alert.TierOf(ev.Priority)),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Sound", Value: ev.Label, Inline: true},
			{Name: "Confidence", Value: fmt.Sprintf("%.1f%%", float64(ev.Confidence)*100), Inline: true},
			{Name: "Priority", Value: fmt.Sprintf("%d (%s)", ev.Priority, note.Tier), Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "Sound Alert Pro"},
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
	}
}

func tierColor(t alert.Tier) int {
	switch t {
	case alert.TierCritical:
		return colorCritical
	case alert.TierHigh:
		return colorHigh
	default:
		return colorLow
	}
}
