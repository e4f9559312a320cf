package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo.Session methods the sink uses,
// enabling test mocks.
type discordSession interface {
	Open() error
	Close() error
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts notes to a Discord channel as embeds.
type DiscordSink struct {
	sess      discordSession
	channelID string
	opened    bool
}

// DiscordOpts holds parameters for creating a Discord sink.
type DiscordOpts struct {
	Token     string // bot token
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session discordSession
}

// NewDiscord creates a Discord sink and opens the gateway connection.
func NewDiscord(opts DiscordOpts) (*DiscordSink, error) {
	if opts.Session == nil && opts.Token == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}

	d := &DiscordSink{sess: opts.Session, channelID: opts.ChannelID}
	if d.sess == nil {
		sess, err := discordgo.New("Bot " + opts.Token)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		d.sess = sess
	}
	if err := d.sess.Open(); err != nil {
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}
	d.opened = true
	return d, nil
}

// Send posts the note as an embed.
func (d *DiscordSink) Send(ctx context.Context, note Note) error {
	embed := &discordgo.MessageEmbed{
		Title:       note.Title,
		Description: note.Body,
		Color:       hexColor(note.Color),
	}
	if _, err := d.sess.ChannelMessageSendEmbed(d.channelID, embed); err != nil {
		return fmt.Errorf("discord: send embed: %w", err)
	}
	return nil
}

// Close shuts down the gateway connection.
func (d *DiscordSink) Close() error {
	if !d.opened {
		return nil
	}
	d.opened = false
	return d.sess.Close()
}

// hexColor converts a "#rrggbb" hint to the integer form Discord expects.
// Unknown formats map to zero (no sidebar color).
func hexColor(color string) int {
	hex := strings.TrimPrefix(color, "#")
	if len(hex) != 6 {
		return 0
	}
	v, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
