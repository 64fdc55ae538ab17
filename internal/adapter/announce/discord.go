package announce

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"fxpanel/internal/domain"
)

// discordMaxLen is Discord's message content limit.
const discordMaxLen = 2000

type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts announcements to a channel through the Discord REST API.
// No gateway connection is opened.
type Discord struct {
	session   discordSender
	channelID string
	logger    *slog.Logger
}

// NewDiscord creates a Discord announcer for a bot token.
func NewDiscord(token, channelID string, logger *slog.Logger) (*Discord, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &Discord{session: s, channelID: channelID, logger: logger}, nil
}

func (d *Discord) Name() string { return "discord" }

// SendAnnouncement implements domain.Announcer.
func (d *Discord) SendAnnouncement(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if len(text) > discordMaxLen {
		text = text[:discordMaxLen-3] + "..."
	}
	_, err := d.session.ChannelMessageSend(d.channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return domain.NewSubSystemError("announce", "Discord.SendAnnouncement", domain.ErrProviderError, err.Error())
	}
	return nil
}
