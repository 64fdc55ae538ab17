package announce

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"

	"fxpanel/internal/domain"
)

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts announcements with the Web API.
type Slack struct {
	api       slackPoster
	channelID string
	logger    *slog.Logger
}

// NewSlack creates a Slack announcer for a bot token.
func NewSlack(botToken, channelID string, logger *slog.Logger) *Slack {
	return &Slack{api: slack.New(botToken), channelID: channelID, logger: logger}
}

func (s *Slack) Name() string { return "slack" }

// SendAnnouncement implements domain.Announcer.
func (s *Slack) SendAnnouncement(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	_, _, err := s.api.PostMessageContext(ctx, s.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return domain.NewSubSystemError("announce", "Slack.SendAnnouncement", domain.ErrProviderError, err.Error())
	}
	return nil
}
