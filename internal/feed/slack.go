package feed

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/yuelin/mamavillage/internal/memory"
)

// SlackSink mirrors conversations into one Slack channel, posting each
// message under the sending villager's name.
type SlackSink struct {
	client    *slack.Client
	channelID string
	names     map[string]string // agent id -> display name
	logger    *zap.Logger
}

// NewSlackSink creates a sink posting to the given channel. names maps
// agent ids to display names; unknown ids post under their raw id.
func NewSlackSink(botToken, channelID string, names map[string]string, logger *zap.Logger) *SlackSink {
	return &SlackSink{
		client:    slack.New(botToken),
		channelID: channelID,
		names:     names,
		logger:    logger,
	}
}

// Publish posts the conversation as the sending villager.
func (s *SlackSink) Publish(_ context.Context, c *memory.Conversation) error {
	username := c.FromAgent
	if name, ok := s.names[c.FromAgent]; ok {
		username = name
	}

	opts := []slack.MsgOption{
		slack.MsgOptionText(render(c), false),
		slack.MsgOptionUsername(username),
		slack.MsgOptionIconEmoji(":house_with_garden:"),
	}
	_, _, err := s.client.PostMessage(s.channelID, opts...)
	if err != nil {
		s.logger.Error("slack post failed",
			zap.String("channel", s.channelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Close is a no-op; the Slack client is stateless.
func (s *SlackSink) Close() error { return nil }
