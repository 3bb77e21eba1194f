package feed

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/yuelin/mamavillage/internal/memory"
)

// DiscordSink mirrors conversations into one Discord channel.
type DiscordSink struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordSink opens a Discord session for the bot token.
func NewDiscordSink(token, channelID string, logger *zap.Logger) (*DiscordSink, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord open: %w", err)
	}
	logger.Info("discord sink connected",
		zap.String("user", session.State.User.Username))
	return &DiscordSink{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}, nil
}

// Publish posts the rendered conversation to the channel.
func (s *DiscordSink) Publish(_ context.Context, c *memory.Conversation) error {
	if _, err := s.session.ChannelMessageSend(s.channelID, render(c)); err != nil {
		s.logger.Error("discord send failed",
			zap.String("channel", s.channelID), zap.Error(err))
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Close shuts the gateway connection down.
func (s *DiscordSink) Close() error {
	return s.session.Close()
}
