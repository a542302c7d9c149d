package watchdog

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/clientdesk/clientdesk/internal/session"
)

// Notifier delivers the user-visible sign-out notification.
type Notifier interface {
	NotifySignedOut(ctx context.Context, kind session.TerminalKind) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) NotifySignedOut(context.Context, session.TerminalKind) error { return nil }

// LogNotifier reports the sign-out through the structured log. The UI
// layer surfaces its own toast off the navigation hook.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) NotifySignedOut(_ context.Context, kind session.TerminalKind) error {
	n.Logger.Warn().Str("kind", string(kind)).Msg("session ended, signed out")
	return nil
}

// slackPoster abstracts the Slack client for testing.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts forced sign-outs to an operations channel.
type SlackNotifier struct {
	client  slackPoster
	channel string
}

// NewSlackNotifier creates a notifier for the given bot token and channel.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

func (n *SlackNotifier) NotifySignedOut(ctx context.Context, kind session.TerminalKind) error {
	text := fmt.Sprintf(":rotating_light: clientdesk session terminated (%s); the user was signed out", kind)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting sign-out notice: %w", err)
	}
	return nil
}
