package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods the sink uses, enabling test
// mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackSink posts notes to a Slack channel as colored attachments.
type SlackSink struct {
	client    slackClient
	channelID string
}

// SlackOpts holds parameters for creating a Slack sink.
type SlackOpts struct {
	Token     string // xoxb-... bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// NewSlack creates a Slack sink.
func NewSlack(opts SlackOpts) (*SlackSink, error) {
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel id is required")
	}

	s := &SlackSink{client: opts.Client, channelID: opts.ChannelID}
	if s.client == nil {
		s.client = slackapi.New(opts.Token)
	}
	return s, nil
}

// Send posts the note as an attachment.
func (s *SlackSink) Send(ctx context.Context, note Note) error {
	attachment := slackapi.Attachment{
		Title: note.Title,
		Text:  note.Body,
		Color: note.Color,
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channelID,
		slackapi.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Close is a no-op; the Slack web API client holds no connection.
func (s *SlackSink) Close() error { return nil }
