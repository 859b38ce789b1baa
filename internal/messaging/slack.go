package messaging

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// Slack implements Messenger over the Slack Web API.
type Slack struct {
	api *slack.Client
}

var _ Messenger = (*Slack)(nil)

// NewSlack builds a client for token. apiURL overrides the Web API base URL
// (tests point it at an httptest server); empty keeps the default.
func NewSlack(token, apiURL string) *Slack {
	opts := []slack.Option{
		slack.OptionHTTPClient(&http.Client{Timeout: 15 * time.Second}),
	}
	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &Slack{api: slack.New(token, opts...)}
}

// PostMessage posts text to channel and returns the message handle.
func (s *Slack) PostMessage(ctx context.Context, channel, text string) (Post, error) {
	ch, ts, err := s.api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return Post{}, fmt.Errorf("slack: post to %s: %w", channel, err)
	}
	if ts == "" {
		return Post{}, fmt.Errorf("slack: post to %s: empty timestamp", channel)
	}
	if ch == "" {
		ch = channel
	}
	return Post{Channel: ch, Timestamp: ts}, nil
}

// UpdateMessage replaces the text of an existing message.
func (s *Slack) UpdateMessage(ctx context.Context, channel, timestamp, text string) error {
	if _, _, _, err := s.api.UpdateMessageContext(ctx, channel, timestamp, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack: update %s/%s: %w", channel, timestamp, err)
	}
	return nil
}

// DirectMessage opens (or reuses) the IM channel with userID and posts text.
func (s *Slack) DirectMessage(ctx context.Context, userID, text string) error {
	im, _, _, err := s.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{userID},
	})
	if err != nil {
		return fmt.Errorf("slack: open im with %s: %w", userID, err)
	}
	if _, _, err := s.api.PostMessageContext(ctx, im.ID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack: dm %s: %w", userID, err)
	}
	return nil
}
