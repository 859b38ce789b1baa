// Package messaging defines the messaging client the action handlers talk to
// and its Slack implementation.
package messaging

import "context"

// Post identifies a channel message so it can be updated in place later.
type Post struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
}

// Messenger posts, updates and direct-messages. A response the remote side
// marks as not ok is returned as an error.
type Messenger interface {
	PostMessage(ctx context.Context, channel, text string) (Post, error)
	UpdateMessage(ctx context.Context, channel, timestamp, text string) error
	DirectMessage(ctx context.Context, userID, text string) error
}
