package routing

import (
	"stream-bridge/internal/stream"
	"stream-bridge/internal/webhook"
)

const (
	fallbackUsername = "Twitter Bot"
	statusURLPrefix  = "https://twitter.com/i/status/"
)

// FormatNotification builds the webhook body for a data event: the author's
// display name and avatar, and a link to the tweet.
func FormatNotification(ev stream.Event) webhook.Notification {
	n := webhook.Notification{Username: fallbackUsername}

	if ev.Author != nil {
		if ev.Author.Name != "" {
			n.Username = ev.Author.Name
		}
		n.AvatarURL = ev.Author.ProfileImageURL
	}
	if ev.Tweet != nil {
		n.Content = statusURLPrefix + ev.Tweet.ID
	}
	return n
}
