package notify

import (
	"context"
	"errors"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
)

const maxRetries = 3

// SlackSink posts to a Slack incoming webhook.
type SlackSink struct {
	URL string
}

func (s *SlackSink) Name() string { return "slack" }

// Deliver posts msg as an attachment, retrying on rate limits.
func (s *SlackSink) Deliver(ctx context.Context, msg Message) error {
	payload := &slackapi.WebhookMessage{
		Text:        msg.Text(),
		Attachments: []slackapi.Attachment{messageToAttachment(msg)},
	}
	return retryOnRateLimit(ctx, func() error {
		return slackapi.PostWebhookContext(ctx, s.URL, payload)
	})
}

func messageToAttachment(msg Message) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    msg.Title,
		Text:     msg.Body,
		Color:    msg.Color,
		Fallback: msg.Title,
	}
	for _, f := range msg.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors, honouring RetryAfter when Slack sends one.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
