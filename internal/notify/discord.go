package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// webhookExecutor abstracts the discordgo call we use, enabling test mocks.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts to a Discord channel webhook.
type DiscordSink struct {
	WebhookID string
	Token     string
	Username  string

	exec webhookExecutor
}

// NewDiscordSink creates a sink for the webhook with the given id and token.
func NewDiscordSink(webhookID, token string) (*DiscordSink, error) {
	if webhookID == "" || token == "" {
		return nil, fmt.Errorf("notify: discord webhook id and token are required")
	}
	// Webhook execution is authorised by the token in the URL, so the
	// session needs no bot credentials.
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &DiscordSink{WebhookID: webhookID, Token: token, Username: "sessionyard", exec: s}, nil
}

func (d *DiscordSink) Name() string { return "discord" }

// Deliver executes the webhook with msg rendered as an embed.
func (d *DiscordSink) Deliver(ctx context.Context, msg Message) error {
	params := &discordgo.WebhookParams{
		Username: d.Username,
		Embeds:   []*discordgo.MessageEmbed{messageToEmbed(msg)},
	}
	_, err := d.exec.WebhookExecute(d.WebhookID, d.Token, false, params, discordgo.WithContext(ctx))
	return err
}

func messageToEmbed(msg Message) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Body,
	}
	if msg.Color != "" {
		embed.Color = parseHexColor(msg.Color)
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}
