package notify

import (
	"context"
	"net/http"
	"time"
)

// Embed colours by alert title prefix.
const (
	discordColorAlert = 0xE67E22
	discordColorInfo  = 0x3498DB
)

// DiscordSender posts alerts to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     defaultHTTPClient(),
		now:        time.Now,
	}
}

// Send posts title and message as one embed. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	color := discordColorInfo
	if isAlertTitle(title) {
		color = discordColorAlert
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, discordPayload{
		Username: "arbmonitor",
		Embeds: []discordEmbed{{
			Title:       title,
			Description: message,
			Color:       color,
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
	})
}

// Name returns "discord".
func (d *DiscordSender) Name() string {
	return "discord"
}
