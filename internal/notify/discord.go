package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	discordTitleLimit       = 256
	discordDescriptionLimit = 4096
	// discordColor is the embed side bar, green.
	discordColor = 0x2ecc71
)

// DiscordSender posts embeds to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a sender for the webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     newHTTPClient(),
	}
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

// Send posts one embed whose description is the body in a code block, cut to
// Discord's limits.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	// The fences take eight of the description's runes.
	desc := "```\n" + truncateRunes(message, discordDescriptionLimit-8) + "\n```"
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, discordPayload{
		Username: "triarb",
		Embeds: []discordEmbed{{
			Title:       truncateRunes(title, discordTitleLimit),
			Description: desc,
			Color:       discordColor,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}, parseDiscordError)
}

// Name returns "discord".
func (d *DiscordSender) Name() string {
	return "discord"
}

// parseDiscordError reads a webhook error such as
// {"message":"You are being rate limited.","retry_after":0.5}.
func parseDiscordError(body []byte) (string, time.Duration) {
	var env struct {
		Message    string  `json:"message"`
		RetryAfter float64 `json:"retry_after"`
	}
	if json.Unmarshal(body, &env) != nil {
		return "", 0
	}
	return env.Message, time.Duration(env.RetryAfter * float64(time.Second))
}
