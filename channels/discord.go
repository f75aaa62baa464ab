package channels

import (
	"context"
	"encoding/json"
	"fmt"
)

// discordMaxContent is the Discord limit on a webhook message body.
const discordMaxContent = 2000

// DiscordConfig is the per-channel JSON config for Discord webhooks.
type DiscordConfig struct {
	// WebhookURL is the channel webhook from Server Settings > Integrations.
	WebhookURL string `json:"webhook_url"`
	// Username overrides the webhook's display name.
	Username string `json:"username,omitempty"`
}

// Discord posts the digest text to a Discord channel webhook.
type Discord struct {
	name string
	cfg  DiscordConfig
	o    *options
}

// NewDiscord validates cfg and returns a Discord notifier.
func NewDiscord(name string, cfg DiscordConfig, opts ...Option) (*Discord, error) {
	return newDiscord(name, cfg, buildOptions(opts))
}

func newDiscord(name string, cfg DiscordConfig, o *options) (*Discord, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("discord: webhook_url is required")
	}
	return &Discord{name: name, cfg: cfg, o: o}, nil
}

func discordFactory(name string, config json.RawMessage, o *options) (Notifier, error) {
	var cfg DiscordConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("discord: parse config: %w", err)
	}
	n, err := newDiscord(name, cfg, o)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Notify sends the digest, truncated to the Discord content limit.
func (c *Discord) Notify(ctx context.Context, d Digest) error {
	payload := map[string]string{"content": truncate(d.Text(), discordMaxContent)}
	if c.cfg.Username != "" {
		payload["username"] = c.cfg.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return undelivered(c.name, "discord", err)
	}
	if err := postJSON(ctx, c.o, c.cfg.WebhookURL, body, nil); err != nil {
		return undelivered(c.name, "discord", err)
	}
	return nil
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
