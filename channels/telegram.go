package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	telegramAPIBase    = "https://api.telegram.org"
	telegramMaxContent = 4096
)

// TelegramConfig is the per-channel JSON config for the Telegram bot API.
type TelegramConfig struct {
	// BotToken is the bot API token (from @BotFather).
	BotToken string `json:"bot_token"`
	// ChatID is the operator chat or channel (numeric id or @channelname).
	ChatID string `json:"chat_id"`
	// APIBase overrides https://api.telegram.org (self-hosted bot API server).
	APIBase string `json:"api_base,omitempty"`
}

// Telegram sends the digest through the bot API sendMessage method.
type Telegram struct {
	name string
	cfg  TelegramConfig
	o    *options
}

// NewTelegram validates cfg and returns a Telegram notifier.
func NewTelegram(name string, cfg TelegramConfig, opts ...Option) (*Telegram, error) {
	return newTelegram(name, cfg, buildOptions(opts))
}

func newTelegram(name string, cfg TelegramConfig, o *options) (*Telegram, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram: bot_token is required")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram: chat_id is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = telegramAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Telegram{name: name, cfg: cfg, o: o}, nil
}

func telegramFactory(name string, config json.RawMessage, o *options) (Notifier, error) {
	var cfg TelegramConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("telegram: parse config: %w", err)
	}
	n, err := newTelegram(name, cfg, o)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Notify calls sendMessage with the digest text.
func (c *Telegram) Notify(ctx context.Context, d Digest) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":                  c.cfg.ChatID,
		"text":                     truncate(d.Text(), telegramMaxContent),
		"disable_web_page_preview": true,
	})
	if err != nil {
		return undelivered(c.name, "telegram", err)
	}
	url := c.cfg.APIBase + "/bot" + c.cfg.BotToken + "/sendMessage"
	if err := postJSON(ctx, c.o, url, body, nil); err != nil {
		// The URL embeds the token; keep it out of logs.
		de := undelivered(c.name, "telegram", err)
		de.Err = errors.New(strings.ReplaceAll(err.Error(), c.cfg.BotToken, "***"))
		return de
	}
	return nil
}
