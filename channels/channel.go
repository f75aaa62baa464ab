// Package channels delivers operator notifications for lander: one digest per
// engine cycle, pushed to a generic webhook, a Discord webhook, a Telegram
// bot or the structured log.
//
// Notifiers are built from config specs through platform factories:
//
//	n, err := channels.Build([]channels.Spec{
//	    {Name: "ops", Platform: "discord", Config: map[string]any{"webhook_url": url}},
//	}, channels.WithLogger(logger))
//	notifier := channels.NewAsync(n, 10*time.Second, logger)
//
// Delivery is best effort: wrap the result in Async so the caller never waits
// on a slow platform and failures only reach the log.
package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/lander/horosafe"
)

// Digest is the human-readable summary of one engine cycle.
type Digest struct {
	Subject      string    `json:"subject"`
	ExperimentID string    `json:"experiment_id,omitempty"`
	Actions      []string  `json:"actions"`
	At           time.Time `json:"at"`
}

// Text renders the digest as plain text: subject line, experiment line, then
// one bullet per action.
func (d Digest) Text() string {
	var b strings.Builder
	b.WriteString(d.Subject)
	if d.ExperimentID != "" {
		fmt.Fprintf(&b, "\nexperiment: %s", d.ExperimentID)
	}
	for _, a := range d.Actions {
		b.WriteString("\n- ")
		b.WriteString(a)
	}
	return b.String()
}

// Notifier pushes a digest to one destination.
type Notifier interface {
	Notify(ctx context.Context, d Digest) error
}

// Spec describes one configured notification channel.
type Spec struct {
	Name     string         `yaml:"name" json:"name"`
	Platform string         `yaml:"platform" json:"platform"` // "webhook", "discord", "telegram", "log"
	Config   map[string]any `yaml:"config" json:"config"`
}

// factory creates a Notifier from a channel name and its JSON config.
type factory func(name string, config json.RawMessage, o *options) (Notifier, error)

type options struct {
	client      *http.Client
	validateURL func(string) error
	logger      *slog.Logger
}

// Option configures notifiers built by Build or the New* constructors.
type Option func(*options)

// WithHTTPClient sets the client used for outbound POSTs.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.client = c } }

// WithURLValidator replaces the SSRF guard applied to destination URLs.
func WithURLValidator(fn func(string) error) Option { return func(o *options) { o.validateURL = fn } }

// WithLogger sets the logger for LogNotifier and Async.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func buildOptions(opts []Option) *options {
	o := &options{
		client:      &http.Client{Timeout: 15 * time.Second},
		validateURL: horosafe.ValidateURL,
		logger:      slog.Default(),
	}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

var factories = map[string]factory{
	"webhook":  webhookFactory,
	"discord":  discordFactory,
	"telegram": telegramFactory,
	"log":      logFactory,
}

// Build creates one notifier per spec and fans them out with Multi. An empty
// spec list yields a LogNotifier so digests are never silently lost.
func Build(specs []Spec, opts ...Option) (Notifier, error) {
	o := buildOptions(opts)
	if len(specs) == 0 {
		return &LogNotifier{logger: o.logger}, nil
	}
	out := make([]Notifier, 0, len(specs))
	for _, s := range specs {
		f, ok := factories[s.Platform]
		if !ok {
			return nil, fmt.Errorf("%w %q (channel %s)", ErrUnknownPlatform, s.Platform, s.Name)
		}
		raw, err := json.Marshal(s.Config)
		if err != nil {
			return nil, fmt.Errorf("channels: %s: encode config: %w", s.Name, err)
		}
		n, err := f(s.Name, raw, o)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return Multi(out...), nil
}
