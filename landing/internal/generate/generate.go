// Package generate asks a text provider for fresh variant copy conditioned
// on the current champion. Challengers are small refinements, explorers are
// bold departures. The pinned brand fields are always overwritten last.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/lander/landing/internal/content"
	"github.com/hazyhaar/lander/landing/internal/store"
)

// Sampling temperatures per slot.
const (
	ChallengerTemperature float32 = 0.7
	ExplorerTemperature   float32 = 1.1
)

// DefaultTimeout bounds one provider call.
const DefaultTimeout = 30 * time.Second

// Options configure a Generator.
type Options struct {
	// Element names the page element under test, e.g. "hero".
	Element string
	// Pinned overrides the brand fields of every result. When zero, the
	// champion's values are kept.
	Pinned  content.Pinned
	Timeout time.Duration
	Logger  *slog.Logger
}

// Generator produces candidate content for empty slots.
type Generator struct {
	provider Provider
	opts     Options
	strip    *bluemonday.Policy
}

// New returns a Generator. A nil provider makes every Generate call fail
// with ErrNoProvider.
func New(p Provider, opts Options) *Generator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Element == "" {
		opts.Element = "hero"
	}
	return &Generator{provider: p, opts: opts, strip: bluemonday.StrictPolicy()}
}

// ForElement returns a Generator that prompts about element instead.
func (g *Generator) ForElement(element string) *Generator {
	if element == "" || element == g.opts.Element {
		return g
	}
	cp := *g
	cp.opts.Element = element
	return &cp
}

// Available reports whether a provider is configured.
func (g *Generator) Available() bool { return g.provider != nil }

// Generate returns new content for slot derived from champion.
func (g *Generator) Generate(ctx context.Context, slot store.Slot, champion content.Content) (content.Content, error) {
	if g.provider == nil {
		return content.Content{}, ErrNoProvider
	}
	temp, err := temperature(slot)
	if err != nil {
		return content.Content{}, err
	}
	prompt, err := g.prompt(slot, champion)
	if err != nil {
		return content.Content{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	start := time.Now()
	raw, err := g.provider.Complete(ctx, prompt, temp)
	if err != nil {
		return content.Content{}, fmt.Errorf("generate: %s: %w", slot, err)
	}
	g.opts.Logger.Debug("generate: completion received",
		"slot", slot, "duration_ms", time.Since(start).Milliseconds(), "bytes", len(raw))

	out, err := g.parse(raw, champion)
	if err != nil {
		return content.Content{}, fmt.Errorf("generate: %s: %w", slot, err)
	}
	return g.pinned(champion).Apply(out), nil
}

// pinned returns the configured brand values, or the champion's own when
// none are configured.
func (g *Generator) pinned(champion content.Content) content.Pinned {
	if g.opts.Pinned != (content.Pinned{}) {
		return g.opts.Pinned
	}
	return content.Pinned{Headline: champion.Headline, Accent: champion.Accent}
}

func temperature(slot store.Slot) (float32, error) {
	switch slot {
	case store.SlotChallenger:
		return ChallengerTemperature, nil
	case store.SlotExplorer:
		return ExplorerTemperature, nil
	}
	return 0, fmt.Errorf("generate: cannot generate for slot %q", slot)
}

func (g *Generator) prompt(slot store.Slot, champion content.Content) (string, error) {
	fields := make(map[string]string, len(champion.Fields))
	for _, k := range champion.Keys() {
		fields[k] = champion.Fields[k]
	}
	body, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return "", fmt.Errorf("generate: encode champion: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The %q section of a landing page currently converts best with this copy:\n\n%s\n\n", g.opts.Element, body)
	if champion.Headline != "" {
		fmt.Fprintf(&b, "It sits under the fixed headline %q %q, which you must not rewrite.\n\n", champion.Headline, champion.Accent)
	}
	switch slot {
	case store.SlotChallenger:
		b.WriteString("Write a refined version. Keep the same promise and structure, tighten the wording, " +
			"and change only what is likely to lift conversions.\n")
	case store.SlotExplorer:
		b.WriteString("Write a bold alternative. Take a clearly different angle on the same offer: " +
			"a new benefit to lead with, a new tone, a different call to action.\n")
	}
	fmt.Fprintf(&b, "Return a JSON object with exactly these keys: %s.", strings.Join(champion.Keys(), ", "))
	return b.String(), nil
}

// parse reads the provider output leniently: code fences and prose around
// the object are ignored, markup is stripped, and keys the champion has but
// the completion lacks are inherited.
func (g *Generator) parse(raw string, champion content.Content) (content.Content, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return content.Content{}, err
	}
	var got content.Content
	if err := json.Unmarshal([]byte(obj), &got); err != nil {
		return content.Content{}, fmt.Errorf("parse completion: %w", err)
	}

	out := content.Content{Fields: make(map[string]string, len(champion.Fields))}
	for _, k := range got.Keys() {
		if len(champion.Fields) > 0 {
			if _, known := champion.Fields[k]; !known {
				continue
			}
		}
		if v := g.sanitize(got.Fields[k]); v != "" {
			out.Fields[k] = v
		}
	}
	if len(out.Fields) == 0 {
		return content.Content{}, errors.New("completion has no usable fields")
	}
	return out.Inherit(champion), nil
}

func (g *Generator) sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(g.strip.Sanitize(s)))
}

func extractObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		s = strings.TrimSuffix(strings.TrimSpace(rest), "```")
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errors.New("completion contains no JSON object")
	}
	return s[start : end+1], nil
}
