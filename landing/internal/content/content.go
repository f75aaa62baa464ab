// Package content is the typed payload of a variant: two pinned brand fields
// plus an open set of experiment copy fields.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// JSON keys of the pinned fields.
const (
	KeyHeadline = "headline"
	KeyAccent   = "headline_accent"
)

// Content is a variant's copy. It serialises as one flat JSON object:
// {"headline": ..., "headline_accent": ..., "<field>": ...}.
type Content struct {
	Headline string
	Accent   string
	Fields   map[string]string
}

// Get returns a field by JSON key, pinned keys included.
func (c Content) Get(key string) string {
	switch key {
	case KeyHeadline:
		return c.Headline
	case KeyAccent:
		return c.Accent
	}
	return c.Fields[key]
}

// Set assigns a field by JSON key, pinned keys included.
func (c *Content) Set(key, value string) {
	switch key {
	case KeyHeadline:
		c.Headline = value
	case KeyAccent:
		c.Accent = value
	default:
		if c.Fields == nil {
			c.Fields = make(map[string]string)
		}
		c.Fields[key] = value
	}
}

// Keys returns the open field keys in sorted order.
func (c Content) Keys() []string {
	return slices.Sorted(maps.Keys(c.Fields))
}

// Clone returns a deep copy.
func (c Content) Clone() Content {
	c.Fields = maps.Clone(c.Fields)
	return c
}

// Inherit returns c with every open field missing from c copied from base.
func (c Content) Inherit(base Content) Content {
	out := c.Clone()
	for k, v := range base.Fields {
		if _, ok := out.Fields[k]; !ok {
			out.Set(k, v)
		}
	}
	return out
}

// MarshalJSON writes the flat object form.
func (c Content) MarshalJSON() ([]byte, error) {
	flat := make(map[string]string, len(c.Fields)+2)
	maps.Copy(flat, c.Fields)
	if c.Headline != "" {
		flat[KeyHeadline] = c.Headline
	}
	if c.Accent != "" {
		flat[KeyAccent] = c.Accent
	}
	return json.Marshal(flat)
}

// UnmarshalJSON reads the flat object form. Non-string values (numbers,
// booleans, nested JSON) are kept as their JSON text; null drops the key.
func (c *Content) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	*c = Content{}
	for k, v := range raw {
		s, ok, err := stringify(v)
		if err != nil {
			return fmt.Errorf("content: field %q: %w", k, err)
		}
		if ok {
			c.Set(k, s)
		}
	}
	return nil
}

func stringify(v json.RawMessage) (string, bool, error) {
	v = bytes.TrimSpace(v)
	switch {
	case len(v) == 0 || bytes.Equal(v, []byte("null")):
		return "", false, nil
	case v[0] == '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	default:
		return string(v), true, nil
	}
}

// Pinned holds the canonical brand values generation may never change.
type Pinned struct {
	Headline string `yaml:"headline" json:"headline"`
	Accent   string `yaml:"headline_accent" json:"headline_accent"`
}

// Apply overwrites both pinned fields of c with the canonical values.
func (p Pinned) Apply(c Content) Content {
	out := c.Clone()
	out.Headline = p.Headline
	out.Accent = p.Accent
	return out
}
