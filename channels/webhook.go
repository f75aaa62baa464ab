package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hazyhaar/lander/horosafe"
)

// WebhookConfig is the per-channel JSON config for generic outbound webhooks.
type WebhookConfig struct {
	// URL receives the digest as a JSON POST body.
	URL string `json:"url"`
	// Secret, when set, signs the body: X-Signature-256 carries
	// "sha256=" + hex(HMAC-SHA256(secret, body)).
	Secret string `json:"secret,omitempty"`
}

// Webhook posts the digest JSON to an arbitrary endpoint.
type Webhook struct {
	name string
	cfg  WebhookConfig
	o    *options
}

// NewWebhook validates cfg and returns a Webhook notifier.
func NewWebhook(name string, cfg WebhookConfig, opts ...Option) (*Webhook, error) {
	return newWebhook(name, cfg, buildOptions(opts))
}

func newWebhook(name string, cfg WebhookConfig, o *options) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	if cfg.Secret != "" {
		if err := horosafe.ValidateSecret([]byte(cfg.Secret)); err != nil {
			return nil, fmt.Errorf("webhook %s: %w", name, err)
		}
	}
	return &Webhook{name: name, cfg: cfg, o: o}, nil
}

func webhookFactory(name string, config json.RawMessage, o *options) (Notifier, error) {
	var cfg WebhookConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("webhook: parse config: %w", err)
	}
	n, err := newWebhook(name, cfg, o)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Notify POSTs the digest, signed when a secret is configured.
func (w *Webhook) Notify(ctx context.Context, d Digest) error {
	body, err := json.Marshal(d)
	if err != nil {
		return undelivered(w.name, "webhook", fmt.Errorf("marshal digest: %w", err))
	}
	headers := map[string]string{}
	if w.cfg.Secret != "" {
		headers["X-Signature-256"] = Sign([]byte(w.cfg.Secret), body)
	}
	if err := postJSON(ctx, w.o, w.cfg.URL, body, headers); err != nil {
		return undelivered(w.name, "webhook", err)
	}
	return nil
}

// Sign returns the X-Signature-256 header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an X-Signature-256 header value against body. The
// "sha256=" prefix is optional.
func VerifySignature(secret, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	const prefix = "sha256="
	if len(signature) > len(prefix) && signature[:len(prefix)] == prefix {
		signature = signature[len(prefix):]
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// postJSON sends body to url after the SSRF check. Any status >= 400 is an
// error carrying a bounded excerpt of the response.
func postJSON(ctx context.Context, o *options, url string, body []byte, headers map[string]string) error {
	if err := o.validateURL(url); err != nil {
		return fmt.Errorf("destination url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		excerpt, _ := horosafe.LimitedReadAll(resp.Body, 512)
		return &statusError{code: resp.StatusCode, excerpt: string(bytes.TrimSpace(excerpt))}
	}
	return nil
}
