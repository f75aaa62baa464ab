package snapshot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/lander/horosafe"
)

// HTTPSource fetches the snapshot from a lander admin endpoint
// (GET /snapshot.json), for edge processes that do not share a disk or
// bucket with the engine.
type HTTPSource struct {
	URL string
	// Secret, when set, is sent as a bearer token.
	Secret string
	Client *http.Client
}

// NewHTTPSource returns a source with a 10s client timeout.
func NewHTTPSource(url, secret string) *HTTPSource {
	return &HTTPSource{URL: url, Secret: secret, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Load implements Source.
func (h *HTTPSource) Load(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+h.Secret)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot: fetch: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("snapshot: fetch: status %d", resp.StatusCode)
	}
	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("snapshot: fetch: %w", err)
	}
	return Parse(data)
}
