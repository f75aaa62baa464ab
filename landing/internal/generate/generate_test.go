package generate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/lander/landing/internal/content"
	"github.com/hazyhaar/lander/landing/internal/store"
)

type fakeProvider struct {
	reply  string
	err    error
	prompt string
	temp   float32
	block  bool
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string, temperature float32) (string, error) {
	f.prompt, f.temp = prompt, temperature
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

var pinned = content.Pinned{Headline: "Ship faster", Accent: "with lander"}

func champion() content.Content {
	return content.Content{
		Headline: "Ship faster",
		Accent:   "with lander",
		Fields:   map[string]string{"subtitle": "Old subtitle", "cta": "Start now"},
	}
}

func TestGeneratePinsBrandFields(t *testing.T) {
	// WHAT: provider-supplied headline and accent are replaced with the canonical values.
	// WHY: the brand line is a campaign invariant, never an experiment variable.
	p := &fakeProvider{reply: `{"headline":"Totally new","headline_accent":"oops","subtitle":"Fresh","cta":"Try it"}`}
	g := New(p, Options{Pinned: pinned})
	got, err := g.Generate(context.Background(), store.SlotChallenger, champion())
	if err != nil {
		t.Fatal(err)
	}
	want := content.Content{
		Headline: "Ship faster",
		Accent:   "with lander",
		Fields:   map[string]string{"subtitle": "Fresh", "cta": "Try it"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("content (-want +got):\n%s", diff)
	}
}

func TestGenerateKeepsChampionBrandWithoutPinned(t *testing.T) {
	p := &fakeProvider{reply: `{"headline":"Rewritten","subtitle":"Fresh"}`}
	got, err := New(p, Options{}).Generate(context.Background(), store.SlotExplorer, champion())
	if err != nil {
		t.Fatal(err)
	}
	if got.Headline != "Ship faster" || got.Accent != "with lander" {
		t.Fatalf("brand fields = %q %q", got.Headline, got.Accent)
	}
}

func TestGenerateTemperatureAndTone(t *testing.T) {
	tests := []struct {
		slot store.Slot
		temp float32
		word string
	}{
		{store.SlotChallenger, ChallengerTemperature, "refined"},
		{store.SlotExplorer, ExplorerTemperature, "bold"},
	}
	for _, tt := range tests {
		t.Run(string(tt.slot), func(t *testing.T) {
			p := &fakeProvider{reply: `{"subtitle":"x"}`}
			if _, err := New(p, Options{Pinned: pinned}).Generate(context.Background(), tt.slot, champion()); err != nil {
				t.Fatal(err)
			}
			if p.temp != tt.temp {
				t.Fatalf("temperature = %v, want %v", p.temp, tt.temp)
			}
			if !strings.Contains(p.prompt, tt.word) || !strings.Contains(p.prompt, "Old subtitle") {
				t.Fatalf("prompt missing tone or champion copy:\n%s", p.prompt)
			}
		})
	}
	if _, err := New(&fakeProvider{}, Options{}).Generate(context.Background(), store.SlotChampion, champion()); err == nil {
		t.Fatal("champion generation accepted")
	}
}

func TestGenerateLenientParsing(t *testing.T) {
	// WHAT: fences are stripped, markup removed, unknown keys dropped, missing keys inherited.
	p := &fakeProvider{reply: "Sure!\n```json\n{\"subtitle\": \"<b>Bold</b> &amp; clear\", \"extra\": \"drop me\"}\n```"}
	got, err := New(p, Options{Pinned: pinned}).Generate(context.Background(), store.SlotExplorer, champion())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"subtitle": "Bold & clear", "cta": "Start now"}
	if diff := cmp.Diff(want, got.Fields); diff != "" {
		t.Fatalf("fields (-want +got):\n%s", diff)
	}
}

func TestGenerateFailures(t *testing.T) {
	ctx := context.Background()
	if _, err := New(nil, Options{}).Generate(ctx, store.SlotChallenger, champion()); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("nil provider: %v", err)
	}
	boom := errors.New("boom")
	if _, err := New(&fakeProvider{err: boom}, Options{}).Generate(ctx, store.SlotChallenger, champion()); !errors.Is(err, boom) {
		t.Fatalf("provider error not wrapped: %v", err)
	}
	for _, reply := range []string{"no json here", `{"subtitle": ""}`, `{"unknown": "x"}`, `{"subtitle": `} {
		if _, err := New(&fakeProvider{reply: reply}, Options{}).Generate(ctx, store.SlotChallenger, champion()); err == nil {
			t.Errorf("reply %q accepted", reply)
		}
	}
}

func TestGenerateTimeout(t *testing.T) {
	g := New(&fakeProvider{block: true}, Options{Timeout: 20 * time.Millisecond})
	_, err := g.Generate(context.Background(), store.SlotChallenger, champion())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestOpenAIProvider(t *testing.T) {
	// WHAT: the provider sends model, temperature and JSON mode, and returns the first choice.
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"test-model",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"subtitle\":\"Hi\"}"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", Model: "test-model", BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Complete(context.Background(), "prompt", 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"subtitle":"Hi"}` {
		t.Fatalf("completion = %q", out)
	}
	if got["model"] != "test-model" {
		t.Fatalf("model = %v", got["model"])
	}
	if temp, _ := got["temperature"].(float64); temp < 0.69 || temp > 0.71 {
		t.Fatalf("temperature = %v", got["temperature"])
	}
	rf, _ := got["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Fatalf("response_format = %v", got["response_format"])
	}
}

func TestNewOpenAIProviderWithoutKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	if err != nil || p.Model() != DefaultModel {
		t.Fatalf("default model: %v %v", p, err)
	}
}
