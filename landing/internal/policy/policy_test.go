package policy

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/lander/landing/internal/store"
)

func conf(f float64) *float64 { return &f }

func variant(id string, slot store.Slot, imp, cv int64, c *float64) *store.Variant {
	return &store.Variant{ID: id, Slot: slot, Impressions: imp, Conversions: cv, Confidence: c}
}

func ids(vs []*store.Variant) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.ID)
	}
	return out
}

func TestPartition(t *testing.T) {
	killedAt := int64(1)
	dead := variant("dead", store.SlotChallenger, 0, 0, nil)
	dead.KilledAt = &killedAt
	p := Partition([]*store.Variant{
		variant("c", store.SlotChampion, 0, 0, nil),
		dead,
		variant("x1", store.SlotExplorer, 0, 0, nil),
		variant("ch1", store.SlotChallenger, 0, 0, nil),
	})
	if p.Champion == nil || p.Champion.ID != "c" {
		t.Fatalf("champion: %+v", p.Champion)
	}
	if diff := cmp.Diff([]string{"ch1", "x1"}, ids(p.Contenders())); diff != "" {
		t.Fatalf("contenders (-want +got):\n%s", diff)
	}
	if got := MissingSlots(p); len(got) != 0 {
		t.Fatalf("missing slots: %v", got)
	}
	if got := MissingSlots(Partition(nil)); !cmp.Equal(got, []store.Slot{store.SlotChallenger, store.SlotExplorer}) {
		t.Fatalf("missing slots on empty: %v", got)
	}
}

func TestEligible(t *testing.T) {
	th := Defaults()
	champ := variant("c", store.SlotChampion, 20, 2, nil)
	if !th.Eligible(variant("a", store.SlotChallenger, 20, 0, nil), champ) {
		t.Fatal("20/20 not eligible")
	}
	if th.Eligible(variant("a", store.SlotChallenger, 19, 0, nil), champ) {
		t.Fatal("19 impressions eligible")
	}
	if th.Eligible(variant("a", store.SlotChallenger, 500, 0, nil), variant("c", store.SlotChampion, 19, 0, nil)) {
		t.Fatal("champion under threshold eligible")
	}
	if th.Eligible(variant("a", store.SlotChallenger, 500, 0, nil), nil) {
		t.Fatal("eligible without champion")
	}
}

func TestSelectPromotion(t *testing.T) {
	// WHAT: one promotion per cycle; the best qualifier by confidence, then rate, then impressions.
	// WHY: promoting several against the same stale champion would leave two champions.
	th := Defaults()
	tests := []struct {
		name string
		vs   []*store.Variant
		want string
	}{
		{"none qualifies", []*store.Variant{
			variant("a", store.SlotChallenger, 99, 30, conf(0.99)),
			variant("b", store.SlotExplorer, 500, 30, conf(0.94)),
		}, ""},
		{"boundary qualifies", []*store.Variant{
			variant("a", store.SlotChallenger, 100, 30, conf(0.95)),
		}, "a"},
		{"highest confidence", []*store.Variant{
			variant("a", store.SlotChallenger, 300, 60, conf(0.96)),
			variant("b", store.SlotExplorer, 150, 30, conf(0.99)),
		}, "b"},
		{"tie on confidence, better rate", []*store.Variant{
			variant("a", store.SlotChallenger, 200, 40, conf(0.97)),
			variant("b", store.SlotExplorer, 200, 50, conf(0.97)),
		}, "b"},
		{"tie on rate, more impressions", []*store.Variant{
			variant("a", store.SlotChallenger, 400, 80, conf(0.97)),
			variant("b", store.SlotExplorer, 200, 40, conf(0.97)),
		}, "a"},
		{"nil confidence ignored", []*store.Variant{
			variant("a", store.SlotChallenger, 1000, 900, nil),
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Partition(append([]*store.Variant{variant("c", store.SlotChampion, 1000, 100, nil)}, tt.vs...))
			got := th.SelectPromotion(p)
			gotID := ""
			if got != nil {
				gotID = got.ID
			}
			if gotID != tt.want {
				t.Fatalf("got %q, want %q", gotID, tt.want)
			}
		})
	}
}

func TestSelectKills(t *testing.T) {
	th := Defaults()
	p := Partition([]*store.Variant{
		variant("c", store.SlotChampion, 1000, 10, conf(0.01)),
		variant("low", store.SlotChallenger, 50, 0, conf(0.14)),
		variant("few", store.SlotExplorer, 49, 0, conf(0.01)),
		variant("edge", store.SlotExplorer, 80, 5, conf(0.15)),
		variant("unknown", store.SlotExplorer, 800, 0, nil),
	})
	if diff := cmp.Diff([]string{"low"}, ids(th.SelectKills(p))); diff != "" {
		t.Fatalf("kills (-want +got):\n%s", diff)
	}
}

func TestImprovement(t *testing.T) {
	if got := Improvement(0.10, 0.125); got < 24.99 || got > 25.01 {
		t.Fatalf("Improvement: %v, want 25", got)
	}
	if got := Improvement(0, 0.2); got != 0 {
		t.Fatalf("Improvement from zero: %v", got)
	}
}

func TestThresholds(t *testing.T) {
	th := Defaults()
	if err := th.Validate(); err != nil {
		t.Fatal(err)
	}
	if th.WeightFor(store.SlotChampion) != 70 || th.WeightFor(store.SlotChallenger) != 20 || th.WeightFor(store.SlotExplorer) != 10 {
		t.Fatal("default weights")
	}
	bad := th
	bad.KillConfidence = 0.96
	if bad.Validate() == nil {
		t.Fatal("kill >= promote accepted")
	}
}
