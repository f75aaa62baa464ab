package stats

import (
	"math"
	"testing"
)

func TestBetaRangeAndMean(t *testing.T) {
	// WHAT: Beta draws stay in [0,1] and average a/(a+b).
	// WHY: every posterior comparison rests on this sampler.
	s := NewSeeded(1)
	cases := []struct{ a, b float64 }{{1, 1}, {2, 5}, {21, 181}, {41, 161}, {0.5, 0.5}}
	const n = 20_000
	for _, c := range cases {
		sum := 0.0
		for range n {
			x := s.Beta(c.a, c.b)
			if x < 0 || x > 1 || math.IsNaN(x) {
				t.Fatalf("Beta(%v,%v) = %v out of range", c.a, c.b, x)
			}
			sum += x
		}
		want := c.a / (c.a + c.b)
		if got := sum / n; math.Abs(got-want) > 0.01 {
			t.Errorf("Beta(%v,%v) mean: got %.4f, want %.4f", c.a, c.b, got, want)
		}
	}
}

func TestGammaMean(t *testing.T) {
	s := NewSeeded(2)
	cases := []struct{ shape, scale float64 }{{0.3, 1}, {0.9, 2}, {1, 1}, {4.5, 1}, {30, 0.5}}
	const n = 40_000
	for _, c := range cases {
		sum := 0.0
		for range n {
			x := s.Gamma(c.shape, c.scale)
			if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
				t.Fatalf("Gamma(%v,%v) = %v", c.shape, c.scale, x)
			}
			sum += x
		}
		want := c.shape * c.scale
		if got := sum / n; math.Abs(got-want)/want > 0.05 {
			t.Errorf("Gamma(%v,%v) mean: got %.4f, want %.4f", c.shape, c.scale, got, want)
		}
	}
}

func TestNormalMoments(t *testing.T) {
	s := NewSeeded(3)
	const n = 50_000
	var sum, sq float64
	for range n {
		x := s.Normal()
		sum += x
		sq += x * x
	}
	mean := sum / n
	variance := sq/n - mean*mean
	if math.Abs(mean) > 0.02 || math.Abs(variance-1) > 0.03 {
		t.Fatalf("Normal: mean %.4f variance %.4f", mean, variance)
	}
}

func TestProbabilityBBeatsA(t *testing.T) {
	tests := []struct {
		name                     string
		convA, impA, convB, impB int64
		check                    func(p float64) bool
		want                     string
	}{
		{"identical", 30, 300, 30, 300, func(p float64) bool { return math.Abs(p-0.5) < 0.03 }, "≈0.5"},
		{"clear winner", 20, 200, 40, 200, func(p float64) bool { return p > 0.95 }, ">0.95"},
		{"clear loser", 20, 100, 2, 100, func(p float64) bool { return p < 0.15 }, "<0.15"},
		{"zero data", 0, 0, 0, 0, func(p float64) bool { return math.Abs(p-0.5) < 0.03 }, "≈0.5"},
		{"zero conversions", 0, 50, 0, 50, func(p float64) bool { return p > 0.45 && p < 0.55 }, "≈0.5"},
		{"all converted", 50, 50, 0, 50, func(p float64) bool { return p < 0.01 }, "<0.01"},
		{"conversions above impressions clamp", 500, 100, 100, 100, func(p float64) bool { return math.Abs(p-0.5) < 0.03 }, "≈0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewSeeded(4).ProbabilityBBeatsA(tt.convA, tt.impA, tt.convB, tt.impB, 0)
			if p < 0 || p > 1 || !tt.check(p) {
				t.Fatalf("P(B>A) = %.4f, want %s", p, tt.want)
			}
		})
	}
}

func TestProbabilityComplementary(t *testing.T) {
	// WHAT: P(B>A) + P(A>B) ≈ 1 for swapped arguments.
	// WHY: ties have probability zero for continuous posteriors.
	s := NewSeeded(5)
	pairs := [][4]int64{{10, 100, 14, 100}, {3, 40, 1, 25}, {120, 1000, 90, 800}}
	for _, p := range pairs {
		ab := s.ProbabilityBBeatsA(p[0], p[1], p[2], p[3], 20_000)
		ba := s.ProbabilityBBeatsA(p[2], p[3], p[0], p[1], 20_000)
		if math.Abs(ab+ba-1) > 0.02 {
			t.Errorf("%v: %.4f + %.4f = %.4f", p, ab, ba, ab+ba)
		}
	}
}

func TestUnseededSamplersDiffer(t *testing.T) {
	a, b := New(), New()
	same := 0
	for range 10 {
		if a.Normal() == b.Normal() {
			same++
		}
	}
	if same == 10 {
		t.Fatal("two unseeded samplers produced identical streams")
	}
}
