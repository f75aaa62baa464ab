// Package stats provides the random draws and the Monte Carlo comparator the
// decision policy runs on.
package stats

import (
	"math"
	"math/rand/v2"
)

// DefaultSamples is the Monte Carlo draw count used when callers pass 0.
const DefaultSamples = 10_000

// Sampler draws from Normal, Gamma and Beta distributions. Not safe for
// concurrent use; create one per cycle.
type Sampler struct {
	r *rand.Rand
}

// New returns a Sampler seeded from the runtime's random source.
func New() *Sampler {
	return &Sampler{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeeded returns a reproducible Sampler.
func NewSeeded(seed uint64) *Sampler {
	return &Sampler{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// uniform returns a draw in (0, 1].
func (s *Sampler) uniform() float64 {
	return 1 - s.r.Float64()
}

// Normal returns one standard-normal draw (Box–Muller).
func (s *Sampler) Normal() float64 {
	u1, u2 := s.uniform(), s.uniform()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// Gamma draws from Gamma(shape, scale) with Marsaglia–Tsang rejection. Shapes
// below 1 are boosted to shape+1 and corrected with U^(1/shape).
func (s *Sampler) Gamma(shape, scale float64) float64 {
	if shape < 1 {
		return s.Gamma(shape+1, scale) * math.Pow(s.uniform(), 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = s.Normal()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := s.uniform()
		x2 := x * x
		if u < 1-0.0331*x2*x2 {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x2+d*(1-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// Beta draws from Beta(alpha, beta) as X/(X+Y) with X~Gamma(alpha,1),
// Y~Gamma(beta,1).
func (s *Sampler) Beta(alpha, beta float64) float64 {
	x := s.Gamma(alpha, 1)
	y := s.Gamma(beta, 1)
	return x / (x + y)
}

// ProbabilityBBeatsA estimates P(rate_B > rate_A) under Beta(c+1, n-c+1)
// posteriors with samples paired draws. samples <= 0 means DefaultSamples.
// Conversions are clamped into [0, impressions].
func (s *Sampler) ProbabilityBBeatsA(convA, impA, convB, impB int64, samples int) float64 {
	if samples <= 0 {
		samples = DefaultSamples
	}
	aAlpha, aBeta := posterior(convA, impA)
	bAlpha, bBeta := posterior(convB, impB)

	wins := 0
	for range samples {
		if s.Beta(bAlpha, bBeta) > s.Beta(aAlpha, aBeta) {
			wins++
		}
	}
	return float64(wins) / float64(samples)
}

func posterior(conv, imp int64) (alpha, beta float64) {
	imp = max(imp, 0)
	conv = min(max(conv, 0), imp)
	return float64(conv + 1), float64(imp - conv + 1)
}
