// Package stats holds the closed-form statistics shared by the card and chess trainers.
package stats

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Z95 is the normal quantile used for every confidence interval.
const Z95 = 1.96

// Interval is one candidate's summary. Field order matches the stride-5 accelerator layout.
type Interval struct {
	WinRate  float64 `json:"winRate"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Width    float64 `json:"width"`
	Evidence float64 `json:"evidence"`
}

// Wilson computes the Wilson score interval for wins out of total trials.
// With no trials the interval is the whole [0,1] range.
func Wilson(wins, total float64) Interval {
	if total <= 0 {
		return Interval{Upper: 1, Width: 1, Evidence: Evidence(0, 1)}
	}
	wins = Clamp(wins, 0, total)
	p := wins / total
	z2 := Z95 * Z95
	denom := 1 + z2/total
	center := p + z2/(2*total)
	margin := Z95 * math.Sqrt(p*(1-p)/total+z2/(4*total*total))

	lower := Clamp((center-margin)/denom, 0, 1)
	upper := Clamp((center+margin)/denom, 0, 1)
	// rounding at p=0 or p=1 must not push the bound past the point estimate
	lower = math.Min(lower, p)
	upper = math.Max(upper, p)
	width := upper - lower
	return Interval{
		WinRate:  p,
		Lower:    lower,
		Upper:    upper,
		Width:    width,
		Evidence: Evidence(lower, width),
	}
}

// Evidence balances a confident lower bound against a narrow interval.
func Evidence(lower, width float64) float64 {
	return 0.7*lower + 0.3*(1-math.Min(0.5, width))
}

// Entropy is the base-2 Shannon entropy of the shares of counts.
func Entropy(counts []float64) float64 {
	var sum float64
	for _, c := range counts {
		if c > 0 {
			sum += c
		}
	}
	if sum == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c <= 0 {
			continue
		}
		p := c / sum
		h -= p * math.Log2(p)
	}
	return h
}

// ExpectedScore is (wins + draws/2) / total.
func ExpectedScore(wins, draws, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return (wins + 0.5*draws) / total
}

// Confidence grows with log10 of the sample count and saturates at 100 samples.
func Confidence(total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(1, math.Log10(total+1)/2)
}

func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
