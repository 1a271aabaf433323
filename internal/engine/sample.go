package engine

import (
	"math"
	"math/rand/v2"
)

// DefaultFullCheckBelow is the population size under which every candidate
// is checked instead of sampling.
const DefaultFullCheckBelow = 100

// SamplingPolicy decides how many unique candidates are spot-checked.
type SamplingPolicy struct {
	Confidence     float64
	MaliciousRate  float64
	FullCheckBelow int
}

// DefaultSampling gives ~65% confidence of catching a 10% fabrication rate.
func DefaultSampling() SamplingPolicy {
	return SamplingPolicy{Confidence: 0.65, MaliciousRate: 0.1, FullCheckBelow: DefaultFullCheckBelow}
}

// Size returns the sample count for a population.
func (p SamplingPolicy) Size(population int) int {
	return sampleSize(p.Confidence, p.MaliciousRate, population, p.FullCheckBelow)
}

// SampleSize returns the number of candidates to check so that, if a
// fraction maliciousRate of them were fabricated, at least one fabricated
// item is drawn with probability targetConfidence. Populations under 100
// are checked in full.
func SampleSize(targetConfidence, maliciousRate float64, population int) int {
	return sampleSize(targetConfidence, maliciousRate, population, DefaultFullCheckBelow)
}

func sampleSize(confidence, rate float64, population, fullCheckBelow int) int {
	if population <= 0 {
		return 0
	}
	if population < fullCheckBelow {
		return population
	}
	switch {
	case math.IsNaN(confidence) || math.IsNaN(rate):
		return population
	case confidence <= 0 || rate >= 1:
		return 1
	case confidence >= 1 || rate <= 0:
		return population
	}
	n := math.Ceil(math.Log(1-confidence) / math.Log(1-rate))
	if n < 1 {
		return 1
	}
	if n > float64(population) {
		return population
	}
	return int(n)
}

// drawSample picks n distinct indexes from [0, population) uniformly.
func drawSample(rng *rand.Rand, population, n int) []int {
	if n >= population {
		n = population
	}
	var perm []int
	if rng != nil {
		perm = rng.Perm(population)
	} else {
		perm = rand.Perm(population)
	}
	return perm[:n]
}
