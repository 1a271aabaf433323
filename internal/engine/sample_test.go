package engine

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampleSizeFullCheckBelowThreshold(t *testing.T) {
	assert.Equal(t, 50, SampleSize(0.65, 0.1, 50))
	assert.Equal(t, 99, SampleSize(0.65, 0.1, 99))
	assert.Equal(t, 1, SampleSize(0.65, 0.1, 1))
	assert.Equal(t, 0, SampleSize(0.65, 0.1, 0))
}

func TestSampleSizeStatisticalBound(t *testing.T) {
	want := int(math.Ceil(math.Log(0.35) / math.Log(0.9)))
	assert.Equal(t, 10, want)
	assert.Equal(t, want, SampleSize(0.65, 0.1, 1000))
	assert.Equal(t, 10, SampleSize(0.65, 0.1, 100))
	assert.Equal(t, 44, SampleSize(0.99, 0.1, 1000))
}

func TestSampleSizeClampedToPopulation(t *testing.T) {
	assert.Equal(t, 150, SampleSize(0.999999, 0.0001, 150))
	assert.Equal(t, 1, SampleSize(0.01, 0.9, 1000))
}

func TestSampleSizeDegenerateKnobs(t *testing.T) {
	assert.Equal(t, 1000, SampleSize(1, 0.1, 1000))
	assert.Equal(t, 1, SampleSize(0, 0.1, 1000))
	assert.Equal(t, 1000, SampleSize(0.65, 0, 1000))
	assert.Equal(t, 1, SampleSize(0.65, 1, 1000))
	assert.Equal(t, 1000, SampleSize(math.NaN(), 0.1, 1000))
}

func TestSampleSizeMonotonic(t *testing.T) {
	prev := 0
	for c := 0.05; c < 1; c += 0.05 {
		n := SampleSize(c, 0.1, 10_000)
		assert.GreaterOrEqual(t, n, prev, "confidence %v", c)
		prev = n
	}
	prev = math.MaxInt
	for r := 0.01; r < 1; r += 0.01 {
		n := SampleSize(0.65, r, 10_000)
		assert.LessOrEqual(t, n, prev, "rate %v", r)
		prev = n
	}
}

func TestSamplingPolicyCustomThreshold(t *testing.T) {
	p := SamplingPolicy{Confidence: 0.65, MaliciousRate: 0.1, FullCheckBelow: 20}
	assert.Equal(t, 10, p.Size(50))
	assert.Equal(t, 15, p.Size(15))
}

func TestDrawSampleDistinctAndInRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	picked := drawSample(rng, 1000, 10)
	assert.Len(t, picked, 10)
	seen := map[int]bool{}
	for _, i := range picked {
		assert.False(t, seen[i], "index %d drawn twice", i)
		assert.GreaterOrEqual(t, i, 0)
		assert.Less(t, i, 1000)
		seen[i] = true
	}
	assert.Len(t, drawSample(nil, 5, 10), 5)
}
