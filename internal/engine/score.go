package engine

import (
	"math"

	"tweetproof/internal/domain"
)

// DefaultScale is the weight sum that earns the maximum file score.
const DefaultScale = 100_000

// WeightPolicy assigns the ownership score of one validated tweet.
type WeightPolicy interface {
	Weight(domain.TweetRecord) float64
}

// WeightFunc adapts a function to WeightPolicy.
type WeightFunc func(domain.TweetRecord) float64

func (f WeightFunc) Weight(r domain.TweetRecord) float64 { return f(r) }

// FixedWeight gives every tweet the same weight.
type FixedWeight float64

func (w FixedWeight) Weight(domain.TweetRecord) float64 { return float64(w) }

// Score weighs every record and normalises the sum by scale into [0, 1].
// Negative weights count as zero.
func Score(records []domain.TweetRecord, policy WeightPolicy, scale float64) (float64, []domain.TweetInfo) {
	infos := make([]domain.TweetInfo, 0, len(records))
	var sum float64
	for _, r := range records {
		w := policy.Weight(r)
		if w < 0 || math.IsNaN(w) {
			w = 0
		}
		sum += w
		infos = append(infos, domain.TweetInfo{TweetID: r.TweetID, AuthorID: r.AuthorID, Score: w})
	}
	return fileScore(sum, scale), infos
}

func fileScore(sum, scale float64) float64 {
	if scale <= 0 || sum <= 0 {
		return 0
	}
	return math.Min(sum/scale, 1.0)
}
