package engine

import (
	"context"
	"errors"

	"tweetproof/internal/domain"
)

type probeResult struct {
	Checked  int
	Skipped  int
	Mismatch string
}

// probe compares the sampled records with the live source. Unavailable
// tweets are skipped: they neither confirm nor refute the submission. This
// leaves a known gap where fabricated text under ids that resolve as
// unavailable cannot be caught by sampling.
func (e Engine) probe(ctx context.Context, sample []domain.TweetRecord) (probeResult, error) {
	var res probeResult
	if len(sample) == 0 {
		return res, nil
	}
	if e.Content == nil {
		return res, ephemeral("authenticity probe", errors.New("no content source configured"))
	}
	ids := make([]string, 0, len(sample))
	for _, r := range sample {
		ids = append(ids, r.TweetID)
	}
	live, err := e.Content.Lookup(ctx, ids)
	if err != nil {
		return res, ephemeral("authenticity probe", err)
	}
	for _, r := range sample {
		t, ok := live[r.TweetID]
		if !ok || !t.Available {
			res.Skipped++
			continue
		}
		if t.Text != r.Text {
			res.Mismatch = r.TweetID
			return res, nil
		}
		res.Checked++
	}
	return res, nil
}
