package engine

import (
	"context"
	"fmt"
	"math/rand/v2"

	"tweetproof/internal/config"
	"tweetproof/internal/domain"
	"tweetproof/internal/logging"
)

// Source is indexed, read-only access to a decoded submission.
type Source interface {
	Len() int
	At(i int) domain.TweetRecord
}

// UniquenessIndex answers, per tweet id, whether it was already credited.
type UniquenessIndex interface {
	CheckUnique(ctx context.Context, ids []string, fileID string) (map[string]bool, error)
}

// ContentSource returns the live text of tweets.
type ContentSource interface {
	Lookup(ctx context.Context, ids []string) (map[string]domain.LiveTweet, error)
}

// RewardsSubmitter delivers an accepted submission to the rewards ledger.
type RewardsSubmitter interface {
	Submit(ctx context.Context, fileID, minerAddress string, fileScore float64, infos []domain.TweetInfo) error
}

// Engine runs Proof-of-Quality for one submission at a time. It holds no
// state across runs.
type Engine struct {
	Index    UniquenessIndex
	Content  ContentSource
	Rewards  RewardsSubmitter
	Sampling SamplingPolicy
	Weights  WeightPolicy
	Scale    float64
	Rand     *rand.Rand
	Logger   logging.Logger
}

// Deps are the remote collaborators of a run.
type Deps struct {
	Index   UniquenessIndex
	Content ContentSource
	Rewards RewardsSubmitter
	Logger  logging.Logger
}

// New builds an engine whose knobs come from cfg.
func New(deps Deps, cfg *config.Config) Engine {
	e := Engine{
		Index:    deps.Index,
		Content:  deps.Content,
		Rewards:  deps.Rewards,
		Sampling: DefaultSampling(),
		Weights:  FixedWeight(10),
		Scale:    DefaultScale,
		Logger:   logging.OrDiscard(deps.Logger),
	}
	if cfg != nil {
		e.Sampling = SamplingPolicy{
			Confidence:     cfg.Sampling.Confidence,
			MaliciousRate:  cfg.Sampling.MaliciousRate,
			FullCheckBelow: cfg.Sampling.FullCheckBelow,
		}
		e.Weights = FixedWeight(cfg.Scoring.TweetWeight)
		e.Scale = cfg.Scoring.Scale
	}
	return e
}

func (e Engine) logger() logging.Logger {
	return logging.OrDiscard(e.Logger)
}

// Run verifies src and, when the outcome is valid with a positive score,
// submits the reward. Errors are always *Error.
func (e Engine) Run(ctx context.Context, fileID, minerAddress string, src Source) (domain.Outcome, error) {
	out, err := e.Verify(ctx, fileID, src)
	if err != nil {
		return out, err
	}
	if !out.Rewardable() {
		return out, nil
	}
	if e.Rewards == nil {
		return out, fatal("reward submission", fmt.Errorf("no rewards submitter configured"))
	}
	if err := e.Rewards.Submit(ctx, fileID, minerAddress, out.FileScore, out.TweetInfo); err != nil {
		return out, fatal("reward submission", err)
	}
	return out, nil
}

// Verify runs dedup, sampling, the authenticity probe and scoring. Remote
// failures are ephemeral; rejections are returned as an invalid Outcome.
func (e Engine) Verify(ctx context.Context, fileID string, src Source) (domain.Outcome, error) {
	log := e.logger().WithField("file_id", fileID)
	total := src.Len()

	if dup, ok := firstDuplicate(src); ok {
		log.WithField("tweet_id", dup).Warn("duplicate tweet id in submission")
		return invalid(total, 0, domain.RejectionDuplicateIDs), nil
	}

	candidates, err := e.uniqueCandidates(ctx, fileID, src)
	if err != nil {
		log.WithError(err).WithField("class", KindEphemeral.String()).Error("uniqueness check failed")
		return domain.Outcome{}, err
	}
	log.WithFields(logging.Fields{"stage": "dedup", "total": total, "unique": len(candidates)}).Info("uniqueness checked")
	if len(candidates) == 0 {
		return domain.Outcome{Valid: true, TweetInfo: []domain.TweetInfo{}, TotalCount: total}, nil
	}

	if err := ctx.Err(); err != nil {
		return domain.Outcome{}, ephemeral("authenticity probe", err)
	}
	n := e.Sampling.Size(len(candidates))
	picked := drawSample(e.Rand, len(candidates), n)
	sample := make([]domain.TweetRecord, 0, len(picked))
	for _, i := range picked {
		sample = append(sample, candidates[i])
	}
	res, err := e.probe(ctx, sample)
	if err != nil {
		log.WithError(err).WithField("class", KindEphemeral.String()).Errorf("failed to probe %d tweets", len(sample))
		return domain.Outcome{}, err
	}
	log.WithFields(logging.Fields{
		"stage":   "probe",
		"sampled": len(sample),
		"checked": res.Checked,
		"skipped": res.Skipped,
	}).Info("authenticity probed")
	if res.Mismatch != "" {
		log.WithField("tweet_id", res.Mismatch).Warn("sampled tweet text does not match source")
		return invalid(total, len(sample), domain.RejectionTextMismatch), nil
	}

	weights := e.Weights
	if weights == nil {
		weights = FixedWeight(10)
	}
	score, infos := Score(candidates, weights, e.Scale)
	log.WithFields(logging.Fields{"stage": "score", "file_score": score}).Info("submission scored")
	return domain.Outcome{
		Valid:       true,
		FileScore:   score,
		TweetInfo:   infos,
		UniqueCount: len(candidates),
		TotalCount:  total,
		SampleCount: len(sample),
	}, nil
}

// uniqueCandidates returns, in file order, the records the index has not
// credited yet.
func (e Engine) uniqueCandidates(ctx context.Context, fileID string, src Source) ([]domain.TweetRecord, error) {
	ids := make([]string, 0, src.Len())
	for i := 0; i < src.Len(); i++ {
		ids = append(ids, src.At(i).TweetID)
	}
	if e.Index == nil {
		return nil, ephemeral("uniqueness check", fmt.Errorf("no uniqueness index configured"))
	}
	credited, err := e.Index.CheckUnique(ctx, ids, fileID)
	if err != nil {
		return nil, ephemeral("uniqueness check", err)
	}
	var out []domain.TweetRecord
	for i := 0; i < src.Len(); i++ {
		r := src.At(i)
		if seen, ok := credited[r.TweetID]; ok && !seen {
			out = append(out, r)
		}
	}
	return out, nil
}

// firstDuplicate reports the first tweet id that repeats in src.
func firstDuplicate(src Source) (string, bool) {
	seen := make(map[string]struct{}, src.Len())
	for i := 0; i < src.Len(); i++ {
		id := src.At(i).TweetID
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return "", false
}

func invalid(total, sampled int, reason domain.Rejection) domain.Outcome {
	return domain.Outcome{
		Valid:       false,
		TweetInfo:   []domain.TweetInfo{},
		TotalCount:  total,
		SampleCount: sampled,
		Rejection:   reason,
	}
}
