// Package app wires the proof: permission gate, bundle extraction, the
// Proof-of-Quality engine and the results file.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"tweetproof/internal/auth"
	"tweetproof/internal/bundle"
	"tweetproof/internal/config"
	"tweetproof/internal/domain"
	"tweetproof/internal/engine"
	"tweetproof/internal/logging"
	"tweetproof/internal/metrics"
	"tweetproof/internal/rewards"
	"tweetproof/internal/spool"
)

// ResultsFile is written to the output directory after every run.
const ResultsFile = "results.json"

// UserVerifier checks a profile-only submission.
type UserVerifier interface {
	VerifyUser(ctx context.Context, user domain.UserData) (bool, error)
}

// Deps are the remote collaborators of a proof run.
type Deps struct {
	Index   engine.UniquenessIndex
	Content engine.ContentSource
	Ledger  rewards.Ledger
	Users   UserVerifier
	Spool   spool.Spool
	Logger  logging.Logger
	Metrics *metrics.Metrics
	Rand    *rand.Rand
}

// Proof generates the attestation for the first file of the input dir.
type Proof struct {
	Config  *config.Config
	Engine  engine.Engine
	Users   UserVerifier
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

func New(cfg *config.Config, deps Deps) *Proof {
	logger := logging.OrDiscard(deps.Logger)
	eng := engine.New(engine.Deps{
		Index:   deps.Index,
		Content: deps.Content,
		Rewards: rewards.Submitter{
			Ledger:  deps.Ledger,
			Spool:   deps.Spool,
			Logger:  logger,
			Metrics: deps.Metrics,
		},
		Logger: logger,
	}, cfg)
	eng.Rand = deps.Rand
	return &Proof{Config: cfg, Engine: eng, Users: deps.Users, Logger: logger, Metrics: deps.Metrics}
}

// CheckPermissions refuses the run unless the DLP owner granted it.
func CheckPermissions(cfg *config.Config) error {
	return auth.CheckOwner(cfg.Permissions.Validated, domain.Permission{
		Address:   cfg.Permissions.OwnerAddress,
		PublicKey: cfg.Permissions.OwnerPublicKey,
	})
}

// Run checks permissions, generates the proof and writes results.json.
// The run's counters are exported afterwards, whatever the result.
func (p *Proof) Run(ctx context.Context) (domain.ProofResponse, error) {
	resp, err := p.run(ctx)
	switch {
	case err != nil:
		p.Metrics.ObserveRun("error")
	case resp.Valid:
		p.Metrics.ObserveRun("valid")
	default:
		p.Metrics.ObserveRun("invalid")
	}
	p.exportMetrics(context.WithoutCancel(ctx))
	return resp, err
}

func (p *Proof) run(ctx context.Context) (domain.ProofResponse, error) {
	if err := CheckPermissions(p.Config); err != nil {
		return domain.ProofResponse{}, err
	}
	resp, err := p.Generate(ctx)
	if err != nil {
		return resp, err
	}
	if _, err := WriteResults(p.Config.OutputDir, resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// exportMetrics hands the counters of this short-lived process to the
// textfile collector and the Pushgateway. Failures are logged only.
func (p *Proof) exportMetrics(ctx context.Context) {
	cfg := p.Config.Metrics
	if err := p.Metrics.WriteTextfile(cfg.Textfile); err != nil {
		p.Logger.WithError(err).WithField("path", cfg.Textfile).Warn("failed to write metrics textfile")
	}
	if cfg.PushURL == "" {
		return
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := p.Metrics.Push(ctx, cfg.PushURL, cfg.Job); err != nil {
		p.Logger.WithError(err).WithField("push_url", cfg.PushURL).Warn("failed to push metrics")
	}
}

// Generate opens the first input file and scores it.
func (p *Proof) Generate(ctx context.Context) (domain.ProofResponse, error) {
	path, err := bundle.FirstInput(p.Config.InputDir)
	if err != nil {
		return domain.ProofResponse{}, err
	}
	log := p.Logger.WithFields(logging.Fields{"file_id": p.Config.FileID, "input": filepath.Base(path)})
	b, err := bundle.Open(path)
	if err != nil {
		return domain.ProofResponse{}, fmt.Errorf("open bundle: %w", err)
	}

	if b.User != nil {
		log.WithField("stage", "user").Info("verifying profile submission")
		return p.verifyUser(ctx, *b.User)
	}

	log.WithField("tweets", b.Tweets.Len()).Info("starting proof of quality")
	out, err := p.Engine.Run(ctx, p.Config.FileID, p.Config.MinerAddress, b.Tweets)
	if err != nil {
		log.WithError(err).WithField("class", engine.KindOf(err).String()).Error("proof of quality failed")
		return domain.ProofResponse{}, err
	}
	resp := FromOutcome(p.Config.DLPID, out)
	log.WithFields(logging.Fields{"valid": resp.Valid, "score": resp.Score}).Info("proof generated")
	return resp, nil
}

func (p *Proof) verifyUser(ctx context.Context, user domain.UserData) (domain.ProofResponse, error) {
	if p.Users == nil {
		return domain.ProofResponse{}, &engine.Error{Kind: engine.KindEphemeral, Op: "user verification", Err: errors.New("no user verifier configured")}
	}
	ok, err := p.Users.VerifyUser(ctx, user)
	if err != nil {
		err = &engine.Error{Kind: engine.KindEphemeral, Op: "user verification", Err: err}
		p.Logger.WithError(err).WithField("class", engine.KindEphemeral.String()).Error("user verification failed")
		return domain.ProofResponse{}, err
	}
	resp := domain.NewProofResponse(p.Config.DLPID)
	resp.Valid = ok
	resp.Metadata["dlp_id"] = p.Config.DLPID
	return resp, nil
}

// FromOutcome maps a verification outcome onto the attestation body.
func FromOutcome(dlpID int, out domain.Outcome) domain.ProofResponse {
	resp := domain.NewProofResponse(dlpID)
	resp.Valid = out.Valid
	resp.Score = out.FileScore
	resp.Quality = out.FileScore
	resp.Uniqueness = out.UniquenessRatio()
	resp.Attributes["total_tweets"] = out.TotalCount
	resp.Attributes["unique_tweets"] = out.UniqueCount
	resp.Attributes["sampled_tweets"] = out.SampleCount
	if out.Rejection != domain.RejectionNone {
		resp.Attributes["rejection"] = string(out.Rejection)
	}
	resp.Metadata["dlp_id"] = dlpID
	return resp
}

// WriteResults writes resp as indented JSON to dir/results.json.
func WriteResults(dir string, resp domain.ProofResponse) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ResultsFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}
