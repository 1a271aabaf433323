// Package rewards delivers accepted submissions to the rewards ledger and
// spools the payload when delivery fails.
package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tweetproof/internal/domain"
	"tweetproof/internal/logging"
	"tweetproof/internal/metrics"
	"tweetproof/internal/spool"
)

// Ledger accepts a serialized reward submission.
type Ledger interface {
	SubmitValidation(ctx context.Context, payload []byte) error
}

// Submitter sends a submission exactly once. There are no retries: a
// failed send is spooled and reported.
type Submitter struct {
	Ledger  Ledger
	Spool   spool.Spool
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Submit serializes the reward once and sends those bytes. On failure the
// same bytes are spooled and an error naming the spool record is returned.
func (s Submitter) Submit(ctx context.Context, fileID, minerAddress string, fileScore float64, infos []domain.TweetInfo) error {
	log := logging.OrDiscard(s.Logger).WithField("file_id", fileID)
	payload, err := json.Marshal(domain.NewRewardSubmission(fileID, minerAddress, fileScore, infos))
	if err != nil {
		return fmt.Errorf("marshal reward submission: %w", err)
	}
	sendErr := errors.New("no rewards ledger configured")
	if s.Ledger != nil {
		sendErr = s.Ledger.SubmitValidation(ctx, payload)
	}
	s.Metrics.ObserveSubmission(sendErr == nil)
	if sendErr == nil {
		log.WithFields(logging.Fields{"stage": "submit", "tweets": len(infos), "file_score": fileScore}).Info("reward submitted")
		return nil
	}

	if s.Spool == nil {
		log.WithError(sendErr).WithField("class", "fatal").Error("reward submission failed and no spool is configured")
		return fmt.Errorf("submit reward: %w", sendErr)
	}
	// Spool with a fresh context: the run context may be the one that expired.
	rec, spoolErr := s.Spool.Put(context.WithoutCancel(ctx), fileID, payload)
	if spoolErr != nil {
		log.WithError(errors.Join(sendErr, spoolErr)).WithField("class", "fatal").Error("reward submission failed and could not be spooled")
		return errors.Join(fmt.Errorf("submit reward: %w", sendErr), fmt.Errorf("spool reward: %w", spoolErr))
	}
	log.WithError(sendErr).WithFields(logging.Fields{"class": "fatal", "spool_id": rec.ID}).Error("reward submission failed; payload spooled")
	return &SpooledError{SpoolID: rec.ID, Err: sendErr}
}

// SpooledError reports a failed submission whose payload was kept.
type SpooledError struct {
	SpoolID string
	Err     error
}

func (e *SpooledError) Error() string {
	return fmt.Sprintf("submit reward (spooled as %s): %v", e.SpoolID, e.Err)
}

func (e *SpooledError) Unwrap() error { return e.Err }

// ErrAlreadyDrained is returned when replaying a delivered record.
var ErrAlreadyDrained = spool.ErrDrained

// ErrReplayInProgress is returned when another replay holds the record.
var ErrReplayInProgress = spool.ErrClaimed

// DeliveryError reports a replay the ledger did not accept. The record is
// still pending.
type DeliveryError struct {
	SpoolID string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("replay %s: %v", e.SpoolID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type failureRecorder interface {
	RecordFailure(ctx context.Context, id string, cause error) error
}

// Replay re-sends the stored bytes of one spool record. The record is
// claimed first so concurrent replays cannot both deliver it. It is drained
// on success and released on failure.
func Replay(ctx context.Context, ledger Ledger, sp spool.Spool, id string) (domain.SpoolRecord, error) {
	rec, err := sp.Claim(ctx, id)
	if err != nil {
		return domain.SpoolRecord{}, fmt.Errorf("replay %s: %w", id, err)
	}
	if err := ledger.SubmitValidation(ctx, rec.Payload); err != nil {
		if fr, ok := sp.(failureRecorder); ok {
			_ = fr.RecordFailure(context.WithoutCancel(ctx), id, err)
		}
		rec.ReplayingAt = nil
		delivery := &DeliveryError{SpoolID: id, Err: err}
		if relErr := sp.Release(context.WithoutCancel(ctx), id); relErr != nil {
			return rec, errors.Join(delivery, fmt.Errorf("release %s: %w", id, relErr))
		}
		return rec, delivery
	}
	// Delivered: a record left claimed is never sent again.
	if err := sp.Drain(context.WithoutCancel(ctx), id); err != nil {
		return rec, fmt.Errorf("drain %s: %w", id, err)
	}
	rec.ReplayingAt = nil
	if drained, err := sp.Get(ctx, id); err == nil {
		return drained, nil
	}
	// The file backend deletes drained records.
	now := time.Now().UTC().Format(spool.TimeLayout)
	rec.DrainedAt = &now
	return rec, nil
}

// Release returns a record left claimed by an interrupted replay to
// pending. Only use it once the ledger is known not to have the payload.
func Release(ctx context.Context, sp spool.Spool, id string) error {
	if err := sp.Release(ctx, id); err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return nil
}
