package domain

import (
	"cmp"
	"encoding/json"
)

// Engagement holds the public counters attached to a tweet.
type Engagement struct {
	Likes    int `json:"likes"`
	Retweets int `json:"retweets"`
	Replies  int `json:"replies"`
	Quotes   int `json:"quotes"`
}

// TweetRecord is one decoded tweet from a submission. It is never mutated
// after decoding.
type TweetRecord struct {
	TweetID    string     `json:"tweet_id"`
	AuthorID   string     `json:"user_id"`
	Text       string     `json:"text"`
	CreatedAt  string     `json:"created_at,omitempty" format:"date-time"`
	Engagement Engagement `json:"engagement"`
}

// TweetInfo is the scored ownership record for one unique, validated tweet.
type TweetInfo struct {
	TweetID  string  `json:"tweet_id"`
	AuthorID string  `json:"user_id"`
	Score    float64 `json:"score"`
}

// CompareTweetInfo orders by (tweet_id, author_id, score).
func CompareTweetInfo(a, b TweetInfo) int {
	if c := cmp.Compare(a.TweetID, b.TweetID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.AuthorID, b.AuthorID); c != 0 {
		return c
	}
	return cmp.Compare(a.Score, b.Score)
}

// LiveTweet is the content source's current view of a tweet id.
type LiveTweet struct {
	TweetID   string `json:"tweet_id"`
	Available bool   `json:"available"`
	Text      string `json:"text,omitempty"`
}

// Rejection names why a completed run judged a submission invalid.
type Rejection string

const (
	RejectionNone         Rejection = ""
	RejectionDuplicateIDs Rejection = "duplicate_tweet_ids"
	RejectionTextMismatch Rejection = "text_mismatch"
)

type Outcome struct {
	Valid       bool        `json:"is_valid"`
	FileScore   float64     `json:"file_score"`
	TweetInfo   []TweetInfo `json:"tweet_info"`
	UniqueCount int         `json:"unique_count"`
	TotalCount  int         `json:"total_count"`
	SampleCount int         `json:"sample_count"`
	Rejection   Rejection   `json:"rejection,omitempty"`
}

// UniquenessRatio is unique/total, or 0 for an empty submission.
func (o Outcome) UniquenessRatio() float64 {
	if o.TotalCount <= 0 {
		return 0
	}
	return float64(o.UniqueCount) / float64(o.TotalCount)
}

// Rewardable reports whether the outcome earns a reward submission.
func (o Outcome) Rewardable() bool {
	return o.Valid && o.FileScore > 0
}

type TweetRecordPayload struct {
	TweetID        string  `json:"tweetId"`
	UserID         string  `json:"userId"`
	OwnershipScore float64 `json:"ownershipScore"`
}

// RewardSubmission is the body posted to the rewards ledger.
type RewardSubmission struct {
	FileID          string               `json:"fileId"`
	MinerAddress    string               `json:"minerAddress"`
	TweetCount      int                  `json:"tweetCount"`
	SubmissionScore float64              `json:"submissionScore"`
	TweetRecords    []TweetRecordPayload `json:"tweetRecords"`
}

// NewRewardSubmission builds the ledger payload from scored tweets.
func NewRewardSubmission(fileID, minerAddress string, fileScore float64, infos []TweetInfo) RewardSubmission {
	records := make([]TweetRecordPayload, 0, len(infos))
	for _, info := range infos {
		records = append(records, TweetRecordPayload{
			TweetID:        info.TweetID,
			UserID:         info.AuthorID,
			OwnershipScore: info.Score,
		})
	}
	return RewardSubmission{
		FileID:          fileID,
		MinerAddress:    minerAddress,
		TweetCount:      len(infos),
		SubmissionScore: fileScore,
		TweetRecords:    records,
	}
}

// SpoolRecord is a reward payload that could not be delivered. ReplayingAt
// is set while a replay holds the record.
type SpoolRecord struct {
	ID          string          `json:"id"`
	FileID      string          `json:"file_id,omitempty"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	DrainedAt   *string         `json:"drained_at,omitempty" format:"date-time"`
	ReplayingAt *string         `json:"replaying_at,omitempty" format:"date-time"`
	Payload     json.RawMessage `json:"payload"`
}

type UserData struct {
	Handle        string `json:"handle"`
	WalletAddress string `json:"wallet_address"`
}

type Permission struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

// ProofResponse is the attestation body written to results.json.
type ProofResponse struct {
	DLPID        int            `json:"dlp_id"`
	Valid        bool           `json:"valid"`
	Score        float64        `json:"score"`
	Authenticity float64        `json:"authenticity"`
	Ownership    float64        `json:"ownership"`
	Quality      float64        `json:"quality"`
	Uniqueness   float64        `json:"uniqueness"`
	Attributes   map[string]any `json:"attributes"`
	Metadata     map[string]any `json:"metadata"`
}

func NewProofResponse(dlpID int) ProofResponse {
	return ProofResponse{
		DLPID:      dlpID,
		Attributes: map[string]any{},
		Metadata:   map[string]any{},
	}
}
