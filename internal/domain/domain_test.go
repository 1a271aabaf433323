package domain

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareTweetInfoOrdering(t *testing.T) {
	infos := []TweetInfo{
		{TweetID: "2", AuthorID: "a", Score: 10},
		{TweetID: "1", AuthorID: "b", Score: 10},
		{TweetID: "1", AuthorID: "a", Score: 20},
		{TweetID: "1", AuthorID: "a", Score: 10},
	}
	slices.SortFunc(infos, CompareTweetInfo)
	assert.Equal(t, []TweetInfo{
		{TweetID: "1", AuthorID: "a", Score: 10},
		{TweetID: "1", AuthorID: "a", Score: 20},
		{TweetID: "1", AuthorID: "b", Score: 10},
		{TweetID: "2", AuthorID: "a", Score: 10},
	}, infos)
}

func TestOutcomeUniquenessRatio(t *testing.T) {
	assert.Equal(t, 0.0, Outcome{}.UniquenessRatio())
	assert.Equal(t, 0.25, Outcome{UniqueCount: 1, TotalCount: 4}.UniquenessRatio())
}

func TestOutcomeRewardable(t *testing.T) {
	assert.True(t, Outcome{Valid: true, FileScore: 0.1}.Rewardable())
	assert.False(t, Outcome{Valid: true}.Rewardable())
	assert.False(t, Outcome{Valid: false, FileScore: 0.5}.Rewardable())
}

func TestNewRewardSubmission(t *testing.T) {
	sub := NewRewardSubmission("file-1", "0xminer", 0.5, []TweetInfo{
		{TweetID: "t1", AuthorID: "u1", Score: 10},
		{TweetID: "t2", AuthorID: "u2", Score: 10},
	})
	require.Len(t, sub.TweetRecords, 2)
	assert.Equal(t, 2, sub.TweetCount)
	assert.Equal(t, "file-1", sub.FileID)
	assert.Equal(t, "0xminer", sub.MinerAddress)
	assert.Equal(t, TweetRecordPayload{TweetID: "t2", UserID: "u2", OwnershipScore: 10}, sub.TweetRecords[1])

	empty := NewRewardSubmission("file-2", "0xminer", 0, nil)
	assert.NotNil(t, empty.TweetRecords)
	assert.Zero(t, empty.TweetCount)
}
