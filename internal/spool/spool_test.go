package spool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetproof/internal/config"
	"tweetproof/internal/events"
)

const samplePayload = `{"fileId":"file-9","minerAddress":"0xminer","tweetCount":1,"submissionScore":0.0001,"tweetRecords":[{"tweetId":"1","userId":"u","ownershipScore":10}]}`

func backends(t *testing.T) map[string]Spool {
	t.Helper()
	fileSpool, err := Open(config.SpoolConfig{Backend: config.SpoolBackendFile, Dir: filepath.Join(t.TempDir(), "spool")})
	require.NoError(t, err)
	sqliteSpool, err := Open(config.SpoolConfig{Backend: config.SpoolBackendSQLite, Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		fileSpool.Close()
		sqliteSpool.Close()
	})
	return map[string]Spool{"file": fileSpool, "sqlite": sqliteSpool}
}

func TestSpoolRoundTripKeepsBytes(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := s.Put(ctx, "", []byte(samplePayload))
			require.NoError(t, err)
			assert.NotEmpty(t, rec.ID)
			assert.Equal(t, "file-9", rec.FileID)
			assert.Nil(t, rec.DrainedAt)

			got, err := s.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, samplePayload, string(got.Payload))
			assert.Equal(t, "file-9", got.FileID)

			pending, err := Pending(ctx, s)
			require.NoError(t, err)
			assert.Equal(t, 1, pending)
		})
	}
}

func TestSpoolDrain(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			first, err := s.Put(ctx, "file-1", []byte(`{"fileId":"file-1"}`))
			require.NoError(t, err)
			second, err := s.Put(ctx, "file-2", []byte(`{"fileId":"file-2"}`))
			require.NoError(t, err)

			require.NoError(t, s.Drain(ctx, first.ID))
			require.NoError(t, s.Drain(ctx, first.ID))

			recs, err := s.List(ctx, ListOptions{})
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, second.ID, recs[0].ID)
		})
	}
}

func TestSpoolGetUnknown(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "4a0e9e6c-3f1f-11ef-9a4b-0242ac120002")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.Get(ctx, "../etc/passwd")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSpoolClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := s.Put(ctx, "", []byte(samplePayload))
			require.NoError(t, err)

			claimed, err := s.Claim(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, samplePayload, string(claimed.Payload))
			assert.NotNil(t, claimed.ReplayingAt)

			_, err = s.Claim(ctx, rec.ID)
			assert.ErrorIs(t, err, ErrClaimed)

			got, err := s.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.NotNil(t, got.ReplayingAt)
			pending, err := Pending(ctx, s)
			require.NoError(t, err)
			assert.Equal(t, 1, pending)

			require.NoError(t, s.Release(ctx, rec.ID))
			got, err = s.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Nil(t, got.ReplayingAt)

			_, err = s.Claim(ctx, rec.ID)
			require.NoError(t, err)
			require.NoError(t, s.Drain(ctx, rec.ID))
			pending, err = Pending(ctx, s)
			require.NoError(t, err)
			assert.Zero(t, pending)

			_, err = s.Claim(ctx, "4a0e9e6c-3f1f-11ef-9a4b-0242ac120002")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Release(ctx, "4a0e9e6c-3f1f-11ef-9a4b-0242ac120002"), ErrNotFound)
		})
	}
}

func TestSQLiteSpoolClaimAfterDrain(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Put(ctx, "file-3", []byte(`{"fileId":"file-3"}`))
	require.NoError(t, err)
	require.NoError(t, s.Drain(ctx, rec.ID))

	_, err = s.Claim(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrDrained)
}

func TestFileSpoolClaimRenamesRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSpool(dir)
	require.NoError(t, err)
	rec, err := s.Put(context.Background(), "file-9", []byte(samplePayload))
	require.NoError(t, err)

	_, err = s.Claim(context.Background(), rec.ID)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, rec.ID))
	assert.ErrorIs(t, err, os.ErrNotExist)
	data, err := os.ReadFile(filepath.Join(dir, claimPrefix+rec.ID))
	require.NoError(t, err)
	assert.Equal(t, samplePayload, string(data))

	require.NoError(t, s.Drain(context.Background(), rec.ID))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSpoolListIsOldestFirst(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var ids []string
			for i := 0; i < 3; i++ {
				rec, err := s.Put(ctx, "", []byte(`{}`))
				require.NoError(t, err)
				ids = append(ids, rec.ID)
				time.Sleep(2 * time.Millisecond)
			}
			recs, err := s.List(ctx, ListOptions{})
			require.NoError(t, err)
			require.Len(t, recs, 3)
			for i, rec := range recs {
				assert.Equal(t, ids[i], rec.ID)
			}
		})
	}
}

func TestFileSpoolWritesExactBodyUnderID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".critical_reward_failures")
	s, err := NewFileSpool(dir)
	require.NoError(t, err)
	rec, err := s.Put(context.Background(), "file-9", []byte(samplePayload))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, rec.ID))
	require.NoError(t, err)
	assert.Equal(t, samplePayload, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileSpoolSyncsDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSpool(dir)
	require.NoError(t, err)
	var synced []string
	s.sync = func(d string) error {
		synced = append(synced, d)
		return fsyncDir(d)
	}
	ctx := context.Background()

	rec, err := s.Put(ctx, "file-9", []byte(samplePayload))
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, synced)
	_, err = s.Claim(ctx, rec.ID)
	require.NoError(t, err)
	require.NoError(t, s.Drain(ctx, rec.ID))
	assert.Len(t, synced, 3)

	s.sync = func(string) error { return assert.AnError }
	_, err = s.Put(ctx, "file-9", []byte(samplePayload))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestFileSpoolIgnoresStrayFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSpool(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("partial"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	recs, err := s.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSQLiteSpoolKeepsDrainedHistory(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	fixed := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return fixed }

	rec, err := s.Put(ctx, "file-3", []byte(`{"fileId":"file-3"}`))
	require.NoError(t, err)
	require.NoError(t, s.RecordFailure(ctx, rec.ID, assert.AnError))
	require.NoError(t, s.Drain(ctx, rec.ID))

	all, err := s.List(ctx, ListOptions{IncludeDrained: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].DrainedAt)
	assert.Equal(t, "2024-07-01T12:00:00.000000000Z", *all[0].DrainedAt)

	history, err := s.History(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, events.TypeSpooled, history[0].Type)
	assert.Equal(t, events.TypeReplayFailed, history[1].Type)
	assert.Equal(t, events.TypeDrained, history[2].Type)
	assert.Equal(t, "file-3", history[0].FileID)

	assert.ErrorIs(t, s.Drain(ctx, "missing"), ErrNotFound)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(config.SpoolConfig{Backend: "s3", Dir: t.TempDir()})
	assert.Error(t, err)
}
